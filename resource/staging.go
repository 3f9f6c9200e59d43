package resource

import (
	"image"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/memutils"
	"github.com/vkngwrapper/kiln/validation"
	"golang.org/x/image/draw"
)

// StagingAttachment names a resource to stage and the transfers to perform for it
type StagingAttachment struct {
	Resource  Resource
	Direction Direction
}

// StagingLink is the back reference a staged buffer or image keeps to its staging buffer
type StagingLink struct {
	Staging ID
	Offset  int
}

type stagingEntry struct {
	resource  Resource
	offset    int
	size      int
	direction Direction
}

// StagingBuffer is a host-visible, host-coherent buffer with a dedicated allocation, holding one
// aligned region per attached resource. The scheduler copies input regions to the device before a
// task runs and copies output regions back afterwards; the host reads and writes the regions
// directly through the persistent mapping.
type StagingBuffer struct {
	id      ID
	factory *Factory
	arena   *arena.Arena
	buffer  *Buffer
	size    int

	entries *swiss.Map[ID, stagingEntry]
	order   []ID
}

func validateAttachment(attachment StagingAttachment) error {
	if attachment.Resource == nil {
		return validation.New("staging", "resource", validation.ErrMissingReference, "attachment has no resource")
	}
	if attachment.Direction&DirectionBoth == 0 || attachment.Direction&^DirectionBoth != 0 {
		return validation.New("staging", "direction", validation.ErrInvalidValue, "direction %d", attachment.Direction)
	}

	switch resource := attachment.Resource.(type) {
	case *Buffer:
		if attachment.Direction&DirectionInput != 0 && !resource.Inert() && resource.usage&core1_0.BufferUsageTransferDst == 0 {
			return validation.New("staging", "usage", validation.ErrInvalidValue, "buffer %d is staged as input without transfer-dst usage", resource.id)
		}
		if attachment.Direction&DirectionOutput != 0 && !resource.Inert() && resource.usage&core1_0.BufferUsageTransferSrc == 0 {
			return validation.New("staging", "usage", validation.ErrInvalidValue, "buffer %d is staged as output without transfer-src usage", resource.id)
		}
	case *Image:
		if _, ok := TexelSize(resource.options.Format); !ok {
			return validation.New("staging", "format", validation.ErrUnknownFormat, "image %d has format %s, which can't be staged", resource.id, resource.options.Format)
		}
		if resource.options.Samples != core1_0.Samples1 {
			return validation.New("staging", "samples", validation.ErrInvalidValue, "multisampled image %d can't be staged", resource.id)
		}
		usage := resource.Usage()
		if attachment.Direction&DirectionInput != 0 && usage&core1_0.ImageUsageTransferDst == 0 {
			return validation.New("staging", "usage", validation.ErrInvalidValue, "image %d is staged as input without transfer-dst usage", resource.id)
		}
		if attachment.Direction&DirectionOutput != 0 && usage&core1_0.ImageUsageTransferSrc == 0 {
			return validation.New("staging", "usage", validation.ErrInvalidValue, "image %d is staged as output without transfer-src usage", resource.id)
		}
	default:
		return validation.New("staging", "resource", validation.ErrUnknownKind, "%T can't be staged", resource)
	}

	return nil
}

// CreateStagingBuffer lays out one region per attachment, then allocates, maps and binds a buffer
// large enough to hold all of them. Attachments with no bytes to stage produce empty regions, and a
// staging buffer with nothing to stage owns no driver objects.
func (f *Factory) CreateStagingBuffer(attachments ...StagingAttachment) (*StagingBuffer, error) {
	memutils.DebugCheckPow2(f.options.StagingAlignment, "staging alignment")

	staging := &StagingBuffer{
		id:      f.newID(),
		factory: f,
		entries: swiss.NewMap[ID, stagingEntry](uint32(len(attachments))),
	}

	for _, attachment := range attachments {
		if err := validateAttachment(attachment); err != nil {
			return nil, err
		}

		id := attachment.Resource.ID()
		if staging.entries.Has(id) {
			return nil, validation.New("staging", "resource", validation.ErrDuplicate, "resource %d is attached twice", id)
		}

		offset := memutils.AlignUpMultiple(staging.size, f.regionAlignment(attachment.Resource))
		size := attachment.Resource.Size()
		staging.entries.Put(id, stagingEntry{
			resource:  attachment.Resource,
			offset:    offset,
			size:      size,
			direction: attachment.Direction,
		})
		staging.order = append(staging.order, id)
		staging.size = offset + size
	}

	if staging.size > 0 {
		if err := staging.allocate(); err != nil {
			return nil, err
		}
	}

	for _, id := range staging.order {
		entry, _ := staging.entries.Get(id)
		link := StagingLink{Staging: staging.id, Offset: entry.offset}

		switch resource := entry.resource.(type) {
		case *Buffer:
			resource.staging = &link
		case *Image:
			resource.staging = &link
		}
	}

	f.register(staging)
	f.logger.Debug("Factory::CreateStagingBuffer",
		slog.Int("id", int(staging.id)),
		slog.Int("size", staging.size),
		slog.Int("attachments", len(staging.order)))

	return staging, nil
}

// regionAlignment is the staging alignment, raised for images so that a copy's buffer offset is a
// multiple of both 4 and the texel size
func (f *Factory) regionAlignment(resource Resource) int {
	image, isImage := resource.(*Image)
	if !isImage {
		return f.options.StagingAlignment
	}

	alignment := memutils.LeastCommonMultiple(f.options.StagingAlignment, copyOffsetAlignment)
	if texelSize, ok := TexelSize(image.Format()); ok {
		alignment = memutils.LeastCommonMultiple(alignment, texelSize)
	}
	return alignment
}

func (s *StagingBuffer) allocate() error {
	f := s.factory

	stagingArena, err := arena.New(f.logger, f.deviceMemory, arena.CreateOptions{
		Flags: arena.ArenaCreateHostVisible | arena.ArenaCreateHostCoherent | arena.ArenaCreateExternallySynchronized,
	})
	if err != nil {
		return err
	}

	buffer, err := f.CreateBuffer(stagingArena, s.size, core1_0.BufferUsageTransferSrc|core1_0.BufferUsageTransferDst)
	if err != nil {
		return err
	}
	// The staging buffer owns this buffer, so it isn't tracked on its own
	f.unregister(buffer.id)

	err = f.Prepare(stagingArena)
	if err != nil {
		buffer.Destroy()
		stagingArena.Release()
		return err
	}

	s.arena = stagingArena
	s.buffer = buffer
	return nil
}

func (s *StagingBuffer) ID() ID {
	return s.id
}

func (s *StagingBuffer) Size() int {
	return s.size
}

// VulkanBuffer is the underlying buffer, or an empty handle when there is nothing to stage
func (s *StagingBuffer) VulkanBuffer() core1_0.Buffer {
	if s.buffer == nil {
		return core1_0.Buffer{}
	}
	return s.buffer.buffer
}

// Offset returns the region of the staging buffer that belongs to resource
func (s *StagingBuffer) Offset(resource Resource) (int, bool) {
	entry, ok := s.entries.Get(resource.ID())
	return entry.offset, ok
}

func (s *StagingBuffer) Attachments() []StagingAttachment {
	attachments := make([]StagingAttachment, 0, len(s.order))
	for _, id := range s.order {
		entry, _ := s.entries.Get(id)
		attachments = append(attachments, StagingAttachment{Resource: entry.resource, Direction: entry.direction})
	}
	return attachments
}

func (s *StagingBuffer) region(resource Resource) ([]byte, error) {
	entry, ok := s.entries.Get(resource.ID())
	if !ok {
		return nil, errors.Newf("resource %d is not attached to staging buffer %d", resource.ID(), s.id)
	}
	if entry.size == 0 {
		return []byte{}, nil
	}

	return s.arena.Bytes(s.buffer.offset+entry.offset, entry.size)
}

// Write copies data into the resource's region. The bytes reach the device the next time a task
// runs with this staging buffer.
func (s *StagingBuffer) Write(resource Resource, data []byte) error {
	region, err := s.region(resource)
	if err != nil {
		return err
	}
	if len(data) > len(region) {
		return errors.Newf("%d bytes don't fit in the %d byte staging region of resource %d", len(data), len(region), resource.ID())
	}

	copy(region, data)
	return nil
}

// Read returns a copy of the resource's region. After a task with this staging buffer returns, it
// holds the resource's contents.
func (s *StagingBuffer) Read(resource Resource) ([]byte, error) {
	region, err := s.region(resource)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(region))
	copy(out, region)
	return out, nil
}

func swizzleBGRA(pixels []byte) {
	for i := 0; i+3 < len(pixels); i += 4 {
		pixels[i], pixels[i+2] = pixels[i+2], pixels[i]
	}
}

func isBGRA(format core1_0.Format) bool {
	return format == core1_0.FormatB8G8R8A8UnsignedNormalized || format == core1_0.FormatB8G8R8A8SRGB
}

func checkRGBA8(target *Image) error {
	switch target.options.Format {
	case core1_0.FormatR8G8B8A8UnsignedNormalized, core1_0.FormatR8G8B8A8SRGB,
		core1_0.FormatB8G8R8A8UnsignedNormalized, core1_0.FormatB8G8R8A8SRGB:
		return nil
	}
	return validation.New("staging", "format", validation.ErrUnknownFormat, "image %d has format %s, not an 8-bit RGBA format", target.id, target.options.Format)
}

// WriteImage converts src to 8-bit RGBA, scaling it to the image's extent if needed, and stages it
// as the content of one array layer
func (s *StagingBuffer) WriteImage(target *Image, layer int, src image.Image) error {
	if err := checkRGBA8(target); err != nil {
		return err
	}
	if layer < 0 || layer >= target.options.ArrayLayers {
		return errors.Newf("layer %d is outside of image %d with %d layers", layer, target.id, target.options.ArrayLayers)
	}

	region, err := s.region(target)
	if err != nil {
		return err
	}

	extent := target.options.Extent
	layerSize := extent.Width * extent.Height * 4
	dst := &image.RGBA{
		Pix:    region[layer*layerSize : (layer+1)*layerSize],
		Stride: extent.Width * 4,
		Rect:   image.Rect(0, 0, extent.Width, extent.Height),
	}

	if src.Bounds().Dx() == extent.Width && src.Bounds().Dy() == extent.Height {
		draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	if isBGRA(target.options.Format) {
		swizzleBGRA(dst.Pix)
	}

	return nil
}

// ReadImage returns a copy of one array layer of the image's region as 8-bit RGBA
func (s *StagingBuffer) ReadImage(target *Image, layer int) (*image.RGBA, error) {
	if err := checkRGBA8(target); err != nil {
		return nil, err
	}
	if layer < 0 || layer >= target.options.ArrayLayers {
		return nil, errors.Newf("layer %d is outside of image %d with %d layers", layer, target.id, target.options.ArrayLayers)
	}

	region, err := s.region(target)
	if err != nil {
		return nil, err
	}

	extent := target.options.Extent
	layerSize := extent.Width * extent.Height * 4
	out := image.NewRGBA(image.Rect(0, 0, extent.Width, extent.Height))
	copy(out.Pix, region[layer*layerSize:(layer+1)*layerSize])

	if isBGRA(target.options.Format) {
		swizzleBGRA(out.Pix)
	}

	return out, nil
}

// Invalidate makes the device's writes visible to the host. It does nothing for coherent memory.
func (s *StagingBuffer) Invalidate() error {
	if s.arena == nil {
		return nil
	}

	res, err := s.arena.Invalidate(0, s.arena.Capacity())
	if err != nil {
		return errors.Wrapf(err, "failed to invalidate staging buffer %d (%s)", s.id, res)
	}
	return nil
}

func (s *StagingBuffer) Destroy() {
	if s.buffer != nil {
		s.buffer.Destroy()
		s.arena.Release()
		s.buffer = nil
		s.arena = nil
	}

	s.factory.unregister(s.id)
}
