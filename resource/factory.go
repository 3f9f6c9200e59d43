package resource

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/internal/utils"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/memutils"
)

// DefaultStagingAlignment is the alignment of every resource's region within a staging buffer.
// Image regions are further aligned to their texel size.
const DefaultStagingAlignment = 16

// copyOffsetAlignment is the alignment buffer-image copies need regardless of format
const copyOffsetAlignment = 4

type FactoryOptions struct {
	// StagingAlignment defaults to DefaultStagingAlignment and must be a power of two
	StagingAlignment int
	// DefaultSampler is used for sampled images that don't specify their own sampler. Its MaxLod is
	// replaced by the image's mip level count when zero.
	DefaultSampler *SamplerOptions
	// ExternallySynchronized skips the registry mutex
	ExternallySynchronized bool
}

// Factory creates buffers, images and staging buffers and keeps a registry of everything it created
// that hasn't been destroyed
type Factory struct {
	logger       *slog.Logger
	driver       vulkan.Driver
	deviceMemory *vulkan.DeviceMemoryProperties
	options      FactoryOptions

	nextID        int64
	registryMutex utils.OptionalRWMutex
	registry      *swiss.Map[ID, Resource]
}

func NewFactory(logger *slog.Logger, driver vulkan.Driver, deviceMemory *vulkan.DeviceMemoryProperties, options FactoryOptions) (*Factory, error) {
	if options.StagingAlignment == 0 {
		options.StagingAlignment = DefaultStagingAlignment
	}
	if options.StagingAlignment < 0 || options.StagingAlignment&(options.StagingAlignment-1) != 0 {
		return nil, errors.Newf("staging alignment %d is not a power of two", options.StagingAlignment)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Factory{
		logger:        logger,
		driver:        driver,
		deviceMemory:  deviceMemory,
		options:       options,
		registryMutex: utils.NewOptionalRWMutex(!options.ExternallySynchronized),
		registry:      swiss.NewMap[ID, Resource](16),
	}, nil
}

func (f *Factory) Driver() vulkan.Driver {
	return f.driver
}

func (f *Factory) DeviceMemory() *vulkan.DeviceMemoryProperties {
	return f.deviceMemory
}

func (f *Factory) Logger() *slog.Logger {
	return f.logger
}

func (f *Factory) newID() ID {
	return ID(atomic.AddInt64(&f.nextID, 1))
}

func (f *Factory) register(resource Resource) {
	f.registryMutex.Lock()
	defer f.registryMutex.Unlock()

	f.registry.Put(resource.ID(), resource)
}

func (f *Factory) unregister(id ID) {
	f.registryMutex.Lock()
	defer f.registryMutex.Unlock()

	f.registry.Delete(id)
}

// Lookup returns the live resource with the provided ID
func (f *Factory) Lookup(id ID) (Resource, bool) {
	f.registryMutex.RLock()
	defer f.registryMutex.RUnlock()

	return f.registry.Get(id)
}

// LiveCount is the number of resources that have been created but not destroyed
func (f *Factory) LiveCount() int {
	f.registryMutex.RLock()
	defer f.registryMutex.RUnlock()

	return f.registry.Count()
}

// DestroyAll destroys every live resource. Staging buffers go first so that their own arenas are
// released before the buffers they stage are destroyed.
func (f *Factory) DestroyAll() {
	var staging, rest []Resource

	f.registryMutex.RLock()
	f.registry.Iter(func(id ID, resource Resource) bool {
		if _, isStaging := resource.(*StagingBuffer); isStaging {
			staging = append(staging, resource)
		} else {
			rest = append(rest, resource)
		}
		return false
	})
	f.registryMutex.RUnlock()

	for _, resource := range staging {
		resource.Destroy()
	}
	for _, resource := range rest {
		resource.Destroy()
	}
}

// CreateBuffer creates a buffer and reserves space for it in a. The buffer stays unbound until
// BindAll runs against the finalized arena.
func (f *Factory) CreateBuffer(a *arena.Arena, size int, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	if size < 0 {
		return nil, errors.Newf("buffer size %d is negative", size)
	}

	buffer := &Buffer{
		id:      f.newID(),
		factory: f,
		arena:   a,
		size:    size,
		usage:   usage,
	}

	if size > 0 {
		vkBuffer, res, err := f.driver.CreateBuffer(core1_0.BufferCreateInfo{
			Size:        size,
			Usage:       usage,
			SharingMode: core1_0.SharingModeExclusive,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create a buffer of size %d (%s)", size, res)
		}

		requirements := f.driver.GetBufferMemoryRequirements(vkBuffer)
		offset, err := a.ReserveFor(requirements.Size, requirements.Alignment, requirements.MemoryTypeBits, buffer)
		if err != nil {
			f.driver.DestroyBuffer(vkBuffer)
			return nil, err
		}

		buffer.buffer = vkBuffer
		buffer.offset = offset
	}

	f.register(buffer)
	f.logger.Debug("Factory::CreateBuffer",
		slog.Int("id", int(buffer.id)),
		slog.Int("size", size),
		slog.Int("offset", buffer.offset))

	return buffer, nil
}

// CreateImage creates an image and reserves space for it in a. The image stays unbound until BindAll
// runs against the finalized arena.
func (f *Factory) CreateImage(a *arena.Arena, options ImageOptions) (*Image, error) {
	options.applyDefaults()
	if err := options.Validate(); err != nil {
		return nil, err
	}

	if options.MipLevels > 1 {
		properties := f.driver.FormatProperties(options.Format)
		if properties == nil || properties.OptimalTilingFeatures&core1_0.FormatFeatureSampledImageFilterLinear == 0 {
			return nil, errors.Newf("image format %s does not support linear blitting, so it can't be mipmapped", options.Format)
		}
	}

	vkImage, res, err := f.driver.CreateImage(core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  options.Extent.Width,
			Height: options.Extent.Height,
			Depth:  1,
		},
		MipLevels:     options.MipLevels,
		ArrayLayers:   options.ArrayLayers,
		Format:        options.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         options.implicitUsage(),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       options.Samples,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a %dx%d image (%s)", options.Extent.Width, options.Extent.Height, res)
	}

	image := &Image{
		id:      f.newID(),
		factory: f,
		arena:   a,
		image:   vkImage,
		options: options,
		layout:  core1_0.ImageLayoutUndefined,
	}

	requirements := f.driver.GetImageMemoryRequirements(vkImage)
	image.offset, err = a.ReserveFor(requirements.Size, requirements.Alignment, requirements.MemoryTypeBits, image)
	if err != nil {
		f.driver.DestroyImage(vkImage)
		return nil, err
	}

	f.register(image)
	f.logger.Debug("Factory::CreateImage",
		slog.Int("id", int(image.id)),
		slog.Int("width", options.Extent.Width),
		slog.Int("height", options.Extent.Height),
		slog.String("format", options.Format.String()),
		slog.Int("offset", image.offset))

	return image, nil
}

// BindAll binds every buffer and image that reserved space in a to a's device memory. It fails if a
// has not been finalized. Resources that are already bound are skipped, so calling it again after
// more work has been built against a different arena is harmless.
func (f *Factory) BindAll(a *arena.Arena) error {
	if !a.Finalized() {
		return errors.Wrap(arena.ErrNotFinalized, "cannot bind resources")
	}

	for _, reservation := range a.Reservations() {
		var err error

		switch owner := reservation.Owner.(type) {
		case *Buffer:
			err = owner.bind()
		case *Image:
			err = owner.bind()
		}

		if err != nil {
			return err
		}
	}

	memutils.DebugValidate(a)
	return nil
}

// Prepare finalizes a and binds everything reserved in it
func (f *Factory) Prepare(a *arena.Arena) error {
	res, err := a.Finalize(0)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize arena (%s)", res)
	}

	return f.BindAll(a)
}
