package binding

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/resource"
)

// Resolved is a validated binding with its buffer in place. Its descriptor write is deferred until
// CreateDescriptorObjects has run against bound images.
type Resolved struct {
	factory *resource.Factory

	slot       int
	kind       Kind
	buffer     *resource.Buffer
	ownsBuffer bool
	images     []ImageEntry

	samplers  []core1_0.Sampler
	imageInfo []core1_0.DescriptorImageInfo
	ready     bool
}

// Resolve validates spec and, for buffer kinds without a buffer, creates one of the declared size in
// a. Images are never created here.
func Resolve(spec Spec, factory *resource.Factory, a *arena.Arena) (*Resolved, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	resolved := &Resolved{
		factory: factory,
		slot:    spec.Slot,
		kind:    spec.Kind,
		buffer:  spec.Buffer,
		images:  append([]ImageEntry(nil), spec.Images...),
	}

	if !spec.Kind.IsImage() && spec.Buffer == nil {
		buffer, err := factory.CreateBuffer(a, spec.Size, spec.Kind.BufferUsage())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create the buffer for %s slot %d", spec.Kind, spec.Slot)
		}
		resolved.buffer = buffer
		resolved.ownsBuffer = true
	}

	// Buffers are ready as soon as they are bound, images need views and samplers first
	resolved.ready = !spec.Kind.IsImage()

	factory.Logger().Debug("Binding::Resolve",
		slog.Int("slot", spec.Slot),
		slog.String("kind", spec.Kind.String()),
		slog.Bool("ownsBuffer", resolved.ownsBuffer),
		slog.Int("images", len(spec.Images)))

	return resolved, nil
}

func (r *Resolved) Slot() int {
	return r.slot
}

func (r *Resolved) Kind() Kind {
	return r.kind
}

// Buffer is the bound buffer for buffer kinds, or nil for image kinds
func (r *Resolved) Buffer() *resource.Buffer {
	return r.buffer
}

// OwnsBuffer reports whether the buffer was created by Resolve and is destroyed with the binding
func (r *Resolved) OwnsBuffer() bool {
	return r.ownsBuffer
}

func (r *Resolved) Images() []*resource.Image {
	images := make([]*resource.Image, 0, len(r.images))
	for _, entry := range r.images {
		images = append(images, entry.Image)
	}
	return images
}

func (r *Resolved) count() int {
	if r.kind.IsImage() {
		return len(r.images)
	}
	return 1
}

func (r *Resolved) LayoutBinding() core1_0.DescriptorSetLayoutBinding {
	return core1_0.DescriptorSetLayoutBinding{
		Binding:         r.slot,
		DescriptorType:  r.kind.DescriptorType(),
		DescriptorCount: r.count(),
		StageFlags:      core1_0.StageAll,
	}
}

func (r *Resolved) PoolSize() core1_0.DescriptorPoolSize {
	return core1_0.DescriptorPoolSize{
		Type:            r.kind.DescriptorType(),
		DescriptorCount: r.count(),
	}
}

// CreateDescriptorObjects creates the views and samplers of an image binding. The images must be
// bound. It does nothing for buffer bindings or when called a second time.
func (r *Resolved) CreateDescriptorObjects() error {
	if r.ready {
		return nil
	}

	imageInfo := make([]core1_0.DescriptorImageInfo, 0, len(r.images))
	for _, entry := range r.images {
		view, err := entry.Image.View()
		if err != nil {
			r.destroySamplers()
			return err
		}

		info := core1_0.DescriptorImageInfo{
			ImageView:   view,
			ImageLayout: r.kind.ImageLayout(),
		}

		if r.kind == KindSampledImage {
			sampler, err := r.factory.CreateSampler(entry.Sampler, entry.Image.MipLevels())
			if err != nil {
				r.destroySamplers()
				return errors.Wrapf(err, "slot %d", r.slot)
			}
			r.samplers = append(r.samplers, sampler)
			info.Sampler = sampler
		}

		imageInfo = append(imageInfo, info)
	}

	r.imageInfo = imageInfo
	r.ready = true
	return nil
}

// Write is the descriptor write for this binding into set
func (r *Resolved) Write(set core1_0.DescriptorSet) (core1_0.WriteDescriptorSet, error) {
	if !r.ready {
		return core1_0.WriteDescriptorSet{}, errors.Newf("descriptor objects for slot %d have not been created", r.slot)
	}

	write := core1_0.WriteDescriptorSet{
		DstSet:          set,
		DstBinding:      r.slot,
		DstArrayElement: 0,
		DescriptorType:  r.kind.DescriptorType(),
	}

	if r.kind.IsImage() {
		write.ImageInfo = r.imageInfo
		return write, nil
	}

	if !r.buffer.Bound() {
		return core1_0.WriteDescriptorSet{}, errors.Newf("buffer %d for slot %d is not bound", r.buffer.ID(), r.slot)
	}
	write.BufferInfo = []core1_0.DescriptorBufferInfo{
		{
			Buffer: r.buffer.VulkanBuffer(),
			Offset: 0,
			Range:  r.buffer.Size(),
		},
	}
	return write, nil
}

func (r *Resolved) destroySamplers() {
	for _, sampler := range r.samplers {
		r.factory.Driver().DestroySampler(sampler)
	}
	r.samplers = nil
}

// Destroy releases the samplers and, when Resolve created it, the buffer. Images belong to the caller.
func (r *Resolved) Destroy() {
	r.destroySamplers()
	r.imageInfo = nil
	r.ready = !r.kind.IsImage()

	if r.ownsBuffer && r.buffer != nil {
		r.buffer.Destroy()
		r.buffer = nil
		r.ownsBuffer = false
	}
}
