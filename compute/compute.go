// Package compute builds compute sets: a compute pipeline dispatched over one or more storage images,
// with an optional uniform buffer and storage buffer
package compute

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/binding"
	"github.com/vkngwrapper/kiln/pipeline"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

// Descriptor slots of the built-in bindings. Additional bindings must use other slots.
const (
	OutputSlot  = 0
	UniformSlot = 1
	StorageSlot = 2
)

const DefaultLocalSize = 8

type Options struct {
	Shader []byte

	Extent core1_0.Extent2D
	// Format defaults to core1_0.FormatR8G8B8A8UnsignedNormalized
	Format core1_0.Format
	// Outputs is the number of output images, bound as one storage image array. Defaults to 1.
	Outputs int
	// Layers defaults to 1
	Layers    int
	MipLevels int
	// OutputUsage is added to the usage of every output image
	OutputUsage core1_0.ImageUsageFlags

	// LocalSizeX and LocalSizeY must match the shader's workgroup size and default to
	// DefaultLocalSize
	LocalSizeX int
	LocalSizeY int
	// Dispatch overrides the group counts when any of them is non-zero
	Dispatch [3]int

	// UniformSize and StorageSize create the uniform and storage buffers when non-zero
	UniformSize int
	StorageSize int

	Bindings []binding.Spec
}

func (o *Options) applyDefaults() {
	if o.Format == core1_0.FormatUndefined {
		o.Format = core1_0.FormatR8G8B8A8UnsignedNormalized
	}
	if o.Outputs == 0 {
		o.Outputs = 1
	}
	if o.Layers == 0 {
		o.Layers = 1
	}
	if o.MipLevels == 0 {
		o.MipLevels = 1
	}
	if o.LocalSizeX == 0 {
		o.LocalSizeX = DefaultLocalSize
	}
	if o.LocalSizeY == 0 {
		o.LocalSizeY = DefaultLocalSize
	}
}

func (o Options) outputOptions() resource.ImageOptions {
	return resource.ImageOptions{
		Extent:      o.Extent,
		Format:      o.Format,
		Usage:       o.OutputUsage,
		MipLevels:   o.MipLevels,
		ArrayLayers: o.Layers,
		Access:      resource.AccessStorage,
	}
}

func configError(field string, sentinel error, format string, args ...any) error {
	return validation.New("compute", field, sentinel, format, args...)
}

// Validate checks the options without touching the driver. Defaults are applied first.
func (o Options) Validate() error {
	o.applyDefaults()

	if err := pipeline.ValidateShader("shader", o.Shader); err != nil {
		return err
	}
	if o.Outputs < 0 {
		return configError("outputs", validation.ErrInvalidValue, "%d outputs", o.Outputs)
	}
	if err := o.outputOptions().Validate(); err != nil {
		return err
	}
	if o.LocalSizeX < 0 || o.LocalSizeY < 0 {
		return configError("local_size", validation.ErrInvalidValue, "%dx%d", o.LocalSizeX, o.LocalSizeY)
	}
	for _, count := range o.Dispatch {
		if count < 0 {
			return configError("dispatch", validation.ErrInvalidValue, "%v", o.Dispatch)
		}
	}
	if o.UniformSize < 0 || o.StorageSize < 0 {
		return configError("size", validation.ErrInvalidValue, "uniform size %d, storage size %d", o.UniformSize, o.StorageSize)
	}

	for _, spec := range o.Bindings {
		if spec.Slot == OutputSlot || spec.Slot == UniformSlot || spec.Slot == StorageSlot {
			return configError("slot", validation.ErrDuplicate, "slot %d is reserved", spec.Slot)
		}
	}
	return binding.Validate(o.Bindings)
}

func ceilDiv(value, divisor int) int {
	return (value + divisor - 1) / divisor
}

// Set is a compute pipeline, its descriptor set and the output images and buffers it owns
type Set struct {
	factory *resource.Factory
	options Options

	outputs       []*resource.Image
	uniformBuffer *resource.Buffer
	storageBuffer *resource.Buffer

	set      *binding.Set
	compute  *pipeline.Compute
	prepared bool
}

// New validates options, reserves the outputs and buffers in a and builds the pipeline. Descriptor
// writes wait for Prepare, once a is bound.
func New(factory *resource.Factory, a *arena.Arena, options Options) (*Set, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	options.applyDefaults()

	s := &Set{
		factory: factory,
		options: options,
	}

	err := s.build(a)
	if err != nil {
		s.Destroy()
		return nil, err
	}

	dispatch := s.Dispatch()
	factory.Logger().Debug("ComputeSet::New",
		slog.Int("outputs", options.Outputs),
		slog.Int("width", options.Extent.Width),
		slog.Int("height", options.Extent.Height),
		slog.Int("groupsX", dispatch[0]),
		slog.Int("groupsY", dispatch[1]),
		slog.Int("groupsZ", dispatch[2]))

	return s, nil
}

func (s *Set) build(a *arena.Arena) error {
	entries := make([]binding.ImageEntry, 0, s.options.Outputs)
	for i := 0; i < s.options.Outputs; i++ {
		output, err := s.factory.CreateImage(a, s.options.outputOptions())
		if err != nil {
			return errors.Wrapf(err, "failed to create output %d", i)
		}
		s.outputs = append(s.outputs, output)
		entries = append(entries, binding.ImageEntry{Image: output})
	}

	specs := []binding.Spec{
		{Slot: OutputSlot, Kind: binding.KindStorageImage, Images: entries},
	}
	if s.options.UniformSize > 0 {
		specs = append(specs, binding.Spec{Slot: UniformSlot, Kind: binding.KindUniformBuffer, Size: s.options.UniformSize})
	}
	if s.options.StorageSize > 0 {
		specs = append(specs, binding.Spec{Slot: StorageSlot, Kind: binding.KindStorageBuffer, Size: s.options.StorageSize})
	}
	specs = append(specs, s.options.Bindings...)

	resolved := make([]*binding.Resolved, 0, len(specs))
	destroyResolved := func() {
		for _, r := range resolved {
			r.Destroy()
		}
	}
	for _, spec := range specs {
		r, err := binding.Resolve(spec, s.factory, a)
		if err != nil {
			destroyResolved()
			return err
		}
		resolved = append(resolved, r)

		switch spec.Slot {
		case UniformSlot:
			s.uniformBuffer = r.Buffer()
		case StorageSlot:
			s.storageBuffer = r.Buffer()
		}
	}

	var err error
	s.set, err = binding.NewSet(s.factory.Driver(), resolved)
	if err != nil {
		destroyResolved()
		return err
	}

	s.compute, err = pipeline.BuildCompute(s.factory.Driver(), s.options.Shader, s.set)
	return err
}

func (s *Set) Outputs() []*resource.Image {
	return s.outputs
}

// UniformBuffer is nil unless a uniform size was requested
func (s *Set) UniformBuffer() *resource.Buffer {
	return s.uniformBuffer
}

// StorageBuffer is nil unless a storage size was requested
func (s *Set) StorageBuffer() *resource.Buffer {
	return s.storageBuffer
}

// Dispatch is the effective group counts: the override when one was given, otherwise enough local
// workgroups to cover every texel of every layer
func (s *Set) Dispatch() [3]int {
	if s.options.Dispatch != [3]int{} {
		dispatch := s.options.Dispatch
		for i := range dispatch {
			dispatch[i] = max(1, dispatch[i])
		}
		return dispatch
	}

	return [3]int{
		ceilDiv(s.options.Extent.Width, s.options.LocalSizeX),
		ceilDiv(s.options.Extent.Height, s.options.LocalSizeY),
		s.options.Layers,
	}
}

// Prepare creates the output views and writes the descriptor set. The arena must be bound.
func (s *Set) Prepare() error {
	if s.prepared {
		return nil
	}

	err := binding.CreateDescriptorObjects(s.set.Bindings()...)
	if err != nil {
		return err
	}
	err = s.set.Write()
	if err != nil {
		return err
	}

	s.prepared = true
	return nil
}

// Record moves the outputs to the general layout, dispatches, and either generates the outputs' mip
// chains or makes the writes visible to later commands
func (s *Set) Record(commandBuffer core1_0.CommandBuffer) error {
	if !s.prepared {
		return errors.New("compute set has not been prepared")
	}

	driver := s.factory.Driver()
	for _, output := range s.outputs {
		err := resource.TransitionLayout(driver, commandBuffer, output, core1_0.ImageLayoutGeneral)
		if err != nil {
			return err
		}
	}

	s.compute.Bind(commandBuffer)
	dispatch := s.Dispatch()
	driver.CmdDispatch(commandBuffer, dispatch[0], dispatch[1], dispatch[2])

	for _, output := range s.outputs {
		var err error
		if output.MipLevels() > 1 {
			err = resource.RecordMipChain(driver, commandBuffer, output)
		} else {
			err = resource.RecordShaderWriteBarrier(driver, commandBuffer, output)
			if err == nil {
				err = resource.TransitionToRest(driver, commandBuffer, output)
			}
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy releases the pipeline, the descriptor set with the buffers it created, and the outputs
func (s *Set) Destroy() {
	if s.compute != nil {
		s.compute.Destroy()
		s.compute = nil
	}
	if s.set != nil {
		s.set.Destroy()
		s.set = nil
	}
	for _, output := range s.outputs {
		output.Destroy()
	}
	s.outputs = nil
	s.uniformBuffer = nil
	s.storageBuffer = nil
	s.prepared = false
}
