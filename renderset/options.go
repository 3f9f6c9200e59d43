package renderset

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/compute"
	"github.com/vkngwrapper/kiln/pipeline"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

type Options struct {
	Extent core1_0.Extent2D
	// Layers defaults to 1. Each layer is drawn in its own render pass instance.
	Layers int
	// MipLevels of the outputs, defaults to 1. Levels past the first are generated after drawing.
	MipLevels int
	// ColorFormats has one entry per color attachment
	ColorFormats []core1_0.Format
	// OutputAccess determines the outputs' usage and resting layout
	OutputAccess resource.AccessMode
	OutputUsage  core1_0.ImageUsageFlags
	// Samples defaults to core1_0.Samples1. Multisampled render sets resolve into their outputs.
	Samples core1_0.SampleCountFlags
	// DepthFormat adds a depth attachment unless it is core1_0.FormatUndefined
	DepthFormat core1_0.Format

	ClearColor [4]float32
	// ClearDepth defaults to 1
	ClearDepth *float32

	Pipelines []pipeline.GraphicsSpec
	Compute   []*compute.Set
}

var validSamples = map[core1_0.SampleCountFlags]struct{}{
	core1_0.Samples1:  {},
	core1_0.Samples2:  {},
	core1_0.Samples4:  {},
	core1_0.Samples8:  {},
	core1_0.Samples16: {},
	core1_0.Samples32: {},
	core1_0.Samples64: {},
}

func (o *Options) applyDefaults() {
	if o.Layers == 0 {
		o.Layers = 1
	}
	if o.MipLevels == 0 {
		o.MipLevels = 1
	}
	if o.Samples == 0 {
		o.Samples = core1_0.Samples1
	}
}

func (o Options) hasDepth() bool {
	return o.DepthFormat != core1_0.FormatUndefined
}

func (o Options) clearDepth() float32 {
	if o.ClearDepth == nil {
		return 1
	}
	return *o.ClearDepth
}

func (o Options) outputOptions(format core1_0.Format) resource.ImageOptions {
	return resource.ImageOptions{
		Extent:      o.Extent,
		Format:      format,
		Usage:       o.OutputUsage | core1_0.ImageUsageColorAttachment,
		Samples:     core1_0.Samples1,
		MipLevels:   o.MipLevels,
		ArrayLayers: o.Layers,
		Access:      o.OutputAccess,
	}
}

func (o Options) multisampleOptions(format core1_0.Format) resource.ImageOptions {
	return resource.ImageOptions{
		Extent:      o.Extent,
		Format:      format,
		Usage:       core1_0.ImageUsageColorAttachment,
		Samples:     o.Samples,
		ArrayLayers: o.Layers,
		Access:      resource.AccessProtected,
	}
}

func (o Options) depthOptions() resource.ImageOptions {
	return resource.ImageOptions{
		Extent:      o.Extent,
		Format:      o.DepthFormat,
		Usage:       core1_0.ImageUsageDepthStencilAttachment,
		Samples:     o.Samples,
		ArrayLayers: o.Layers,
		Access:      resource.AccessProtected,
	}
}

func (o Options) target(renderPass core1_0.RenderPass) pipeline.Target {
	return pipeline.Target{
		RenderPass:       renderPass,
		Samples:          o.Samples,
		ColorAttachments: len(o.ColorFormats),
		Depth:            o.hasDepth(),
	}
}

func configError(field string, sentinel error, format string, args ...any) error {
	return validation.New("renderset", field, sentinel, format, args...)
}

// Validate checks the options and every pipeline spec without touching the driver. Call it on
// options with defaults applied; New does both.
func (o Options) Validate() error {
	o.applyDefaults()

	if len(o.ColorFormats) == 0 && !o.hasDepth() {
		return configError("color_formats", validation.ErrMissingReference, "a render set needs at least one attachment")
	}
	if _, ok := validSamples[o.Samples]; !ok {
		return configError("samples", validation.ErrInvalidValue, "%d samples", o.Samples)
	}

	for _, format := range o.ColorFormats {
		if resource.IsDepthFormat(format) {
			return configError("color_formats", validation.ErrUnknownFormat, "%s is a depth format", format)
		}
		if err := o.outputOptions(format).Validate(); err != nil {
			return err
		}
		if o.Samples != core1_0.Samples1 {
			if err := o.multisampleOptions(format).Validate(); err != nil {
				return err
			}
		}
	}

	if o.hasDepth() {
		if !resource.IsDepthFormat(o.DepthFormat) {
			return configError("depth_format", validation.ErrUnknownFormat, "%s is not a depth format", o.DepthFormat)
		}
		if err := o.depthOptions().Validate(); err != nil {
			return err
		}
	}

	for i, set := range o.Compute {
		if set == nil {
			return configError("compute", validation.ErrMissingReference, "compute set %d is missing", i)
		}
	}

	target := o.target(core1_0.RenderPass{})
	for _, spec := range o.Pipelines {
		if err := spec.Validate(target); err != nil {
			return err
		}
	}

	return nil
}
