package present

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// compatibleFormats lists, per source format, the surface formats a source image can be blitted
// into, most preferred first. Blits convert between formats, so 8-bit sources prefer a surface with
// the same encoding and float sources fall back to whatever 8-bit surface is offered.
var compatibleFormats = map[core1_0.Format][]core1_0.Format{
	core1_0.FormatR8G8B8A8UnsignedNormalized: {
		core1_0.FormatB8G8R8A8UnsignedNormalized,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
	},
	core1_0.FormatB8G8R8A8UnsignedNormalized: {
		core1_0.FormatB8G8R8A8UnsignedNormalized,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
	},
	core1_0.FormatR8G8B8A8SRGB: {
		core1_0.FormatB8G8R8A8SRGB,
		core1_0.FormatR8G8B8A8SRGB,
	},
	core1_0.FormatB8G8R8A8SRGB: {
		core1_0.FormatB8G8R8A8SRGB,
		core1_0.FormatR8G8B8A8SRGB,
	},
	core1_0.FormatR16G16B16A16SignedFloat: {
		core1_0.FormatR16G16B16A16SignedFloat,
		core1_0.FormatB8G8R8A8UnsignedNormalized,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
	},
	core1_0.FormatR32G32B32A32SignedFloat: {
		core1_0.FormatB8G8R8A8UnsignedNormalized,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
	},
}

// CompatibleFormats returns the surface formats a source image of the provided format can be
// presented through, most preferred first
func CompatibleFormats(source core1_0.Format) []core1_0.Format {
	return compatibleFormats[source]
}

// chooseSurfaceFormat picks the first compatible format the surface offers, preferring the
// sRGB-nonlinear color space when a format is offered more than once
func chooseSurfaceFormat(source core1_0.Format, offered []khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, bool) {
	for _, wanted := range compatibleFormats[source] {
		var match *khr_surface.SurfaceFormat
		for i, format := range offered {
			if format.Format != wanted {
				continue
			}
			if format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
				return format, true
			}
			if match == nil {
				match = &offered[i]
			}
		}
		if match != nil {
			return *match, true
		}
	}

	return khr_surface.SurfaceFormat{}, false
}
