package resource

import "github.com/vkngwrapper/core/v3/core1_0"

var texelSizes = map[core1_0.Format]int{
	core1_0.FormatR8UnsignedNormalized:               1,
	core1_0.FormatR8UnsignedInt:                      1,
	core1_0.FormatR8SRGB:                             1,
	core1_0.FormatR8G8UnsignedNormalized:             2,
	core1_0.FormatR16SignedFloat:                     2,
	core1_0.FormatD16UnsignedNormalized:              2,
	core1_0.FormatR8G8B8A8UnsignedNormalized:         4,
	core1_0.FormatR8G8B8A8SRGB:                       4,
	core1_0.FormatB8G8R8A8UnsignedNormalized:         4,
	core1_0.FormatB8G8R8A8SRGB:                       4,
	core1_0.FormatR16G16SignedFloat:                  4,
	core1_0.FormatR32SignedFloat:                     4,
	core1_0.FormatR32SignedInt:                       4,
	core1_0.FormatR32UnsignedInt:                     4,
	core1_0.FormatD32SignedFloat:                     4,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt: 4,
	core1_0.FormatR16G16B16A16SignedFloat:            8,
	core1_0.FormatR32G32SignedFloat:                  8,
	core1_0.FormatR32G32B32SignedFloat:               12,
	core1_0.FormatR32G32B32A32SignedFloat:            16,
	core1_0.FormatR32G32B32A32SignedInt:              16,
	core1_0.FormatR32G32B32A32UnsignedInt:            16,
}

// TexelSize returns the number of bytes one texel of format occupies in a staging buffer, or false
// for formats that can't be staged
func TexelSize(format core1_0.Format) (int, bool) {
	size, ok := texelSizes[format]
	return size, ok
}

func IsDepthFormat(format core1_0.Format) bool {
	switch format {
	case core1_0.FormatD16UnsignedNormalized,
		core1_0.FormatD32SignedFloat,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		core1_0.FormatD32SignedFloatS8UnsignedInt:
		return true
	}
	return false
}

func aspectMask(format core1_0.Format) core1_0.ImageAspectFlags {
	if IsDepthFormat(format) {
		return core1_0.ImageAspectDepth
	}
	return core1_0.ImageAspectColor
}

// MipExtent is the extent of the provided level of a mip chain: each dimension is halved per level,
// rounding down, and never drops below 1
func MipExtent(extent core1_0.Extent2D, level int) core1_0.Extent2D {
	return core1_0.Extent2D{
		Width:  max(1, extent.Width>>level),
		Height: max(1, extent.Height>>level),
	}
}
