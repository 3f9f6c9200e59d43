package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// SamplerOptions describes how a sampled image is filtered and addressed
type SamplerOptions struct {
	MagFilter    core1_0.Filter
	MinFilter    core1_0.Filter
	MipmapMode   core1_0.SamplerMipmapMode
	AddressModeU core1_0.SamplerAddressMode
	AddressModeV core1_0.SamplerAddressMode
	AddressModeW core1_0.SamplerAddressMode

	AnisotropyEnable bool
	MaxAnisotropy    float32

	MinLod float32
	// MaxLod of zero means every mip level of the sampled image
	MaxLod float32

	BorderColor core1_0.BorderColor
}

// DefaultSamplerOptions filters linearly, repeats on every axis, has anisotropy off and uses an
// opaque black border
func DefaultSamplerOptions() SamplerOptions {
	return SamplerOptions{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		MipmapMode:   core1_0.SamplerMipmapModeLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,
		BorderColor:  core1_0.BorderColorIntOpaqueBlack,
	}
}

// CreateSampler creates a sampler for an image with mipLevels levels. A nil options uses the
// factory's default sampler. The caller owns the returned sampler.
func (f *Factory) CreateSampler(options *SamplerOptions, mipLevels int) (core1_0.Sampler, error) {
	var resolved SamplerOptions
	switch {
	case options != nil:
		resolved = *options
	case f.options.DefaultSampler != nil:
		resolved = *f.options.DefaultSampler
	default:
		resolved = DefaultSamplerOptions()
	}

	if resolved.MaxLod == 0 {
		resolved.MaxLod = float32(mipLevels)
	}
	if resolved.MinLod > resolved.MaxLod {
		return core1_0.Sampler{}, errors.Newf("sampler min lod %f is greater than max lod %f", resolved.MinLod, resolved.MaxLod)
	}

	if resolved.AnisotropyEnable {
		limit := f.deviceMemory.DeviceProperties().Limits.MaxSamplerAnisotropy
		if resolved.MaxAnisotropy == 0 || resolved.MaxAnisotropy > limit {
			resolved.MaxAnisotropy = limit
		}
	}

	sampler, res, err := f.driver.CreateSampler(core1_0.SamplerCreateInfo{
		MagFilter:        resolved.MagFilter,
		MinFilter:        resolved.MinFilter,
		MipmapMode:       resolved.MipmapMode,
		AddressModeU:     resolved.AddressModeU,
		AddressModeV:     resolved.AddressModeV,
		AddressModeW:     resolved.AddressModeW,
		AnisotropyEnable: resolved.AnisotropyEnable,
		MaxAnisotropy:    resolved.MaxAnisotropy,
		MinLod:           resolved.MinLod,
		MaxLod:           resolved.MaxLod,
		BorderColor:      resolved.BorderColor,
	})
	if err != nil {
		return core1_0.Sampler{}, errors.Wrapf(err, "failed to create sampler (%s)", res)
	}

	return sampler, nil
}
