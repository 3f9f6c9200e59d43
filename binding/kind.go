package binding

import (
	"strings"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/validation"
)

// Kind is the closed set of descriptor slot kinds a binding can declare
type Kind int

const (
	KindUniformBuffer Kind = iota
	KindStorageBuffer
	// KindInputBuffer is a storage buffer that is filled through a staging buffer before use
	KindInputBuffer
	// KindOutputBuffer is a storage buffer that is read back through a staging buffer after use
	KindOutputBuffer
	KindSampledImage
	KindStorageImage
)

var kindNames = map[Kind]string{
	KindUniformBuffer: "uniform_buffer",
	KindStorageBuffer: "storage_buffer",
	KindInputBuffer:   "input_buffer",
	KindOutputBuffer:  "output_buffer",
	KindSampledImage:  "sampled_image",
	KindStorageImage:  "storage_image",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return "unknown"
	}
	return name
}

// ParseKind accepts the snake_case kind names, case-insensitively
func ParseKind(name string) (Kind, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	for kind, kindName := range kindNames {
		if kindName == lowered {
			return kind, nil
		}
	}

	return 0, validation.New("binding", "kind", ErrUnknownKind, "%q", name)
}

func (k Kind) known() bool {
	_, ok := kindNames[k]
	return ok
}

// IsImage reports whether the kind binds an array of images rather than a single buffer
func (k Kind) IsImage() bool {
	return k == KindSampledImage || k == KindStorageImage
}

func (k Kind) DescriptorType() core1_0.DescriptorType {
	switch k {
	case KindUniformBuffer:
		return core1_0.DescriptorTypeUniformBuffer
	case KindSampledImage:
		return core1_0.DescriptorTypeCombinedImageSampler
	case KindStorageImage:
		return core1_0.DescriptorTypeStorageImage
	}
	return core1_0.DescriptorTypeStorageBuffer
}

// BufferUsage is the usage given to buffers created for this kind, and the usage an existing buffer
// must include to be bound as this kind
func (k Kind) BufferUsage() core1_0.BufferUsageFlags {
	switch k {
	case KindUniformBuffer:
		return core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageTransferDst
	case KindStorageBuffer:
		return core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst
	case KindInputBuffer:
		return core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferDst
	case KindOutputBuffer:
		return core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc
	}
	return 0
}

func (k Kind) requiredBufferUsage() core1_0.BufferUsageFlags {
	if k == KindUniformBuffer {
		return core1_0.BufferUsageUniformBuffer
	}
	return core1_0.BufferUsageStorageBuffer
}

func (k Kind) requiredImageUsage() core1_0.ImageUsageFlags {
	if k == KindSampledImage {
		return core1_0.ImageUsageSampled
	}
	return core1_0.ImageUsageStorage
}

// ImageLayout is the layout images bound as this kind are in when the descriptor is read
func (k Kind) ImageLayout() core1_0.ImageLayout {
	if k == KindStorageImage {
		return core1_0.ImageLayoutGeneral
	}
	return core1_0.ImageLayoutShaderReadOnlyOptimal
}
