// Package binding resolves declarative descriptor slot descriptions into descriptor set layouts,
// pools and writes
package binding

import (
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

type ConfigError = validation.ConfigError

var (
	ErrUnknownKind      = validation.ErrUnknownKind
	ErrMissingReference = validation.ErrMissingReference
	ErrZeroSize         = validation.ErrZeroSize
	ErrInvalidValue     = validation.ErrInvalidValue
	ErrDuplicate        = validation.ErrDuplicate
)

// ImageEntry is one element of an image binding's descriptor array. Sampler is only read for sampled
// images and is defaulted when nil.
type ImageEntry struct {
	Image   *resource.Image
	Sampler *resource.SamplerOptions
}

// Spec declares one descriptor slot. Buffer kinds either reference an existing Buffer or ask for a
// new one of Size bytes. Image kinds reference one or more existing images, which share the slot as
// a descriptor array.
type Spec struct {
	Slot   int
	Kind   Kind
	Buffer *resource.Buffer
	Size   int
	Images []ImageEntry
}

func configError(field string, sentinel error, format string, args ...any) error {
	return validation.New("binding", field, sentinel, format, args...)
}

// Validate checks a single spec without touching the driver
func (s Spec) Validate() error {
	if s.Slot < 0 {
		return configError("slot", ErrInvalidValue, "slot %d", s.Slot)
	}
	if !s.Kind.known() {
		return configError("kind", ErrUnknownKind, "slot %d has kind %d", s.Slot, s.Kind)
	}

	if !s.Kind.IsImage() {
		return s.validateBuffer()
	}
	return s.validateImages()
}

func (s Spec) validateBuffer() error {
	if len(s.Images) > 0 {
		return configError("images", ErrInvalidValue, "%s slot %d can't hold images", s.Kind, s.Slot)
	}

	if s.Buffer == nil {
		if s.Size <= 0 {
			return configError("size", ErrZeroSize, "%s slot %d has no buffer and a size of %d", s.Kind, s.Slot, s.Size)
		}
		return nil
	}

	if s.Size != 0 && s.Size != s.Buffer.Size() {
		return configError("size", ErrInvalidValue, "slot %d declares size %d for a buffer of size %d", s.Slot, s.Size, s.Buffer.Size())
	}
	if s.Buffer.Size() == 0 {
		return configError("buffer", ErrZeroSize, "slot %d references an empty buffer", s.Slot)
	}
	if s.Buffer.Usage()&s.Kind.requiredBufferUsage() == 0 {
		return configError("buffer", ErrInvalidValue, "buffer %d lacks the usage needed for %s slot %d", s.Buffer.ID(), s.Kind, s.Slot)
	}

	return nil
}

func (s Spec) validateImages() error {
	if s.Buffer != nil || s.Size != 0 {
		return configError("buffer", ErrInvalidValue, "%s slot %d can't hold a buffer", s.Kind, s.Slot)
	}
	if len(s.Images) == 0 {
		return configError("images", ErrMissingReference, "%s slot %d names no images", s.Kind, s.Slot)
	}

	for index, entry := range s.Images {
		if entry.Image == nil {
			return configError("images", ErrMissingReference, "slot %d image %d is missing", s.Slot, index)
		}
		if entry.Image.Usage()&s.Kind.requiredImageUsage() == 0 {
			return configError("images", ErrInvalidValue, "image %d lacks the usage needed for %s slot %d", entry.Image.ID(), s.Kind, s.Slot)
		}
		if entry.Sampler == nil {
			continue
		}
		if s.Kind != KindSampledImage {
			return configError("sampler", ErrInvalidValue, "%s slot %d image %d can't take a sampler", s.Kind, s.Slot, index)
		}
		if entry.Sampler.MaxLod != 0 && entry.Sampler.MinLod > entry.Sampler.MaxLod {
			return configError("sampler", ErrInvalidValue, "slot %d image %d has lod range %g..%g", s.Slot, index, entry.Sampler.MinLod, entry.Sampler.MaxLod)
		}
	}

	return nil
}

// Validate checks every spec and rejects duplicate slots. It runs before any driver object is created
// for the owning render or compute set.
func Validate(specs []Spec) error {
	seen := make(map[int]struct{}, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, duplicate := seen[spec.Slot]; duplicate {
			return configError("slot", ErrDuplicate, "slot %d is declared twice", spec.Slot)
		}
		seen[spec.Slot] = struct{}{}
	}
	return nil
}
