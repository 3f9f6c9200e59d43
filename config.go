package kiln

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
	"gopkg.in/yaml.v3"
)

func configError(field string, sentinel error, format string, args ...any) error {
	return validation.New("engine", field, sentinel, format, args...)
}

// UnmarshalYAML accepts a single flag name or a sequence of them
func (f *CreateFlags) UnmarshalYAML(node *yaml.Node) error {
	var names []string
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			names = []string{node.Value}
		}
	case yaml.SequenceNode:
		if err := node.Decode(&names); err != nil {
			return err
		}
	default:
		return configError("flags", validation.ErrInvalidValue, "line %d: expected a flag name or a list of them", node.Line)
	}

	var flags CreateFlags
	for _, name := range names {
		flag, ok := createFlagsByName[strings.TrimSpace(name)]
		if !ok {
			return configError("flags", validation.ErrUnknownKind, "line %d: unknown flag %q", node.Line, name)
		}
		flags |= flag
	}

	*f = flags
	return nil
}

type samplerDocument struct {
	MagFilter     string   `yaml:"mag_filter"`
	MinFilter     string   `yaml:"min_filter"`
	MipmapMode    string   `yaml:"mipmap_mode"`
	AddressMode   string   `yaml:"address_mode"`
	AddressModeU  string   `yaml:"address_mode_u"`
	AddressModeV  string   `yaml:"address_mode_v"`
	AddressModeW  string   `yaml:"address_mode_w"`
	MaxAnisotropy *float32 `yaml:"max_anisotropy"`
	MinLod        float32  `yaml:"min_lod"`
	MaxLod        float32  `yaml:"max_lod"`
}

type optionsDocument struct {
	Flags            CreateFlags      `yaml:"flags"`
	StagingAlignment int              `yaml:"staging_alignment"`
	ArenaSizeHint    int              `yaml:"arena_size_hint"`
	DefaultSampler   *samplerDocument `yaml:"default_sampler"`
}

var filtersByName = map[string]core1_0.Filter{
	"nearest": core1_0.FilterNearest,
	"linear":  core1_0.FilterLinear,
}

var mipmapModesByName = map[string]core1_0.SamplerMipmapMode{
	"nearest": core1_0.SamplerMipmapModeNearest,
	"linear":  core1_0.SamplerMipmapModeLinear,
}

var addressModesByName = map[string]core1_0.SamplerAddressMode{
	"repeat":          core1_0.SamplerAddressModeRepeat,
	"mirrored_repeat": core1_0.SamplerAddressModeMirroredRepeat,
	"clamp_to_edge":   core1_0.SamplerAddressModeClampToEdge,
	"clamp_to_border": core1_0.SamplerAddressModeClampToBorder,
}

func lookup[T any](table map[string]T, field, name string, value *T) error {
	if name == "" {
		return nil
	}
	found, ok := table[strings.ToLower(name)]
	if !ok {
		return configError(field, validation.ErrUnknownKind, "unknown value %q", name)
	}
	*value = found
	return nil
}

func (d *samplerDocument) options() (*resource.SamplerOptions, error) {
	options := resource.DefaultSamplerOptions()

	if err := lookup(filtersByName, "default_sampler.mag_filter", d.MagFilter, &options.MagFilter); err != nil {
		return nil, err
	}
	if err := lookup(filtersByName, "default_sampler.min_filter", d.MinFilter, &options.MinFilter); err != nil {
		return nil, err
	}
	if err := lookup(mipmapModesByName, "default_sampler.mipmap_mode", d.MipmapMode, &options.MipmapMode); err != nil {
		return nil, err
	}

	// address_mode sets every axis, then the per-axis keys override it
	every := options.AddressModeU
	if err := lookup(addressModesByName, "default_sampler.address_mode", d.AddressMode, &every); err != nil {
		return nil, err
	}
	options.AddressModeU, options.AddressModeV, options.AddressModeW = every, every, every
	if err := lookup(addressModesByName, "default_sampler.address_mode_u", d.AddressModeU, &options.AddressModeU); err != nil {
		return nil, err
	}
	if err := lookup(addressModesByName, "default_sampler.address_mode_v", d.AddressModeV, &options.AddressModeV); err != nil {
		return nil, err
	}
	if err := lookup(addressModesByName, "default_sampler.address_mode_w", d.AddressModeW, &options.AddressModeW); err != nil {
		return nil, err
	}

	if d.MaxAnisotropy != nil {
		if *d.MaxAnisotropy < 1 {
			return nil, configError("default_sampler.max_anisotropy", validation.ErrInvalidValue,
				"max anisotropy %f is below 1", *d.MaxAnisotropy)
		}
		options.AnisotropyEnable = true
		options.MaxAnisotropy = *d.MaxAnisotropy
	}

	if d.MinLod < 0 || d.MaxLod < 0 {
		return nil, configError("default_sampler", validation.ErrInvalidValue, "lod bounds must not be negative")
	}
	if d.MaxLod != 0 && d.MinLod > d.MaxLod {
		return nil, configError("default_sampler", validation.ErrInvalidValue,
			"min lod %f is greater than max lod %f", d.MinLod, d.MaxLod)
	}
	options.MinLod = d.MinLod
	options.MaxLod = d.MaxLod

	return &options, nil
}

// LoadOptions reads engine options from a YAML document:
//
//	flags: [EngineCreateExternallySynchronized]
//	staging_alignment: 16
//	arena_size_hint: 1048576
//	default_sampler:
//	  mag_filter: nearest
//	  min_filter: linear
//	  mipmap_mode: linear
//	  address_mode: clamp_to_edge
//	  max_anisotropy: 8
//
// Every key is optional. Unknown keys, flag names and enum values are configuration errors.
func LoadOptions(r io.Reader) (Options, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var document optionsDocument
	err := decoder.Decode(&document)
	if errors.Is(err, io.EOF) {
		return Options{}, nil
	}
	if err != nil {
		if validation.IsConfigError(err) {
			return Options{}, err
		}
		return Options{}, errors.Wrap(err, "failed to parse engine options")
	}

	if document.StagingAlignment < 0 || document.StagingAlignment&(document.StagingAlignment-1) != 0 {
		return Options{}, configError("staging_alignment", validation.ErrInvalidValue,
			"%d is not a power of two", document.StagingAlignment)
	}
	if document.ArenaSizeHint < 0 {
		return Options{}, configError("arena_size_hint", validation.ErrInvalidValue,
			"%d is negative", document.ArenaSizeHint)
	}

	options := Options{
		Flags:            document.Flags,
		StagingAlignment: document.StagingAlignment,
		ArenaSizeHint:    document.ArenaSizeHint,
	}

	if document.DefaultSampler != nil {
		options.DefaultSampler, err = document.DefaultSampler.options()
		if err != nil {
			return Options{}, err
		}
	}

	return options, nil
}
