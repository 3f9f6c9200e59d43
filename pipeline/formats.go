package pipeline

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/validation"
	"github.com/x448/float16"
)

// packFunc writes one component into dst, which is exactly one component wide
type packFunc func(dst []byte, value float64, component int)

// Token is one entry of the vertex attribute format table
type Token struct {
	Name       string
	Components int
	// Size is the byte size of the whole attribute
	Size   int
	Format core1_0.Format

	componentSize int
	pack          packFunc
}

func packFloat32(dst []byte, value float64, _ int) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(value)))
}

func packFloat16(dst []byte, value float64, _ int) {
	binary.LittleEndian.PutUint16(dst, float16.Fromfloat32(float32(value)).Bits())
}

func packInt32(dst []byte, value float64, _ int) {
	value = math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Trunc(value)))
	binary.LittleEndian.PutUint32(dst, uint32(int32(value)))
}

func packUint32(dst []byte, value float64, _ int) {
	value = math.Max(0, math.Min(math.MaxUint32, math.Trunc(value)))
	binary.LittleEndian.PutUint32(dst, uint32(value))
}

func packUint8(dst []byte, value float64, _ int) {
	dst[0] = uint8(math.Max(0, math.Min(math.MaxUint8, math.Trunc(value))))
}

func unorm8(value float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, value)) * math.MaxUint8))
}

func packUnorm8(dst []byte, value float64, _ int) {
	dst[0] = unorm8(value)
}

// packSRGB8 encodes linear values with the sRGB transfer curve. The fourth component is alpha and
// stays linear.
func packSRGB8(dst []byte, value float64, component int) {
	if component == 3 {
		dst[0] = unorm8(value)
		return
	}
	value = math.Max(0, math.Min(1, value))
	dst[0] = unorm8(colorful.LinearRgb(value, value, value).R)
}

type tokenFamily struct {
	suffix        byte
	componentSize int
	pack          packFunc
	formats       [4]core1_0.Format
}

var families = []tokenFamily{
	{'f', 4, packFloat32, [4]core1_0.Format{
		core1_0.FormatR32SignedFloat,
		core1_0.FormatR32G32SignedFloat,
		core1_0.FormatR32G32B32SignedFloat,
		core1_0.FormatR32G32B32A32SignedFloat,
	}},
	{'h', 2, packFloat16, [4]core1_0.Format{
		core1_0.FormatR16SignedFloat,
		core1_0.FormatR16G16SignedFloat,
		core1_0.FormatR16G16B16SignedFloat,
		core1_0.FormatR16G16B16A16SignedFloat,
	}},
	{'i', 4, packInt32, [4]core1_0.Format{
		core1_0.FormatR32SignedInt,
		core1_0.FormatR32G32SignedInt,
		core1_0.FormatR32G32B32SignedInt,
		core1_0.FormatR32G32B32A32SignedInt,
	}},
	{'u', 4, packUint32, [4]core1_0.Format{
		core1_0.FormatR32UnsignedInt,
		core1_0.FormatR32G32UnsignedInt,
		core1_0.FormatR32G32B32UnsignedInt,
		core1_0.FormatR32G32B32A32UnsignedInt,
	}},
	{'b', 1, packUint8, [4]core1_0.Format{
		core1_0.FormatR8UnsignedInt,
		core1_0.FormatR8G8UnsignedInt,
		core1_0.FormatR8G8B8UnsignedInt,
		core1_0.FormatR8G8B8A8UnsignedInt,
	}},
	{'p', 1, packUnorm8, [4]core1_0.Format{
		core1_0.FormatR8UnsignedNormalized,
		core1_0.FormatR8G8UnsignedNormalized,
		core1_0.FormatR8G8B8UnsignedNormalized,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
	}},
	{'s', 1, packSRGB8, [4]core1_0.Format{
		core1_0.FormatR8SRGB,
		core1_0.FormatR8G8SRGB,
		core1_0.FormatR8G8B8SRGB,
		core1_0.FormatR8G8B8A8SRGB,
	}},
}

// Formats is the attribute format table keyed by token name. The table is a persisted contract: a
// token's component count, byte size and driver format never change.
var Formats = buildFormats()

func buildFormats() map[string]Token {
	formats := make(map[string]Token, len(families)*4)
	for _, family := range families {
		for components := 1; components <= 4; components++ {
			name := strconv.Itoa(components) + string(family.suffix)
			formats[name] = Token{
				Name:          name,
				Components:    components,
				Size:          components * family.componentSize,
				Format:        family.formats[components-1],
				componentSize: family.componentSize,
				pack:          family.pack,
			}
		}
	}
	return formats
}

// LookupToken returns the table entry for name
func LookupToken(name string) (Token, error) {
	token, ok := Formats[name]
	if !ok {
		return Token{}, validation.New("pipeline", "format", ErrUnknownFormat, "unknown attribute token %q", name)
	}
	return token, nil
}

// paddingSize parses an Nx padding token. It returns false for tokens that aren't padding.
func paddingSize(name string) (int, bool, error) {
	count, found := strings.CutSuffix(name, "x")
	if !found {
		return 0, false, nil
	}

	size, err := strconv.Atoi(count)
	if err != nil || size < 1 {
		return 0, true, validation.New("pipeline", "format", ErrUnknownFormat, "malformed padding token %q", name)
	}
	return size, true, nil
}

// Pack writes one attribute worth of values. len(values) must equal the token's component count.
func (t Token) Pack(dst []byte, values []float64) {
	for component, value := range values {
		offset := component * t.componentSize
		t.pack(dst[offset:offset+t.componentSize], value, component)
	}
}
