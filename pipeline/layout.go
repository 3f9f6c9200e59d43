package pipeline

import (
	"strings"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/validation"
)

// Attribute is one located attribute of an interleaved layout
type Attribute struct {
	Location int
	Token    Token
	Offset   int
}

// Layout is an interleaved vertex or instance layout parsed from a format string such as
// "3f 2h 4x 4p". Padding tokens advance the offset without taking a location.
type Layout struct {
	Binding    int
	Rate       core1_0.VertexInputRate
	Stride     int
	Attributes []Attribute
}

// ParseLayout parses the whitespace separated tokens of format. Locations are assigned in order
// starting at firstLocation. An empty format yields an empty layout.
func ParseLayout(format string, binding int, rate core1_0.VertexInputRate, firstLocation int) (Layout, error) {
	layout := Layout{
		Binding: binding,
		Rate:    rate,
	}

	location := firstLocation
	for _, name := range strings.Fields(format) {
		padding, isPadding, err := paddingSize(name)
		if err != nil {
			return Layout{}, err
		}
		if isPadding {
			layout.Stride += padding
			continue
		}

		token, err := LookupToken(name)
		if err != nil {
			return Layout{}, err
		}

		layout.Attributes = append(layout.Attributes, Attribute{
			Location: location,
			Token:    token,
			Offset:   layout.Stride,
		})
		layout.Stride += token.Size
		location++
	}

	return layout, nil
}

func (l Layout) Empty() bool {
	return l.Stride == 0
}

// Components is the number of values one element of the layout consumes
func (l Layout) Components() int {
	var components int
	for _, attribute := range l.Attributes {
		components += attribute.Token.Components
	}
	return components
}

// NextLocation is the first location after this layout's attributes, used to place instance
// attributes after vertex attributes
func (l Layout) NextLocation(firstLocation int) int {
	if len(l.Attributes) == 0 {
		return firstLocation
	}
	return l.Attributes[len(l.Attributes)-1].Location + 1
}

func (l Layout) BindingDescription() core1_0.VertexInputBindingDescription {
	return core1_0.VertexInputBindingDescription{
		Binding:   l.Binding,
		Stride:    l.Stride,
		InputRate: l.Rate,
	}
}

func (l Layout) AttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	descriptions := make([]core1_0.VertexInputAttributeDescription, 0, len(l.Attributes))
	for _, attribute := range l.Attributes {
		descriptions = append(descriptions, core1_0.VertexInputAttributeDescription{
			Location: attribute.Location,
			Binding:  l.Binding,
			Format:   attribute.Token.Format,
			Offset:   attribute.Offset,
		})
	}
	return descriptions
}

// Pack interleaves values into elements of the layout. Values are consumed attribute by
// attribute, element by element, and padding bytes are left zero.
func Pack(layout Layout, values []float64) ([]byte, error) {
	components := layout.Components()
	if components == 0 {
		if len(values) > 0 {
			return nil, validation.New("pipeline", "values", ErrInvalidValue, "layout has no attributes to hold %d values", len(values))
		}
		return nil, nil
	}
	if len(values)%components != 0 {
		return nil, validation.New("pipeline", "values", ErrInvalidValue, "%d values don't fill whole elements of %d components", len(values), components)
	}

	count := len(values) / components
	data := make([]byte, count*layout.Stride)
	for element := 0; element < count; element++ {
		base := element * layout.Stride
		for _, attribute := range layout.Attributes {
			offset := base + attribute.Offset
			attribute.Token.Pack(data[offset:offset+attribute.Token.Size], values[:attribute.Token.Components])
			values = values[attribute.Token.Components:]
		}
	}

	return data, nil
}
