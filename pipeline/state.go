// Package pipeline parses vertex attribute formats and fixed-function settings and builds graphics
// and compute pipelines from them
package pipeline

import (
	"strings"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/validation"
)

type ConfigError = validation.ConfigError

var (
	ErrUnknownFormat    = validation.ErrUnknownFormat
	ErrUnknownKind      = validation.ErrUnknownKind
	ErrMissingReference = validation.ErrMissingReference
	ErrInvalidValue     = validation.ErrInvalidValue
)

var topologies = map[string]core1_0.PrimitiveTopology{
	"point_list":     core1_0.PrimitiveTopologyPointList,
	"line_list":      core1_0.PrimitiveTopologyLineList,
	"line_strip":     core1_0.PrimitiveTopologyLineStrip,
	"triangle_list":  core1_0.PrimitiveTopologyTriangleList,
	"triangle_strip": core1_0.PrimitiveTopologyTriangleStrip,
	"triangle_fan":   core1_0.PrimitiveTopologyTriangleFan,
}

var cullModes = map[string]core1_0.CullModeFlags{
	"none":           0,
	"front":          core1_0.CullModeFront,
	"back":           core1_0.CullModeBack,
	"front_and_back": core1_0.CullModeFront | core1_0.CullModeBack,
}

var frontFaces = map[string]core1_0.FrontFace{
	"clockwise":         core1_0.FrontFaceClockwise,
	"counter_clockwise": core1_0.FrontFaceCounterClockwise,
}

func parseEnum[T any](table map[string]T, field, name, fallback string) (T, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		lowered = fallback
	}

	value, ok := table[lowered]
	if !ok {
		var zero T
		return zero, validation.New("pipeline", field, ErrUnknownKind, "%q", name)
	}
	return value, nil
}

// ParseTopology accepts point_list, line_list, line_strip, triangle_list, triangle_strip and
// triangle_fan. An empty string is triangle_list.
func ParseTopology(name string) (core1_0.PrimitiveTopology, error) {
	return parseEnum(topologies, "topology", name, "triangle_list")
}

// ParseCullMode accepts none, front, back and front_and_back. An empty string is none.
func ParseCullMode(name string) (core1_0.CullModeFlags, error) {
	return parseEnum(cullModes, "cull_mode", name, "none")
}

// ParseFrontFace accepts clockwise and counter_clockwise. An empty string is counter_clockwise.
func ParseFrontFace(name string) (core1_0.FrontFace, error) {
	return parseEnum(frontFaces, "front_face", name, "counter_clockwise")
}
