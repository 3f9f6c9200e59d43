package pipeline

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/validation"
)

const spirvMagic = 0x07230203

// ValidateShader checks that code looks like a SPIR-V module: whole words, led by the SPIR-V magic
// number
func ValidateShader(field string, code []byte) error {
	if len(code) == 0 {
		return validation.New("pipeline", field, ErrMissingReference, "no shader code was provided")
	}
	if len(code)%4 != 0 {
		return validation.New("pipeline", field, ErrInvalidValue, "shader code is %d bytes, which isn't a whole number of words", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return validation.New("pipeline", field, ErrInvalidValue, "shader code doesn't start with the SPIR-V magic number")
	}
	return nil
}

func shaderWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

func createShaderModule(driver vulkan.PipelineDriver, code []byte) (core1_0.ShaderModule, error) {
	module, res, err := driver.CreateShaderModule(core1_0.ShaderModuleCreateInfo{
		Code: shaderWords(code),
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "failed to create shader module (%s)", res)
	}
	return module, nil
}
