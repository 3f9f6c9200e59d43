package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/binding"
	"github.com/vkngwrapper/kiln/internal/vulkan"
)

// Compute is a compute pipeline built against a descriptor set it doesn't own
type Compute struct {
	driver   vulkan.Driver
	set      *binding.Set
	pipeline core1_0.Pipeline
	built    bool
}

// BuildCompute creates a compute pipeline from SPIR-V code using set's pipeline layout
func BuildCompute(driver vulkan.Driver, code []byte, set *binding.Set) (*Compute, error) {
	if err := ValidateShader("compute_shader", code); err != nil {
		return nil, err
	}

	module, err := createShaderModule(driver, code)
	if err != nil {
		return nil, err
	}
	defer driver.DestroyShaderModule(module)

	pipeline, res, err := driver.CreateComputePipeline(core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: module,
			Name:   "main",
		},
		Layout:            set.PipelineLayout(),
		BasePipelineIndex: -1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create compute pipeline (%s)", res)
	}

	return &Compute{
		driver:   driver,
		set:      set,
		pipeline: pipeline,
		built:    true,
	}, nil
}

func (c *Compute) Pipeline() core1_0.Pipeline {
	return c.pipeline
}

// Bind records binding the pipeline and its descriptor set
func (c *Compute) Bind(commandBuffer core1_0.CommandBuffer) {
	c.driver.CmdBindPipeline(commandBuffer, core1_0.PipelineBindPointCompute, c.pipeline)
	c.set.Bind(commandBuffer, core1_0.PipelineBindPointCompute)
}

func (c *Compute) Destroy() {
	if !c.built {
		return
	}
	c.driver.DestroyPipeline(c.pipeline)
	c.built = false
}
