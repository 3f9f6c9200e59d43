package binding

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/vulkan"
)

// CreateDescriptorObjects creates the views and samplers for every resolved binding
func CreateDescriptorObjects(resolved ...*Resolved) error {
	for _, binding := range resolved {
		if err := binding.CreateDescriptorObjects(); err != nil {
			return err
		}
	}
	return nil
}

// Set is the descriptor set layout, pool, single allocated set and pipeline layout for a list of
// resolved bindings. A Set without bindings has an empty pipeline layout and nothing to bind.
type Set struct {
	driver   vulkan.Driver
	bindings []*Resolved

	layout         core1_0.DescriptorSetLayout
	pool           core1_0.DescriptorPool
	set            core1_0.DescriptorSet
	pipelineLayout core1_0.PipelineLayout
}

// NewSet creates the descriptor objects for bindings and allocates one descriptor set from a pool
// sized for exactly that set
func NewSet(driver vulkan.Driver, bindings []*Resolved) (*Set, error) {
	s := &Set{
		driver:   driver,
		bindings: bindings,
	}

	if len(bindings) == 0 {
		pipelineLayout, res, err := driver.CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create pipeline layout (%s)", res)
		}
		s.pipelineLayout = pipelineLayout
		return s, nil
	}

	layoutBindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(bindings))
	poolSizes := make([]core1_0.DescriptorPoolSize, 0, len(bindings))
	for _, binding := range bindings {
		layoutBindings = append(layoutBindings, binding.LayoutBinding())
		poolSizes = append(poolSizes, binding.PoolSize())
	}

	layout, res, err := driver.CreateDescriptorSetLayout(core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: layoutBindings,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create descriptor set layout (%s)", res)
	}
	s.layout = layout

	pool, res, err := driver.CreateDescriptorPool(core1_0.DescriptorPoolCreateInfo{
		MaxSets:   1,
		PoolSizes: poolSizes,
	})
	if err != nil {
		driver.DestroyDescriptorSetLayout(layout)
		return nil, errors.Wrapf(err, "failed to create descriptor pool (%s)", res)
	}
	s.pool = pool

	sets, res, err := driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		driver.DestroyDescriptorPool(pool)
		driver.DestroyDescriptorSetLayout(layout)
		return nil, errors.Wrapf(err, "failed to allocate descriptor set (%s)", res)
	}
	s.set = sets[0]

	pipelineLayout, res, err := driver.CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		driver.DestroyDescriptorPool(pool)
		driver.DestroyDescriptorSetLayout(layout)
		return nil, errors.Wrapf(err, "failed to create pipeline layout (%s)", res)
	}
	s.pipelineLayout = pipelineLayout

	return s, nil
}

func (s *Set) Empty() bool {
	return len(s.bindings) == 0
}

func (s *Set) Bindings() []*Resolved {
	return s.bindings
}

func (s *Set) Layout() core1_0.DescriptorSetLayout {
	return s.layout
}

func (s *Set) DescriptorSet() core1_0.DescriptorSet {
	return s.set
}

func (s *Set) PipelineLayout() core1_0.PipelineLayout {
	return s.pipelineLayout
}

// Write issues the deferred descriptor writes of every binding in one update
func (s *Set) Write() error {
	if s.Empty() {
		return nil
	}

	writes := make([]core1_0.WriteDescriptorSet, 0, len(s.bindings))
	for _, binding := range s.bindings {
		write, err := binding.Write(s.set)
		if err != nil {
			return err
		}
		writes = append(writes, write)
	}

	return s.driver.UpdateDescriptorSets(writes)
}

// Bind records binding the descriptor set at set index 0
func (s *Set) Bind(commandBuffer core1_0.CommandBuffer, bindPoint core1_0.PipelineBindPoint) {
	if s.Empty() {
		return
	}
	s.driver.CmdBindDescriptorSets(commandBuffer, bindPoint, s.pipelineLayout, []core1_0.DescriptorSet{s.set})
}

// Destroy releases the driver objects of the set and of every binding in it
func (s *Set) Destroy() {
	s.driver.DestroyPipelineLayout(s.pipelineLayout)
	if !s.Empty() {
		s.driver.DestroyDescriptorPool(s.pool)
		s.driver.DestroyDescriptorSetLayout(s.layout)
	}

	for _, binding := range s.bindings {
		binding.Destroy()
	}
	s.bindings = nil
}
