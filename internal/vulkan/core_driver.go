package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// CoreOptions identifies the device objects the engine runs against. Instance and device bootstrap
// happen outside the engine.
type CoreOptions struct {
	Device           core1_0.CoreDeviceDriver
	Instance         core1_0.CoreInstanceDriver
	PhysicalDevice   core1_0.PhysicalDevice
	QueueFamilyIndex int

	// Surface is optional. When nil, presentation entry points fail with VKErrorExtensionNotPresent.
	Surface khr_surface.ExtensionDriver
}

// CoreDriver implements Driver on top of a vkngwrapper core device driver
type CoreDriver struct {
	device         core1_0.CoreDeviceDriver
	instance       core1_0.CoreInstanceDriver
	physicalDevice core1_0.PhysicalDevice
	queue          core1_0.Queue
	queueFamily    int

	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties

	surface   khr_surface.ExtensionDriver
	swapchain khr_swapchain.ExtensionDriver
}

var _ Driver = &CoreDriver{}

func NewCoreDriver(options CoreOptions) (*CoreDriver, error) {
	if options.Device == nil || options.Instance == nil {
		return nil, errors.New("a device driver and instance driver are both required")
	}

	deviceProperties, err := options.Instance.GetPhysicalDeviceProperties(options.PhysicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "could not read physical device properties")
	}

	driver := &CoreDriver{
		device:           options.Device,
		instance:         options.Instance,
		physicalDevice:   options.PhysicalDevice,
		queueFamily:      options.QueueFamilyIndex,
		deviceProperties: deviceProperties,
		memoryProperties: options.Instance.GetPhysicalDeviceMemoryProperties(options.PhysicalDevice),
		surface:          options.Surface,
	}
	driver.queue = options.Device.GetQueue(options.QueueFamilyIndex, 0)

	if options.Surface != nil {
		driver.swapchain = khr_swapchain.CreateExtensionDriverFromCoreDriver(options.Device)
	}

	return driver, nil
}

func (d *CoreDriver) DeviceProperties() *core1_0.PhysicalDeviceProperties {
	return d.deviceProperties
}

func (d *CoreDriver) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *CoreDriver) AllocateMemory(info core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	return d.device.AllocateMemory(nil, info)
}

func (d *CoreDriver) FreeMemory(memory core1_0.DeviceMemory) {
	d.device.FreeMemory(memory, nil)
}

func (d *CoreDriver) MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return d.device.MapMemory(memory, offset, size, 0)
}

func (d *CoreDriver) UnmapMemory(memory core1_0.DeviceMemory) {
	d.device.UnmapMemory(memory)
}

func (d *CoreDriver) FlushMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error) {
	return d.device.FlushMappedMemoryRanges(ranges...)
}

func (d *CoreDriver) InvalidateMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error) {
	return d.device.InvalidateMappedMemoryRanges(ranges...)
}

func (d *CoreDriver) FormatProperties(format core1_0.Format) *core1_0.FormatProperties {
	return d.instance.GetPhysicalDeviceFormatProperties(d.physicalDevice, format)
}

func (d *CoreDriver) CreateBuffer(info core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	return d.device.CreateBuffer(nil, info)
}

func (d *CoreDriver) DestroyBuffer(buffer core1_0.Buffer) {
	d.device.DestroyBuffer(buffer, nil)
}

func (d *CoreDriver) GetBufferMemoryRequirements(buffer core1_0.Buffer) *core1_0.MemoryRequirements {
	return d.device.GetBufferMemoryRequirements(buffer)
}

func (d *CoreDriver) BindBufferMemory(buffer core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return d.device.BindBufferMemory(buffer, memory, offset)
}

func (d *CoreDriver) CreateImage(info core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
	return d.device.CreateImage(nil, info)
}

func (d *CoreDriver) DestroyImage(image core1_0.Image) {
	d.device.DestroyImage(image, nil)
}

func (d *CoreDriver) GetImageMemoryRequirements(image core1_0.Image) *core1_0.MemoryRequirements {
	return d.device.GetImageMemoryRequirements(image)
}

func (d *CoreDriver) BindImageMemory(image core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return d.device.BindImageMemory(image, memory, offset)
}

func (d *CoreDriver) CreateImageView(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
	return d.device.CreateImageView(nil, info)
}

func (d *CoreDriver) DestroyImageView(view core1_0.ImageView) {
	d.device.DestroyImageView(view, nil)
}

func (d *CoreDriver) CreateSampler(info core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
	return d.device.CreateSampler(nil, info)
}

func (d *CoreDriver) DestroySampler(sampler core1_0.Sampler) {
	d.device.DestroySampler(sampler, nil)
}

func (d *CoreDriver) CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, common.VkResult, error) {
	return d.device.CreateDescriptorSetLayout(nil, info)
}

func (d *CoreDriver) DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout) {
	d.device.DestroyDescriptorSetLayout(layout, nil)
}

func (d *CoreDriver) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
	return d.device.CreateDescriptorPool(nil, info)
}

func (d *CoreDriver) DestroyDescriptorPool(pool core1_0.DescriptorPool) {
	d.device.DestroyDescriptorPool(pool, nil)
}

func (d *CoreDriver) AllocateDescriptorSets(info core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
	return d.device.AllocateDescriptorSets(info)
}

func (d *CoreDriver) UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error {
	return d.device.UpdateDescriptorSets(writes, nil)
}

func (d *CoreDriver) CreatePipelineLayout(info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error) {
	return d.device.CreatePipelineLayout(nil, info)
}

func (d *CoreDriver) DestroyPipelineLayout(layout core1_0.PipelineLayout) {
	d.device.DestroyPipelineLayout(layout, nil)
}

func (d *CoreDriver) CreateShaderModule(info core1_0.ShaderModuleCreateInfo) (core1_0.ShaderModule, common.VkResult, error) {
	return d.device.CreateShaderModule(nil, info)
}

func (d *CoreDriver) DestroyShaderModule(module core1_0.ShaderModule) {
	d.device.DestroyShaderModule(module, nil)
}

func (d *CoreDriver) CreateGraphicsPipeline(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
	pipelines, res, err := d.device.CreateGraphicsPipelines(nil, nil, info)
	if err != nil {
		return core1_0.Pipeline{}, res, err
	}
	if len(pipelines) != 1 {
		return core1_0.Pipeline{}, core1_0.VKErrorUnknown, errors.Errorf("expected one graphics pipeline but the driver returned %d", len(pipelines))
	}

	return pipelines[0], res, nil
}

func (d *CoreDriver) CreateComputePipeline(info core1_0.ComputePipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
	pipelines, res, err := d.device.CreateComputePipelines(nil, nil, info)
	if err != nil {
		return core1_0.Pipeline{}, res, err
	}
	if len(pipelines) != 1 {
		return core1_0.Pipeline{}, core1_0.VKErrorUnknown, errors.Errorf("expected one compute pipeline but the driver returned %d", len(pipelines))
	}

	return pipelines[0], res, nil
}

func (d *CoreDriver) DestroyPipeline(pipeline core1_0.Pipeline) {
	d.device.DestroyPipeline(pipeline, nil)
}

func (d *CoreDriver) CreateRenderPass(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error) {
	return d.device.CreateRenderPass(nil, info)
}

func (d *CoreDriver) DestroyRenderPass(renderPass core1_0.RenderPass) {
	d.device.DestroyRenderPass(renderPass, nil)
}

func (d *CoreDriver) CreateFramebuffer(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, common.VkResult, error) {
	return d.device.CreateFramebuffer(nil, info)
}

func (d *CoreDriver) DestroyFramebuffer(framebuffer core1_0.Framebuffer) {
	d.device.DestroyFramebuffer(framebuffer, nil)
}

func (d *CoreDriver) CmdPipelineBarrier(commandBuffer core1_0.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, bufferBarriers []core1_0.BufferMemoryBarrier, imageBarriers []core1_0.ImageMemoryBarrier) error {
	return d.device.CmdPipelineBarrier(commandBuffer, srcStage, dstStage, 0, nil, bufferBarriers, imageBarriers)
}

func (d *CoreDriver) CmdBlitImage(commandBuffer core1_0.CommandBuffer, src core1_0.Image, srcLayout core1_0.ImageLayout, dst core1_0.Image, dstLayout core1_0.ImageLayout, regions []core1_0.ImageBlit, filter core1_0.Filter) error {
	return d.device.CmdBlitImage(commandBuffer, src, srcLayout, dst, dstLayout, regions, filter)
}

func (d *CoreDriver) CmdCopyBuffer(commandBuffer core1_0.CommandBuffer, src, dst core1_0.Buffer, regions []core1_0.BufferCopy) error {
	return d.device.CmdCopyBuffer(commandBuffer, src, dst, regions...)
}

func (d *CoreDriver) CmdCopyBufferToImage(commandBuffer core1_0.CommandBuffer, src core1_0.Buffer, dst core1_0.Image, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	return d.device.CmdCopyBufferToImage(commandBuffer, src, dst, dstLayout, regions...)
}

func (d *CoreDriver) CmdCopyImageToBuffer(commandBuffer core1_0.CommandBuffer, src core1_0.Image, srcLayout core1_0.ImageLayout, dst core1_0.Buffer, regions []core1_0.BufferImageCopy) error {
	return d.device.CmdCopyImageToBuffer(commandBuffer, src, srcLayout, dst, regions...)
}

func (d *CoreDriver) CmdBeginRenderPass(commandBuffer core1_0.CommandBuffer, info core1_0.RenderPassBeginInfo) error {
	return d.device.CmdBeginRenderPass(commandBuffer, core1_0.SubpassContentsInline, info)
}

func (d *CoreDriver) CmdEndRenderPass(commandBuffer core1_0.CommandBuffer) {
	d.device.CmdEndRenderPass(commandBuffer)
}

func (d *CoreDriver) CmdSetViewport(commandBuffer core1_0.CommandBuffer, viewport core1_0.Viewport) {
	d.device.CmdSetViewport(commandBuffer, 0, viewport)
}

func (d *CoreDriver) CmdSetScissor(commandBuffer core1_0.CommandBuffer, scissor core1_0.Rect2D) {
	d.device.CmdSetScissor(commandBuffer, 0, scissor)
}

func (d *CoreDriver) CmdBindPipeline(commandBuffer core1_0.CommandBuffer, bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline) {
	d.device.CmdBindPipeline(commandBuffer, bindPoint, pipeline)
}

func (d *CoreDriver) CmdBindVertexBuffers(commandBuffer core1_0.CommandBuffer, firstBinding int, buffers []core1_0.Buffer, offsets []int) {
	d.device.CmdBindVertexBuffers(commandBuffer, firstBinding, buffers, offsets)
}

func (d *CoreDriver) CmdBindIndexBuffer(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset int, indexType core1_0.IndexType) {
	d.device.CmdBindIndexBuffer(commandBuffer, buffer, offset, indexType)
}

func (d *CoreDriver) CmdBindDescriptorSets(commandBuffer core1_0.CommandBuffer, bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, sets []core1_0.DescriptorSet) {
	d.device.CmdBindDescriptorSets(commandBuffer, bindPoint, layout, 0, sets, nil)
}

func (d *CoreDriver) CmdDraw(commandBuffer core1_0.CommandBuffer, vertexCount, instanceCount int) {
	d.device.CmdDraw(commandBuffer, vertexCount, instanceCount, 0, 0)
}

func (d *CoreDriver) CmdDrawIndexed(commandBuffer core1_0.CommandBuffer, indexCount, instanceCount int) {
	d.device.CmdDrawIndexed(commandBuffer, indexCount, instanceCount, 0, 0, 0)
}

func (d *CoreDriver) CmdDrawIndirect(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset, drawCount, stride int) {
	d.device.CmdDrawIndirect(commandBuffer, buffer, uint64(offset), drawCount, stride)
}

func (d *CoreDriver) CmdDrawIndexedIndirect(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset, drawCount, stride int) {
	d.device.CmdDrawIndexedIndirect(commandBuffer, buffer, uint64(offset), drawCount, stride)
}

func (d *CoreDriver) CmdDispatch(commandBuffer core1_0.CommandBuffer, groupCountX, groupCountY, groupCountZ int) {
	d.device.CmdDispatch(commandBuffer, groupCountX, groupCountY, groupCountZ)
}

func (d *CoreDriver) QueueFamilyIndex() int {
	return d.queueFamily
}

func (d *CoreDriver) CreateCommandPool(info core1_0.CommandPoolCreateInfo) (core1_0.CommandPool, common.VkResult, error) {
	return d.device.CreateCommandPool(nil, info)
}

func (d *CoreDriver) DestroyCommandPool(pool core1_0.CommandPool) {
	d.device.DestroyCommandPool(pool, nil)
}

func (d *CoreDriver) AllocateCommandBuffer(pool core1_0.CommandPool) (core1_0.CommandBuffer, common.VkResult, error) {
	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, res, err
	}

	return buffers[0], res, nil
}

func (d *CoreDriver) FreeCommandBuffer(commandBuffer core1_0.CommandBuffer) {
	d.device.FreeCommandBuffers(commandBuffer)
}

func (d *CoreDriver) BeginCommandBuffer(commandBuffer core1_0.CommandBuffer, info core1_0.CommandBufferBeginInfo) (common.VkResult, error) {
	return d.device.BeginCommandBuffer(commandBuffer, info)
}

func (d *CoreDriver) EndCommandBuffer(commandBuffer core1_0.CommandBuffer) (common.VkResult, error) {
	return d.device.EndCommandBuffer(commandBuffer)
}

func (d *CoreDriver) CreateFence(info core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error) {
	return d.device.CreateFence(nil, info)
}

func (d *CoreDriver) DestroyFence(fence core1_0.Fence) {
	d.device.DestroyFence(fence, nil)
}

func (d *CoreDriver) WaitForFence(fence core1_0.Fence) (common.VkResult, error) {
	return d.device.WaitForFences(true, common.NoTimeout, fence)
}

func (d *CoreDriver) ResetFence(fence core1_0.Fence) (common.VkResult, error) {
	return d.device.ResetFences(fence)
}

func (d *CoreDriver) CreateSemaphore() (core1_0.Semaphore, common.VkResult, error) {
	return d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
}

func (d *CoreDriver) DestroySemaphore(semaphore core1_0.Semaphore) {
	d.device.DestroySemaphore(semaphore, nil)
}

func (d *CoreDriver) QueueSubmit(fence *core1_0.Fence, info core1_0.SubmitInfo) (common.VkResult, error) {
	return d.device.QueueSubmit(d.queue, fence, info)
}

func (d *CoreDriver) DeviceWaitIdle() (common.VkResult, error) {
	return d.device.DeviceWaitIdle()
}

func (d *CoreDriver) SurfaceFormats(surface khr_surface.Surface) ([]khr_surface.SurfaceFormat, common.VkResult, error) {
	if d.surface == nil {
		return nil, core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.surface.GetPhysicalDeviceSurfaceFormats(surface, d.physicalDevice)
}

func (d *CoreDriver) SurfaceCapabilities(surface khr_surface.Surface) (*khr_surface.SurfaceCapabilities, common.VkResult, error) {
	if d.surface == nil {
		return nil, core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.surface.GetPhysicalDeviceSurfaceCapabilities(surface, d.physicalDevice)
}

func (d *CoreDriver) DestroySurface(surface khr_surface.Surface) {
	if d.surface != nil {
		d.surface.DestroySurface(surface, nil)
	}
}

func (d *CoreDriver) CreateSwapchain(info khr_swapchain.SwapchainCreateInfo) (khr_swapchain.Swapchain, common.VkResult, error) {
	if d.swapchain == nil {
		return khr_swapchain.Swapchain{}, core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.swapchain.CreateSwapchain(nil, info)
}

func (d *CoreDriver) DestroySwapchain(swapchain khr_swapchain.Swapchain) {
	if d.swapchain != nil {
		d.swapchain.DestroySwapchain(swapchain, nil)
	}
}

func (d *CoreDriver) GetSwapchainImages(swapchain khr_swapchain.Swapchain) ([]core1_0.Image, common.VkResult, error) {
	if d.swapchain == nil {
		return nil, core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.swapchain.GetSwapchainImages(swapchain)
}

func (d *CoreDriver) AcquireNextImage(swapchain khr_swapchain.Swapchain, semaphore core1_0.Semaphore) (int, common.VkResult, error) {
	if d.swapchain == nil {
		return -1, core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.swapchain.AcquireNextImage(swapchain, common.NoTimeout, &semaphore, nil)
}

func (d *CoreDriver) QueuePresent(info khr_swapchain.PresentInfo) (common.VkResult, error) {
	if d.swapchain == nil {
		return core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorExtensionNotPresent.ToError()
	}
	return d.swapchain.QueuePresent(d.queue, info)
}
