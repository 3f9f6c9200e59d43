package vulkan

//go:generate mockgen -destination ../mocks/driver.go -package mocks github.com/vkngwrapper/kiln/internal/vulkan Driver

import (
	"unsafe"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// MemoryDriver covers device memory allocation, mapping and the physical device properties used
// to pick memory types
type MemoryDriver interface {
	DeviceProperties() *core1_0.PhysicalDeviceProperties
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties

	AllocateMemory(info core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error)
	FreeMemory(memory core1_0.DeviceMemory)
	MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory core1_0.DeviceMemory)
	FlushMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error)
	InvalidateMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error)
}

// ResourceDriver covers buffers, images and the views and samplers built on top of them
type ResourceDriver interface {
	FormatProperties(format core1_0.Format) *core1_0.FormatProperties

	CreateBuffer(info core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error)
	DestroyBuffer(buffer core1_0.Buffer)
	GetBufferMemoryRequirements(buffer core1_0.Buffer) *core1_0.MemoryRequirements
	BindBufferMemory(buffer core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error)

	CreateImage(info core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error)
	DestroyImage(image core1_0.Image)
	GetImageMemoryRequirements(image core1_0.Image) *core1_0.MemoryRequirements
	BindImageMemory(image core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error)

	CreateImageView(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error)
	DestroyImageView(view core1_0.ImageView)
	CreateSampler(info core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error)
	DestroySampler(sampler core1_0.Sampler)
}

// DescriptorDriver covers descriptor set layouts, pools, sets and the pipeline layouts built from them
type DescriptorDriver interface {
	CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, common.VkResult, error)
	DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout)
	CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error)
	DestroyDescriptorPool(pool core1_0.DescriptorPool)
	AllocateDescriptorSets(info core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error)
	UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error

	CreatePipelineLayout(info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error)
	DestroyPipelineLayout(layout core1_0.PipelineLayout)
}

// PipelineDriver covers shader modules, pipelines, render passes and framebuffers
type PipelineDriver interface {
	CreateShaderModule(info core1_0.ShaderModuleCreateInfo) (core1_0.ShaderModule, common.VkResult, error)
	DestroyShaderModule(module core1_0.ShaderModule)
	CreateGraphicsPipeline(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error)
	CreateComputePipeline(info core1_0.ComputePipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error)
	DestroyPipeline(pipeline core1_0.Pipeline)

	CreateRenderPass(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error)
	DestroyRenderPass(renderPass core1_0.RenderPass)
	CreateFramebuffer(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, common.VkResult, error)
	DestroyFramebuffer(framebuffer core1_0.Framebuffer)
}

// CommandDriver records commands into a command buffer
type CommandDriver interface {
	CmdPipelineBarrier(commandBuffer core1_0.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, bufferBarriers []core1_0.BufferMemoryBarrier, imageBarriers []core1_0.ImageMemoryBarrier) error
	CmdBlitImage(commandBuffer core1_0.CommandBuffer, src core1_0.Image, srcLayout core1_0.ImageLayout, dst core1_0.Image, dstLayout core1_0.ImageLayout, regions []core1_0.ImageBlit, filter core1_0.Filter) error
	CmdCopyBuffer(commandBuffer core1_0.CommandBuffer, src, dst core1_0.Buffer, regions []core1_0.BufferCopy) error
	CmdCopyBufferToImage(commandBuffer core1_0.CommandBuffer, src core1_0.Buffer, dst core1_0.Image, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error
	CmdCopyImageToBuffer(commandBuffer core1_0.CommandBuffer, src core1_0.Image, srcLayout core1_0.ImageLayout, dst core1_0.Buffer, regions []core1_0.BufferImageCopy) error

	CmdBeginRenderPass(commandBuffer core1_0.CommandBuffer, info core1_0.RenderPassBeginInfo) error
	CmdEndRenderPass(commandBuffer core1_0.CommandBuffer)
	CmdSetViewport(commandBuffer core1_0.CommandBuffer, viewport core1_0.Viewport)
	CmdSetScissor(commandBuffer core1_0.CommandBuffer, scissor core1_0.Rect2D)
	CmdBindPipeline(commandBuffer core1_0.CommandBuffer, bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline)
	CmdBindVertexBuffers(commandBuffer core1_0.CommandBuffer, firstBinding int, buffers []core1_0.Buffer, offsets []int)
	CmdBindIndexBuffer(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset int, indexType core1_0.IndexType)
	CmdBindDescriptorSets(commandBuffer core1_0.CommandBuffer, bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, sets []core1_0.DescriptorSet)

	CmdDraw(commandBuffer core1_0.CommandBuffer, vertexCount, instanceCount int)
	CmdDrawIndexed(commandBuffer core1_0.CommandBuffer, indexCount, instanceCount int)
	CmdDrawIndirect(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset, drawCount, stride int)
	CmdDrawIndexedIndirect(commandBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, offset, drawCount, stride int)
	CmdDispatch(commandBuffer core1_0.CommandBuffer, groupCountX, groupCountY, groupCountZ int)
}

// QueueDriver covers command pools, submission and host synchronization against the engine's single queue
type QueueDriver interface {
	QueueFamilyIndex() int

	CreateCommandPool(info core1_0.CommandPoolCreateInfo) (core1_0.CommandPool, common.VkResult, error)
	DestroyCommandPool(pool core1_0.CommandPool)
	AllocateCommandBuffer(pool core1_0.CommandPool) (core1_0.CommandBuffer, common.VkResult, error)
	FreeCommandBuffer(commandBuffer core1_0.CommandBuffer)
	BeginCommandBuffer(commandBuffer core1_0.CommandBuffer, info core1_0.CommandBufferBeginInfo) (common.VkResult, error)
	EndCommandBuffer(commandBuffer core1_0.CommandBuffer) (common.VkResult, error)

	CreateFence(info core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error)
	DestroyFence(fence core1_0.Fence)
	WaitForFence(fence core1_0.Fence) (common.VkResult, error)
	ResetFence(fence core1_0.Fence) (common.VkResult, error)
	CreateSemaphore() (core1_0.Semaphore, common.VkResult, error)
	DestroySemaphore(semaphore core1_0.Semaphore)

	QueueSubmit(fence *core1_0.Fence, info core1_0.SubmitInfo) (common.VkResult, error)
	DeviceWaitIdle() (common.VkResult, error)
}

// PresentDriver covers surfaces and swapchains
type PresentDriver interface {
	SurfaceFormats(surface khr_surface.Surface) ([]khr_surface.SurfaceFormat, common.VkResult, error)
	SurfaceCapabilities(surface khr_surface.Surface) (*khr_surface.SurfaceCapabilities, common.VkResult, error)
	DestroySurface(surface khr_surface.Surface)

	CreateSwapchain(info khr_swapchain.SwapchainCreateInfo) (khr_swapchain.Swapchain, common.VkResult, error)
	DestroySwapchain(swapchain khr_swapchain.Swapchain)
	GetSwapchainImages(swapchain khr_swapchain.Swapchain) ([]core1_0.Image, common.VkResult, error)
	AcquireNextImage(swapchain khr_swapchain.Swapchain, semaphore core1_0.Semaphore) (int, common.VkResult, error)
	QueuePresent(info khr_swapchain.PresentInfo) (common.VkResult, error)
}

// Driver is the full set of device entry points used by the engine. A single Driver is owned by the
// engine and handed to every component it creates.
type Driver interface {
	MemoryDriver
	ResourceDriver
	DescriptorDriver
	PipelineDriver
	CommandDriver
	QueueDriver
	PresentDriver
}
