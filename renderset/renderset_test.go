package renderset_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	coremocks "github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/compute"
	"github.com/vkngwrapper/kiln/internal/mocks"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/pipeline"
	"github.com/vkngwrapper/kiln/renderset"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
	"go.uber.org/mock/gomock"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

type fixture struct {
	driver  *mocks.MockDriver
	device  core1_0.Device
	factory *resource.Factory
	arena   *arena.Arena

	images []core1_0.Image
	infos  []core1_0.ImageCreateInfo
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	driver.EXPECT().DeviceProperties().Return(&core1_0.PhysicalDeviceProperties{
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits: &core1_0.PhysicalDeviceLimits{
			NonCoherentAtomSize:    64,
			BufferImageGranularity: 1,
		},
	}).AnyTimes()
	driver.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 1 << 30, Flags: core1_0.MemoryHeapDeviceLocal},
		},
	}).AnyTimes()
	driver.EXPECT().FormatProperties(gomock.Any()).Return(&core1_0.FormatProperties{
		OptimalTilingFeatures: core1_0.FormatFeatureSampledImageFilterLinear,
	}).AnyTimes()

	deviceMemory, err := vulkan.NewDeviceMemoryProperties(driver, true)
	require.NoError(t, err)
	factory, err := resource.NewFactory(nil, driver, deviceMemory, resource.FactoryOptions{})
	require.NoError(t, err)
	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	return &fixture{
		driver:  driver,
		device:  coremocks.NewDummyDevice(common.Vulkan1_0, []string{}),
		factory: factory,
		arena:   a,
	}
}

func (f *fixture) expectImages() {
	f.driver.EXPECT().CreateImage(gomock.Any()).DoAndReturn(
		func(info core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
			image := coremocks.NewDummyImage(f.device)
			f.images = append(f.images, image)
			f.infos = append(f.infos, info)
			return image, core1_0.VKSuccess, nil
		}).AnyTimes()
	f.driver.EXPECT().GetImageMemoryRequirements(gomock.Any()).Return(&core1_0.MemoryRequirements{
		Size: 4096, Alignment: 256, MemoryTypeBits: 0x1,
	}).AnyTimes()
}

func (f *fixture) expectPipeline(captured *core1_0.GraphicsPipelineCreateInfo) {
	f.driver.EXPECT().CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{}).Return(core1_0.PipelineLayout{}, core1_0.VKSuccess, nil)
	f.driver.EXPECT().CreateShaderModule(gomock.Any()).Return(core1_0.ShaderModule{}, core1_0.VKSuccess, nil).Times(2)
	f.driver.EXPECT().DestroyShaderModule(gomock.Any()).Times(2)
	f.driver.EXPECT().CreateGraphicsPipeline(gomock.Any()).DoAndReturn(
		func(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
			*captured = info
			return core1_0.Pipeline{}, core1_0.VKSuccess, nil
		})
}

func (f *fixture) finalize(t *testing.T) {
	memory := coremocks.NewDummyDeviceMemory(f.device, f.arena.Cursor())
	f.driver.EXPECT().AllocateMemory(gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	f.driver.EXPECT().BindImageMemory(gomock.Any(), memory, gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	f.driver.EXPECT().BindBufferMemory(gomock.Any(), memory, gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	require.NoError(t, f.factory.Prepare(f.arena))
}

var triangle = pipeline.GraphicsSpec{
	VertexShader:   spirv,
	FragmentShader: spirv,
	Counts:         pipeline.Counts{Vertex: 3},
}

func TestNew_RejectsBeforeDriverWork(t *testing.T) {
	valid := renderset.Options{
		Extent:       core1_0.Extent2D{Width: 32, Height: 32},
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8UnsignedNormalized},
		Pipelines:    []pipeline.GraphicsSpec{triangle},
	}
	require.NoError(t, valid.Validate())

	badPipeline := triangle
	badPipeline.VertexFormat = "3f 9k"
	depthPipeline := triangle
	depthPipeline.DepthTest = true

	testCases := []struct {
		name     string
		modify   func(options *renderset.Options)
		sentinel error
	}{
		{"no attachments", func(options *renderset.Options) { options.ColorFormats = nil }, validation.ErrMissingReference},
		{"zero extent", func(options *renderset.Options) { options.Extent.Width = 0 }, validation.ErrZeroSize},
		{"bad samples", func(options *renderset.Options) { options.Samples = 3 }, validation.ErrInvalidValue},
		{"depth as color", func(options *renderset.Options) {
			options.ColorFormats = []core1_0.Format{core1_0.FormatD32SignedFloat}
		}, validation.ErrUnknownFormat},
		{"color as depth", func(options *renderset.Options) {
			options.DepthFormat = core1_0.FormatR8G8B8A8UnsignedNormalized
		}, validation.ErrUnknownFormat},
		{"unknown token", func(options *renderset.Options) {
			options.Pipelines = []pipeline.GraphicsSpec{triangle, badPipeline}
		}, validation.ErrUnknownFormat},
		{"depth test without depth", func(options *renderset.Options) {
			options.Pipelines = []pipeline.GraphicsSpec{depthPipeline}
		}, validation.ErrMissingReference},
		{"missing compute set", func(options *renderset.Options) {
			options.Compute = []*compute.Set{nil}
		}, validation.ErrMissingReference},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture(t)
			options := valid
			testCase.modify(&options)

			_, err := renderset.New(f.factory, f.arena, options)
			require.ErrorIs(t, err, testCase.sentinel)
			require.True(t, validation.IsConfigError(err))
			require.Zero(t, f.factory.LiveCount())
			require.Zero(t, f.arena.Cursor())
		})
	}
}

func TestNew_FailedBuildIsNeverBound(t *testing.T) {
	f := newFixture(t)
	f.expectImages()

	f.driver.EXPECT().CreateRenderPass(gomock.Any()).Return(core1_0.RenderPass{}, core1_0.VKErrorOutOfDeviceMemory, errors.New("out of device memory"))
	f.driver.EXPECT().DestroyImage(gomock.Any()).Times(2)

	_, err := renderset.New(f.factory, f.arena, renderset.Options{
		Extent:       core1_0.Extent2D{Width: 32, Height: 32},
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8UnsignedNormalized},
		DepthFormat:  core1_0.FormatD32SignedFloat,
		Pipelines:    []pipeline.GraphicsSpec{triangle},
	})
	require.ErrorContains(t, err, "out of device memory")
	require.Len(t, f.images, 2)
	require.Zero(t, f.factory.LiveCount())

	// The attachments' reservations outlive them, so the arena still allocates, but the mock
	// rejects any BindImageMemory
	require.Len(t, f.arena.Reservations(), 2)
	memory := coremocks.NewDummyDeviceMemory(f.device, f.arena.Cursor())
	f.driver.EXPECT().AllocateMemory(gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	require.NoError(t, f.factory.Prepare(f.arena))

	for _, reservation := range f.arena.Reservations() {
		image, ok := reservation.Owner.(*resource.Image)
		require.True(t, ok)
		require.True(t, image.Destroyed())
		require.False(t, image.Bound())
	}
}

func TestRenderSet_LayeredDepth(t *testing.T) {
	f := newFixture(t)
	f.expectImages()

	var renderPassInfo core1_0.RenderPassCreateInfo
	renderPass := core1_0.RenderPass{}
	f.driver.EXPECT().CreateRenderPass(gomock.Any()).DoAndReturn(
		func(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error) {
			renderPassInfo = info
			return renderPass, core1_0.VKSuccess, nil
		})

	var pipelineInfo core1_0.GraphicsPipelineCreateInfo
	f.expectPipeline(&pipelineInfo)

	clearDepth := float32(0.5)
	r, err := renderset.New(f.factory, f.arena, renderset.Options{
		Extent:       core1_0.Extent2D{Width: 64, Height: 48},
		Layers:       2,
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8UnsignedNormalized},
		OutputAccess: resource.AccessOutput,
		DepthFormat:  core1_0.FormatD32SignedFloat,
		ClearColor:   [4]float32{0.1, 0.2, 0.3, 1},
		ClearDepth:   &clearDepth,
		Pipelines: []pipeline.GraphicsSpec{
			{
				VertexShader:   spirv,
				FragmentShader: spirv,
				Counts:         pipeline.Counts{Vertex: 3},
				DepthTest:      true,
				DepthWrite:     true,
			},
		},
	})
	require.NoError(t, err)
	require.False(t, r.Ready())

	require.Len(t, f.infos, 2)
	require.Equal(t, core1_0.FormatR8G8B8A8UnsignedNormalized, f.infos[0].Format)
	require.Equal(t, 2, f.infos[0].ArrayLayers)
	require.NotZero(t, f.infos[0].Usage&core1_0.ImageUsageColorAttachment)
	require.Equal(t, core1_0.FormatD32SignedFloat, f.infos[1].Format)
	require.NotZero(t, f.infos[1].Usage&core1_0.ImageUsageDepthStencilAttachment)

	require.Len(t, renderPassInfo.Attachments, 2)
	require.Equal(t, core1_0.AttachmentLoadOpClear, renderPassInfo.Attachments[0].LoadOp)
	require.Equal(t, core1_0.AttachmentStoreOpStore, renderPassInfo.Attachments[0].StoreOp)
	require.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, renderPassInfo.Attachments[0].FinalLayout)
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, renderPassInfo.Attachments[1].FinalLayout)
	require.Equal(t, []core1_0.AttachmentReference{
		{Attachment: 0, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
	}, renderPassInfo.Subpasses[0].ColorAttachments)
	require.Empty(t, renderPassInfo.Subpasses[0].ResolveAttachments)
	require.Equal(t, &core1_0.AttachmentReference{
		Attachment: 1,
		Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	}, renderPassInfo.Subpasses[0].DepthStencilAttachment)

	require.Equal(t, []core1_0.ClearValue{
		core1_0.ClearValueFloat{0.1, 0.2, 0.3, 1},
		core1_0.ClearValueDepthStencil{Depth: 0.5, Stencil: 0},
	}, r.ClearValues())

	require.NotNil(t, pipelineInfo.DepthStencilState)
	require.True(t, pipelineInfo.DepthStencilState.DepthTestEnable)
	require.Len(t, pipelineInfo.ColorBlendState.Attachments, 1)

	commandBuffer := core1_0.CommandBuffer{}
	require.Error(t, r.Record(commandBuffer))

	f.finalize(t)

	f.driver.EXPECT().CreateImageView(gomock.Any()).DoAndReturn(
		func(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
			require.Equal(t, 1, info.SubresourceRange.LayerCount)
			require.Equal(t, 1, info.SubresourceRange.LevelCount)
			return core1_0.ImageView{}, core1_0.VKSuccess, nil
		}).Times(4)
	f.driver.EXPECT().CreateFramebuffer(gomock.Any()).DoAndReturn(
		func(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, common.VkResult, error) {
			require.Len(t, info.Attachments, 2)
			require.Equal(t, 64, info.Width)
			require.Equal(t, 48, info.Height)
			require.Equal(t, 1, info.Layers)
			return core1_0.Framebuffer{}, core1_0.VKSuccess, nil
		}).Times(2)
	require.NoError(t, r.Prepare())
	require.True(t, r.Ready())
	require.Len(t, r.Framebuffers(), 2)

	var calls []*gomock.Call
	for layer := 0; layer < 2; layer++ {
		calls = append(calls,
			f.driver.EXPECT().CmdBeginRenderPass(commandBuffer, core1_0.RenderPassBeginInfo{
				RenderPass:  renderPass,
				Framebuffer: core1_0.Framebuffer{},
				RenderArea: core1_0.Rect2D{
					Extent: core1_0.Extent2D{Width: 64, Height: 48},
				},
				ClearValues: r.ClearValues(),
			}).Return(nil),
			f.driver.EXPECT().CmdSetViewport(commandBuffer, core1_0.Viewport{Width: 64, Height: 48, MaxDepth: 1}),
			f.driver.EXPECT().CmdSetScissor(commandBuffer, core1_0.Rect2D{Extent: core1_0.Extent2D{Width: 64, Height: 48}}),
			f.driver.EXPECT().CmdBindPipeline(commandBuffer, core1_0.PipelineBindPointGraphics, gomock.Any()),
			f.driver.EXPECT().CmdDraw(commandBuffer, 3, 1),
			f.driver.EXPECT().CmdEndRenderPass(commandBuffer),
		)
	}
	gomock.InOrder(calls...)
	require.NoError(t, r.Record(commandBuffer))
	require.True(t, r.Ready())

	require.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, r.Outputs()[0].Layout())
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, r.Depth().Layout())

	f.driver.EXPECT().DestroyPipeline(gomock.Any())
	f.driver.EXPECT().DestroyPipelineLayout(gomock.Any())
	f.driver.EXPECT().DestroyFramebuffer(gomock.Any()).Times(2)
	f.driver.EXPECT().DestroyRenderPass(renderPass)
	f.driver.EXPECT().DestroyImageView(gomock.Any()).Times(4)
	f.driver.EXPECT().DestroyImage(gomock.Any()).Times(2)
	r.Destroy()
	require.Zero(t, f.factory.LiveCount())
}

func TestRenderSet_MultisampledMipmapped(t *testing.T) {
	f := newFixture(t)
	f.expectImages()

	var renderPassInfo core1_0.RenderPassCreateInfo
	f.driver.EXPECT().CreateRenderPass(gomock.Any()).DoAndReturn(
		func(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error) {
			renderPassInfo = info
			return core1_0.RenderPass{}, core1_0.VKSuccess, nil
		})
	var pipelineInfo core1_0.GraphicsPipelineCreateInfo
	f.expectPipeline(&pipelineInfo)

	r, err := renderset.New(f.factory, f.arena, renderset.Options{
		Extent:       core1_0.Extent2D{Width: 16, Height: 16},
		MipLevels:    3,
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8UnsignedNormalized, core1_0.FormatR8G8B8A8SRGB},
		OutputAccess: resource.AccessTexture,
		Samples:      core1_0.Samples4,
		Pipelines:    []pipeline.GraphicsSpec{triangle},
	})
	require.NoError(t, err)

	// Each multisampled color is created right before its resolve
	require.Len(t, f.infos, 4)
	require.Equal(t, core1_0.Samples4, f.infos[0].Samples)
	require.Equal(t, 1, f.infos[0].MipLevels)
	require.Equal(t, core1_0.Samples1, f.infos[1].Samples)
	require.Equal(t, 3, f.infos[1].MipLevels)
	require.Equal(t, core1_0.FormatR8G8B8A8SRGB, f.infos[3].Format)

	require.Len(t, r.Attachments(), 4)
	require.Len(t, r.Outputs(), 2)
	require.Len(t, r.ClearValues(), 4)
	require.Nil(t, r.Depth())

	require.Len(t, renderPassInfo.Attachments, 4)
	require.Equal(t, core1_0.AttachmentStoreOpDontCare, renderPassInfo.Attachments[0].StoreOp)
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, renderPassInfo.Attachments[0].FinalLayout)
	require.Equal(t, core1_0.AttachmentLoadOpDontCare, renderPassInfo.Attachments[2].LoadOp)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, renderPassInfo.Attachments[3].FinalLayout)
	require.Equal(t, []core1_0.AttachmentReference{
		{Attachment: 2, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
		{Attachment: 3, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
	}, renderPassInfo.Subpasses[0].ResolveAttachments)
	require.Nil(t, renderPassInfo.Subpasses[0].DepthStencilAttachment)
	require.Equal(t, core1_0.Samples4, pipelineInfo.MultisampleState.RasterizationSamples)

	f.finalize(t)
	f.driver.EXPECT().CreateImageView(gomock.Any()).Return(core1_0.ImageView{}, core1_0.VKSuccess, nil).Times(4)
	f.driver.EXPECT().CreateFramebuffer(gomock.Any()).Return(core1_0.Framebuffer{}, core1_0.VKSuccess, nil)
	require.NoError(t, r.Prepare())

	commandBuffer := core1_0.CommandBuffer{}
	f.driver.EXPECT().CmdBeginRenderPass(commandBuffer, gomock.Any()).Return(nil)
	f.driver.EXPECT().CmdSetViewport(commandBuffer, gomock.Any())
	f.driver.EXPECT().CmdSetScissor(commandBuffer, gomock.Any())
	f.driver.EXPECT().CmdBindPipeline(commandBuffer, core1_0.PipelineBindPointGraphics, gomock.Any())
	f.driver.EXPECT().CmdDraw(commandBuffer, 3, 1)
	f.driver.EXPECT().CmdEndRenderPass(commandBuffer)

	// Two blits per output, one for each generated level
	f.driver.EXPECT().CmdPipelineBarrier(commandBuffer, gomock.Any(), gomock.Any(), nil, gomock.Any()).Return(nil).AnyTimes()
	f.driver.EXPECT().CmdBlitImage(commandBuffer, f.images[1], core1_0.ImageLayoutTransferSrcOptimal, f.images[1], core1_0.ImageLayoutTransferDstOptimal, gomock.Any(), core1_0.FilterLinear).Return(nil).Times(2)
	f.driver.EXPECT().CmdBlitImage(commandBuffer, f.images[3], core1_0.ImageLayoutTransferSrcOptimal, f.images[3], core1_0.ImageLayoutTransferDstOptimal, gomock.Any(), core1_0.FilterLinear).Return(nil).Times(2)

	require.NoError(t, r.Record(commandBuffer))
	for _, output := range r.Outputs() {
		require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, output.Layout())
	}
}

func TestRenderSet_PrepareRetriesFramebuffers(t *testing.T) {
	f := newFixture(t)
	f.expectImages()

	f.driver.EXPECT().CreateRenderPass(gomock.Any()).Return(core1_0.RenderPass{}, core1_0.VKSuccess, nil)
	var pipelineInfo core1_0.GraphicsPipelineCreateInfo
	f.expectPipeline(&pipelineInfo)

	r, err := renderset.New(f.factory, f.arena, renderset.Options{
		Extent:       core1_0.Extent2D{Width: 32, Height: 32},
		Layers:       3,
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8UnsignedNormalized},
		Pipelines:    []pipeline.GraphicsSpec{triangle},
	})
	require.NoError(t, err)
	f.finalize(t)

	// Layer views are cached on the image, so each layer's view is created once across both attempts
	f.driver.EXPECT().CreateImageView(gomock.Any()).Return(core1_0.ImageView{}, core1_0.VKSuccess, nil).Times(3)

	gomock.InOrder(
		f.driver.EXPECT().CreateFramebuffer(gomock.Any()).Return(core1_0.Framebuffer{}, core1_0.VKSuccess, nil),
		f.driver.EXPECT().CreateFramebuffer(gomock.Any()).Return(core1_0.Framebuffer{}, core1_0.VKErrorOutOfHostMemory, errors.New("out of host memory")),
		f.driver.EXPECT().DestroyFramebuffer(gomock.Any()),
	)
	require.ErrorContains(t, r.Prepare(), "layer 1")
	require.False(t, r.Ready())
	require.Empty(t, r.Framebuffers())

	f.driver.EXPECT().CreateFramebuffer(gomock.Any()).Return(core1_0.Framebuffer{}, core1_0.VKSuccess, nil).Times(3)
	require.NoError(t, r.Prepare())
	require.True(t, r.Ready())
	require.Len(t, r.Framebuffers(), 3)

	f.driver.EXPECT().DestroyPipeline(gomock.Any())
	f.driver.EXPECT().DestroyPipelineLayout(gomock.Any())
	f.driver.EXPECT().DestroyFramebuffer(gomock.Any()).Times(3)
	f.driver.EXPECT().DestroyRenderPass(gomock.Any())
	f.driver.EXPECT().DestroyImageView(gomock.Any()).Times(3)
	f.driver.EXPECT().DestroyImage(gomock.Any())
	r.Destroy()
}
