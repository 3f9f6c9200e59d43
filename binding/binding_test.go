package binding_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	coremocks "github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/binding"
	"github.com/vkngwrapper/kiln/internal/mocks"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	driver  *mocks.MockDriver
	device  core1_0.Device
	factory *resource.Factory
	arena   *arena.Arena
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	driver.EXPECT().DeviceProperties().Return(&core1_0.PhysicalDeviceProperties{
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits: &core1_0.PhysicalDeviceLimits{
			NonCoherentAtomSize:    64,
			BufferImageGranularity: 1,
			MaxSamplerAnisotropy:   16,
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

func (f *fixture) buffer(t *testing.T, size int, usage core1_0.BufferUsageFlags) (*resource.Buffer, core1_0.Buffer) {
	vkBuffer := coremocks.NewDummyBuffer(f.device)
	f.driver.EXPECT().CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(vkBuffer, core1_0.VKSuccess, nil)
	f.driver.EXPECT().GetBufferMemoryRequirements(vkBuffer).Return(&core1_0.MemoryRequirements{
		Size: size, Alignment: 256, MemoryTypeBits: 0x1,
	})

	buffer, err := f.factory.CreateBuffer(f.arena, size, usage)
	require.NoError(t, err)
	return buffer, vkBuffer
}

func (f *fixture) image(t *testing.T, access resource.AccessMode, levels int) (*resource.Image, core1_0.Image) {
	vkImage := coremocks.NewDummyImage(f.device)
	if levels > 1 {
		f.driver.EXPECT().FormatProperties(core1_0.FormatR8G8B8A8UnsignedNormalized).Return(&core1_0.FormatProperties{
			OptimalTilingFeatures: core1_0.FormatFeatureSampledImageFilterLinear,
		})
	}
	f.driver.EXPECT().CreateImage(gomock.Any()).Return(vkImage, core1_0.VKSuccess, nil)
	f.driver.EXPECT().GetImageMemoryRequirements(vkImage).Return(&core1_0.MemoryRequirements{
		Size: 4096, Alignment: 1024, MemoryTypeBits: 0x1,
	})

	image, err := f.factory.CreateImage(f.arena, resource.ImageOptions{
		Extent:    core1_0.Extent2D{Width: 16, Height: 16},
		Format:    core1_0.FormatR8G8B8A8UnsignedNormalized,
		MipLevels: levels,
		Access:    access,
	})
	require.NoError(t, err)
	return image, vkImage
}

func (f *fixture) finalize(t *testing.T) core1_0.DeviceMemory {
	memory := coremocks.NewDummyDeviceMemory(f.device, f.arena.Cursor())
	f.driver.EXPECT().AllocateMemory(gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	f.driver.EXPECT().BindBufferMemory(gomock.Any(), memory, gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	f.driver.EXPECT().BindImageMemory(gomock.Any(), memory, gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	require.NoError(t, f.factory.Prepare(f.arena))
	return memory
}

func TestParseKind(t *testing.T) {
	testCases := map[string]binding.Kind{
		"uniform_buffer": binding.KindUniformBuffer,
		"storage_buffer": binding.KindStorageBuffer,
		"input_buffer":   binding.KindInputBuffer,
		"output_buffer":  binding.KindOutputBuffer,
		"sampled_image":  binding.KindSampledImage,
		"Storage_Image":  binding.KindStorageImage,
	}

	for name, expected := range testCases {
		kind, err := binding.ParseKind(name)
		require.NoError(t, err, name)
		require.Equal(t, expected, kind)
	}

	_, err := binding.ParseKind("texel_buffer")
	require.ErrorIs(t, err, binding.ErrUnknownKind)

	var configErr *binding.ConfigError
	require.ErrorAs(t, err, &configErr)
	require.Equal(t, "kind", configErr.Field)
}

func TestKind_DescriptorTypes(t *testing.T) {
	require.Equal(t, core1_0.DescriptorTypeUniformBuffer, binding.KindUniformBuffer.DescriptorType())
	require.Equal(t, core1_0.DescriptorTypeStorageBuffer, binding.KindStorageBuffer.DescriptorType())
	require.Equal(t, core1_0.DescriptorTypeStorageBuffer, binding.KindInputBuffer.DescriptorType())
	require.Equal(t, core1_0.DescriptorTypeStorageBuffer, binding.KindOutputBuffer.DescriptorType())
	require.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, binding.KindSampledImage.DescriptorType())
	require.Equal(t, core1_0.DescriptorTypeStorageImage, binding.KindStorageImage.DescriptorType())
}

func TestValidate_RejectsBeforeDriverWork(t *testing.T) {
	f := newFixture(t)
	texture, _ := f.image(t, resource.AccessTexture, 1)
	storageImage, _ := f.image(t, resource.AccessStorage, 1)
	uniform, _ := f.buffer(t, 64, core1_0.BufferUsageUniformBuffer)

	testCases := []struct {
		name     string
		spec     binding.Spec
		sentinel error
	}{
		{"unknown kind", binding.Spec{Slot: 0, Kind: binding.Kind(42), Size: 16}, validation.ErrUnknownKind},
		{"negative slot", binding.Spec{Slot: -1, Kind: binding.KindUniformBuffer, Size: 16}, validation.ErrInvalidValue},
		{"zero size", binding.Spec{Slot: 0, Kind: binding.KindStorageBuffer}, validation.ErrZeroSize},
		{"no images", binding.Spec{Slot: 0, Kind: binding.KindSampledImage}, validation.ErrMissingReference},
		{"nil image", binding.Spec{Slot: 0, Kind: binding.KindSampledImage, Images: []binding.ImageEntry{{}}}, validation.ErrMissingReference},
		{"buffer with images", binding.Spec{Slot: 0, Kind: binding.KindUniformBuffer, Size: 16, Images: []binding.ImageEntry{{Image: texture}}}, validation.ErrInvalidValue},
		{"image with size", binding.Spec{Slot: 0, Kind: binding.KindSampledImage, Size: 16, Images: []binding.ImageEntry{{Image: texture}}}, validation.ErrInvalidValue},
		{"storage binding of a texture", binding.Spec{Slot: 0, Kind: binding.KindStorageImage, Images: []binding.ImageEntry{{Image: texture}}}, validation.ErrInvalidValue},
		{"sampler on storage image", binding.Spec{Slot: 0, Kind: binding.KindStorageImage, Images: []binding.ImageEntry{{Image: storageImage, Sampler: &resource.SamplerOptions{}}}}, validation.ErrInvalidValue},
		{"bad lod range", binding.Spec{Slot: 0, Kind: binding.KindSampledImage, Images: []binding.ImageEntry{{Image: texture, Sampler: &resource.SamplerOptions{MinLod: 4, MaxLod: 2}}}}, validation.ErrInvalidValue},
		{"uniform buffer bound as storage", binding.Spec{Slot: 0, Kind: binding.KindStorageBuffer, Buffer: uniform}, validation.ErrInvalidValue},
		{"mismatched size", binding.Spec{Slot: 0, Kind: binding.KindUniformBuffer, Buffer: uniform, Size: 32}, validation.ErrInvalidValue},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := binding.Resolve(testCase.spec, f.factory, f.arena)
			require.ErrorIs(t, err, testCase.sentinel)
			require.True(t, validation.IsConfigError(err))
		})
	}

	err := binding.Validate([]binding.Spec{
		{Slot: 0, Kind: binding.KindUniformBuffer, Buffer: uniform},
		{Slot: 1, Kind: binding.KindSampledImage, Images: []binding.ImageEntry{{Image: texture}}},
		{Slot: 0, Kind: binding.KindStorageBuffer, Size: 64},
	})
	require.ErrorIs(t, err, binding.ErrDuplicate)
}

func TestResolve_BufferBindings(t *testing.T) {
	f := newFixture(t)

	uniform, vkUniform := f.buffer(t, 64, core1_0.BufferUsageUniformBuffer)
	uniformBinding, err := binding.Resolve(binding.Spec{Slot: 0, Kind: binding.KindUniformBuffer, Buffer: uniform}, f.factory, f.arena)
	require.NoError(t, err)
	require.False(t, uniformBinding.OwnsBuffer())
	require.Same(t, uniform, uniformBinding.Buffer())

	vkOutput := coremocks.NewDummyBuffer(f.device)
	f.driver.EXPECT().CreateBuffer(core1_0.BufferCreateInfo{
		Size:        512,
		Usage:       core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(vkOutput, core1_0.VKSuccess, nil)
	f.driver.EXPECT().GetBufferMemoryRequirements(vkOutput).Return(&core1_0.MemoryRequirements{
		Size: 512, Alignment: 256, MemoryTypeBits: 0x1,
	})

	outputBinding, err := binding.Resolve(binding.Spec{Slot: 3, Kind: binding.KindOutputBuffer, Size: 512}, f.factory, f.arena)
	require.NoError(t, err)
	require.True(t, outputBinding.OwnsBuffer())
	require.Equal(t, 512, outputBinding.Buffer().Size())

	require.Equal(t, core1_0.DescriptorSetLayoutBinding{
		Binding:         3,
		DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
		DescriptorCount: 1,
		StageFlags:      core1_0.StageAll,
	}, outputBinding.LayoutBinding())
	require.Equal(t, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1}, outputBinding.PoolSize())

	// Writes need bound buffers
	_, err = outputBinding.Write(core1_0.DescriptorSet{})
	require.Error(t, err)

	f.finalize(t)

	require.NoError(t, binding.CreateDescriptorObjects(uniformBinding, outputBinding))

	write, err := uniformBinding.Write(core1_0.DescriptorSet{})
	require.NoError(t, err)
	require.Equal(t, []core1_0.DescriptorBufferInfo{{Buffer: vkUniform, Offset: 0, Range: 64}}, write.BufferInfo)
	require.Equal(t, 0, write.DstBinding)

	write, err = outputBinding.Write(core1_0.DescriptorSet{})
	require.NoError(t, err)
	require.Equal(t, []core1_0.DescriptorBufferInfo{{Buffer: vkOutput, Offset: 0, Range: 512}}, write.BufferInfo)

	// Only the buffer created by Resolve is destroyed with its binding
	f.driver.EXPECT().DestroyBuffer(vkOutput)
	outputBinding.Destroy()
	uniformBinding.Destroy()
}

func TestSet_SampledImageArray(t *testing.T) {
	f := newFixture(t)

	first, vkFirst := f.image(t, resource.AccessTexture, 3)
	second, vkSecond := f.image(t, resource.AccessTexture, 1)
	uniform, vkUniform := f.buffer(t, 64, core1_0.BufferUsageUniformBuffer)

	specs := []binding.Spec{
		{Slot: 0, Kind: binding.KindUniformBuffer, Buffer: uniform},
		{Slot: 1, Kind: binding.KindSampledImage, Images: []binding.ImageEntry{
			{Image: first},
			{Image: second, Sampler: &resource.SamplerOptions{
				MagFilter: core1_0.FilterNearest,
				MinFilter: core1_0.FilterNearest,
				MaxLod:    1,
			}},
		}},
	}
	require.NoError(t, binding.Validate(specs))

	var resolved []*binding.Resolved
	for _, spec := range specs {
		r, err := binding.Resolve(spec, f.factory, f.arena)
		require.NoError(t, err)
		resolved = append(resolved, r)
	}

	// Views can't exist before the images are bound
	require.Error(t, resolved[1].CreateDescriptorObjects())

	f.finalize(t)

	firstView := core1_0.ImageView{}
	secondView := core1_0.ImageView{}
	f.driver.EXPECT().CreateImageView(gomock.Any()).DoAndReturn(func(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
		require.Equal(t, vkFirst, info.Image)
		require.Equal(t, 3, info.SubresourceRange.LevelCount)
		return firstView, core1_0.VKSuccess, nil
	})
	f.driver.EXPECT().CreateImageView(gomock.Any()).DoAndReturn(func(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
		require.Equal(t, vkSecond, info.Image)
		return secondView, core1_0.VKSuccess, nil
	})
	f.driver.EXPECT().CreateSampler(gomock.Any()).DoAndReturn(func(info core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
		require.Equal(t, core1_0.FilterLinear, info.MagFilter)
		require.Equal(t, float32(3), info.MaxLod)
		return core1_0.Sampler{}, core1_0.VKSuccess, nil
	})
	f.driver.EXPECT().CreateSampler(gomock.Any()).DoAndReturn(func(info core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
		require.Equal(t, core1_0.FilterNearest, info.MagFilter)
		require.Equal(t, float32(1), info.MaxLod)
		return core1_0.Sampler{}, core1_0.VKSuccess, nil
	})

	require.NoError(t, binding.CreateDescriptorObjects(resolved...))
	require.Equal(t, 2, resolved[1].LayoutBinding().DescriptorCount)

	layout := core1_0.DescriptorSetLayout{}
	pool := core1_0.DescriptorPool{}
	set := core1_0.DescriptorSet{}
	pipelineLayout := core1_0.PipelineLayout{}

	f.driver.EXPECT().CreateDescriptorSetLayout(core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: core1_0.StageAll},
			{Binding: 1, DescriptorType: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: 2, StageFlags: core1_0.StageAll},
		},
	}).Return(layout, core1_0.VKSuccess, nil)
	f.driver.EXPECT().CreateDescriptorPool(core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1},
			{Type: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
		},
	}).Return(pool, core1_0.VKSuccess, nil)
	f.driver.EXPECT().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}).Return([]core1_0.DescriptorSet{set}, core1_0.VKSuccess, nil)
	f.driver.EXPECT().CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{layout},
	}).Return(pipelineLayout, core1_0.VKSuccess, nil)

	descriptorSet, err := binding.NewSet(f.driver, resolved)
	require.NoError(t, err)
	require.False(t, descriptorSet.Empty())

	f.driver.EXPECT().UpdateDescriptorSets(gomock.Any()).DoAndReturn(func(writes []core1_0.WriteDescriptorSet) error {
		require.Len(t, writes, 2)
		require.Equal(t, vkUniform, writes[0].BufferInfo[0].Buffer)
		require.Len(t, writes[1].ImageInfo, 2)
		for _, info := range writes[1].ImageInfo {
			require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, info.ImageLayout)
		}
		return nil
	})
	require.NoError(t, descriptorSet.Write())

	commandBuffer := core1_0.CommandBuffer{}
	f.driver.EXPECT().CmdBindDescriptorSets(commandBuffer, core1_0.PipelineBindPointGraphics, pipelineLayout, []core1_0.DescriptorSet{set})
	descriptorSet.Bind(commandBuffer, core1_0.PipelineBindPointGraphics)

	f.driver.EXPECT().DestroyPipelineLayout(pipelineLayout)
	f.driver.EXPECT().DestroyDescriptorPool(pool)
	f.driver.EXPECT().DestroyDescriptorSetLayout(layout)
	f.driver.EXPECT().DestroySampler(gomock.Any()).Times(2)
	descriptorSet.Destroy()
}

func TestSet_Empty(t *testing.T) {
	f := newFixture(t)

	pipelineLayout := core1_0.PipelineLayout{}
	f.driver.EXPECT().CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{}).Return(pipelineLayout, core1_0.VKSuccess, nil)

	descriptorSet, err := binding.NewSet(f.driver, nil)
	require.NoError(t, err)
	require.True(t, descriptorSet.Empty())
	require.NoError(t, descriptorSet.Write())
	descriptorSet.Bind(core1_0.CommandBuffer{}, core1_0.PipelineBindPointCompute)

	f.driver.EXPECT().DestroyPipelineLayout(pipelineLayout)
	descriptorSet.Destroy()
}
