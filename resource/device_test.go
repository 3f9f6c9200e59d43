package resource_test

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	coremocks "github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/kiln/internal/mocks"
	"github.com/vkngwrapper/kiln/resource"
	"go.uber.org/mock/gomock"
)

type fakeMemory struct {
	handle  core1_0.DeviceMemory
	backing []byte
}

type fakeBuffer struct {
	handle core1_0.Buffer
	size   int
	bytes  []byte
}

type fakeImage struct {
	handle core1_0.Image
	info   core1_0.ImageCreateInfo
	bytes  []byte
}

// fakeDevice backs every allocation with host memory so that copies recorded against the mock driver
// can be carried out immediately
type fakeDevice struct {
	t      *testing.T
	device core1_0.Device

	memories []*fakeMemory
	buffers  []*fakeBuffer
	images   []*fakeImage
}

func (d *fakeDevice) memory(handle core1_0.DeviceMemory) *fakeMemory {
	for _, memory := range d.memories {
		if reflect.DeepEqual(memory.handle, handle) {
			return memory
		}
	}
	d.t.Fatalf("unknown device memory")
	return nil
}

func (d *fakeDevice) buffer(handle core1_0.Buffer) *fakeBuffer {
	for _, buffer := range d.buffers {
		if reflect.DeepEqual(buffer.handle, handle) {
			return buffer
		}
	}
	d.t.Fatalf("unknown buffer")
	return nil
}

func (d *fakeDevice) image(handle core1_0.Image) *fakeImage {
	for _, image := range d.images {
		if reflect.DeepEqual(image.handle, handle) {
			return image
		}
	}
	d.t.Fatalf("unknown image")
	return nil
}

func (d *fakeDevice) imageSize(info core1_0.ImageCreateInfo) int {
	texelSize, ok := resource.TexelSize(info.Format)
	require.True(d.t, ok)
	return info.Extent.Width * info.Extent.Height * info.ArrayLayers * texelSize
}

func newFakeDevice(t *testing.T, driver *mocks.MockDriver) *fakeDevice {
	fake := &fakeDevice{
		t:      t,
		device: coremocks.NewDummyDevice(common.Vulkan1_0, []string{}),
	}

	driver.EXPECT().AllocateMemory(gomock.Any()).DoAndReturn(func(info core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
		memory := &fakeMemory{
			handle:  coremocks.NewDummyDeviceMemory(fake.device, info.AllocationSize),
			backing: make([]byte, info.AllocationSize),
		}
		fake.memories = append(fake.memories, memory)
		return memory.handle, core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().MapMemory(gomock.Any(), 0, gomock.Any()).DoAndReturn(func(handle core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
		memory := fake.memory(handle)
		require.Equal(t, len(memory.backing), size)
		return unsafe.Pointer(&memory.backing[0]), core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().UnmapMemory(gomock.Any()).AnyTimes()
	driver.EXPECT().FreeMemory(gomock.Any()).AnyTimes()

	driver.EXPECT().CreateBuffer(gomock.Any()).DoAndReturn(func(info core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
		buffer := &fakeBuffer{handle: coremocks.NewDummyBuffer(fake.device), size: info.Size}
		fake.buffers = append(fake.buffers, buffer)
		return buffer.handle, core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().GetBufferMemoryRequirements(gomock.Any()).DoAndReturn(func(handle core1_0.Buffer) *core1_0.MemoryRequirements {
		return &core1_0.MemoryRequirements{Size: fake.buffer(handle).size, Alignment: 16, MemoryTypeBits: 0x3}
	}).AnyTimes()
	driver.EXPECT().BindBufferMemory(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(handle core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
		buffer := fake.buffer(handle)
		buffer.bytes = fake.memory(memory).backing[offset : offset+buffer.size]
		return core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().DestroyBuffer(gomock.Any()).AnyTimes()

	driver.EXPECT().CreateImage(gomock.Any()).DoAndReturn(func(info core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
		image := &fakeImage{handle: coremocks.NewDummyImage(fake.device), info: info}
		fake.images = append(fake.images, image)
		return image.handle, core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().GetImageMemoryRequirements(gomock.Any()).DoAndReturn(func(handle core1_0.Image) *core1_0.MemoryRequirements {
		return &core1_0.MemoryRequirements{Size: fake.imageSize(fake.image(handle).info), Alignment: 256, MemoryTypeBits: 0x1}
	}).AnyTimes()
	driver.EXPECT().BindImageMemory(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(handle core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
		image := fake.image(handle)
		image.bytes = fake.memory(memory).backing[offset : offset+fake.imageSize(image.info)]
		return core1_0.VKSuccess, nil
	}).AnyTimes()
	driver.EXPECT().DestroyImage(gomock.Any()).AnyTimes()
	driver.EXPECT().FormatProperties(gomock.Any()).Return(&core1_0.FormatProperties{
		OptimalTilingFeatures: core1_0.FormatFeatureSampledImageFilterLinear,
	}).AnyTimes()

	driver.EXPECT().CmdCopyBuffer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(commandBuffer core1_0.CommandBuffer, src, dst core1_0.Buffer, regions []core1_0.BufferCopy) error {
		srcBuffer, dstBuffer := fake.buffer(src), fake.buffer(dst)
		for _, region := range regions {
			copy(dstBuffer.bytes[region.DstOffset:region.DstOffset+region.Size], srcBuffer.bytes[region.SrcOffset:region.SrcOffset+region.Size])
		}
		return nil
	}).AnyTimes()
	driver.EXPECT().CmdCopyBufferToImage(gomock.Any(), gomock.Any(), gomock.Any(), core1_0.ImageLayoutTransferDstOptimal, gomock.Any()).DoAndReturn(func(commandBuffer core1_0.CommandBuffer, src core1_0.Buffer, dst core1_0.Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
		srcBuffer, dstImage := fake.buffer(src), fake.image(dst)
		size := fake.imageSize(dstImage.info)
		copy(dstImage.bytes, srcBuffer.bytes[regions[0].BufferOffset:regions[0].BufferOffset+size])
		return nil
	}).AnyTimes()
	driver.EXPECT().CmdCopyImageToBuffer(gomock.Any(), gomock.Any(), core1_0.ImageLayoutTransferSrcOptimal, gomock.Any(), gomock.Any()).DoAndReturn(func(commandBuffer core1_0.CommandBuffer, src core1_0.Image, layout core1_0.ImageLayout, dst core1_0.Buffer, regions []core1_0.BufferImageCopy) error {
		srcImage, dstBuffer := fake.image(src), fake.buffer(dst)
		size := fake.imageSize(srcImage.info)
		copy(dstBuffer.bytes[regions[0].BufferOffset:regions[0].BufferOffset+size], srcImage.bytes)
		return nil
	}).AnyTimes()
	driver.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	driver.EXPECT().CmdBlitImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	return fake
}

// immediateSubmitter runs the recorded commands as they are recorded
type immediateSubmitter struct {
	submissions int
}

func (s *immediateSubmitter) SubmitOneShot(record func(commandBuffer core1_0.CommandBuffer) error) error {
	s.submissions++
	return record(core1_0.CommandBuffer{})
}
