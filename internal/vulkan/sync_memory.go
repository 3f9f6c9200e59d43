package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/utils"
)

// SynchronizedMemory is a single device memory block with its persistent mapping. Binding, mapping and
// freeing are serialized by an optional mutex.
type SynchronizedMemory struct {
	mapData unsafe.Pointer

	mapMutex        utils.OptionalMutex
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int

	driver MemoryDriver
}

func allocateSynchronizedMemory(driver MemoryDriver, useMutex bool, allocateInfo core1_0.MemoryAllocateInfo) (*SynchronizedMemory, common.VkResult, error) {
	memory, res, err := driver.AllocateMemory(allocateInfo)
	if err != nil {
		return nil, res, err
	}

	return &SynchronizedMemory{
		memory:          memory,
		mapMutex:        utils.NewOptionalMutex(useMutex),
		memoryTypeIndex: allocateInfo.MemoryTypeIndex,
		size:            allocateInfo.AllocationSize,
		driver:          driver,
	}, res, nil
}

func (m *SynchronizedMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *SynchronizedMemory) MemoryTypeIndex() int {
	return m.memoryTypeIndex
}

func (m *SynchronizedMemory) Size() int {
	return m.size
}

func (m *SynchronizedMemory) BindVulkanBuffer(driver ResourceDriver, offset int, buffer core1_0.Buffer) (common.VkResult, error) {
	if offset < 0 || offset > m.size {
		return core1_0.VKErrorUnknown, errors.Errorf("buffer offset %d is outside of a memory block of size %d", offset, m.size)
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return driver.BindBufferMemory(buffer, m.memory, offset)
}

func (m *SynchronizedMemory) BindVulkanImage(driver ResourceDriver, offset int, image core1_0.Image) (common.VkResult, error) {
	if offset < 0 || offset > m.size {
		return core1_0.VKErrorUnknown, errors.Errorf("image offset %d is outside of a memory block of size %d", offset, m.size)
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return driver.BindImageMemory(image, m.memory, offset)
}

func (m *SynchronizedMemory) MappedData() unsafe.Pointer {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return m.mapData
}

// Map maps the whole block. Repeated calls return the existing mapping.
func (m *SynchronizedMemory) Map() (unsafe.Pointer, common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapData != nil {
		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, result, err := m.driver.MapMemory(m.memory, 0, m.size)
	if err != nil {
		return nil, result, err
	}
	if mappedData == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("the driver mapped device memory to a nil pointer")
	}

	m.mapData = mappedData
	return mappedData, result, nil
}

func (m *SynchronizedMemory) Unmap() {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapData == nil {
		return
	}

	m.driver.UnmapMemory(m.memory)
	m.mapData = nil
}

// FreeMemory unmaps the block if needed and releases it to the driver
func (m *SynchronizedMemory) FreeMemory() {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapData != nil {
		m.driver.UnmapMemory(m.memory)
		m.mapData = nil
	}

	m.driver.FreeMemory(m.memory)
}
