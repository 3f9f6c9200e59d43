package vulkan

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/memutils"
)

// DeviceMemoryProperties tracks the physical device's memory types and heaps, picks memory types
// for arenas and staging buffers, and counts live device memory allocations against the device limit
type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	memoryCount uint32
	// Size of real allocations made from each heap
	heapBytes []int64

	// Whether the SynchronizedMemory objects created from this object should use a mutex to control access
	useMutex bool

	driver           MemoryDriver
	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(driver MemoryDriver, useMutex bool) (*DeviceMemoryProperties, error) {
	deviceProperties := driver.DeviceProperties()
	if deviceProperties == nil || deviceProperties.Limits == nil {
		return nil, errors.New("the driver did not report physical device limits")
	}

	memoryProperties := driver.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.New("the driver did not report physical device memory properties")
	}

	err := memutils.CheckPow2(deviceProperties.Limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckPow2(deviceProperties.Limits.BufferImageGranularity, "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}

	return &DeviceMemoryProperties{
		heapBytes:        make([]int64, len(memoryProperties.MemoryHeaps)),
		useMutex:         useMutex,
		driver:           driver,
		deviceProperties: deviceProperties,
		memoryProperties: memoryProperties,
	}, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memoryTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostNonCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags

	return flags&(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent) == core1_0.MemoryPropertyHostVisible
}

func (m *DeviceMemoryProperties) DeviceProperties() *core1_0.PhysicalDeviceProperties {
	return m.deviceProperties
}

func (m *DeviceMemoryProperties) NonCoherentAtomSize() int {
	atomSize := int(m.deviceProperties.Limits.NonCoherentAtomSize)
	if atomSize < 1 {
		return 1
	}
	return atomSize
}

func (m *DeviceMemoryProperties) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}

func (m *DeviceMemoryProperties) HeapBytes(heapIndex int) int {
	return int(atomic.LoadInt64(&m.heapBytes[heapIndex]))
}

// FindMemoryTypeIndex returns the memory type allowed by memoryTypeBits that has every required flag and
// the fewest mismatches against the preferred and not-preferred flags
func (m *DeviceMemoryProperties) FindMemoryTypeIndex(
	memoryTypeBits uint32,
	requiredFlags, preferredFlags, notPreferredFlags core1_0.MemoryPropertyFlags,
) (int, common.VkResult, error) {
	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex := 0; memTypeIndex < m.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			continue
		}

		flags := m.memoryProperties.MemoryTypes[memTypeIndex].PropertyFlags
		if requiredFlags&flags != requiredFlags {
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		presentNotPreferredFlags := notPreferredFlags & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, core1_0.VKSuccess, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, core1_0.VKErrorFeatureNotPresent, errors.Wrapf(core1_0.VKErrorFeatureNotPresent.ToError(),
			"no memory type in bits %#x has the required flags %s", memoryTypeBits, requiredFlags)
	}

	return bestMemoryTypeIndex, core1_0.VKSuccess, nil
}

// AllocateVulkanMemory allocates a single device memory block. The device's allocation count limit is
// enforced here so callers receive VKErrorTooManyObjects instead of a driver failure.
func (m *DeviceMemoryProperties) AllocateVulkanMemory(
	allocateInfo core1_0.MemoryAllocateInfo,
) (mem *SynchronizedMemory, res common.VkResult, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		if err != nil {
			// Decrement
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	maxCount := int(m.deviceProperties.Limits.MaxMemoryAllocationCount)
	if maxCount > 0 && int(newDeviceCount) > maxCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	mem, res, err = allocateSynchronizedMemory(m.driver, m.useMutex, allocateInfo)
	if err != nil {
		return nil, res, err
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(allocateInfo.MemoryTypeIndex)
	atomic.AddInt64(&m.heapBytes[heapIndex], int64(allocateInfo.AllocationSize))

	return mem, res, nil
}

func (m *DeviceMemoryProperties) FreeVulkanMemory(memory *SynchronizedMemory) {
	memory.FreeMemory()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memory.MemoryTypeIndex())
	newVal := atomic.AddInt64(&m.heapBytes[heapIndex], int64(-memory.Size()))
	if newVal < 0 {
		panic(fmt.Sprintf("allocated bytes for heapIndex %d went negative", heapIndex))
	}
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

type CacheOperation uint32

const (
	CacheOperationFlush CacheOperation = iota
	CacheOperationInvalidate
)

var cacheOperationMapping = make(map[CacheOperation]string)

func (o CacheOperation) String() string {
	return cacheOperationMapping[o]
}

func init() {
	cacheOperationMapping[CacheOperationFlush] = "CacheOperationFlush"
	cacheOperationMapping[CacheOperationInvalidate] = "CacheOperationInvalidate"
}

// FlushOrInvalidate expands the provided range to nonCoherentAtomSize and flushes or invalidates it.
// Coherent memory types need neither, so no driver call is made for them.
func (m *DeviceMemoryProperties) FlushOrInvalidate(memory *SynchronizedMemory, offset, size int, operation CacheOperation) (common.VkResult, error) {
	if size == 0 || !m.IsMemoryTypeHostNonCoherent(memory.MemoryTypeIndex()) {
		return core1_0.VKSuccess, nil
	}

	atomSize := m.NonCoherentAtomSize()
	start := memutils.AlignDown(offset, atomSize)
	end := memutils.AlignUp(offset+size, atomSize)
	if end > memory.Size() {
		end = memory.Size()
	}

	ranges := []core1_0.MappedMemoryRange{
		{
			Memory: memory.VulkanDeviceMemory(),
			Offset: start,
			Size:   end - start,
		},
	}

	switch operation {
	case CacheOperationFlush:
		return m.driver.FlushMappedMemoryRanges(ranges)
	case CacheOperationInvalidate:
		return m.driver.InvalidateMappedMemoryRanges(ranges)
	}

	return core1_0.VKErrorUnknown, errors.Errorf("attempted to carry out invalid cache operation %s", operation.String())
}
