package arena_test

import (
	"encoding/json"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	coremocks "github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/internal/mocks"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/memutils"
	"go.uber.org/mock/gomock"
)

func readyDeviceMemory(t *testing.T, ctrl *gomock.Controller) (*mocks.MockDriver, *vulkan.DeviceMemoryProperties) {
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
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible, HeapIndex: 1},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 1 << 30, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: 1 << 30},
		},
	}).AnyTimes()

	deviceMemory, err := vulkan.NewDeviceMemoryProperties(driver, true)
	require.NoError(t, err)

	return driver, deviceMemory
}

func TestArena_ExampleScenario(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	uniformOffset, err := a.ReserveFor(256, 256, 0x1, "uniform")
	require.NoError(t, err)
	storageOffset, err := a.ReserveFor(1024, 256, 0x3, "storage")
	require.NoError(t, err)

	require.Equal(t, 0, uniformOffset)
	require.Equal(t, memutils.AlignUp(256+memutils.DebugMargin, 256), storageOffset)

	expectedCapacity := storageOffset + 1024 + memutils.DebugMargin
	device := coremocks.NewDummyDevice(common.Vulkan1_0, []string{})
	memory := coremocks.NewDummyDeviceMemory(device, expectedCapacity)
	driver.EXPECT().AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  expectedCapacity,
		MemoryTypeIndex: 0,
	}).Return(memory, core1_0.VKSuccess, nil)

	_, err = a.Finalize(0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, a.Capacity(), 1280)
	require.Equal(t, 0, a.MemoryTypeIndex())
	require.Nil(t, a.Mapped())
	require.NoError(t, a.Validate())

	// Finalizing twice never allocates again
	_, err = a.Finalize(1 << 20)
	require.NoError(t, err)
	require.Equal(t, expectedCapacity, a.Capacity())

	driver.EXPECT().FreeMemory(memory)
	a.Release()
	require.False(t, a.Finalized())
	require.Zero(t, a.Capacity())
	require.Zero(t, a.Cursor())
	require.Empty(t, a.Reservations())

	// Release is idempotent
	a.Release()
}

func TestArena_OffsetsAlignedAndDisjoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{Flags: arena.ArenaCreateExternallySynchronized})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	type region struct{ offset, size, alignment int }
	var regions []region

	for i := 0; i < 200; i++ {
		size := rng.Intn(5000)
		alignment := 1 << rng.Intn(12)

		offset, err := a.Reserve(size, alignment)
		require.NoError(t, err)
		regions = append(regions, region{offset, size, alignment})
	}

	for i, r := range regions {
		require.Zero(t, r.offset%r.alignment)
		if i > 0 {
			prev := regions[i-1]
			require.GreaterOrEqual(t, r.offset, prev.offset+prev.size)
		}
	}
	last := regions[len(regions)-1]
	require.GreaterOrEqual(t, a.Cursor(), last.offset+last.size)
	require.NoError(t, a.Validate())

	stats := a.Statistics()
	require.Equal(t, 200, stats.ReservationCount)
	require.Zero(t, stats.BlockCount)
}

func TestArena_ReserveRejectsBadInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	_, err = a.Reserve(16, 24)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	_, err = a.Reserve(-1, 4)
	require.Error(t, err)

	_, err = a.ReserveFor(16, 4, 0, nil)
	require.Error(t, err)

	require.Empty(t, a.Reservations())
}

func TestArena_ZeroCapacityAllocatesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	// No AllocateMemory expectation: any driver call fails the test
	_, err = a.Finalize(0)
	require.NoError(t, err)
	require.True(t, a.Finalized())
	require.Zero(t, a.Capacity())

	bytes, err := a.Bytes(0, 0)
	require.NoError(t, err)
	require.Empty(t, bytes)

	device := coremocks.NewDummyDevice(common.Vulkan1_0, []string{})
	_, err = a.BindBuffer(driver, 0, coremocks.NewDummyBuffer(device))
	require.Error(t, err)

	a.Release()
}

func TestArena_ReserveAfterFinalizePanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	_, err = a.Finalize(0)
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = a.Reserve(16, 16)
	})
}

func TestArena_BindBeforeFinalize(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	_, err = a.Reserve(64, 16)
	require.NoError(t, err)

	device := coremocks.NewDummyDevice(common.Vulkan1_0, []string{})
	_, err = a.BindBuffer(driver, 0, coremocks.NewDummyBuffer(device))
	require.ErrorIs(t, err, arena.ErrNotFinalized)
	_, err = a.BindImage(driver, 0, coremocks.NewDummyImage(device))
	require.ErrorIs(t, err, arena.ErrNotFinalized)
	_, err = a.Flush(0, 64)
	require.ErrorIs(t, err, arena.ErrNotFinalized)
}

func TestArena_HostVisibleMapping(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{
		Flags:    arena.ArenaCreateHostVisible,
		SizeHint: 512,
	})
	require.NoError(t, err)

	offset, err := a.Reserve(100, 4)
	require.NoError(t, err)

	device := coremocks.NewDummyDevice(common.Vulkan1_0, []string{})
	memory := coremocks.NewDummyDeviceMemory(device, 512)
	// The coherent host-visible type is preferred
	driver.EXPECT().AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  512,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)

	backing := make([]byte, 512)
	driver.EXPECT().MapMemory(memory, 0, 512).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	_, err = a.Finalize(0)
	require.NoError(t, err)
	require.Equal(t, 512, a.Capacity())
	require.NotNil(t, a.Mapped())

	data, err := a.Bytes(offset, 100)
	require.NoError(t, err)
	for i := range data {
		data[i] = byte(i)
	}
	require.Equal(t, byte(42), backing[offset+42])

	_, err = a.Bytes(500, 100)
	require.Error(t, err)

	// Coherent memory never needs flushing
	_, err = a.Flush(offset, 100)
	require.NoError(t, err)

	driver.EXPECT().UnmapMemory(memory)
	driver.EXPECT().FreeMemory(memory)
	a.Release()
	require.Nil(t, a.Mapped())
}

func TestArena_NonCoherentFlush(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{Flags: arena.ArenaCreateHostVisible})
	require.NoError(t, err)

	// Only the non-coherent host-visible type is allowed
	_, err = a.ReserveFor(256, 64, 0x4, nil)
	require.NoError(t, err)

	device := coremocks.NewDummyDevice(common.Vulkan1_0, []string{})
	capacity := 256 + memutils.DebugMargin
	memory := coremocks.NewDummyDeviceMemory(device, capacity)
	driver.EXPECT().AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  capacity,
		MemoryTypeIndex: 2,
	}).Return(memory, core1_0.VKSuccess, nil)

	backing := make([]byte, capacity)
	driver.EXPECT().MapMemory(memory, 0, capacity).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	_, err = a.Finalize(0)
	require.NoError(t, err)

	driver.EXPECT().FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{Memory: memory, Offset: 64, Size: 64},
	}).Return(core1_0.VKSuccess, nil)
	_, err = a.Flush(70, 10)
	require.NoError(t, err)

	driver.EXPECT().InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{Memory: memory, Offset: 0, Size: 256},
	}).Return(core1_0.VKSuccess, nil)
	_, err = a.Invalidate(0, 256)
	require.NoError(t, err)
}

func TestArena_IncompatibleMemoryTypes(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{})
	require.NoError(t, err)

	_, err = a.ReserveFor(16, 16, 0x1, nil)
	require.NoError(t, err)
	_, err = a.ReserveFor(16, 16, 0x2, nil)
	require.NoError(t, err)

	res, err := a.Finalize(0)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorFeatureNotPresent, res)
	require.False(t, a.Finalized())
}

func TestArena_BuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, deviceMemory := readyDeviceMemory(t, ctrl)

	a, err := arena.New(nil, deviceMemory, arena.CreateOptions{Flags: arena.ArenaCreateHostVisible})
	require.NoError(t, err)

	_, err = a.Reserve(10, 1)
	require.NoError(t, err)
	_, err = a.ReserveFor(20, 16, arena.AllMemoryTypes, "owner")
	require.NoError(t, err)

	var stats struct {
		Flags        string
		Finalized    bool
		Cursor       int
		Reservations []struct {
			Offset, Size, Alignment int
			Owner                   string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(a.BuildStatsString()), &stats))

	require.Equal(t, "ArenaCreateHostVisible", stats.Flags)
	require.False(t, stats.Finalized)
	require.Len(t, stats.Reservations, 2)
	require.Equal(t, 16, stats.Reservations[1].Alignment)
	require.Equal(t, "string", stats.Reservations[1].Owner)
	require.Empty(t, stats.Reservations[0].Owner)
}
