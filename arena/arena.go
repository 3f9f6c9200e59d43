package arena

import (
	"fmt"
	"log/slog"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/utils"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/memutils"
)

// ErrNotFinalized is returned by operations that need the arena's device memory before Finalize has run
var ErrNotFinalized = errors.New("the arena has not been finalized")

// AllMemoryTypes is the memory type mask used by raw reservations that don't come from a buffer or image
const AllMemoryTypes uint32 = math.MaxUint32

// CreateOptions describes a new Arena
type CreateOptions struct {
	Flags CreateFlags
	// SizeHint is a lower bound for the arena's capacity, applied at Finalize
	SizeHint int
}

// Reservation is one region of an arena handed out by Reserve or ReserveFor
type Reservation struct {
	Offset         int
	Size           int
	Alignment      int
	MemoryTypeBits uint32
	// Owner is the buffer or image that made the reservation, or nil for raw reservations
	Owner any
}

// Arena is a bump allocator over a single device memory block. Offsets are handed out before the
// block exists; the block is allocated exactly once, by Finalize, with enough room for everything that
// was reserved up to that point.
type Arena struct {
	logger       *slog.Logger
	deviceMemory *vulkan.DeviceMemoryProperties
	flags        CreateFlags
	sizeHint     int

	mutex        utils.OptionalMutex
	cursor       int
	capacity     int
	finalized    bool
	reservations []Reservation

	memory          *vulkan.SynchronizedMemory
	memoryTypeIndex int
	mapped          unsafe.Pointer
}

func New(logger *slog.Logger, deviceMemory *vulkan.DeviceMemoryProperties, options CreateOptions) (*Arena, error) {
	if deviceMemory == nil {
		return nil, errors.New("an arena requires device memory properties")
	}
	if options.SizeHint < 0 {
		return nil, errors.Newf("arena size hint %d is negative", options.SizeHint)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Arena{
		logger:          logger,
		deviceMemory:    deviceMemory,
		flags:           options.Flags,
		sizeHint:        options.SizeHint,
		mutex:           utils.NewOptionalMutex(options.Flags&ArenaCreateExternallySynchronized == 0),
		memoryTypeIndex: -1,
	}, nil
}

// Reserve hands out size bytes at the next offset that is a multiple of alignment
func (a *Arena) Reserve(size, alignment int) (int, error) {
	return a.ReserveFor(size, alignment, AllMemoryTypes, nil)
}

// ReserveFor reserves space for a driver object with the provided memory requirements. The memory
// type bits of every reservation restrict the memory type chosen at Finalize.
//
// Reserving space in a finalized arena panics: offsets can no longer be honored once the block exists.
func (a *Arena) ReserveFor(size, alignment int, memoryTypeBits uint32, owner any) (int, error) {
	if size < 0 {
		return 0, errors.Newf("reservation size %d is negative", size)
	}
	if alignment < 1 {
		alignment = 1
	}
	if err := memutils.CheckPow2(alignment, "reservation alignment"); err != nil {
		return 0, err
	}
	if memoryTypeBits == 0 {
		return 0, errors.New("reservation permits no memory types")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.finalized {
		panic("attempted to reserve space in an arena that has already been finalized")
	}

	offset := memutils.AlignUp(a.cursor, alignment)
	a.cursor = offset + size + memutils.DebugMargin
	a.reservations = append(a.reservations, Reservation{
		Offset:         offset,
		Size:           size,
		Alignment:      alignment,
		MemoryTypeBits: memoryTypeBits,
		Owner:          owner,
	})

	a.logger.Debug("Arena::Reserve",
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Int("alignment", alignment))

	return offset, nil
}

func (a *Arena) memoryPreferences() (required, preferred, notPreferred core1_0.MemoryPropertyFlags) {
	if a.flags&ArenaCreateHostVisible == 0 {
		return 0, core1_0.MemoryPropertyDeviceLocal, core1_0.MemoryPropertyHostVisible
	}

	required = core1_0.MemoryPropertyHostVisible
	if a.flags&ArenaCreateHostCoherent != 0 {
		required |= core1_0.MemoryPropertyHostCoherent
	} else {
		preferred = core1_0.MemoryPropertyHostCoherent
	}

	return required, preferred, 0
}

// Finalize fixes the arena's capacity at max(cursor, minSize, size hint) and allocates the backing
// block. A zero capacity finalizes the arena without allocating anything. Calling Finalize on a
// finalized arena does nothing.
func (a *Arena) Finalize(minSize int) (common.VkResult, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.finalized {
		return core1_0.VKSuccess, nil
	}

	capacity := max(a.cursor, minSize, a.sizeHint)
	if capacity == 0 {
		a.finalized = true
		a.logger.Debug("Arena::Finalize", slog.Int("capacity", 0))
		return core1_0.VKSuccess, nil
	}

	memoryTypeBits := AllMemoryTypes
	for _, reservation := range a.reservations {
		memoryTypeBits &= reservation.MemoryTypeBits
	}
	if memoryTypeBits == 0 {
		return core1_0.VKErrorFeatureNotPresent, errors.Wrap(core1_0.VKErrorFeatureNotPresent.ToError(),
			"the arena's reservations have no memory type in common")
	}

	required, preferred, notPreferred := a.memoryPreferences()
	memoryTypeIndex, res, err := a.deviceMemory.FindMemoryTypeIndex(memoryTypeBits, required, preferred, notPreferred)
	if err != nil {
		return res, err
	}

	memory, res, err := a.deviceMemory.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  capacity,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return res, errors.Wrapf(err, "failed to allocate %d bytes of arena memory", capacity)
	}

	if a.flags&ArenaCreateHostVisible != 0 {
		mapped, res, err := memory.Map()
		if err != nil {
			a.deviceMemory.FreeVulkanMemory(memory)
			return res, errors.Wrap(err, "failed to map arena memory")
		}
		a.mapped = mapped

		if memutils.DebugMargin > 0 {
			for _, reservation := range a.reservations {
				memutils.WriteMagicValue(mapped, reservation.Offset+reservation.Size)
			}
		}
	}

	a.memory = memory
	a.memoryTypeIndex = memoryTypeIndex
	a.capacity = capacity
	a.finalized = true

	a.logger.Debug("Arena::Finalize",
		slog.Int("capacity", capacity),
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.Int("reservations", len(a.reservations)))

	return core1_0.VKSuccess, nil
}

// Release frees the arena's block and returns it to its freshly created state. Resources that were
// bound to the arena must be destroyed first.
func (a *Arena) Release() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.memory != nil {
		a.deviceMemory.FreeVulkanMemory(a.memory)
	}

	a.logger.Debug("Arena::Release", slog.Int("capacity", a.capacity))

	a.memory = nil
	a.mapped = nil
	a.memoryTypeIndex = -1
	a.cursor = 0
	a.capacity = 0
	a.finalized = false
	a.reservations = nil
}

func (a *Arena) Finalized() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.finalized
}

func (a *Arena) Capacity() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.capacity
}

func (a *Arena) Cursor() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.cursor
}

func (a *Arena) Flags() CreateFlags {
	return a.flags
}

// MemoryTypeIndex is the memory type of the arena's block, or -1 before a block has been allocated
func (a *Arena) MemoryTypeIndex() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.memoryTypeIndex
}

// Reservations returns a copy of every reservation made since the arena was created or last released
func (a *Arena) Reservations() []Reservation {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	reservations := make([]Reservation, len(a.reservations))
	copy(reservations, a.reservations)
	return reservations
}

// Mapped is the persistent host pointer to the start of the arena's block. It is nil unless the
// arena is host visible and finalized with a non-zero capacity.
func (a *Arena) Mapped() unsafe.Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.mapped
}

// Bytes exposes size bytes of the mapped block starting at offset
func (a *Arena) Bytes(offset, size int) ([]byte, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.finalized {
		return nil, ErrNotFinalized
	}
	if offset < 0 || size < 0 || offset+size > a.capacity {
		return nil, errors.Newf("range [%d, %d) is outside of an arena with capacity %d", offset, offset+size, a.capacity)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if a.mapped == nil {
		return nil, errors.New("the arena is not host visible")
	}

	return unsafe.Slice((*byte)(unsafe.Add(a.mapped, offset)), size), nil
}

func (a *Arena) BindBuffer(driver vulkan.ResourceDriver, offset int, buffer core1_0.Buffer) (common.VkResult, error) {
	memory, err := a.boundMemory()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return memory.BindVulkanBuffer(driver, offset, buffer)
}

func (a *Arena) BindImage(driver vulkan.ResourceDriver, offset int, image core1_0.Image) (common.VkResult, error) {
	memory, err := a.boundMemory()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return memory.BindVulkanImage(driver, offset, image)
}

func (a *Arena) boundMemory() (*vulkan.SynchronizedMemory, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.finalized {
		return nil, ErrNotFinalized
	}
	if a.memory == nil {
		return nil, errors.New("the arena was finalized with zero capacity and has no memory to bind")
	}

	return a.memory, nil
}

// Flush makes host writes to the range visible to the device. It does nothing for coherent memory.
func (a *Arena) Flush(offset, size int) (common.VkResult, error) {
	return a.flushOrInvalidate(offset, size, vulkan.CacheOperationFlush)
}

// Invalidate makes device writes to the range visible to the host. It does nothing for coherent memory.
func (a *Arena) Invalidate(offset, size int) (common.VkResult, error) {
	return a.flushOrInvalidate(offset, size, vulkan.CacheOperationInvalidate)
}

func (a *Arena) flushOrInvalidate(offset, size int, operation vulkan.CacheOperation) (common.VkResult, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.finalized {
		return core1_0.VKErrorUnknown, ErrNotFinalized
	}
	if a.memory == nil || size == 0 {
		return core1_0.VKSuccess, nil
	}
	if offset < 0 || size < 0 || offset+size > a.capacity {
		return core1_0.VKErrorUnknown, errors.Newf("range [%d, %d) is outside of an arena with capacity %d", offset, offset+size, a.capacity)
	}

	return a.deviceMemory.FlushOrInvalidate(a.memory, offset, size, operation)
}

// Validate checks that every reservation is aligned, in bounds and disjoint from its neighbors, and
// that the guard bytes after each reservation are intact
func (a *Arena) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.finalized && a.cursor > a.capacity {
		return errors.Newf("arena cursor %d is past its capacity %d", a.cursor, a.capacity)
	}

	end := 0
	for i, reservation := range a.reservations {
		if !memutils.IsAligned(reservation.Offset, reservation.Alignment) {
			return errors.Newf("reservation %d at offset %d is not aligned to %d", i, reservation.Offset, reservation.Alignment)
		}
		if reservation.Offset < end {
			return errors.Newf("reservation %d at offset %d overlaps the previous reservation ending at %d", i, reservation.Offset, end)
		}
		end = reservation.Offset + reservation.Size

		if a.mapped != nil && !memutils.ValidateMagicValue(a.mapped, end) {
			return errors.Wrapf(memutils.CorruptionError, "guard bytes at offset %d", end)
		}
		end += memutils.DebugMargin
	}

	if end > a.cursor {
		return errors.Newf("reservations end at %d, past the arena cursor %d", end, a.cursor)
	}

	return nil
}

// AddDetailedStatistics adds this arena's block, reservations and alignment padding to stats
func (a *Arena) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.memory != nil {
		stats.BlockCount++
		stats.BlockBytes += a.capacity
	}

	end := 0
	for _, reservation := range a.reservations {
		stats.AddPadding(reservation.Offset - end)
		stats.AddReservation(reservation.Size)
		end = reservation.Offset + reservation.Size + memutils.DebugMargin
	}
}

func (a *Arena) Statistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	return stats
}

// PrintStats writes the arena's state and reservation list into an open JSON object
func (a *Arena) PrintStats(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	json.Name("Flags").String(a.flags.String())
	json.Name("Finalized").Bool(a.finalized)
	json.Name("Cursor").Int(a.cursor)
	json.Name("Capacity").Int(a.capacity)
	json.Name("MemoryTypeIndex").Int(a.memoryTypeIndex)

	reservations := json.Name("Reservations").Array()
	defer reservations.End()

	for _, reservation := range a.reservations {
		obj := reservations.Object()
		obj.Name("Offset").Int(reservation.Offset)
		obj.Name("Size").Int(reservation.Size)
		obj.Name("Alignment").Int(reservation.Alignment)
		if reservation.Owner != nil {
			obj.Name("Owner").String(fmt.Sprintf("%T", reservation.Owner))
		}
		obj.End()
	}
}

// BuildStatsString returns a JSON document describing the arena
func (a *Arena) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	a.PrintStats(&obj)
	obj.End()

	return string(writer.Bytes())
}
