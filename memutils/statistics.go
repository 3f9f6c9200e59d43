package memutils

import "math"

// Statistics summarizes the device memory owned by one or more arenas
type Statistics struct {
	// BlockCount is the number of device memory blocks that have actually been allocated
	BlockCount int
	// ReservationCount is the number of buffers and images that reserved space
	ReservationCount int
	// BlockBytes is the total size of the allocated device memory blocks
	BlockBytes int
	// ReservedBytes is the total size requested by reservations, excluding alignment padding
	ReservedBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.ReservationCount = 0
	s.BlockBytes = 0
	s.ReservedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.ReservationCount += other.ReservationCount
	s.BlockBytes += other.BlockBytes
	s.ReservedBytes += other.ReservedBytes
}

// DetailedStatistics adds reservation size ranges and the padding introduced by alignment
type DetailedStatistics struct {
	Statistics
	PaddingCount       int
	PaddingBytes       int
	ReservationSizeMin int
	ReservationSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.PaddingCount = 0
	s.PaddingBytes = 0
	s.ReservationSizeMin = math.MaxInt
	s.ReservationSizeMax = 0
}

func (s *DetailedStatistics) AddPadding(size int) {
	if size <= 0 {
		return
	}

	s.PaddingCount++
	s.PaddingBytes += size
}

func (s *DetailedStatistics) AddReservation(size int) {
	s.ReservationCount++
	s.ReservedBytes += size

	if size < s.ReservationSizeMin {
		s.ReservationSizeMin = size
	}

	if size > s.ReservationSizeMax {
		s.ReservationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.PaddingCount += other.PaddingCount
	s.PaddingBytes += other.PaddingBytes

	if other.ReservationSizeMin < s.ReservationSizeMin {
		s.ReservationSizeMin = other.ReservationSizeMin
	}

	if other.ReservationSizeMax > s.ReservationSizeMax {
		s.ReservationSizeMax = other.ReservationSizeMax
	}
}
