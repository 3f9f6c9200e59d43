package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiln/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 256))
	require.Equal(t, 256, memutils.AlignUp(1, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, 512, memutils.AlignUp(257, 256))
	require.Equal(t, 7, memutils.AlignUp(7, 1))
	require.Equal(t, 7, memutils.AlignUp(7, 0))
	require.Equal(t, uint64(64), memutils.AlignUp(uint64(33), uint64(32)))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, memutils.AlignDown(255, 256))
	require.Equal(t, 256, memutils.AlignDown(511, 256))
	require.Equal(t, 13, memutils.AlignDown(13, 1))
}

func TestIsAligned(t *testing.T) {
	require.True(t, memutils.IsAligned(512, 256))
	require.False(t, memutils.IsAligned(511, 256))
	require.True(t, memutils.IsAligned(3, 1))
}

func TestLeastCommonMultiple(t *testing.T) {
	require.Equal(t, 48, memutils.LeastCommonMultiple(16, 12))
	require.Equal(t, 16, memutils.LeastCommonMultiple(16, 4))
	require.Equal(t, 12, memutils.LeastCommonMultiple(4, 12))
	require.Equal(t, 8, memutils.LeastCommonMultiple(0, 8))
	require.Equal(t, uint(15), memutils.LeastCommonMultiple(uint(3), uint(5)))
}

func TestAlignUpMultiple(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUpMultiple(0, 48))
	require.Equal(t, 48, memutils.AlignUpMultiple(20, 48))
	require.Equal(t, 96, memutils.AlignUpMultiple(49, 48))
	require.Equal(t, 36, memutils.AlignUpMultiple(36, 12))
	require.Equal(t, 5, memutils.AlignUpMultiple(5, 0))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(0, "zero"))
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "page"))

	err := memutils.CheckPow2(24, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 24")
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	require.Equal(t, math.MaxInt, stats.ReservationSizeMin)

	stats.AddReservation(256)
	stats.AddPadding(0)
	stats.AddReservation(1024)
	stats.AddPadding(192)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ReservationCount: 2,
			ReservedBytes:    1280,
		},
		PaddingCount:       1,
		PaddingBytes:       192,
		ReservationSizeMin: 256,
		ReservationSizeMax: 1024,
	}, total)
}
