package memutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var alignUpCases = map[string]struct {
	Value     uint32
	Alignment uint32
	Expected  uint32
}{
	"Already Aligned": {Value: 4096, Alignment: 4096, Expected: 4096},
	"One Past":        {Value: 4097, Alignment: 4096, Expected: 8192},
	"Zero":            {Value: 0, Alignment: 16, Expected: 0},
	"Small Alignment": {Value: 33, Alignment: 2, Expected: 34},
}

func TestAlignUp(t *testing.T) {
	for name, testCase := range alignUpCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Expected, AlignUp(testCase.Value, testCase.Alignment))
		})
	}
}

func TestAlignDown(t *testing.T) {
	require.EqualValues(t, 4096, AlignDown(uint32(4097), 4096))
	require.EqualValues(t, 4096, AlignDown(uint32(4096), 4096))
}

func TestAlign16(t *testing.T) {
	require.EqualValues(t, 112, Align16(uint32(100)))
	require.EqualValues(t, 8294400, Align16(uint32(8294400)))
	require.EqualValues(t, 0, Align16(uint32(0)))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(uint32(1024), "alignment"))
	require.ErrorIs(t, CheckPow2(uint32(100), "alignment"), PowerOfTwoError)
}

func TestStatisticsTrackRegions(t *testing.T) {
	var stats Statistics
	stats.AddRegion(4096, 64, true)
	stats.AddRegion(8192, 0, false)

	require.Equal(t, 2, stats.RegionCount)
	require.Equal(t, 1, stats.ColorBufferCount)
	require.Equal(t, 4096+8192, stats.RegionBytes)
	require.Equal(t, 64, stats.ReservedBytes)

	stats.RemoveRegion(4096, 64, true)
	stats.RemoveRegion(8192, 0, false)
	require.Equal(t, Statistics{}, stats)
}

func TestStatisticsAccumulate(t *testing.T) {
	var total, partial Statistics
	partial.AddRegion(4096, 0, true)
	total.AddStatistics(&partial)
	total.AddStatistics(&partial)

	require.Equal(t, 2, total.RegionCount)
	require.Equal(t, 2, total.ColorBufferCount)
	require.Equal(t, 8192, total.RegionBytes)
}
