package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelNormalizesMeanAbsoluteDeviation(t *testing.T) {
	require.Zero(t, Level(nil))
	require.Zero(t, Level([]int16{0, 0, 0}))
	require.InDelta(t, 0.5, Level([]int16{16384, -16384}), 1e-9)
	require.InDelta(t, 1.0, Level([]int16{-32768}), 1e-9)
	require.InDelta(t, 0.25, Level([]int16{16384, 0}), 1e-9)
}

func TestAnalyserKeepsMostRecentWindow(t *testing.T) {
	a := newAnalyser(4)
	a.push([]int16{1000, 1000})
	require.Len(t, a.window(), 2)

	a.push([]int16{1000, 1000, 0, 0})
	require.Len(t, a.window(), 4)
	require.InDelta(t, Level([]int16{1000, 1000, 0, 0}), a.level(), 1e-9)

	a.push([]int16{5, 5, 5, 5, 5, 5, 0, 0, 0, 0})
	require.Zero(t, a.level(), "oversized frame keeps only its tail")

	a.close()
	require.True(t, a.closed())
	a.push([]int16{1, 2, 3})
	require.Zero(t, a.level())
}
