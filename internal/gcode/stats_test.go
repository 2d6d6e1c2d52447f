package gcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatsAllMarkersAnyOrder(t *testing.T) {
	header := strings.Join([]string{
		"; generated by PrusaSlicer 2.7.1",
		"; total layers count = 142",
		"G28 ; home all axes",
		"; estimated printing time (normal mode) = 1h 2m 40s",
		"; filament used [g] = 12.47",
		"; filament used [mm] = 4180.22",
		"G1 X10 Y10",
	}, "\n")

	stats := ParseStats(header)

	require.NotNil(t, stats.FilamentUsedMm)
	require.NotNil(t, stats.FilamentUsedG)
	require.NotNil(t, stats.LayerCount)
	require.NotNil(t, stats.PrintTimeMins)
	assert.InDelta(t, 4180.22, *stats.FilamentUsedMm, 1e-9)
	assert.InDelta(t, 12.47, *stats.FilamentUsedG, 1e-9)
	assert.Equal(t, 142, *stats.LayerCount)
	assert.Equal(t, 63, *stats.PrintTimeMins)
}

func TestParseStatsMissingOneMarker(t *testing.T) {
	header := strings.Join([]string{
		"; filament used [mm] = 1000.5",
		"; total layers count = 20",
		"; estimated printing time (normal mode) = 45m 10s",
	}, "\n")

	stats := ParseStats(header)

	assert.Nil(t, stats.FilamentUsedG)
	require.NotNil(t, stats.FilamentUsedMm)
	require.NotNil(t, stats.LayerCount)
	require.NotNil(t, stats.PrintTimeMins)
	assert.InDelta(t, 1000.5, *stats.FilamentUsedMm, 1e-9)
	assert.Equal(t, 20, *stats.LayerCount)
	assert.Equal(t, 45, *stats.PrintTimeMins)
}

func TestParseStatsUnrelatedText(t *testing.T) {
	inputs := []string{
		"",
		"hello world\nnothing to see here",
		"; filament used [g] = not-a-number",
		"; estimated printing time (normal mode) = soon",
		"\x00\xff\xfe; LAYER_COUNT: ;;;",
		strings.Repeat("G1 X1 Y1 E0.1\n", 1000),
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			stats := ParseStats(in)
			assert.True(t, stats.Empty(), "input %q", in)
		})
	}
}

func TestParseStatsCuraHeader(t *testing.T) {
	header := strings.Join([]string{
		";FLAVOR:Marlin",
		";TIME:6330",
		";Filament used: 2.53791m",
		";Layer height: 0.2",
		";LAYER_COUNT:87",
	}, "\n")

	stats := ParseStats(header)

	require.NotNil(t, stats.PrintTimeMins)
	require.NotNil(t, stats.FilamentUsedMm)
	require.NotNil(t, stats.LayerCount)
	assert.Equal(t, 106, *stats.PrintTimeMins)
	assert.InDelta(t, 2537.91, *stats.FilamentUsedMm, 1e-6)
	assert.Equal(t, 87, *stats.LayerCount)
	assert.Nil(t, stats.FilamentUsedG)
}

func TestParseStatsPrefersTotalGrams(t *testing.T) {
	header := "; filament used [g] = 3.1, 4.2\n; total filament used [g] = 7.30\n"

	stats := ParseStats(header)

	require.NotNil(t, stats.FilamentUsedG)
	assert.InDelta(t, 7.30, *stats.FilamentUsedG, 1e-9)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1h 2m 40s", 63, true},
		{"2m 29s", 2, true},
		{"2m 30s", 3, true},
		{"1d 0h 0m 0s", 1440, true},
		{"3h", 180, true},
		{"59s", 1, true},
		{"", 0, false},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseDuration(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWindowKeepsHeadAndTail(t *testing.T) {
	data := []byte("; filament used [mm] = 10\n" + strings.Repeat("G1 X0\n", 10000) + "; total layers count = 5\n")

	w := Window(data, 64)

	assert.Less(t, len(w), len(data))
	stats := ParseStats(w)
	require.NotNil(t, stats.FilamentUsedMm)
	require.NotNil(t, stats.LayerCount)
	assert.Equal(t, 5, *stats.LayerCount)
}

func TestHeaderWindowIsBounded(t *testing.T) {
	w, err := HeaderWindow(strings.NewReader(strings.Repeat("x", 1000)), 100)

	require.NoError(t, err)
	assert.Len(t, w, 100)
}

func TestWindowBufferMatchesWindow(t *testing.T) {
	for _, size := range []int{0, 10, 64, 128, 129, 1000, 70000} {
		data := []byte(strings.Repeat("0123456789abcdef\n", size/17+1)[:size])
		w := NewWindowBuffer(64)
		for i := 0; i < len(data); i += 7 {
			_, err := w.Write(data[i:min(i+7, len(data))])
			require.NoError(t, err)
		}
		assert.Equal(t, Window(data, 64), w.String(), "size %d", size)
	}
}
