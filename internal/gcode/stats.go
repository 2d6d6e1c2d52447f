// Package gcode extracts print metrics from the metadata comments slicing
// engines write into their toolpath output.
package gcode

import (
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// DefaultWindow is how many bytes of output are scanned at each end.
const DefaultWindow = 64 * 1024

// PrusaSlicer, SuperSlicer and OrcaSlicer write "; key = value" comments,
// Cura writes ";KEY:value" comments.
var (
	filamentMmPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*(?:total\s+)?filament used \[mm\]\s*=\s*([0-9]+(?:\.[0-9]+)?)`),
	}
	filamentMetersPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*filament used:\s*([0-9]+(?:\.[0-9]+)?)\s*m\b`),
	}
	filamentGramsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*total filament used \[g\]\s*=\s*([0-9]+(?:\.[0-9]+)?)`),
		regexp.MustCompile(`(?mi)^\s*;\s*filament used \[g\]\s*=\s*([0-9]+(?:\.[0-9]+)?)`),
	}
	layerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*total layers? count\s*=\s*([0-9]+)`),
		regexp.MustCompile(`(?mi)^\s*;\s*LAYER_COUNT\s*:\s*([0-9]+)`),
	}
	durationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*estimated printing time(?:\s*\(normal mode\))?\s*=\s*([^\r\n]+)`),
		regexp.MustCompile(`(?mi)^\s*;\s*model printing time:\s*([^;\r\n]+)`),
	}
	secondsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^\s*;\s*TIME\s*:\s*([0-9]+)\s*$`),
	}
	durationPart = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*([dhms])`)
)

// ParseStats scans text for metadata comments. Each field is extracted on
// its own; anything not found stays nil. It never panics on odd input.
func ParseStats(text string) domain.GcodeStats {
	var stats domain.GcodeStats

	if v, ok := firstFloat(text, filamentMmPatterns); ok {
		stats.FilamentUsedMm = &v
	} else if v, ok := firstFloat(text, filamentMetersPatterns); ok {
		mm := v * 1000
		stats.FilamentUsedMm = &mm
	}

	if v, ok := firstFloat(text, filamentGramsPatterns); ok {
		stats.FilamentUsedG = &v
	}

	if v, ok := firstInt(text, layerPatterns); ok {
		stats.LayerCount = &v
	}

	if mins, ok := printMinutes(text); ok {
		stats.PrintTimeMins = &mins
	}

	return stats
}

// ParseDuration converts "1d 2h 3m 4s" style text to whole minutes.
func ParseDuration(s string) (int, bool) {
	parts := durationPart.FindAllStringSubmatch(s, -1)
	if len(parts) == 0 {
		return 0, false
	}

	var seconds float64
	for _, p := range parts {
		n, err := strconv.ParseFloat(p[1], 64)
		if err != nil {
			return 0, false
		}
		switch strings.ToLower(p[2]) {
		case "d":
			seconds += n * 86400
		case "h":
			seconds += n * 3600
		case "m":
			seconds += n * 60
		case "s":
			seconds += n
		}
	}
	return int(math.Round(seconds / 60)), true
}

// Window returns the first and last limit bytes of data joined by a newline.
// Short inputs are returned whole.
func Window(data []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultWindow
	}
	if len(data) <= 2*limit {
		return string(data)
	}
	return string(data[:limit]) + "\n" + string(data[len(data)-limit:])
}

// HeaderWindow reads at most limit bytes from r.
func HeaderWindow(r io.Reader, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}
	b, err := io.ReadAll(io.LimitReader(r, int64(limit)))
	return string(b), err
}

func printMinutes(text string) (int, bool) {
	for _, re := range durationPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if mins, ok := ParseDuration(m[1]); ok {
				return mins, true
			}
		}
	}
	for _, re := range secondsPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if secs, err := strconv.Atoi(m[1]); err == nil {
				return int(math.Round(float64(secs) / 60)), true
			}
		}
	}
	return 0, false
}

func firstFloat(text string, patterns []*regexp.Regexp) (float64, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}

func firstInt(text string, patterns []*regexp.Regexp) (int, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// WindowBuffer is an io.Writer that keeps the first and last limit bytes
// written to it, so a toolpath can be scanned while it streams elsewhere.
type WindowBuffer struct {
	limit   int
	head    []byte
	tail    []byte
	trimmed bool
}

func NewWindowBuffer(limit int) *WindowBuffer {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return &WindowBuffer{limit: limit}
}

func (w *WindowBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := w.limit - len(w.head); room > 0 {
		take := min(room, len(p))
		w.head = append(w.head, p[:take]...)
		p = p[take:]
	}
	w.tail = append(w.tail, p...)
	if len(w.tail) > 2*w.limit {
		w.tail = append(w.tail[:0], w.tail[len(w.tail)-w.limit:]...)
		w.trimmed = true
	}
	return n, nil
}

// String returns the same text Window would for the full stream.
func (w *WindowBuffer) String() string {
	if !w.trimmed && len(w.tail) <= w.limit {
		return string(w.head) + string(w.tail)
	}
	tail := w.tail
	if len(tail) > w.limit {
		tail = tail[len(tail)-w.limit:]
	}
	return string(w.head) + "\n" + string(tail)
}
