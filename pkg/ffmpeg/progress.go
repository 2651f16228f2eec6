package ffmpeg

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ProgressTracker turns "-progress" key=value lines into a 0-100 percentage.
// Values below 100 are capped at 99 until the engine reports progress=end.
type ProgressTracker struct {
	total     time.Duration
	last      int
	onPercent func(int)
}

func NewProgressTracker(totalSeconds float64, onPercent func(int)) *ProgressTracker {
	return &ProgressTracker{
		total:     time.Duration(totalSeconds * float64(time.Second)),
		last:      -1,
		onPercent: onPercent,
	}
}

// Line consumes one line of engine output. Non-progress lines are ignored.
func (p *ProgressTracker) Line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "progress":
		if value == "end" {
			p.emit(100)
		}
	case "out_time_us", "out_time_ms":
		// ffmpeg reports both in microseconds
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 || p.total <= 0 {
			return
		}
		pct := int(math.Floor(float64(time.Duration(us)*time.Microsecond) / float64(p.total) * 100))
		p.emit(min(pct, 99))
	}
}

// Percent returns the last emitted value, or 0 when nothing was emitted yet.
func (p *ProgressTracker) Percent() int {
	return max(p.last, 0)
}

func (p *ProgressTracker) emit(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.onPercent != nil {
		p.onPercent(pct)
	}
}
