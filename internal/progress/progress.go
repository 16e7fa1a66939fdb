// Package progress turns ffmpeg status lines into coarse completion
// percentages.
package progress

import (
	"math"
	"regexp"
	"strconv"
)

// MaxRunning caps decoded values; 100 is only reported once the job is done.
const MaxRunning = 99

var timePattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.\d+)`)

// Decode extracts the elapsed media time from an ffmpeg output line and
// returns it as a percentage of total seconds. ok is false when the line
// carries no timestamp or the total is unknown.
func Decode(line string, total float64) (percent int, ok bool) {
	if total <= 0 {
		return 0, false
	}
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	elapsed := hours*3600 + minutes*60 + seconds

	p := math.Floor(elapsed / total * 100)
	if p > MaxRunning {
		p = MaxRunning
	}
	if p < 0 {
		p = 0
	}
	return int(p), true
}

// Throttle forwards only values that are a non-zero multiple of Step and
// differ from the last forwarded one, keeping store writes to about ten per
// conversion.
type Throttle struct {
	Step int
	last int
}

// NewThrottle returns a Throttle with the usual 10 point step.
func NewThrottle() *Throttle {
	return &Throttle{Step: 10}
}

// Accept reports whether percent should be forwarded and records it if so.
func (t *Throttle) Accept(percent int) bool {
	step := t.Step
	if step <= 0 {
		step = 1
	}
	if percent == 0 || percent == t.last || percent%step != 0 {
		return false
	}
	t.last = percent
	return true
}

// Last returns the most recently forwarded value.
func (t *Throttle) Last() int {
	return t.last
}
