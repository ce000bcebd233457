package hierarchy

import "time"

// adaptiveSizer tunes the insert batch width toward a target commit rate.
// Observed throughput is smoothed with an exponential moving average so a
// single slow commit does not whipsaw the width. Smoothed rate under 80%
// of target halves the width (the store is under pressure), over 120%
// grows it by half, always clamped to [min, max].
type adaptiveSizer struct {
	target float64 // rows per second
	min    int
	max    int
	width  int

	ewma   float64
	primed bool
}

// Smoothing factor for the rate average. Half new sample, half history.
const rateAlpha = 0.5

func newAdaptiveSizer(hint, min, max int, target float64) *adaptiveSizer {
	s := &adaptiveSizer{target: target, min: min, max: max}
	s.width = s.clamp(hint)
	return s
}

func (s *adaptiveSizer) Width() int { return s.width }

// Observe feeds one completed unit's commit measurement into the sizer.
func (s *adaptiveSizer) Observe(rows int64, elapsed time.Duration) {
	if s.target <= 0 || rows <= 0 || elapsed <= 0 {
		return
	}
	rate := float64(rows) / elapsed.Seconds()
	if !s.primed {
		s.ewma = rate
		s.primed = true
	} else {
		s.ewma = rateAlpha*rate + (1-rateAlpha)*s.ewma
	}
	switch {
	case s.ewma < 0.8*s.target:
		s.width = s.clamp(s.width / 2)
	case s.ewma > 1.2*s.target:
		s.width = s.clamp(s.width + s.width/2)
	}
}

func (s *adaptiveSizer) clamp(w int) int {
	if w < s.min {
		return s.min
	}
	if w > s.max {
		return s.max
	}
	return w
}
