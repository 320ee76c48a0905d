package liveness

import (
	"image"
	"math"
)

// MotionTracker accumulates per-frame head-displacement samples and
// judges whether the session exhibits natural micro-movement. A printed
// photo held still produces near-zero variance; genuine faces do not.
type MotionTracker struct {
	threshold float64
	samples   []float64
	maxLen    int
	havePrev  bool
	prevX     float64
	prevY     float64
}

func NewMotionTracker(threshold float64) *MotionTracker {
	return &MotionTracker{threshold: threshold, maxLen: 30}
}

// Observe records one sample from the face center position plus the
// inter-frame intensity flow of the aligned crops. prev may be nil on
// the first admitted frame.
func (m *MotionTracker) Observe(centerX, centerY float64, prev, cur *image.Gray) {
	var sample float64
	if m.havePrev {
		dx := centerX - m.prevX
		dy := centerY - m.prevY
		sample = math.Sqrt(dx*dx + dy*dy)
	}
	if prev != nil && cur != nil {
		sample += FlowMagnitude(prev, cur)
	}

	m.prevX, m.prevY = centerX, centerY
	if !m.havePrev {
		m.havePrev = true
		return
	}

	m.samples = append(m.samples, sample)
	if len(m.samples) > m.maxLen {
		m.samples = m.samples[1:]
	}
}

// Variance of the accumulated displacement samples.
func (m *MotionTracker) Variance() float64 {
	n := len(m.samples)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	mean := sum / float64(n)
	var acc float64
	for _, s := range m.samples {
		d := s - mean
		acc += d * d
	}
	return acc / float64(n)
}

// Spread returns max-min of the samples, a cheaper static-image test.
func (m *MotionTracker) Spread() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	lo, hi := m.samples[0], m.samples[0]
	for _, s := range m.samples[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return hi - lo
}

// HasNaturalMovement reports whether enough variation accumulated.
// Requires a handful of samples before judging to avoid flagging a
// session that simply has not run long enough.
func (m *MotionTracker) HasNaturalMovement() bool {
	if len(m.samples) < 5 {
		return false
	}
	return m.Variance() > m.threshold
}

// SampleCount returns how many displacement samples were recorded.
func (m *MotionTracker) SampleCount() int {
	return len(m.samples)
}

// Reset clears all samples. Called only on session creation.
func (m *MotionTracker) Reset() {
	m.samples = m.samples[:0]
	m.havePrev = false
}

// FlowMagnitude approximates the optical-flow magnitude between two
// aligned face crops as the mean absolute intensity difference on a
// downsampled grid. Crops of different sizes are sampled in their own
// coordinate space.
func FlowMagnitude(prev, cur *image.Gray) float64 {
	const grid = 16

	pb, cb := prev.Bounds(), cur.Bounds()
	if pb.Dx() == 0 || pb.Dy() == 0 || cb.Dx() == 0 || cb.Dy() == 0 {
		return 0
	}

	var acc float64
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			px := pb.Min.X + gx*pb.Dx()/grid
			py := pb.Min.Y + gy*pb.Dy()/grid
			cx := cb.Min.X + gx*cb.Dx()/grid
			cy := cb.Min.Y + gy*cb.Dy()/grid
			d := int(prev.GrayAt(px, py).Y) - int(cur.GrayAt(cx, cy).Y)
			if d < 0 {
				d = -d
			}
			acc += float64(d)
		}
	}
	return acc / (grid * grid)
}
