package liveness

import "testing"

func TestMotionTrackerNaturalMovement(t *testing.T) {
	m := NewMotionTracker(0.5)

	// Head drifting by varying amounts frame to frame.
	xs := []float64{100, 103, 103, 109, 109, 103, 110, 102}
	for _, x := range xs {
		m.Observe(x, 50, nil, nil)
	}

	if m.SampleCount() != len(xs)-1 {
		t.Fatalf("SampleCount() = %d, want %d", m.SampleCount(), len(xs)-1)
	}
	if !m.HasNaturalMovement() {
		t.Errorf("varied displacement should count as natural movement, variance=%v", m.Variance())
	}
}

func TestMotionTrackerStaticFace(t *testing.T) {
	m := NewMotionTracker(0.5)

	for i := 0; i < 10; i++ {
		m.Observe(100, 50, nil, nil)
	}

	if m.HasNaturalMovement() {
		t.Error("perfectly static center should not count as natural movement")
	}
	if got := m.Spread(); got != 0 {
		t.Errorf("Spread() = %v, want 0", got)
	}
}

func TestMotionTrackerNeedsSamples(t *testing.T) {
	m := NewMotionTracker(0.0)

	// Fewer than 5 samples must not be judged, even with huge movement.
	for _, x := range []float64{0, 50, 0, 70} {
		m.Observe(x, 0, nil, nil)
	}
	if m.HasNaturalMovement() {
		t.Error("movement judged before enough samples accumulated")
	}
}

func TestFlowMagnitude(t *testing.T) {
	a := noisyCrop(64, 64, 1)
	b := noisyCrop(64, 64, 2)

	if got := FlowMagnitude(a, a); got != 0 {
		t.Errorf("flow between identical crops = %v, want 0", got)
	}
	if got := FlowMagnitude(a, b); got <= 0 {
		t.Errorf("flow between distinct noise crops = %v, want > 0", got)
	}
}
