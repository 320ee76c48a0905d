package ingest

// Level is the processing depth admitted for a frame.
type Level int

const (
	// LevelSkip drops the frame entirely.
	LevelSkip Level = iota
	// LevelDetect runs detection and tracking only.
	LevelDetect
	// LevelFull runs the complete verification path.
	LevelFull
)

// FrameGate thins the raw capture rate down to the compute budget:
// every nth frame is admitted for detection, and every mth admitted
// frame runs the full path. Deterministic in the frame index, so the
// admitted sequence is reproducible for a given capture.
type FrameGate struct {
	n        int
	m        int
	admitted int
}

// NewFrameGate builds a gate. n and m below 1 are clamped to 1
// (admit everything).
func NewFrameGate(n, m int) *FrameGate {
	if n < 1 {
		n = 1
	}
	if m < 1 {
		m = 1
	}
	return &FrameGate{n: n, m: m}
}

// Admit classifies the frame at the given capture index.
func (g *FrameGate) Admit(frameIndex uint64) Level {
	if frameIndex%uint64(g.n) != 0 {
		return LevelSkip
	}
	g.admitted++
	if (g.admitted-1)%g.m == 0 {
		return LevelFull
	}
	return LevelDetect
}

// Reset restarts the admitted-frame cycle, for stream restarts.
func (g *FrameGate) Reset() {
	g.admitted = 0
}
