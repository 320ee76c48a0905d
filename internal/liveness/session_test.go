package liveness

import (
	"errors"
	"image"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Window:           3 * time.Second,
		MinBlinks:        1,
		EARThreshold:     0.21,
		BlinkFrames:      2,
		MotionThreshold:  0.5,
		TextureThreshold: 100,
	}
}

type frame struct {
	offset time.Duration
	ear    float64
	cx     float64
	crop   *image.Gray
}

func runSession(t *testing.T, cfg Config, frames []frame) (*Session, Verdict) {
	t.Helper()
	start := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	s := NewSession("track-1", start, cfg)

	verdict := VerdictPending
	for _, f := range frames {
		var err error
		verdict, err = s.Observe(Evidence{
			Timestamp: start.Add(f.offset),
			EAR:       f.ear,
			CenterX:   f.cx,
			CenterY:   50,
			Crop:      f.crop,
		})
		if err != nil {
			t.Fatalf("Observe at %v: %v", f.offset, err)
		}
		if verdict != VerdictPending {
			break
		}
	}
	return s, verdict
}

func TestSessionLiveOnBlinkMotionTexture(t *testing.T) {
	skin := noisyCrop(64, 64, 11)
	step := 300 * time.Millisecond

	frames := []frame{
		{0 * step, 0.30, 100, skin},
		{1 * step, 0.30, 103, skin},
		{2 * step, 0.15, 103, skin},
		{3 * step, 0.14, 109, skin},
		{4 * step, 0.30, 109, skin}, // blink completes
		{5 * step, 0.30, 103, skin},
		{6 * step, 0.30, 110, skin},
		{7 * step, 0.30, 102, skin},
	}

	s, verdict := runSession(t, testConfig(), frames)
	if verdict != VerdictLive {
		t.Fatalf("verdict = %v, want live (blinks=%d)", verdict, s.Blinks())
	}
	if s.Age() >= testConfig().Window {
		t.Error("live verdict should resolve before the window expires")
	}
}

func TestSessionSpoofedOnFlatTexture(t *testing.T) {
	print := flatCrop(64, 64, 128)
	step := 500 * time.Millisecond

	var frames []frame
	for i := 0; i <= 6; i++ {
		frames = append(frames, frame{time.Duration(i) * step, 0.30, 100 + float64(i%3)*4, print})
	}

	s, verdict := runSession(t, testConfig(), frames)
	if verdict != VerdictSpoofed {
		t.Fatalf("verdict = %v, want spoofed", verdict)
	}
	if reason := s.FailureReason(); reason == "" {
		t.Error("spoofed session should report a failure reason")
	}
}

func TestSessionSpoofedOnFrozenFace(t *testing.T) {
	skin := noisyCrop(64, 64, 13)
	step := 500 * time.Millisecond

	var frames []frame
	for i := 0; i <= 6; i++ {
		frames = append(frames, frame{time.Duration(i) * step, 0.30, 100, skin})
	}

	_, verdict := runSession(t, testConfig(), frames)
	if verdict != VerdictSpoofed {
		t.Fatalf("verdict = %v, want spoofed for frozen pose", verdict)
	}
}

func TestSessionInconclusiveWithoutBlink(t *testing.T) {
	skin := noisyCrop(64, 64, 17)
	step := 500 * time.Millisecond

	xs := []float64{100, 103, 103, 109, 109, 103, 110}
	var frames []frame
	for i, x := range xs {
		frames = append(frames, frame{time.Duration(i) * step, 0.30, x, skin})
	}

	s, verdict := runSession(t, testConfig(), frames)
	if verdict != VerdictInconclusive {
		t.Fatalf("verdict = %v, want inconclusive", verdict)
	}
	if reason := s.FailureReason(); reason != "no blink detected" {
		t.Errorf("FailureReason() = %q, want no blink detected", reason)
	}
}

func TestSessionRejectsOutOfOrderFrames(t *testing.T) {
	start := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	s := NewSession("track-1", start, testConfig())

	if _, err := s.Observe(Evidence{Timestamp: start.Add(time.Second), EAR: 0.3}); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	_, err := s.Observe(Evidence{Timestamp: start, EAR: 0.3})
	if !errors.Is(err, ErrOutOfOrderFrame) {
		t.Fatalf("err = %v, want ErrOutOfOrderFrame", err)
	}
	if s.Verdict() != VerdictPending {
		t.Errorf("out-of-order frame changed verdict to %v", s.Verdict())
	}

	// Equal timestamps are not a violation.
	if _, err := s.Observe(Evidence{Timestamp: start.Add(time.Second), EAR: 0.3}); err != nil {
		t.Errorf("equal timestamp rejected: %v", err)
	}
}

func TestSessionAbort(t *testing.T) {
	start := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	t.Run("pending resolves inconclusive", func(t *testing.T) {
		s := NewSession("track-1", start, testConfig())
		if got := s.Abort(); got != VerdictInconclusive {
			t.Errorf("Abort() = %v, want inconclusive", got)
		}
	})

	t.Run("terminal verdict sticks", func(t *testing.T) {
		skin := noisyCrop(64, 64, 11)
		step := 300 * time.Millisecond
		frames := []frame{
			{0 * step, 0.30, 100, skin},
			{1 * step, 0.30, 103, skin},
			{2 * step, 0.15, 103, skin},
			{3 * step, 0.14, 109, skin},
			{4 * step, 0.30, 109, skin},
			{5 * step, 0.30, 103, skin},
			{6 * step, 0.30, 110, skin},
		}
		s, verdict := runSession(t, testConfig(), frames)
		if verdict != VerdictLive {
			t.Fatalf("setup: verdict = %v, want live", verdict)
		}
		if got := s.Abort(); got != VerdictLive {
			t.Errorf("Abort() after live = %v, want live", got)
		}

		// Further evidence is ignored once terminal.
		v, err := s.Observe(Evidence{Timestamp: start.Add(time.Hour), EAR: 0.3})
		if err != nil || v != VerdictLive {
			t.Errorf("Observe after terminal = (%v, %v), want (live, nil)", v, err)
		}
	})
}
