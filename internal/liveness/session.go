package liveness

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Verdict is the outcome of a liveness session. Pending is the only
// non-terminal state.
type Verdict string

const (
	VerdictPending      Verdict = "pending"
	VerdictLive         Verdict = "live"
	VerdictSpoofed      Verdict = "spoofed"
	VerdictInconclusive Verdict = "inconclusive"
)

// ErrOutOfOrderFrame indicates the capture source delivered frames with
// decreasing timestamps. The pipeline does not correct for this; it is a
// source invariant violation.
var ErrOutOfOrderFrame = errors.New("frame timestamp older than last observed")

// Config holds the evidence thresholds for a session.
type Config struct {
	Window           time.Duration
	MinBlinks        int
	EARThreshold     float64
	BlinkFrames      int
	MotionThreshold  float64
	TextureThreshold float64
}

// Evidence is the per-frame input to a session: the EAR sample, the face
// center, and the grayscale crop for flow and texture analysis.
type Evidence struct {
	Timestamp time.Time
	EAR       float64
	CenterX   float64
	CenterY   float64
	Crop      *image.Gray
}

// Session fuses blink, motion and texture evidence for one tracked face
// over a fixed window. Fusion is conjunctive: every signal must pass for
// a Live verdict. Missing or ambiguous evidence fails closed.
type Session struct {
	TrackID string

	cfg     Config
	blink   *BlinkDetector
	motion  *MotionTracker
	texture *TextureAnalyzer

	started  time.Time
	last     time.Time
	prevCrop *image.Gray

	latestTexture TextureScore
	textureSeen   bool
	verdict       Verdict
}

// NewSession starts a session for a tracked face. started is the
// timestamp of the frame that opened it.
func NewSession(trackID string, started time.Time, cfg Config) *Session {
	return &Session{
		TrackID: trackID,
		cfg:     cfg,
		blink:   NewBlinkDetector(cfg.EARThreshold, cfg.BlinkFrames),
		motion:  NewMotionTracker(cfg.MotionThreshold),
		texture: NewTextureAnalyzer(cfg.TextureThreshold),
		started: started,
		last:    started,
		verdict: VerdictPending,
	}
}

// Observe feeds one frame of evidence and returns the session verdict,
// which is terminal once it leaves Pending. Frames must arrive in
// non-decreasing timestamp order.
func (s *Session) Observe(ev Evidence) (Verdict, error) {
	if s.verdict != VerdictPending {
		return s.verdict, nil
	}
	if ev.Timestamp.Before(s.last) {
		return s.verdict, fmt.Errorf("track %s: %w", s.TrackID, ErrOutOfOrderFrame)
	}
	s.last = ev.Timestamp

	s.blink.Observe(ev.EAR)
	s.motion.Observe(ev.CenterX, ev.CenterY, s.prevCrop, ev.Crop)
	if ev.Crop != nil {
		s.latestTexture = s.texture.Analyze(ev.Crop)
		s.textureSeen = true
		s.prevCrop = ev.Crop
	}

	// Early resolve: all three criteria already hold.
	if s.criteriaMet() {
		s.verdict = VerdictLive
		return s.verdict, nil
	}

	if ev.Timestamp.Sub(s.started) >= s.cfg.Window {
		s.verdict = s.expire()
	}
	return s.verdict, nil
}

// Abort terminates a pending session without a Live outcome, e.g. on
// tracking loss or camera shutdown. No session outlives its camera
// session in the Pending state.
func (s *Session) Abort() Verdict {
	if s.verdict == VerdictPending {
		s.verdict = VerdictInconclusive
	}
	return s.verdict
}

// Verdict returns the current verdict without observing new evidence.
func (s *Session) Verdict() Verdict {
	return s.verdict
}

// Blinks returns the session's cumulative blink count.
func (s *Session) Blinks() int {
	return s.blink.Blinks()
}

// Age returns elapsed session time at the last observed frame.
func (s *Session) Age() time.Duration {
	return s.last.Sub(s.started)
}

// FailureReason describes which criteria blocked a Live verdict, for the
// liveness_failed event payload.
func (s *Session) FailureReason() string {
	switch {
	case s.blink.Blinks() < s.cfg.MinBlinks:
		return "no blink detected"
	case !s.motion.HasNaturalMovement():
		return "no natural movement"
	case !s.textureSeen || !s.latestTexture.SkinLike:
		return "photo-like texture"
	default:
		return ""
	}
}

func (s *Session) criteriaMet() bool {
	return s.blink.Blinks() >= s.cfg.MinBlinks &&
		s.motion.HasNaturalMovement() &&
		s.textureSeen && s.latestTexture.SkinLike
}

// expire resolves a session whose window elapsed without all criteria.
// A flat texture or a perfectly static pose is strong print evidence →
// Spoofed; anything weaker fails closed as Inconclusive.
func (s *Session) expire() Verdict {
	printTexture := s.textureSeen && !s.latestTexture.SkinLike
	frozen := s.motion.SampleCount() >= 5 && s.motion.Spread() < 1e-3
	if printTexture || frozen {
		return VerdictSpoofed
	}
	return VerdictInconclusive
}
