// Package emotion smooths per-frame emotion classifications over a
// short history so the reported label does not flicker frame to frame.
package emotion

import "sync"

// Labels are the classifier output categories, in model output order.
var Labels = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// Uncertain is reported when no smoothed category clears the confidence
// floor.
const Uncertain = "uncertain"

// Scores is one frame's classifier output, index-aligned with Labels.
type Scores [7]float64

// Reading is a smoothed emotion for one identity.
type Reading struct {
	Label      string
	Confidence float64
}

// Smoother keeps a bounded ring of recent score vectors per identity and
// reports the argmax of their arithmetic mean. Identities are tracked
// independently; concurrent use across worker goroutines is safe.
type Smoother struct {
	mu         sync.Mutex
	size       int
	floor      float64
	byIdentity map[string]*ring
}

type ring struct {
	buf  []Scores
	next int
	full bool
}

// NewSmoother builds a smoother holding size frames of history per
// identity. The smoothed confidence must exceed floor or the reading is
// Uncertain.
func NewSmoother(size int, floor float64) *Smoother {
	if size < 1 {
		size = 1
	}
	return &Smoother{
		size:       size,
		floor:      floor,
		byIdentity: make(map[string]*ring),
	}
}

// Observe records one frame's scores for an identity and returns the
// smoothed reading over the retained history.
func (s *Smoother) Observe(identity string, scores Scores) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byIdentity[identity]
	if !ok {
		r = &ring{buf: make([]Scores, s.size)}
		s.byIdentity[identity] = r
	}
	r.buf[r.next] = scores
	r.next = (r.next + 1) % s.size
	if r.next == 0 {
		r.full = true
	}

	return s.reading(r)
}

// Current returns the smoothed reading for an identity without adding a
// frame. Unknown identities report Uncertain with zero confidence.
func (s *Smoother) Current(identity string) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byIdentity[identity]
	if !ok {
		return Reading{Label: Uncertain}
	}
	return s.reading(r)
}

// Reset discards an identity's history. History survives tracking loss
// and re-appearance; this explicit call is the only way to prune it.
func (s *Smoother) Reset(identity string) {
	s.mu.Lock()
	delete(s.byIdentity, identity)
	s.mu.Unlock()
}

func (s *Smoother) reading(r *ring) Reading {
	n := r.next
	if r.full {
		n = s.size
	}
	if n == 0 {
		return Reading{Label: Uncertain}
	}

	var mean Scores
	for i := 0; i < n; i++ {
		for j := range mean {
			mean[j] += r.buf[i][j]
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	best := 0
	for j := 1; j < len(mean); j++ {
		if mean[j] > mean[best] {
			best = j
		}
	}
	if mean[best] <= s.floor {
		return Reading{Label: Uncertain, Confidence: mean[best]}
	}
	return Reading{Label: Labels[best], Confidence: mean[best]}
}
