// Package identify performs nearest-neighbour identity matching over
// enrolled face embeddings.
package identify

import (
	"math"
	"sync"

	"github.com/google/uuid"
)

// Entry is one enrolled embedding vector with its owning identity.
type Entry struct {
	EmbeddingID uuid.UUID
	PersonID    uuid.UUID
	Name        string
	Vector      []float32
}

// Match is a candidate identity for a probe vector.
type Match struct {
	PersonID uuid.UUID
	Name     string
	Distance float32
}

// Result is the matcher output for one probe. Exactly one of the three
// shapes holds: a match within tolerance, Unknown (no match / out of
// tolerance), or Ambiguous (two identities tied at the minimum distance,
// rejected rather than arbitrarily resolved).
type Result struct {
	Match     *Match
	Ambiguous bool
}

// Unknown reports whether no identity was accepted.
func (r Result) Unknown() bool {
	return r.Match == nil
}

// Strategy is the pluggable nearest-neighbour search. Implementations
// must treat the entry slice passed to Rebuild as immutable.
type Strategy interface {
	// Rebuild replaces the searchable set.
	Rebuild(entries []Entry)
	// Nearest returns candidate matches ordered by ascending distance,
	// at most k of them, one per distinct identity except that exact
	// ties at the minimum must all be present.
	Nearest(probe []float32, k int) []Match
}

// Matcher resolves probe embeddings against the enrollment snapshot.
// Reads are lock-free against concurrent matching; Reload briefly takes
// the write lock (registration is rare).
type Matcher struct {
	mu        sync.RWMutex
	strategy  Strategy
	tolerance float32
}

func NewMatcher(strategy Strategy, tolerance float64) *Matcher {
	return &Matcher{strategy: strategy, tolerance: float32(tolerance)}
}

// Reload swaps in a new enrollment snapshot.
func (m *Matcher) Reload(entries []Entry) {
	snapshot := make([]Entry, len(entries))
	copy(snapshot, entries)
	m.mu.Lock()
	m.strategy.Rebuild(snapshot)
	m.mu.Unlock()
}

// Match finds the enrolled identity with minimal Euclidean distance to
// the probe. Distances above tolerance, an empty enrollment, or an exact
// distance tie between two identities all yield a non-match.
func (m *Matcher) Match(probe []float32) Result {
	m.mu.RLock()
	candidates := m.strategy.Nearest(probe, 2)
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return Result{}
	}

	best := candidates[0]
	if best.Distance > m.tolerance {
		return Result{}
	}

	// Bitwise-equal minimum across distinct identities is rejected as
	// ambiguous rather than picked arbitrarily.
	for _, c := range candidates[1:] {
		if c.PersonID != best.PersonID && c.Distance == best.Distance {
			return Result{Ambiguous: true}
		}
	}

	return Result{Match: &best}
}

// BruteForce is an exact linear scan over every enrolled vector.
// Sufficient at tens to low hundreds of identities; swap in HNSW above
// that.
type BruteForce struct {
	entries []Entry
}

func NewBruteForce() *BruteForce {
	return &BruteForce{}
}

func (b *BruteForce) Rebuild(entries []Entry) {
	b.entries = entries
}

func (b *BruteForce) Nearest(probe []float32, k int) []Match {
	// Minimum distance per identity.
	type acc struct {
		name string
		dist float32
		seen bool
	}
	perIdentity := make(map[uuid.UUID]*acc)

	for _, e := range b.entries {
		d := EuclideanDistance(probe, e.Vector)
		a, ok := perIdentity[e.PersonID]
		if !ok {
			perIdentity[e.PersonID] = &acc{name: e.Name, dist: d, seen: true}
			continue
		}
		if d < a.dist {
			a.dist = d
		}
	}

	matches := make([]Match, 0, len(perIdentity))
	for id, a := range perIdentity {
		matches = append(matches, Match{PersonID: id, Name: a.name, Distance: a.dist})
	}

	// Insertion sort by distance; identity counts are small.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Distance < matches[j-1].Distance; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// EuclideanDistance between two vectors. Mismatched lengths are treated
// as maximally distant.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
