package identify

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func vec(vals ...float32) []float32 {
	v := make([]float32, 8)
	copy(v, vals)
	return v
}

func enrollment(t *testing.T) (alice, bob uuid.UUID, entries []Entry) {
	t.Helper()
	alice = uuid.New()
	bob = uuid.New()
	entries = []Entry{
		{EmbeddingID: uuid.New(), PersonID: alice, Name: "alice", Vector: vec(1, 0)},
		{EmbeddingID: uuid.New(), PersonID: alice, Name: "alice", Vector: vec(0.9, 0)},
		{EmbeddingID: uuid.New(), PersonID: bob, Name: "bob", Vector: vec(0, 1)},
	}
	return alice, bob, entries
}

func TestMatcherAcceptsWithinTolerance(t *testing.T) {
	alice, _, entries := enrollment(t)
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload(entries)

	// Distance to alice's nearest vector is 0.45.
	res := m.Match(vec(0.45, 0))
	if res.Match == nil {
		t.Fatal("expected a match within tolerance")
	}
	if res.Match.PersonID != alice {
		t.Errorf("matched %v, want alice", res.Match.PersonID)
	}
	if res.Ambiguous {
		t.Error("unambiguous probe flagged ambiguous")
	}
}

func TestMatcherRejectsBeyondTolerance(t *testing.T) {
	_, _, entries := enrollment(t)
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload(entries)

	// Nearest enrolled vector sits 0.65 away, just past the threshold.
	res := m.Match(vec(1.65, 0))
	if !res.Unknown() {
		t.Errorf("probe at distance 0.65 should be unknown, got %+v", res.Match)
	}
}

func TestMatcherBoundaryIsInclusive(t *testing.T) {
	_, _, entries := enrollment(t)
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload(entries)

	// Exactly at tolerance: 1.5 - 0.9 = 0.6.
	res := m.Match(vec(1.5, 0))
	if res.Match == nil {
		t.Error("distance equal to tolerance should match")
	}
}

func TestMatcherEmptyEnrollment(t *testing.T) {
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload(nil)

	if res := m.Match(vec(1, 0)); !res.Unknown() {
		t.Errorf("empty enrollment should yield unknown, got %+v", res)
	}
}

func TestMatcherExactTieIsAmbiguous(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload([]Entry{
		{EmbeddingID: uuid.New(), PersonID: a, Name: "a", Vector: vec(0.5, 0)},
		{EmbeddingID: uuid.New(), PersonID: b, Name: "b", Vector: vec(-0.5, 0)},
	})

	// Equidistant from both identities, bit for bit, at distance 0.5
	// inside the tolerance.
	res := m.Match(vec(0, 0))
	if !res.Ambiguous {
		t.Fatal("exact tie across identities must be ambiguous")
	}
	if !res.Unknown() {
		t.Error("ambiguous result must be treated as a non-match")
	}
}

func TestMatcherTieBeyondToleranceIsUnknown(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload([]Entry{
		{EmbeddingID: uuid.New(), PersonID: a, Name: "a", Vector: vec(1, 0)},
		{EmbeddingID: uuid.New(), PersonID: b, Name: "b", Vector: vec(-1, 0)},
	})

	// The tolerance gate runs first; a tie between candidates that are
	// both too far away is a plain non-match, not an ambiguity.
	res := m.Match(vec(0, 0))
	if res.Ambiguous {
		t.Error("out-of-tolerance tie must not be flagged ambiguous")
	}
	if !res.Unknown() {
		t.Errorf("probe at distance 1.0 should be unknown, got %+v", res.Match)
	}
}

func TestMatcherTieWithinIdentityIsNotAmbiguous(t *testing.T) {
	a := uuid.New()
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload([]Entry{
		{EmbeddingID: uuid.New(), PersonID: a, Name: "a", Vector: vec(0.5, 0)},
		{EmbeddingID: uuid.New(), PersonID: a, Name: "a", Vector: vec(-0.5, 0)},
	})

	res := m.Match(vec(0, 0))
	if res.Ambiguous {
		t.Error("tie between vectors of one identity is not ambiguous")
	}
	if res.Match == nil {
		t.Error("probe within tolerance of single identity should match")
	}
}

func TestMatcherPicksClosestVectorPerIdentity(t *testing.T) {
	alice, bob, entries := enrollment(t)
	m := NewMatcher(NewBruteForce(), 0.6)
	m.Reload(entries)

	res := m.Match(vec(0.9, 0))
	if res.Match == nil || res.Match.PersonID != alice {
		t.Fatalf("expected alice, got %+v", res.Match)
	}
	if res.Match.PersonID == bob {
		t.Error("matched the wrong identity")
	}
	if res.Match.Distance != 0 {
		t.Errorf("distance = %v, want 0 (closest of alice's vectors)", res.Match.Distance)
	}
}

func TestBruteForceNearestOrdering(t *testing.T) {
	_, _, entries := enrollment(t)
	bf := NewBruteForce()
	bf.Rebuild(entries)

	matches := bf.Nearest(vec(1, 0), 2)
	if len(matches) != 2 {
		t.Fatalf("Nearest returned %d matches, want 2", len(matches))
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("Nearest results not ordered by ascending distance")
	}
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit apart", []float32{0, 0}, []float32{1, 0}, 1},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EuclideanDistance(tt.a, tt.b); got != tt.want {
				t.Errorf("EuclideanDistance() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := EuclideanDistance([]float32{1}, []float32{1, 2}); !math.IsInf(float64(got), 1) {
		t.Errorf("mismatched lengths = %v, want +Inf", got)
	}
}

func TestHNSWIndexFindsNearest(t *testing.T) {
	alice, _, entries := enrollment(t)
	m := NewMatcher(NewHNSWIndex(), 0.6)
	m.Reload(entries)

	res := m.Match(vec(0.95, 0))
	if res.Match == nil {
		t.Fatal("expected a match from the hnsw index")
	}
	if res.Match.PersonID != alice {
		t.Errorf("matched %v, want alice", res.Match.PersonID)
	}
}
