package identify

import (
	"github.com/coder/hnsw"
	"github.com/google/uuid"
)

const hnswMaxNeighbors = 16

// HNSWIndex is an approximate nearest-neighbour strategy over a
// hierarchical navigable small-world graph. Same interface as
// BruteForce; intended for enrollments too large for a linear scan.
// Approximate search cannot guarantee exact-tie detection, so ambiguity
// rejection degrades to best-effort with this strategy.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	entries map[string]Entry // embedding id → entry
}

func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{entries: make(map[string]Entry)}
}

func (h *HNSWIndex) Rebuild(entries []Entry) {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	h.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		// Graph keys must be ordered, so embedding ids go in as strings.
		key := e.EmbeddingID.String()
		g.Add(hnsw.MakeNode(key, e.Vector))
		h.entries[key] = e
	}
	h.graph = g
}

func (h *HNSWIndex) Nearest(probe []float32, k int) []Match {
	if h.graph == nil || len(h.entries) == 0 {
		return nil
	}

	// Over-fetch so that several vectors of the same identity do not
	// crowd out the runner-up identity needed for tie detection.
	neighbors := h.graph.Search(probe, k*hnswMaxNeighbors)

	var matches []Match
	seen := make(map[uuid.UUID]bool)
	for _, n := range neighbors {
		e, ok := h.entries[n.Key]
		if !ok || seen[e.PersonID] {
			continue
		}
		seen[e.PersonID] = true
		matches = append(matches, Match{
			PersonID: e.PersonID,
			Name:     e.Name,
			Distance: EuclideanDistance(probe, e.Vector),
		})
		if len(matches) == k {
			break
		}
	}
	return matches
}
