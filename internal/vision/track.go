package vision

import (
	"fmt"
	"sync"
	"time"
)

// Track represents a tracked face across frames of one stream.
type Track struct {
	ID              string
	BBox            [4]float32
	Landmarks       [5][2]float32
	Confidence      float32
	Hits            int // consecutive detection matches
	TimeSinceUpdate int // frames since last detection match
	Embedding       []float32
	LastEmbedded    time.Time
	PersonID        string // matched identity, once verified
	PersonName      string
	Distance        float32
}

// Tracker implements a simple SORT-like IoU tracker. Track identity is
// what scopes liveness sessions and emotion histories upstream.
type Tracker struct {
	mu       sync.Mutex
	tracks   map[string]*Track
	nextID   int
	maxAge   int
	minHits  int
	streamID string
}

// NewTracker creates a tracker for one stream. maxAge is the number of
// frames a track survives without a matching detection; minHits is the
// confirmation threshold before downstream processing starts.
func NewTracker(streamID string, maxAge, minHits int) *Tracker {
	return &Tracker{
		tracks:   make(map[string]*Track),
		maxAge:   maxAge,
		minHits:  minHits,
		streamID: streamID,
	}
}

type TrackUpdate struct {
	Track *Track
	IsNew bool
}

// Update matches detections to existing tracks by IoU, creates tracks
// for unmatched detections, and returns the updates plus the tracks
// dropped this frame.
func (t *Tracker) Update(detections []Detection) (updates []TrackUpdate, dropped []*Track) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, track := range t.tracks {
		track.TimeSinceUpdate++
	}

	trackList := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		trackList = append(trackList, tr)
	}

	matched := make(map[string]bool)
	detMatched := make(map[int]bool)

	for di, det := range detections {
		bestIoU := float32(0.3) // min IoU to associate
		bestTrack := ""

		for _, tr := range trackList {
			if matched[tr.ID] {
				continue
			}
			if v := IoU(det.BBox, tr.BBox); v > bestIoU {
				bestIoU = v
				bestTrack = tr.ID
			}
		}

		if bestTrack != "" {
			tr := t.tracks[bestTrack]
			tr.BBox = det.BBox
			tr.Landmarks = det.Landmarks
			tr.Confidence = det.Confidence
			tr.Hits++
			tr.TimeSinceUpdate = 0
			matched[bestTrack] = true
			detMatched[di] = true

			updates = append(updates, TrackUpdate{Track: tr})
		}
	}

	for di, det := range detections {
		if detMatched[di] {
			continue
		}

		t.nextID++
		tr := &Track{
			ID:         fmt.Sprintf("%s_%d", t.streamID, t.nextID),
			BBox:       det.BBox,
			Landmarks:  det.Landmarks,
			Confidence: det.Confidence,
			Hits:       1,
		}
		t.tracks[tr.ID] = tr

		updates = append(updates, TrackUpdate{Track: tr, IsNew: true})
	}

	for id, tr := range t.tracks {
		if tr.TimeSinceUpdate > t.maxAge {
			delete(t.tracks, id)
			dropped = append(dropped, tr)
		}
	}

	return updates, dropped
}

// Confirmed reports whether the track has enough hits for downstream
// processing.
func (t *Tracker) Confirmed(track *Track) bool {
	return track.Hits >= t.minHits
}

// Drain removes all tracks and returns them, for stream shutdown.
func (t *Tracker) Drain() []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracks := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		tracks = append(tracks, tr)
	}
	t.tracks = make(map[string]*Track)
	return tracks
}

// TrackCount returns the number of active tracks.
func (t *Tracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
