package vision

import "testing"

func det(x1, y1, x2, y2, conf float32) Detection {
	return Detection{BBox: [4]float32{x1, y1, x2, y2}, Confidence: conf}
}

func TestTrackerAssociatesByIoU(t *testing.T) {
	tr := NewTracker("s1", 30, 3)

	updates, _ := tr.Update([]Detection{det(100, 100, 200, 200, 0.9)})
	if len(updates) != 1 || !updates[0].IsNew {
		t.Fatalf("first detection should create a track: %+v", updates)
	}
	id := updates[0].Track.ID

	// Slightly shifted box matches the same track.
	updates, _ = tr.Update([]Detection{det(105, 102, 205, 202, 0.9)})
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].IsNew || updates[0].Track.ID != id {
		t.Errorf("shifted detection spawned a new track: %+v", updates[0])
	}
	if updates[0].Track.Hits != 2 {
		t.Errorf("Hits = %d, want 2", updates[0].Track.Hits)
	}
}

func TestTrackerSeparatesDistantFaces(t *testing.T) {
	tr := NewTracker("s1", 30, 3)

	updates, _ := tr.Update([]Detection{
		det(0, 0, 50, 50, 0.9),
		det(300, 300, 350, 350, 0.8),
	})
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].Track.ID == updates[1].Track.ID {
		t.Error("distant detections share a track")
	}
	if tr.TrackCount() != 2 {
		t.Errorf("TrackCount() = %d, want 2", tr.TrackCount())
	}
}

func TestTrackerConfirmation(t *testing.T) {
	tr := NewTracker("s1", 30, 3)

	var track *Track
	for i := 0; i < 3; i++ {
		updates, _ := tr.Update([]Detection{det(100, 100, 200, 200, 0.9)})
		track = updates[0].Track
		confirmed := tr.Confirmed(track)
		if i < 2 && confirmed {
			t.Errorf("track confirmed after %d hits, min is 3", i+1)
		}
		if i == 2 && !confirmed {
			t.Error("track not confirmed after 3 hits")
		}
	}
}

func TestTrackerDropsStaleTracks(t *testing.T) {
	maxAge := 5
	tr := NewTracker("s1", maxAge, 3)

	updates, _ := tr.Update([]Detection{det(100, 100, 200, 200, 0.9)})
	id := updates[0].Track.ID

	var dropped []*Track
	for i := 0; i <= maxAge; i++ {
		_, dropped = tr.Update(nil)
	}
	if len(dropped) != 1 || dropped[0].ID != id {
		t.Fatalf("dropped = %+v, want the stale track %s", dropped, id)
	}
	if tr.TrackCount() != 0 {
		t.Errorf("TrackCount() = %d after drop, want 0", tr.TrackCount())
	}
}

func TestTrackerDrain(t *testing.T) {
	tr := NewTracker("s1", 30, 3)
	tr.Update([]Detection{det(0, 0, 50, 50, 0.9), det(300, 300, 350, 350, 0.8)})

	drained := tr.Drain()
	if len(drained) != 2 {
		t.Errorf("Drain() returned %d tracks, want 2", len(drained))
	}
	if tr.TrackCount() != 0 {
		t.Errorf("TrackCount() = %d after Drain, want 0", tr.TrackCount())
	}
}
