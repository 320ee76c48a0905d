package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/emotion"
	"github.com/your-org/verid/internal/identify"
	"github.com/your-org/verid/internal/liveness"
	"github.com/your-org/verid/internal/models"
)

// --- fakes -----------------------------------------------------------------

type fakeBackend struct {
	queue [][]Detection
	calls int
}

func (f *fakeBackend) Detect(_ []float32, _, _ int) ([]Detection, error) {
	if f.calls >= len(f.queue) {
		return nil, nil
	}
	dets := f.queue[f.calls]
	f.calls++
	return dets, nil
}
func (f *fakeBackend) InputSize() (int, int)              { return 640, 640 }
func (f *fakeBackend) Preprocess(_ image.Image) []float32 { return nil }
func (f *fakeBackend) Close()                             {}

type fakeStore struct {
	objects map[string][]byte
	puts    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return nil
}

type fakePublisher struct {
	events []models.PipelineEvent
}

func (f *fakePublisher) PublishEvent(_ context.Context, _ string, ev models.PipelineEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) byType(t models.EventType) []models.PipelineEvent {
	var out []models.PipelineEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeEmbedder struct {
	vector []float32
	calls  int
}

func (f *fakeEmbedder) Preprocess(_ image.Image) []float32 { return nil }
func (f *fakeEmbedder) Extract(_ []float32) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

type fakeClassifier struct {
	scores emotion.Scores
}

func (f *fakeClassifier) Classify(_ *image.Gray) (emotion.Scores, error) {
	return f.scores, nil
}

type fakeMatcher struct {
	result identify.Result
}

func (f *fakeMatcher) Match(_ []float32) identify.Result { return f.result }

type fakeMarker struct {
	marked map[string]bool
	calls  int
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marked: make(map[string]bool)}
}

func (f *fakeMarker) Mark(_ context.Context, personID uuid.UUID, name string, seen time.Time) (models.AttendanceRecord, bool, error) {
	f.calls++
	key := personID.String() + "|" + seen.Format("2006-01-02")
	created := !f.marked[key]
	f.marked[key] = true
	return models.AttendanceRecord{
		PersonID:  personID,
		Name:      name,
		Date:      seen.Format("2006-01-02"),
		FirstSeen: seen,
		LastSeen:  seen,
		Status:    models.StatusPresent,
	}, created, nil
}

// --- frame synthesis -------------------------------------------------------

const (
	frameW = 640
	frameH = 480
)

var baseBBox = [4]float32{200, 140, 360, 300}

func landmarksFor(bbox [4]float32) [5][2]float32 {
	return [5][2]float32{
		{bbox[0] + 50, bbox[1] + 50}, // left eye
		{bbox[0] + 110, bbox[1] + 50}, // right eye
		{bbox[0] + 80, bbox[1] + 90},
		{bbox[0] + 60, bbox[1] + 120},
		{bbox[0] + 100, bbox[1] + 120},
	}
}

func shifted(bbox [4]float32, dx float32) [4]float32 {
	return [4]float32{bbox[0] + dx, bbox[1], bbox[2] + dx, bbox[3]}
}

func fillRect(img *image.Gray, x1, y1, x2, y2 int, v uint8) {
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// drawEye stamps a bright patch with a dark pupil bar: tall for an open
// eye, a flat strip for a closed one.
func drawEye(img *image.Gray, cx, cy int, open bool) {
	fillRect(img, cx-20, cy-20, cx+20, cy+20, 220)
	if open {
		fillRect(img, cx-3, cy-12, cx+3, cy+12, 30)
	} else {
		fillRect(img, cx-18, cy-1, cx+18, cy+1, 30)
	}
}

// syntheticFrame renders a noise background (skin-like texture in the
// face crop) with eyes drawn at the landmark positions.
func syntheticFrame(bbox [4]float32, eyesOpen bool) *image.Gray {
	rng := rand.New(rand.NewSource(42))
	img := image.NewGray(image.Rect(0, 0, frameW, frameH))
	for y := 0; y < frameH; y++ {
		for x := 0; x < frameW; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}
	lm := landmarksFor(bbox)
	drawEye(img, int(lm[0][0]), int(lm[0][1]), eyesOpen)
	drawEye(img, int(lm[1][0]), int(lm[1][1]), eyesOpen)
	return img
}

// darkFrame renders an underexposed flat face, failing the quality gate.
func darkFrame() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frameW, frameH))
	fillRect(img, 0, 0, frameW, frameH, 20)
	return img
}

func happyScores() emotion.Scores {
	s := scoresWith(0.9)
	return s
}

func scoresWith(happy float64) emotion.Scores {
	var s emotion.Scores
	rest := (1 - happy) / 6
	for i := range s {
		s[i] = rest
	}
	s[3] = happy // happy index in emotion.Labels
	return s
}

// --- harness ---------------------------------------------------------------

type pipelineHarness struct {
	pipeline *Pipeline
	backend  *fakeBackend
	store    *fakeStore
	events   *fakePublisher
	embedder *fakeEmbedder
	marker   *fakeMarker
	smoother *emotion.Smoother
	streamID uuid.UUID
	start    time.Time
}

func newHarness(t *testing.T, matchResult identify.Result) *pipelineHarness {
	t.Helper()

	backend := &fakeBackend{}
	store := newFakeStore()
	events := &fakePublisher{}
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0, 0}}
	marker := newFakeMarker()
	smoother := emotion.NewSmoother(10, 0.5)

	p := NewPipeline(Deps{
		Backend:  backend,
		Embedder: embedder,
		Emotion:  &fakeClassifier{scores: happyScores()},
		Quality:  NewQualityAssessor(0.5, 80, 180, 100, 6400),
		Matcher:  &fakeMatcher{result: matchResult},
		Marker:   marker,
		Smoother: smoother,
		Store:    store,
		Producer: events,
	}, liveness.Config{
		Window:           3 * time.Second,
		MinBlinks:        1,
		EARThreshold:     0.21,
		BlinkFrames:      2,
		MotionThreshold:  0.5,
		TextureThreshold: 100,
	}, config.TrackingConfig{MaxAge: 30, MinHits: 1})

	return &pipelineHarness{
		pipeline: p,
		backend:  backend,
		store:    store,
		events:   events,
		embedder: embedder,
		marker:   marker,
		smoother: smoother,
		streamID: uuid.New(),
		start:    time.Date(2026, 8, 25, 8, 30, 0, 0, time.UTC),
	}
}

func (h *pipelineHarness) feed(t *testing.T, img image.Image, bbox [4]float32, offset time.Duration) {
	t.Helper()
	h.backend.queue = append(h.backend.queue, []Detection{{
		BBox:       bbox,
		Confidence: 0.9,
		Landmarks:  landmarksFor(bbox),
	}})
	task := models.FrameTask{
		StreamID:  h.streamID,
		FrameID:   uuid.New(),
		Timestamp: h.start.Add(offset),
		Full:      true,
	}
	if err := h.pipeline.processImage(context.Background(), task, img); err != nil {
		t.Fatalf("processImage at %v: %v", offset, err)
	}
}

func matchFor(personID uuid.UUID) identify.Result {
	return identify.Result{Match: &identify.Match{PersonID: personID, Name: "alice", Distance: 0.42}}
}

// liveSequence drives a track through blink, movement and skin texture
// to a Live verdict.
func liveSequence(t *testing.T, h *pipelineHarness) {
	t.Helper()
	step := 300 * time.Millisecond
	frames := []struct {
		dx   float32
		open bool
	}{
		{0, true}, {3, true}, {3, true}, {9, true},
		{9, false}, {3, false}, {10, true}, {2, true},
	}
	for i, f := range frames {
		bbox := shifted(baseBBox, f.dx)
		h.feed(t, syntheticFrame(bbox, f.open), bbox, time.Duration(i)*step)
	}
}

// --- tests -----------------------------------------------------------------

func TestPipelineVerifiesLiveFace(t *testing.T) {
	personID := uuid.New()
	h := newHarness(t, matchFor(personID))

	liveSequence(t, h)

	verified := h.events.byType(models.EventFaceVerified)
	if len(verified) != 1 {
		t.Fatalf("face_verified events = %d, want 1 (all: %v)", len(verified), eventTypes(h.events.events))
	}
	ev := verified[0]
	if ev.PersonID == nil || *ev.PersonID != personID {
		t.Errorf("verified person = %v, want %v", ev.PersonID, personID)
	}
	if ev.SnapshotKey == "" {
		t.Error("verified event missing snapshot key")
	}
	if _, err := h.store.GetObject(context.Background(), ev.SnapshotKey); err != nil {
		t.Errorf("snapshot not stored: %v", err)
	}

	if marked := h.events.byType(models.EventAttendanceMarked); len(marked) != 1 {
		t.Errorf("attendance_marked events = %d, want 1", len(marked))
	}
	if h.marker.calls != 1 {
		t.Errorf("marker calls = %d, want 1", h.marker.calls)
	}

	if emo := h.events.byType(models.EventEmotionUpdate); len(emo) == 0 {
		t.Error("no emotion_update after verification")
	} else if emo[0].Emotion != "happy" {
		t.Errorf("emotion = %q, want happy", emo[0].Emotion)
	}

	if failed := h.events.byType(models.EventLivenessFailed); len(failed) != 0 {
		t.Errorf("unexpected liveness_failed events: %+v", failed)
	}
}

func TestPipelineEmotionObservedOncePerFrame(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	liveSequence(t, h)

	// The verification frame feeds the smoother exactly once; a doubled
	// observation shows up as two updates sharing a frame timestamp.
	perFrame := make(map[time.Time]int)
	for _, ev := range h.events.byType(models.EventEmotionUpdate) {
		perFrame[ev.Timestamp]++
	}
	if len(perFrame) == 0 {
		t.Fatal("no emotion_update events after verification")
	}
	for ts, n := range perFrame {
		if n != 1 {
			t.Errorf("emotion_update events at %v = %d, want 1", ts, n)
		}
	}
}

func TestPipelineEmotionHistorySurvivesTrackLoss(t *testing.T) {
	personID := uuid.New()
	h := newHarness(t, matchFor(personID))

	liveSequence(t, h)
	h.pipeline.AbortStream(context.Background(), h.streamID)

	// History is pruned only by an explicit reset, never by a track
	// ending.
	if got := h.smoother.Current(personID.String()); got.Label != "happy" {
		t.Errorf("smoothed label after track loss = %q, want happy", got.Label)
	}
}

func TestPipelineSpoofedPhotoNeverReachesMatching(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	// The same frame replayed with a static box: no blink, no motion.
	img := syntheticFrame(baseBBox, true)
	step := 500 * time.Millisecond
	for i := 0; i <= 8; i++ {
		h.feed(t, img, baseBBox, time.Duration(i)*step)
	}

	failed := h.events.byType(models.EventLivenessFailed)
	if len(failed) != 1 {
		t.Fatalf("liveness_failed events = %d, want 1 (all: %v)", len(failed), eventTypes(h.events.events))
	}
	if failed[0].Reason == "" {
		t.Error("liveness_failed event missing reason")
	}
	if h.embedder.calls != 0 {
		t.Error("spoofed track must not be embedded")
	}
	if len(h.events.byType(models.EventFaceVerified)) != 0 {
		t.Error("spoofed track produced face_verified")
	}
	if h.marker.calls != 0 {
		t.Error("spoofed track marked attendance")
	}
}

func TestPipelineQualityRejectSkipsLiveness(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	h.feed(t, darkFrame(), baseBBox, 0)

	rejected := h.events.byType(models.EventQualityRejected)
	if len(rejected) != 1 {
		t.Fatalf("quality_rejected events = %d, want 1", len(rejected))
	}
	if rejected[0].Quality >= 0.5 {
		t.Errorf("rejected quality = %v, want < 0.5", rejected[0].Quality)
	}

	// A rejected crop must not open a liveness session.
	if n := len(h.pipeline.sessions); n != 0 {
		t.Errorf("sessions open after quality reject = %d, want 0", n)
	}
}

func TestPipelineUnknownFace(t *testing.T) {
	h := newHarness(t, identify.Result{})

	liveSequence(t, h)

	if unknown := h.events.byType(models.EventUnknownFace); len(unknown) != 1 {
		t.Fatalf("unknown_face events = %d, want 1 (all: %v)", len(unknown), eventTypes(h.events.events))
	}
	if len(h.events.byType(models.EventFaceVerified)) != 0 {
		t.Error("unknown probe produced face_verified")
	}
	if h.marker.calls != 0 {
		t.Error("unknown probe marked attendance")
	}
	if len(h.store.puts) != 0 {
		t.Error("unknown probe stored a snapshot")
	}
}

func TestPipelineAmbiguousMatchIsNonMatch(t *testing.T) {
	h := newHarness(t, identify.Result{Ambiguous: true})

	liveSequence(t, h)

	if amb := h.events.byType(models.EventAmbiguousMatch); len(amb) != 1 {
		t.Fatalf("ambiguous_match events = %d, want 1 (all: %v)", len(amb), eventTypes(h.events.events))
	}
	if len(h.events.byType(models.EventFaceVerified)) != 0 {
		t.Error("ambiguous probe produced face_verified")
	}
	if h.marker.calls != 0 {
		t.Error("ambiguous probe marked attendance")
	}
}

func TestPipelineOutOfOrderFrameIsAnError(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	img := syntheticFrame(baseBBox, true)
	h.feed(t, img, baseBBox, time.Second)

	// Feed an older frame by hand; the error must surface, not be
	// silently corrected.
	h.backend.queue = append(h.backend.queue, []Detection{{
		BBox: baseBBox, Confidence: 0.9, Landmarks: landmarksFor(baseBBox),
	}})
	task := models.FrameTask{
		StreamID:  h.streamID,
		FrameID:   uuid.New(),
		Timestamp: h.start,
		Full:      true,
	}
	err := h.pipeline.processImage(context.Background(), task, img)
	if !errors.Is(err, liveness.ErrOutOfOrderFrame) {
		t.Fatalf("err = %v, want ErrOutOfOrderFrame", err)
	}
}

func TestPipelineAbortStreamResolvesPendingSessions(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	img := syntheticFrame(baseBBox, true)
	h.feed(t, img, baseBBox, 0)
	h.feed(t, img, baseBBox, 300*time.Millisecond)

	if n := len(h.pipeline.sessions); n != 1 {
		t.Fatalf("setup: sessions = %d, want 1", n)
	}

	h.pipeline.AbortStream(context.Background(), h.streamID)

	failed := h.events.byType(models.EventLivenessFailed)
	if len(failed) != 1 {
		t.Fatalf("liveness_failed events after abort = %d, want 1", len(failed))
	}
	if failed[0].Reason != "tracking lost" {
		t.Errorf("abort reason = %q, want tracking lost", failed[0].Reason)
	}
	if n := len(h.pipeline.sessions); n != 0 {
		t.Errorf("sessions after abort = %d, want 0", n)
	}
	if n := len(h.pipeline.trackers); n != 0 {
		t.Errorf("trackers after abort = %d, want 0", n)
	}
}

func TestPipelineDetectOnlyFramesSkipCompute(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	h.backend.queue = append(h.backend.queue, []Detection{{
		BBox: baseBBox, Confidence: 0.9, Landmarks: landmarksFor(baseBBox),
	}})
	task := models.FrameTask{
		StreamID:  h.streamID,
		FrameID:   uuid.New(),
		Timestamp: h.start,
		Full:      false,
	}
	if err := h.pipeline.processImage(context.Background(), task, syntheticFrame(baseBBox, true)); err != nil {
		t.Fatalf("processImage: %v", err)
	}

	if len(h.events.events) != 0 {
		t.Errorf("detect-only frame emitted events: %v", eventTypes(h.events.events))
	}
	if len(h.pipeline.sessions) != 0 {
		t.Error("detect-only frame opened a liveness session")
	}
	// The tracker still advanced.
	if h.pipeline.getTracker(h.streamID).TrackCount() != 1 {
		t.Error("detect-only frame did not update the tracker")
	}
}

func TestPipelineEmbedImage(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))

	t.Run("good face", func(t *testing.T) {
		h.backend.queue = append(h.backend.queue, []Detection{{
			BBox: baseBBox, Confidence: 0.9, Landmarks: landmarksFor(baseBBox),
		}})
		data := EncodeJPEG(syntheticFrame(baseBBox, true), 90)

		vec, quality, err := h.pipeline.EmbedImage(data)
		if err != nil {
			t.Fatalf("EmbedImage: %v", err)
		}
		if len(vec) == 0 {
			t.Error("empty embedding")
		}
		if quality < 0.5 {
			t.Errorf("quality = %v, want >= 0.5", quality)
		}
	})

	t.Run("no face", func(t *testing.T) {
		data := EncodeJPEG(syntheticFrame(baseBBox, true), 90)
		if _, _, err := h.pipeline.EmbedImage(data); err == nil {
			t.Error("EmbedImage with no detections should error")
		}
	})

	t.Run("poor quality", func(t *testing.T) {
		h.backend.queue = append(h.backend.queue, []Detection{{
			BBox: baseBBox, Confidence: 0.9, Landmarks: landmarksFor(baseBBox),
		}})
		data := EncodeJPEG(darkFrame(), 90)
		if _, _, err := h.pipeline.EmbedImage(data); err == nil {
			t.Error("EmbedImage on a dark flat face should fail the quality gate")
		}
	})

	t.Run("garbage bytes", func(t *testing.T) {
		if _, _, err := h.pipeline.EmbedImage([]byte("not an image")); err == nil {
			t.Error("EmbedImage on non-image data should error")
		}
	})
}

func TestPipelineProcessFrameMissingObject(t *testing.T) {
	h := newHarness(t, matchFor(uuid.New()))
	task := models.FrameTask{
		StreamID:  h.streamID,
		FrameID:   uuid.New(),
		Timestamp: h.start,
		FrameRef:  "frames/missing.jpg",
		Full:      true,
	}
	if err := h.pipeline.ProcessFrame(context.Background(), task); err == nil {
		t.Error("missing frame object should error")
	}
}

func eventTypes(events []models.PipelineEvent) []models.EventType {
	types := make([]models.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
