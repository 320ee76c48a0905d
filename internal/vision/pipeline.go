package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/emotion"
	"github.com/your-org/verid/internal/identify"
	"github.com/your-org/verid/internal/liveness"
	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/observability"
)

// ObjectStore provides frame and snapshot blobs.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EventPublisher delivers pipeline events to the notification sink.
// The pipeline only emits; formatting and delivery live elsewhere.
type EventPublisher interface {
	PublishEvent(ctx context.Context, streamID string, ev models.PipelineEvent) error
}

// Identifier resolves a probe embedding against the enrollment set.
type Identifier interface {
	Match(probe []float32) identify.Result
}

// AttendanceMarker records verified sightings at most once per day.
type AttendanceMarker interface {
	Mark(ctx context.Context, personID uuid.UUID, name string, seen time.Time) (models.AttendanceRecord, bool, error)
}

// FaceEmbedder turns a face crop into an identity vector.
type FaceEmbedder interface {
	Preprocess(face image.Image) []float32
	Extract(faceData []float32) ([]float32, error)
}

// EmotionClassifier scores a face crop across the emotion categories.
type EmotionClassifier interface {
	Classify(face *image.Gray) (emotion.Scores, error)
}

// Pipeline orchestrates per-frame processing:
// decode → detect → track → quality → liveness → match → attendance →
// emotion, emitting events along the way. Verification is conjunctive:
// a face reaches matching only through an accepted quality gate and a
// Live verdict.
type Pipeline struct {
	backend  Backend
	embedder FaceEmbedder
	emonet   EmotionClassifier
	quality  *QualityAssessor
	matcher  Identifier
	marker   AttendanceMarker
	smoother *emotion.Smoother
	store    ObjectStore
	producer EventPublisher

	livenessCfg liveness.Config
	trackCfg    config.TrackingConfig

	mu       sync.Mutex
	trackers map[uuid.UUID]*Tracker
	sessions map[string]*liveness.Session
}

// Deps bundles the pipeline collaborators. Model-backed fields may be
// replaced with fakes in tests.
type Deps struct {
	Backend  Backend
	Embedder FaceEmbedder
	Emotion  EmotionClassifier
	Quality  *QualityAssessor
	Matcher  Identifier
	Marker   AttendanceMarker
	Smoother *emotion.Smoother
	Store    ObjectStore
	Producer EventPublisher
}

func NewPipeline(deps Deps, livenessCfg liveness.Config, trackCfg config.TrackingConfig) *Pipeline {
	return &Pipeline{
		backend:     deps.Backend,
		embedder:    deps.Embedder,
		emonet:      deps.Emotion,
		quality:     deps.Quality,
		matcher:     deps.Matcher,
		marker:      deps.Marker,
		smoother:    deps.Smoother,
		store:       deps.Store,
		producer:    deps.Producer,
		livenessCfg: livenessCfg,
		trackCfg:    trackCfg,
		trackers:    make(map[uuid.UUID]*Tracker),
		sessions:    make(map[string]*liveness.Session),
	}
}

// LoadModels builds the ONNX-backed dependency set from config.
func LoadModels(cfg config.DetectionConfig) (Backend, *Embedder, *EmotionNet, error) {
	slog.Info("loading detection backend", "backend", cfg.Backend, "models_dir", cfg.ModelsDir)
	backend, err := NewBackend(cfg.Backend, cfg.ModelsDir, float32(cfg.Threshold))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model")
	emb, err := NewEmbedder(cfg.ModelsDir)
	if err != nil {
		backend.Close()
		return nil, nil, nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("loading emotion model")
	emo, err := NewEmotionNet(cfg.ModelsDir)
	if err != nil {
		backend.Close()
		emb.Close()
		return nil, nil, nil, fmt.Errorf("load emotion classifier: %w", err)
	}

	return backend, emb, emo, nil
}

// ProcessFrame handles one frame task end to end.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	frameData, err := p.store.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("decode jpeg: %w", err)
	}
	return p.processImage(ctx, task, img)
}

func (p *Pipeline) processImage(ctx context.Context, task models.FrameTask, img image.Image) error {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	observability.FramesProcessed.WithLabelValues(task.StreamID.String()).Inc()

	start := time.Now()
	detInput := p.backend.Preprocess(img)
	detections, err := p.backend.Detect(detInput, origW, origH)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	tracker := p.getTracker(task.StreamID)
	updates, dropped := tracker.Update(detections)

	for _, tr := range dropped {
		p.endTrack(ctx, task, tr)
	}

	if len(detections) == 0 {
		return nil
	}
	observability.FacesDetected.WithLabelValues(task.StreamID.String()).Add(float64(len(detections)))

	if !task.Full {
		// Detection-only frames keep the tracker warm; the compute
		// stages wait for the next full frame.
		return nil
	}

	grayFull := ToGray(img)

	for _, upd := range updates {
		if !tracker.Confirmed(upd.Track) {
			continue
		}
		if err := p.processTrack(ctx, task, img, grayFull, upd.Track); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) processTrack(ctx context.Context, task models.FrameTask, img image.Image, grayFull *image.Gray, track *Track) error {
	crop := CropFace(img, track.BBox)
	if crop == nil {
		return nil
	}
	grayCrop := ToGray(crop)

	report := p.quality.Assess(grayCrop)
	if !p.quality.Acceptable(report) {
		observability.QualityRejected.WithLabelValues(task.StreamID.String()).Inc()
		p.publish(ctx, task, models.PipelineEvent{
			Type:      models.EventQualityRejected,
			StreamID:  task.StreamID,
			TrackID:   track.ID,
			Timestamp: task.Timestamp,
			Quality:   float32(report.Overall),
			Reason:    "quality below threshold",
		})
		// Rejected crops never open or feed a liveness session.
		return nil
	}

	session := p.getSession(track.ID, task.Timestamp)
	wasPending := session.Verdict() == liveness.VerdictPending

	verdict, err := session.Observe(liveness.Evidence{
		Timestamp: task.Timestamp,
		EAR:       p.eyeAspect(grayFull, track),
		CenterX:   float64(track.BBox[0]+track.BBox[2]) / 2,
		CenterY:   float64(track.BBox[1]+track.BBox[3]) / 2,
		Crop:      grayCrop,
	})
	if err != nil {
		return fmt.Errorf("liveness: %w", err)
	}

	if wasPending && verdict != liveness.VerdictPending {
		observability.ActiveSessions.Dec()
		observability.LivenessVerdicts.WithLabelValues(string(verdict)).Inc()

		switch verdict {
		case liveness.VerdictLive:
			if err := p.verify(ctx, task, crop, track); err != nil {
				slog.Warn("verification failed", "error", err, "track", track.ID)
			}
		case liveness.VerdictSpoofed, liveness.VerdictInconclusive:
			p.publish(ctx, task, models.PipelineEvent{
				Type:      models.EventLivenessFailed,
				StreamID:  task.StreamID,
				TrackID:   track.ID,
				Timestamp: task.Timestamp,
				Reason:    session.FailureReason(),
			})
		}
	}

	// Verified tracks keep feeding the per-identity emotion history.
	if track.PersonID != "" {
		p.observeEmotion(ctx, task, grayCrop, track)
	}

	return nil
}

// verify runs embedding, matching, snapshot and attendance for a track
// that just went Live. Emotion observation happens once per full frame
// in processTrack, starting with the verification frame.
func (p *Pipeline) verify(ctx context.Context, task models.FrameTask, crop image.Image, track *Track) error {
	start := time.Now()
	embedding, err := p.embedder.Extract(p.embedder.Preprocess(crop))
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	track.Embedding = embedding
	track.LastEmbedded = time.Now()

	start = time.Now()
	res := p.matcher.Match(embedding)
	observability.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	if res.Ambiguous {
		observability.UnknownFaces.WithLabelValues(task.StreamID.String()).Inc()
		p.publish(ctx, task, models.PipelineEvent{
			Type:      models.EventAmbiguousMatch,
			StreamID:  task.StreamID,
			TrackID:   track.ID,
			Timestamp: task.Timestamp,
			Reason:    "multiple identities at equal distance",
		})
		return nil
	}
	if res.Unknown() {
		observability.UnknownFaces.WithLabelValues(task.StreamID.String()).Inc()
		p.publish(ctx, task, models.PipelineEvent{
			Type:      models.EventUnknownFace,
			StreamID:  task.StreamID,
			TrackID:   track.ID,
			Timestamp: task.Timestamp,
		})
		return nil
	}

	match := res.Match
	track.PersonID = match.PersonID.String()
	track.PersonName = match.Name
	track.Distance = match.Distance
	observability.FacesMatched.WithLabelValues(task.StreamID.String()).Inc()

	snapshotKey := fmt.Sprintf("snapshots/%s/%s_%s.jpg",
		task.StreamID.String(), track.ID, task.Timestamp.Format("20060102_150405"))
	if err := p.store.PutObject(ctx, snapshotKey, EncodeJPEG(crop, 85), "image/jpeg"); err != nil {
		slog.Warn("save snapshot", "error", err)
		snapshotKey = ""
	}

	personID := match.PersonID
	p.publish(ctx, task, models.PipelineEvent{
		Type:        models.EventFaceVerified,
		StreamID:    task.StreamID,
		TrackID:     track.ID,
		Timestamp:   task.Timestamp,
		PersonID:    &personID,
		PersonName:  match.Name,
		Distance:    match.Distance,
		SnapshotKey: snapshotKey,
	})

	rec, created, err := p.marker.Mark(ctx, match.PersonID, match.Name, task.Timestamp)
	if err != nil {
		return fmt.Errorf("attendance: %w", err)
	}
	if created {
		observability.AttendanceMarked.WithLabelValues(string(rec.Status)).Inc()
		p.publish(ctx, task, models.PipelineEvent{
			Type:       models.EventAttendanceMarked,
			StreamID:   task.StreamID,
			TrackID:    track.ID,
			Timestamp:  task.Timestamp,
			PersonID:   &personID,
			PersonName: match.Name,
			Status:     rec.Status,
		})
	}
	return nil
}

func (p *Pipeline) observeEmotion(ctx context.Context, task models.FrameTask, grayCrop *image.Gray, track *Track) {
	scores, err := p.emonet.Classify(grayCrop)
	if err != nil {
		slog.Warn("emotion classify", "error", err, "track", track.ID)
		return
	}
	reading := p.smoother.Observe(track.PersonID, scores)
	if reading.Label == emotion.Uncertain {
		return
	}

	personID, err := uuid.Parse(track.PersonID)
	if err != nil {
		return
	}
	p.publish(ctx, task, models.PipelineEvent{
		Type:        models.EventEmotionUpdate,
		StreamID:    task.StreamID,
		TrackID:     track.ID,
		Timestamp:   task.Timestamp,
		PersonID:    &personID,
		PersonName:  track.PersonName,
		Emotion:     reading.Label,
		EmotionConf: float32(reading.Confidence),
	})
}

// EmbedImage extracts an embedding from a standalone image, for the
// enrollment endpoint. Returns the embedding and the quality score of
// the best face.
func (p *Pipeline) EmbedImage(imageData []byte) ([]float32, float64, error) {
	img, err := jpeg.Decode(bytes.NewReader(imageData))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, 0, fmt.Errorf("decode image: %w", err)
		}
	}

	bounds := img.Bounds()
	detInput := p.backend.Preprocess(img)
	detections, err := p.backend.Detect(detInput, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, 0, fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		return nil, 0, fmt.Errorf("no face detected in image")
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	crop := CropFace(img, best.BBox)
	if crop == nil {
		return nil, 0, fmt.Errorf("failed to crop face")
	}

	report := p.quality.Assess(ToGray(crop))
	if !p.quality.Acceptable(report) {
		return nil, report.Overall, fmt.Errorf("face quality %.2f below threshold", report.Overall)
	}

	embedding, err := p.embedder.Extract(p.embedder.Preprocess(crop))
	if err != nil {
		return nil, report.Overall, fmt.Errorf("embed: %w", err)
	}

	return embedding, report.Overall, nil
}

// AbortStream terminates tracking and all pending liveness sessions for
// a stopped stream. Pending sessions resolve Inconclusive.
func (p *Pipeline) AbortStream(ctx context.Context, streamID uuid.UUID) {
	p.mu.Lock()
	tracker, ok := p.trackers[streamID]
	delete(p.trackers, streamID)
	p.mu.Unlock()
	if !ok {
		return
	}

	for _, tr := range tracker.Drain() {
		p.endTrack(ctx, models.FrameTask{StreamID: streamID, Timestamp: time.Now()}, tr)
	}
}

// endTrack aborts the liveness session of a lost track. Emotion history
// is keyed by identity, not track, and survives tracking loss.
func (p *Pipeline) endTrack(ctx context.Context, task models.FrameTask, track *Track) {
	p.mu.Lock()
	session, ok := p.sessions[track.ID]
	delete(p.sessions, track.ID)
	p.mu.Unlock()

	if ok && session.Verdict() == liveness.VerdictPending {
		verdict := session.Abort()
		observability.ActiveSessions.Dec()
		observability.LivenessVerdicts.WithLabelValues(string(verdict)).Inc()
		p.publish(ctx, task, models.PipelineEvent{
			Type:      models.EventLivenessFailed,
			StreamID:  task.StreamID,
			TrackID:   track.ID,
			Timestamp: task.Timestamp,
			Reason:    "tracking lost",
		})
	}
}

// eyeAspect estimates the EAR from patches around the detector's eye
// landmarks. Patch size scales with the face box.
func (p *Pipeline) eyeAspect(grayFull *image.Gray, track *Track) float64 {
	faceW := int(track.BBox[2] - track.BBox[0])
	patch := faceW / 4
	if patch < 4 {
		patch = 4
	}

	left := CropGray(grayFull, int(track.Landmarks[0][0]), int(track.Landmarks[0][1]), patch, patch)
	right := CropGray(grayFull, int(track.Landmarks[1][0]), int(track.Landmarks[1][1]), patch, patch)

	return (liveness.EyeOpenness(left) + liveness.EyeOpenness(right)) / 2
}

func (p *Pipeline) getTracker(streamID uuid.UUID) *Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.trackers[streamID]; ok {
		return t
	}
	t := NewTracker(streamID.String(), p.trackCfg.MaxAge, p.trackCfg.MinHits)
	p.trackers[streamID] = t
	return t
}

func (p *Pipeline) getSession(trackID string, started time.Time) *liveness.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[trackID]; ok {
		return s
	}
	s := liveness.NewSession(trackID, started, p.livenessCfg)
	p.sessions[trackID] = s
	observability.ActiveSessions.Inc()
	return s
}

func (p *Pipeline) publish(ctx context.Context, task models.FrameTask, ev models.PipelineEvent) {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	if err := p.producer.PublishEvent(ctx, task.StreamID.String(), ev); err != nil {
		slog.Error("publish event", "error", err, "type", ev.Type, "track", ev.TrackID)
	}
}

// Close releases the model sessions when they are closeable.
func (p *Pipeline) Close() {
	if p.backend != nil {
		p.backend.Close()
	}
	if c, ok := p.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := p.emonet.(interface{ Close() }); ok {
		c.Close()
	}
}
