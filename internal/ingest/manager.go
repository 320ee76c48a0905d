package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/observability"
)

// maxBufferedFrames bounds the capture-to-upload queue. Small on
// purpose: a stale frame is worth less than a fresh one.
const maxBufferedFrames = 2

// FramePublisher pushes frame tasks onto the work queue.
type FramePublisher interface {
	PublishFrame(ctx context.Context, streamID string, task models.FrameTask) error
}

// FrameStore persists raw frame blobs.
type FrameStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// StatusStore records stream lifecycle transitions.
type StatusStore interface {
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
}

// StreamCommand is a start/stop command from the API, delivered over
// the control subject.
type StreamCommand struct {
	Action   string `json:"action"` // start, stop
	StreamID string `json:"stream_id"`
	Source   string `json:"source"`
	Type     string `json:"type"` // rtsp, http, device
	FPS      int    `json:"fps"`
}

type activeStream struct {
	cancel    context.CancelFunc
	extractor *FFmpegExtractor
	buffer    *FrameBuffer
}

// Manager owns camera stream lifecycles: it spawns an FFmpeg extractor
// per stream, gates and buffers its frames, uploads admitted frames and
// publishes frame tasks.
type Manager struct {
	producer FramePublisher
	store    FrameStore
	db       StatusStore
	width    int
	skipN    int
	skipM    int

	mu      sync.RWMutex
	streams map[string]*activeStream
}

func NewManager(producer FramePublisher, store FrameStore, db StatusStore, frameWidth, skipN, skipM int) *Manager {
	return &Manager{
		producer: producer,
		store:    store,
		db:       db,
		width:    frameWidth,
		skipN:    skipN,
		skipM:    skipM,
		streams:  make(map[string]*activeStream),
	}
}

// HandleCommand processes a stream control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd StreamCommand) error {
	switch cmd.Action {
	case "start":
		return m.startStream(ctx, cmd)
	case "stop":
		return m.stopStream(cmd.StreamID)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (m *Manager) startStream(ctx context.Context, cmd StreamCommand) error {
	m.mu.Lock()
	if _, exists := m.streams[cmd.StreamID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("stream %s already running", cmd.StreamID)
	}
	m.mu.Unlock()

	fps := cmd.FPS
	if fps <= 0 {
		fps = 5
	}

	streamCtx, cancel := context.WithCancel(ctx)
	extractor := &FFmpegExtractor{}
	buffer := NewFrameBuffer(maxBufferedFrames)

	as := &activeStream{
		cancel:    cancel,
		extractor: extractor,
		buffer:    buffer,
	}

	m.mu.Lock()
	m.streams[cmd.StreamID] = as
	m.mu.Unlock()

	observability.ActiveStreams.Inc()
	m.updateStatus(cmd.StreamID, models.StreamStatusRunning, "")

	slog.Info("starting stream ingestion", "stream_id", cmd.StreamID, "source", cmd.Source, "fps", fps)

	go m.uploadLoop(streamCtx, cmd.StreamID, buffer)

	// Extraction runs with retry; the buffer decouples it from upload.
	go func() {
		defer func() {
			buffer.Close()
			m.mu.Lock()
			delete(m.streams, cmd.StreamID)
			m.mu.Unlock()
			observability.ActiveStreams.Dec()
			slog.Info("stream ingestion stopped", "stream_id", cmd.StreamID)
		}()

		const maxRetries = 3
		var captureIndex uint64

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := time.Duration(1<<uint(attempt)) * time.Second // 2s, 4s, 8s
				slog.Warn("retrying stream extraction",
					"stream_id", cmd.StreamID,
					"attempt", attempt,
					"delay", delay,
				)
				select {
				case <-streamCtx.Done():
					m.updateStatus(cmd.StreamID, models.StreamStatusStopped, "")
					return
				case <-time.After(delay):
				}
				extractor = &FFmpegExtractor{}
			}

			err := extractor.StartExtraction(streamCtx, cmd.Source, fps, m.width, func(frameData []byte) error {
				// Timestamp at capture so buffering cannot reorder.
				buffer.Push(CapturedFrame{
					Index:     captureIndex,
					Timestamp: time.Now(),
					Data:      frameData,
				})
				captureIndex++
				return nil
			})

			if err == nil || streamCtx.Err() != nil {
				m.updateStatus(cmd.StreamID, models.StreamStatusStopped, "")
				return
			}

			slog.Error("stream extraction failed",
				"stream_id", cmd.StreamID,
				"attempt", attempt,
				"error", err,
			)
		}

		m.updateStatus(cmd.StreamID, models.StreamStatusError, "stream failed after retries")
	}()

	return nil
}

// uploadLoop drains the frame buffer: gate, upload admitted frames to
// the object store and publish their tasks. Runs until the buffer is
// closed and empty.
func (m *Manager) uploadLoop(ctx context.Context, streamID string, buffer *FrameBuffer) {
	gate := NewFrameGate(m.skipN, m.skipM)
	streamUUID, err := uuid.Parse(streamID)
	if err != nil {
		slog.Error("invalid stream id", "stream_id", streamID, "error", err)
		return
	}

	var seq uint64
	for {
		frame, ok := buffer.Pop()
		if !ok {
			return
		}

		level := gate.Admit(frame.Index)
		if level == LevelSkip {
			continue
		}

		frameID := uuid.New()
		key := fmt.Sprintf("frames/%s/%s.jpg", streamID, frameID.String())
		if err := m.store.PutObject(ctx, key, frame.Data, "image/jpeg"); err != nil {
			slog.Error("upload frame", "stream_id", streamID, "error", err)
			continue
		}

		task := models.FrameTask{
			StreamID:  streamUUID,
			FrameID:   frameID,
			Seq:       seq,
			Timestamp: frame.Timestamp,
			FrameRef:  key,
			Width:     m.width,
			Full:      level == LevelFull,
		}
		seq++

		if err := m.producer.PublishFrame(ctx, streamID, task); err != nil {
			slog.Error("publish frame task", "stream_id", streamID, "error", err)
		}
	}
}

func (m *Manager) stopStream(streamID string) error {
	m.mu.RLock()
	as, exists := m.streams[streamID]
	m.mu.RUnlock()

	if !exists {
		return nil // already stopped
	}

	as.extractor.Stop()
	as.cancel()

	slog.Info("stop command sent", "stream_id", streamID)
	return nil
}

func (m *Manager) updateStatus(streamID string, status models.StreamStatus, errMsg string) {
	id, err := uuid.Parse(streamID)
	if err != nil {
		return
	}
	if err := m.db.UpdateStreamStatus(context.Background(), id, status, errMsg); err != nil {
		slog.Error("update stream status", "stream_id", streamID, "error", err)
	}
}

// ActiveCount returns the number of currently running streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// StopAll stops all running streams.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.stopStream(id)
	}
}

// ParseCommand parses a control message into a StreamCommand.
func ParseCommand(data []byte) (StreamCommand, error) {
	var cmd StreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	return cmd, nil
}
