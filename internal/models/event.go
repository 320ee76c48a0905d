package models

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask is the message published to NATS for worker processing.
// Seq is the capture-order index within the stream; the worker relies on
// non-decreasing timestamps for blink and window logic.
type FrameTask struct {
	StreamID  uuid.UUID `json:"stream_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
	Full      bool      `json:"full"` // run liveness/matching/emotion, not just detection
}

// EventType enumerates the discrete events the pipeline emits to the
// notification sink. Formatting and delivery are the subscriber's concern.
type EventType string

const (
	EventFaceVerified     EventType = "face_verified"
	EventLivenessFailed   EventType = "liveness_failed"
	EventUnknownFace      EventType = "unknown_face"
	EventAmbiguousMatch   EventType = "ambiguous_match"
	EventQualityRejected  EventType = "quality_rejected"
	EventAttendanceMarked EventType = "attendance_marked"
	EventEmotionUpdate    EventType = "emotion_update"
)

// PipelineEvent is the output of the verification pipeline for one face
// on one frame, published on the EVENTS stream.
type PipelineEvent struct {
	ID          uuid.UUID        `json:"id"`
	Type        EventType        `json:"type"`
	StreamID    uuid.UUID        `json:"stream_id"`
	TrackID     string           `json:"track_id"`
	Timestamp   time.Time        `json:"timestamp"`
	PersonID    *uuid.UUID       `json:"person_id,omitempty"`
	PersonName  string           `json:"person_name,omitempty"`
	Distance    float32          `json:"distance,omitempty"`
	Reason      string           `json:"reason,omitempty"` // liveness failure / rejection detail
	Quality     float32          `json:"quality,omitempty"`
	Emotion     string           `json:"emotion,omitempty"`
	EmotionConf float32          `json:"emotion_confidence,omitempty"`
	Status      AttendanceStatus `json:"status,omitempty"`
	SnapshotKey string           `json:"snapshot_key,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
