package dto

import (
	"time"

	"github.com/google/uuid"
)

// WSEvent is the WebSocket broadcast envelope, a thin projection of a
// pipeline event.
type WSEvent struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	StreamID    uuid.UUID  `json:"stream_id"`
	TrackID     string     `json:"track_id"`
	Timestamp   time.Time  `json:"timestamp"`
	PersonID    *uuid.UUID `json:"person_id,omitempty"`
	PersonName  string     `json:"person_name,omitempty"`
	Distance    float32    `json:"distance,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Emotion     string     `json:"emotion,omitempty"`
	EmotionConf float32    `json:"emotion_confidence,omitempty"`
	Status      string     `json:"status,omitempty"`
	SnapshotKey string     `json:"snapshot_key,omitempty"`
}

type EventListResponse struct {
	Events []WSEvent `json:"events"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}
