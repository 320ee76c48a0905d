package dto

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceRecordResponse struct {
	ID        uuid.UUID `json:"id"`
	PersonID  uuid.UUID `json:"person_id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Status    string    `json:"status"`
}

type AttendanceReportResponse struct {
	Date    string                     `json:"date"`
	Records []AttendanceRecordResponse `json:"records"`
	Summary map[string]int             `json:"summary"`
	Total   int                        `json:"total"`
}

// EmotionStatsResponse is the smoothed emotion state for one identity.
type EmotionStatsResponse struct {
	PersonID   uuid.UUID `json:"person_id"`
	Name       string    `json:"name"`
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
}
