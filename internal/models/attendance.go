package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceStatus is terminal per (person, date): once a record exists
// its status never changes for that day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
)

// AttendanceRecord is one row of the per-day attendance ledger.
// At most one record exists per (person, date).
type AttendanceRecord struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	PersonID  uuid.UUID        `json:"person_id" db:"person_id"`
	Name      string           `json:"name" db:"name"`
	Date      string           `json:"date" db:"date"` // YYYY-MM-DD
	FirstSeen time.Time        `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time        `json:"last_seen" db:"last_seen"`
	Status    AttendanceStatus `json:"status" db:"status"`
}
