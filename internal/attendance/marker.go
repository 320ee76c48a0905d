// Package attendance turns verified sightings into at-most-one
// attendance record per person per day.
package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/verid/internal/models"
)

// Ledger is the durable attendance store. RecordIfAbsent must be
// idempotent: when a record already exists for (personID, date) it
// returns that record with created=false and changes nothing.
type Ledger interface {
	RecordIfAbsent(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error)
	UpdateLastSeen(ctx context.Context, personID uuid.UUID, date string, seen time.Time) error
}

// Marker decides the attendance status of a sighting and writes it
// through the ledger exactly once per person per day. A small in-process
// cache short-circuits the common case of re-seeing someone already
// marked today.
type Marker struct {
	ledger        Ledger
	cutoffMinutes int

	mu     sync.Mutex
	marked map[string]struct{} // personID + "|" + date
	day    string
}

// NewMarker builds a marker. cutoffMinutes is minutes after midnight
// local time; a first sighting strictly after it is Late.
func NewMarker(ledger Ledger, cutoffMinutes int) *Marker {
	return &Marker{
		ledger:        ledger,
		cutoffMinutes: cutoffMinutes,
		marked:        make(map[string]struct{}),
	}
}

// Mark records a verified sighting. Returns the record and whether this
// call created it. Repeat sightings on the same day update last_seen
// only and never change the first-seen status.
func (m *Marker) Mark(ctx context.Context, personID uuid.UUID, name string, seen time.Time) (models.AttendanceRecord, bool, error) {
	date := seen.Format("2006-01-02")
	key := personID.String() + "|" + date

	m.mu.Lock()
	// The cache only holds today; roll it over on date change so it
	// cannot grow without bound.
	if m.day != date {
		m.marked = make(map[string]struct{})
		m.day = date
	}
	_, cached := m.marked[key]
	m.mu.Unlock()

	if cached {
		if err := m.ledger.UpdateLastSeen(ctx, personID, date, seen); err != nil {
			return models.AttendanceRecord{}, false, fmt.Errorf("update last seen: %w", err)
		}
		return models.AttendanceRecord{PersonID: personID, Name: name, Date: date, LastSeen: seen}, false, nil
	}

	rec := models.AttendanceRecord{
		ID:        uuid.New(),
		PersonID:  personID,
		Name:      name,
		Date:      date,
		FirstSeen: seen,
		LastSeen:  seen,
		Status:    m.Status(seen),
	}

	stored, created, err := m.ledger.RecordIfAbsent(ctx, rec)
	if err != nil {
		return models.AttendanceRecord{}, false, fmt.Errorf("record attendance: %w", err)
	}

	m.mu.Lock()
	m.marked[key] = struct{}{}
	m.mu.Unlock()

	if !created {
		// Lost a race or restarted mid-day; keep last_seen moving.
		if err := m.ledger.UpdateLastSeen(ctx, personID, date, seen); err != nil {
			return stored, false, fmt.Errorf("update last seen: %w", err)
		}
	}
	return stored, created, nil
}

// Status classifies a first sighting against the late cutoff. The full
// timestamp counts; one second past the cutoff is already Late.
func (m *Marker) Status(seen time.Time) models.AttendanceStatus {
	y, mo, d := seen.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, seen.Location())
	cutoff := midnight.Add(time.Duration(m.cutoffMinutes) * time.Minute)
	if seen.After(cutoff) {
		return models.StatusLate
	}
	return models.StatusPresent
}
