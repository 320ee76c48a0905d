package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/storage"
	"github.com/your-org/verid/pkg/dto"
)

type AttendanceHandler struct {
	db *storage.PostgresStore
}

func NewAttendanceHandler(db *storage.PostgresStore) *AttendanceHandler {
	return &AttendanceHandler{db: db}
}

// Report returns the attendance records for one day with a per-status
// summary. The date query parameter defaults to today.
func (h *AttendanceHandler) Report(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	records, err := h.db.AttendanceByDate(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.db.AttendanceSummary(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AttendanceReportResponse{
		Date:    date,
		Records: make([]dto.AttendanceRecordResponse, 0, len(records)),
		Summary: make(map[string]int, len(summary)),
		Total:   len(records),
	}
	for _, r := range records {
		resp.Records = append(resp.Records, dto.AttendanceRecordResponse{
			ID:        r.ID,
			PersonID:  r.PersonID,
			Name:      r.Name,
			Date:      r.Date,
			FirstSeen: r.FirstSeen,
			LastSeen:  r.LastSeen,
			Status:    string(r.Status),
		})
	}
	for status, count := range summary {
		resp.Summary[string(status)] = count
	}

	c.JSON(http.StatusOK, resp)
}

// Emotion returns the most recent smoothed emotion reading for a person,
// taken from the persisted event log.
func (h *AttendanceHandler) Emotion(c *gin.Context) {
	personID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	eventType := models.EventEmotionUpdate
	events, _, err := h.db.QueryEvents(c.Request.Context(), nil, &eventType, nil, nil, &personID, 1, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no emotion readings for person"})
		return
	}

	ev := events[0]
	c.JSON(http.StatusOK, dto.EmotionStatsResponse{
		PersonID:   personID,
		Name:       person.Name,
		Emotion:    ev.Emotion,
		Confidence: float64(ev.EmotionConf),
	})
}
