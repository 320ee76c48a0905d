package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/storage"
	"github.com/your-org/verid/pkg/dto"
)

type EventHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewEventHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *EventHandler {
	return &EventHandler{db: db, minio: minio}
}

// List returns persisted pipeline events, newest first. Filters:
// stream_id, type, person_id, from, to (RFC 3339), limit, offset.
func (h *EventHandler) List(c *gin.Context) {
	var streamID *uuid.UUID
	if v := c.Query("stream_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream_id"})
			return
		}
		streamID = &id
	}

	var personID *uuid.UUID
	if v := c.Query("person_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		personID = &id
	}

	var eventType *models.EventType
	if v := c.Query("type"); v != "" {
		t := models.EventType(v)
		eventType = &t
	}

	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		from = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		to = &t
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryEvents(c.Request.Context(), streamID, eventType, from, to, personID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.EventListResponse{
		Events: make([]dto.WSEvent, 0, len(events)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for i := range events {
		resp.Events = append(resp.Events, EventToWS(&events[i]))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, EventToWS(ev))
}

// Snapshot serves the face snapshot captured at verification time.
func (h *EventHandler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil || ev.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for event"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), ev.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot object missing"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// EventToWS projects a pipeline event into the API/WebSocket envelope.
func EventToWS(ev *models.PipelineEvent) dto.WSEvent {
	return dto.WSEvent{
		ID:          ev.ID,
		Type:        string(ev.Type),
		StreamID:    ev.StreamID,
		TrackID:     ev.TrackID,
		Timestamp:   ev.Timestamp,
		PersonID:    ev.PersonID,
		PersonName:  ev.PersonName,
		Distance:    ev.Distance,
		Reason:      ev.Reason,
		Emotion:     ev.Emotion,
		EmotionConf: ev.EmotionConf,
		Status:      string(ev.Status),
		SnapshotKey: ev.SnapshotKey,
	}
}
