package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/verid/internal/ingest"
	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/queue"
	"github.com/your-org/verid/internal/storage"
	"github.com/your-org/verid/pkg/dto"
)

type StreamHandler struct {
	db         *storage.PostgresStore
	producer   *queue.Producer
	defaultFPS int
}

func NewStreamHandler(db *storage.PostgresStore, producer *queue.Producer, defaultFPS int) *StreamHandler {
	return &StreamHandler{db: db, producer: producer, defaultFPS: defaultFPS}
}

func (h *StreamHandler) Create(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	streamType := models.StreamType(req.StreamType)
	switch streamType {
	case models.StreamTypeRTSP, models.StreamTypeHTTP, models.StreamTypeDevice:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream_type must be rtsp, http or device"})
		return
	}

	fps := req.FPS
	if fps <= 0 {
		fps = h.defaultFPS
	}

	stream := &models.Stream{
		ID:         uuid.New(),
		URL:        req.URL,
		StreamType: streamType,
		FPS:        fps,
		Status:     models.StreamStatusStopped,
		Config:     req.Config,
	}

	if err := h.db.CreateStream(c.Request.Context(), stream); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, streamToResponse(stream))
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.db.ListStreams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.StreamListResponse{
		Streams: make([]dto.StreamResponse, 0, len(streams)),
		Total:   len(streams),
	}
	for i := range streams {
		resp.Streams = append(resp.Streams, streamToResponse(&streams[i]))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StreamHandler) Get(c *gin.Context) {
	stream, ok := h.fetch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, streamToResponse(stream))
}

func (h *StreamHandler) Delete(c *gin.Context) {
	stream, ok := h.fetch(c)
	if !ok {
		return
	}

	if stream.Status == models.StreamStatusRunning || stream.Status == models.StreamStatusStarting {
		if err := h.sendCommand("stop", stream); err != nil {
			slog.Warn("stop command on delete failed", "stream_id", stream.ID, "error", err)
		}
	}

	if err := h.db.DeleteStream(c.Request.Context(), stream.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Start asks the ingestor to begin capturing the stream. The status moves
// to starting immediately; the ingestor reports running or error.
func (h *StreamHandler) Start(c *gin.Context) {
	stream, ok := h.fetch(c)
	if !ok {
		return
	}

	if stream.Status == models.StreamStatusRunning || stream.Status == models.StreamStatusStarting {
		c.JSON(http.StatusConflict, gin.H{"error": "stream already running"})
		return
	}

	if err := h.sendCommand("start", stream); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish start command: " + err.Error()})
		return
	}

	if err := h.db.UpdateStreamStatus(c.Request.Context(), stream.ID, models.StreamStatusStarting, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "starting"})
}

// Stop asks the ingestor to stop the stream. Pending liveness sessions on
// the stream finish as inconclusive on the worker side.
func (h *StreamHandler) Stop(c *gin.Context) {
	stream, ok := h.fetch(c)
	if !ok {
		return
	}

	if stream.Status == models.StreamStatusStopped {
		c.JSON(http.StatusConflict, gin.H{"error": "stream not running"})
		return
	}

	if err := h.sendCommand("stop", stream); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish stop command: " + err.Error()})
		return
	}

	if err := h.db.UpdateStreamStatus(c.Request.Context(), stream.ID, models.StreamStatusStopped, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *StreamHandler) fetch(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return nil, false
	}

	stream, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return nil, false
	}
	return stream, true
}

func (h *StreamHandler) sendCommand(action string, stream *models.Stream) error {
	cmd := ingest.StreamCommand{
		Action:   action,
		StreamID: stream.ID.String(),
		Source:   stream.URL,
		Type:     string(stream.StreamType),
		FPS:      stream.FPS,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return h.producer.PublishControl(data)
}

func streamToResponse(s *models.Stream) dto.StreamResponse {
	return dto.StreamResponse{
		ID:           s.ID,
		URL:          s.URL,
		StreamType:   string(s.StreamType),
		FPS:          s.FPS,
		Status:       string(s.Status),
		Config:       s.Config,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:    s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
