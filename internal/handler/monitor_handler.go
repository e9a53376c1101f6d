package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live proctoring data to the exam owner.
type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetProgress godoc
// GET /api/v1/teacher/exams/:exam_id/progress
// Returns a one-shot snapshot of every live session in the exam.
func (h *MonitorHandler) GetProgress(c *gin.Context) {
	exam, ok := h.ownedExam(c)
	if !ok {
		return
	}

	progress, err := h.monitorService.GetExamProgress(c.Request.Context(), exam.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, progress)
}

// MonitorExamSSE godoc
// GET /api/v1/teacher/exams/:exam_id/monitor
// Server-sent event stream: warning and state-change events as they
// happen, plus a periodic full refresh and keep-alive pings.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	exam, ok := h.ownedExam(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, exam.ID)

	channelName := config.CacheKey.ExamProctorChannel(exam.ID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Stringer("exam_id", exam.ID).Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Stringer("exam_id", exam.ID).Msg("Teacher disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Proctor events arrive as JSON; forward the payload verbatim.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, exam.ID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes a full progress snapshot as one SSE event, bounded
// by refreshTimeout.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, examID uuid.UUID) {
	fetchCtx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetExamProgress(fetchCtx, examID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("exam_id", examID).Msg("Progress snapshot failed")
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":     "snapshot",
		"progress": progress,
	})
	if err != nil {
		return
	}

	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// ownedExam resolves :exam_id and verifies the caller owns it.
func (h *MonitorHandler) ownedExam(c *gin.Context) (*model.Exam, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return nil, false
	}

	if exam.TeacherID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrExamNotOwned)
		return nil, false
	}

	return exam, true
}
