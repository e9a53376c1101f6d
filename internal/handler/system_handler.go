package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// SystemHandler reports service health and worker queue depths.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  *service.SessionService
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemHealth struct {
	Timestamp        int64  `json:"timestamp"`
	Uptime           string `json:"uptime"`
	Postgres         string `json:"postgres"`
	Redis            string `json:"redis"`
	Goroutines       int    `json:"goroutines"`
	QueueWarnings    int64  `json:"queue_warnings"`
	QueueSubmissions int64  `json:"queue_submissions"`
}

// Health godoc
// GET /api/v1/teacher/system/health
// Pings the backing stores and reports worker queue depths. Both LLEN
// calls go through one pipeline round trip.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	out := systemHealth{
		Timestamp:  time.Now().Unix(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Postgres:   "ok",
		Redis:      "ok",
		Goroutines: runtime.NumGoroutine(),
	}

	if err := h.pool.Ping(ctx); err != nil {
		out.Postgres = err.Error()
	}

	pipe := h.rdb.Pipeline()
	warningsCmd := pipe.LLen(ctx, config.WorkerKey.PersistWarningsQueue)
	submissionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		out.Redis = err.Error()
	} else {
		out.QueueWarnings = warningsCmd.Val()
		out.QueueSubmissions = submissionsCmd.Val()
	}

	response.Success(c, http.StatusOK, out)
}
