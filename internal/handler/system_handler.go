package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const healthProbeTimeout = 2 * time.Second

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// SystemHandler reports process health.
type SystemHandler struct {
	rdb       *redis.Client
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. rdb may be nil when Redis is
// not configured.
func NewSystemHandler(rdb *redis.Client, sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	GoVersion        string `json:"go_version"`
	Goroutines       int    `json:"goroutines"`
	LiveSessions     int    `json:"live_sessions"`
	Redis            string `json:"redis,omitempty"`
	QueueAttemptLogs *int64 `json:"queue_attempt_logs,omitempty"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	report := healthReport{
		Status:       "ok",
		Uptime:       formatDuration(time.Since(h.startTime)),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		LiveSessions: h.sessions.Len(),
	}

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		pipe := h.rdb.Pipeline()
		pingCmd := pipe.Ping(ctx)
		queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistAttemptLogQueue)
		if _, err := pipe.Exec(ctx); err != nil || pingCmd.Err() != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			report.Status = "degraded"
			report.Redis = "down"
			response.Success(c, http.StatusServiceUnavailable, report)
			return
		}
		report.Redis = "up"
		n := queueCmd.Val()
		report.QueueAttemptLogs = &n
	}

	response.Success(c, http.StatusOK, report)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
