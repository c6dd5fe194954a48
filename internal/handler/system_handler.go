package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports gateway health and runtime figures.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	sessions  *service.SessionService
	monitor   *service.MonitorService
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. db may be nil when the
// gateway runs without the audit database.
func NewSystemHandler(db Pinger, rdb *redis.Client, sessions *service.SessionService, monitor *service.MonitorService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		sessions:  sessions,
		monitor:   monitor,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Checks         map[string]string `json:"checks"`
	ActiveSessions int               `json:"active_sessions"`
	QueueEvents    int64             `json:"queue_proctor_events"`
	Goroutines     int               `json:"goroutines"`
	HeapAlloc      uint64            `json:"heap_alloc"`
	GoVersion      string            `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when every dependency answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	st := healthStatus{
		Status:         "ok",
		Uptime:         formatDuration(time.Since(h.startTime)),
		Checks:         map[string]string{},
		ActiveSessions: h.sessions.ActiveSessions(),
		Goroutines:     runtime.NumGoroutine(),
		GoVersion:      runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAlloc = ms.HeapAlloc

	st.Checks["redis"] = "ok"
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		st.Checks["redis"] = err.Error()
		st.Status = "degraded"
	} else if depth, err := h.monitor.QueueDepth(ctx); err == nil {
		st.QueueEvents = depth
	}

	if h.db != nil {
		st.Checks["postgres"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
			st.Checks["postgres"] = err.Error()
			st.Status = "degraded"
		}
	}

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
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
