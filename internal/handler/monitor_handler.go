package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams proctoring activity of an assessment to staff.
type MonitorHandler struct {
	monitor *service.MonitorService
	log     zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitor *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor:        monitor,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/monitor/assessments/:assessment_id
// Sends a snapshot of per-user warning and violation counts, then forwards
// every event published for the assessment.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	assessmentID, ok := assessmentParam(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// Subscribe first so events published while the snapshot is read are kept.
	pubsub := h.monitor.Subscribe(reqCtx, assessmentID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Failed to subscribe to monitor channel")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	snapCtx, cancel := context.WithTimeout(reqCtx, refreshTimeout)
	snap, err := h.monitor.Snapshot(snapCtx, assessmentID)
	cancel()
	if err != nil {
		h.log.Error().Err(err).Str("assessment_id", assessmentID).Msg("Failed to build monitor snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snap})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	// Skip refresh queries until something has happened on the channel.
	active := len(snap.Users) > 0

	h.log.Info().Str("assessment_id", assessmentID).Msg("Monitor attached")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID).Msg("Monitor detached")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON.
			writeSSEData(c, []byte(msg.Payload))
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, assessmentID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// sendRefresh re-reads the counts so a monitor converges even if it missed
// pub/sub messages.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assessmentID string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, assessmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh monitor counts")
		return
	}

	c.SSEvent("message", gin.H{
		"type":             "refresh",
		"users":            snap.Users,
		"total_warnings":   snap.TotalWarnings,
		"total_violations": snap.TotalViolations,
	})
	c.Writer.Flush()
}

// GetUserEvents godoc
// GET /api/v1/monitor/assessments/:assessment_id/users/:user_id/events
// Returns the persisted proctoring events of one user.
func (h *MonitorHandler) GetUserEvents(c *gin.Context) {
	assessmentID, ok := assessmentParam(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	userID := c.Param("user_id")
	if userID == "" || len(userID) > maxIDLength {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	events, err := h.monitor.UserEvents(c.Request.Context(), assessmentID, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list user events")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
