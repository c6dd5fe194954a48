package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// MonitorMessage is the payload published on an assessment monitor channel.
type MonitorMessage struct {
	Type  string              `json:"type"`
	Event *model.ProctorEvent `json:"event,omitempty"`
	// UserID and Status are set for lifecycle messages (joined, submitted, left).
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// ProctorLogPublisher fans proctoring events out to the persistence queue,
// the per-session log list and the live monitor channel.
type ProctorLogPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewProctorLogPublisher creates a new ProctorLogPublisher.
func NewProctorLogPublisher(rdb *redis.Client, log zerolog.Logger) *ProctorLogPublisher {
	return &ProctorLogPublisher{
		rdb: rdb,
		log: log.With().Str("component", "proctor_log").Logger(),
	}
}

// Record queues ev for the audit worker and announces it to monitors.
func (p *ProctorLogPublisher) Record(ctx context.Context, ev model.ProctorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode proctor event: %w", err)
	}
	msg, err := json.Marshal(MonitorMessage{Type: "proctor_event", Event: &ev})
	if err != nil {
		return fmt.Errorf("encode monitor message: %w", err)
	}

	logKey := config.CacheKey.SessionLogKey(ev.AssessmentID, ev.UserID)
	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	pipe.RPush(ctx, logKey, data)
	pipe.Expire(ctx, logKey, AnswerCacheTTL)
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish proctor event: %w", err)
	}
	return nil
}

// Announce publishes a lifecycle message for userID.
func (p *ProctorLogPublisher) Announce(ctx context.Context, assessmentID, userID, kind, status string) error {
	msg, err := json.Marshal(MonitorMessage{Type: kind, UserID: userID, Status: status})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID), msg).Err()
}

// SessionLog returns the events recorded for one session, oldest first.
func (p *ProctorLogPublisher) SessionLog(ctx context.Context, assessmentID, userID string) ([]model.ProctorEvent, error) {
	raw, err := p.rdb.LRange(ctx, config.CacheKey.SessionLogKey(assessmentID, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	events := make([]model.ProctorEvent, 0, len(raw))
	for _, r := range raw {
		var ev model.ProctorEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Listener wraps next so that every logged warning or violation of the
// session is also recorded. Publishing failures are logged only.
func (p *ProctorLogPublisher) Listener(assessmentID, userID string, next proctor.Listener) proctor.Listener {
	return &publishingListener{
		pub:          p,
		assessmentID: assessmentID,
		userID:       userID,
		next:         next,
	}
}

type publishingListener struct {
	pub          *ProctorLogPublisher
	assessmentID string
	userID       string
	next         proctor.Listener
}

func (l *publishingListener) OnTick(remaining int) {
	if l.next != nil {
		l.next.OnTick(remaining)
	}
}

func (l *publishingListener) OnLogged(severity model.Severity, entry model.LogEntry) {
	ev := model.ProctorEvent{
		ID:           uuid.New(),
		AssessmentID: l.assessmentID,
		UserID:       l.userID,
		Kind:         entry.Kind,
		Severity:     severity,
		Message:      entry.Message,
		RecordedAt:   entry.Timestamp.UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.pub.Record(ctx, ev); err != nil {
		l.pub.log.Error().Err(err).
			Str("assessment_id", l.assessmentID).
			Str("user_id", l.userID).
			Msg("Failed to record proctor event")
	}

	if l.next != nil {
		l.next.OnLogged(severity, entry)
	}
}

func (l *publishingListener) OnSubmitted(result *model.SubmitResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.pub.Announce(ctx, l.assessmentID, l.userID, "submitted", string(result.Status)); err != nil {
		l.pub.log.Warn().Err(err).Msg("Failed to announce submission")
	}

	if l.next != nil {
		l.next.OnSubmitted(result)
	}
}
