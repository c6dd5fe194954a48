package service

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctorEventReader is the read side of the proctor event audit store.
type ProctorEventReader interface {
	CountsByAssessment(ctx context.Context, assessmentID string) ([]model.ProctorEventCount, error)
	ListRecent(ctx context.Context, assessmentID string, limit int) ([]model.ProctorEvent, error)
	ListBySession(ctx context.Context, assessmentID, userID string, limit int) ([]model.ProctorEvent, error)
}

// MonitorService serves the live proctoring monitor.
type MonitorService struct {
	events ProctorEventReader
	rdb    *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(events ProctorEventReader, rdb *redis.Client) *MonitorService {
	return &MonitorService{events: events, rdb: rdb}
}

// MonitorSnapshot is the state a monitor starts from before live updates.
type MonitorSnapshot struct {
	AssessmentID    string                    `json:"assessment_id"`
	Users           []model.ProctorEventCount `json:"users"`
	TotalWarnings   int64                     `json:"total_warnings"`
	TotalViolations int64                     `json:"total_violations"`
	Recent          []model.ProctorEvent      `json:"recent"`
}

// Snapshot fetches per-user counts and the most recent events concurrently.
// Counts are required; recent events are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, assessmentID string) (*MonitorSnapshot, error) {
	var (
		counts    []model.ProctorEventCount
		recent    []model.ProctorEvent
		countErr  error
		recentErr error
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		counts, countErr = s.events.CountsByAssessment(ctx, assessmentID)
	}()
	go func() {
		defer wg.Done()
		recent, recentErr = s.events.ListRecent(ctx, assessmentID, 50)
	}()
	wg.Wait()

	if countErr != nil {
		return nil, countErr
	}

	snap := &MonitorSnapshot{
		AssessmentID: assessmentID,
		Users:        []model.ProctorEventCount{},
		Recent:       []model.ProctorEvent{},
	}
	if counts != nil {
		snap.Users = counts
	}
	for _, c := range snap.Users {
		snap.TotalWarnings += c.Warnings
		snap.TotalViolations += c.Violations
	}
	if recentErr == nil && recent != nil {
		snap.Recent = recent
	}
	return snap, nil
}

// UserEvents returns the persisted events of one user's session, newest first.
func (s *MonitorService) UserEvents(ctx context.Context, assessmentID, userID string) ([]model.ProctorEvent, error) {
	events, err := s.events.ListBySession(ctx, assessmentID, userID, 500)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.ProctorEvent{}
	}
	return events, nil
}

// Subscribe attaches to the live monitor channel of an assessment. The
// caller must close the returned PubSub.
func (s *MonitorService) Subscribe(ctx context.Context, assessmentID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID))
}

// QueueDepth returns the number of proctor events not yet persisted.
func (s *MonitorService) QueueDepth(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, config.WorkerKey.PersistProctorEventsQueue).Result()
}
