package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// SessionOptions tunes the controllers built by SessionService.
type SessionOptions struct {
	Retry        proctor.RetryPolicy
	TickInterval time.Duration
	// NewTicker overrides the timer source; tests use it to drive time.
	NewTicker func(time.Duration) proctor.Ticker
}

// SessionService builds and tracks proctored sessions. Each session gets a
// controller bound to the user's own bearer token, the user's answer cache
// and the proctor log publisher.
type SessionService struct {
	client    *assessment.Client
	rdb       *redis.Client
	registry  *proctor.Registry
	publisher *ProctorLogPublisher
	opts      SessionOptions
	log       zerolog.Logger
}

// NewSessionService creates a new SessionService. rdb and publisher may be
// nil, in which case sessions run without a local cache or audit trail.
func NewSessionService(
	client *assessment.Client,
	rdb *redis.Client,
	registry *proctor.Registry,
	publisher *ProctorLogPublisher,
	opts SessionOptions,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		client:    client,
		rdb:       rdb,
		registry:  registry,
		publisher: publisher,
		opts:      opts,
		log:       log.With().Str("component", "session_service").Logger(),
	}
}

// OpenRequest describes a session to start.
type OpenRequest struct {
	UserID       string
	Token        string
	AssessmentID string
	Fullscreen   proctor.Fullscreen
	Events       proctor.EventSource
	Listener     proctor.Listener
}

// Open starts a session for the user. It fails with proctor.ErrSessionActive
// when the user already has a live session.
func (s *SessionService) Open(ctx context.Context, req OpenRequest) (*proctor.Controller, error) {
	log := s.log.With().
		Str("user_id", req.UserID).
		Str("assessment_id", req.AssessmentID).
		Logger()

	opts := proctor.Options{
		Service:      s.client.WithToken(req.Token),
		Fullscreen:   req.Fullscreen,
		Listener:     req.Listener,
		Retry:        s.opts.Retry,
		TickInterval: s.opts.TickInterval,
		NewTicker:    s.opts.NewTicker,
		Logger:       log,
	}
	if req.Events != nil {
		opts.Events = []proctor.EventSource{req.Events}
	}
	if s.rdb != nil {
		opts.Cache = NewAnswerCache(s.rdb, req.UserID)
	}
	if s.publisher != nil {
		opts.Listener = s.publisher.Listener(req.AssessmentID, req.UserID, req.Listener)
	}

	ctrl := proctor.New(opts)
	if err := s.registry.Acquire(req.UserID, ctrl); err != nil {
		return nil, err
	}

	if err := ctrl.Start(ctx, req.AssessmentID); err != nil {
		s.registry.Release(req.UserID, ctrl)
		return nil, err
	}

	s.announce(req.AssessmentID, req.UserID, "joined", string(model.SessionStatusRunning))
	return ctrl, nil
}

// Close tears the user's session down. With submit set, a Running session is
// first submitted with reason navigation-exit.
func (s *SessionService) Close(userID string, ctrl *proctor.Controller, submit bool) {
	if submit && ctrl.Status() == model.SessionStatusRunning {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := ctrl.Submit(ctx, model.SubmitReasonNavigationExit); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Submit on disconnect failed")
		}
		cancel()
	}

	ctrl.Close()
	s.registry.Release(userID, ctrl)

	if def := ctrl.Definition(); def != nil {
		s.announce(def.ID, userID, "left", string(ctrl.Status()))
	}
}

// Current returns the user's registered session.
func (s *SessionService) Current(userID string) (*proctor.Controller, bool) {
	return s.registry.Get(userID)
}

// ActiveSessions returns the number of registered sessions.
func (s *SessionService) ActiveSessions() int {
	return s.registry.Len()
}

// Shutdown closes every session without submitting.
func (s *SessionService) Shutdown() {
	s.registry.CloseAll()
}

// LobbyStatus is the state of an assessment as shown to the user.
type LobbyStatus string

const (
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
)

// LobbyAssessment is an assigned assessment with its lobby status.
type LobbyAssessment struct {
	model.AssessmentSummary
	LobbyStatus LobbyStatus `json:"lobbyStatus"`
	Live        bool        `json:"live"`
}

// Lobby lists the user's assigned assessments, marking the one with a live
// session on this gateway.
func (s *SessionService) Lobby(ctx context.Context, userID, token string) ([]LobbyAssessment, error) {
	items, err := s.client.WithToken(token).ListMine(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}

	var liveID string
	if ctrl, ok := s.registry.Get(userID); ok && ctrl.Status() != model.SessionStatusTerminal {
		if def := ctrl.Definition(); def != nil {
			liveID = def.ID
		}
	}

	lobby := make([]LobbyAssessment, 0, len(items))
	for _, item := range items {
		entry := LobbyAssessment{AssessmentSummary: item, LobbyStatus: LobbyStatusAvailable}
		switch {
		case item.Status.IsFinal():
			entry.LobbyStatus = LobbyStatusCompleted
		case item.ID == liveID || item.Status == model.SubmissionStatusInProgress:
			entry.LobbyStatus = LobbyStatusInProgress
		}
		entry.Live = item.ID == liveID
		lobby = append(lobby, entry)
	}
	return lobby, nil
}

func (s *SessionService) announce(assessmentID, userID, kind, status string) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.publisher.Announce(ctx, assessmentID, userID, kind, status); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to announce session " + kind)
	}
}
