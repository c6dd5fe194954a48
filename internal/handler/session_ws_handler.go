package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionWSHandler streams a proctored session over a WebSocket.
type SessionWSHandler struct {
	sessions           *service.SessionService
	submitOnDisconnect bool
	log                zerolog.Logger
	upgrader           websocket.Upgrader
}

// NewSessionWSHandler creates a new SessionWSHandler. With submitOnDisconnect
// a session still running when its socket drops is submitted with reason
// navigation-exit before being torn down.
func NewSessionWSHandler(sessions *service.SessionService, submitOnDisconnect bool, log zerolog.Logger, allowedOrigins []string) *SessionWSHandler {
	return &SessionWSHandler{
		sessions:           sessions,
		submitOnDisconnect: submitOnDisconnect,
		log:                log.With().Str("component", "session_ws_handler").Logger(),
		upgrader:           buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/assessments/:assessment_id/stream
// Starts (or resumes) the assessment and relays the session until it is
// submitted or the socket closes.
func (h *SessionWSHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := assessmentParam(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	userID := claims.UserID()
	wsLog := h.log.With().
		Str("user_id", userID).
		Str("assessment_id", assessmentID).
		Logger()

	stream := &sessionStream{conn: conn, bus: proctor.NewEventBus()}
	ctx := context.WithoutCancel(c.Request.Context())

	ctrl, err := h.sessions.Open(ctx, service.OpenRequest{
		UserID:       userID,
		Token:        middleware.GetToken(c),
		AssessmentID: assessmentID,
		Fullscreen:   stream,
		Events:       stream.bus,
		Listener:     stream,
	})
	if err != nil {
		_, code := response.FromError(err)
		wsLog.Warn().Err(err).Str("code", string(code)).Msg("Session could not be opened")
		_ = conn.WriteError(string(code), response.GetMessage(code), nil)
		_ = conn.Close(websocket.ClosePolicyViolation, string(code))
		return
	}

	wsLog.Info().Msg("User connected")

	done := make(chan struct{})
	go conn.KeepAlive(done)
	defer func() {
		close(done)
		h.sessions.Close(userID, ctrl, h.submitOnDisconnect)
		_ = conn.Close(websocket.CloseNormalClosure, "")
	}()

	_ = conn.WriteTyped(ws.StateResponse{
		Event:      ws.EventState,
		Assessment: ctrl.Definition(),
		Session:    ctrl.Snapshot(),
	})

	for {
		msg, err := conn.ReadRaw()
		if err != nil {
			if ws.IsUnexpectedClose(err) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, wsLog, conn, stream, ctrl, msg)
	}
}

func (h *SessionWSHandler) dispatch(ctx context.Context, wsLog zerolog.Logger, conn *ws.Conn, stream *sessionStream, ctrl *proctor.Controller, msg []byte) {
	action, req, err := ws.Decode(msg)
	if err != nil {
		_ = conn.WriteError(string(response.ErrInvalidPayload), err.Error(), nil)
		return
	}
	if req != nil {
		if fields := validator.Struct(req); fields != nil {
			_ = conn.WriteError(string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
			return
		}
	}

	switch r := req.(type) {
	case *ws.AnswerRequest:
		if err := ctrl.RecordAnswer(r.QuestionID, r.Answer); err != nil {
			writeSessionError(conn, err)
			return
		}
		_ = conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: r.QuestionID})

	case *ws.AdvanceRequest:
		idx, err := ctrl.Advance(model.Direction(r.Direction))
		if err != nil {
			writeSessionError(conn, err)
			return
		}
		_ = conn.WriteTyped(ws.AdvancedResponse{Event: ws.EventAdvanced, CurrentQuestionIndex: idx})

	case *ws.MonitorRequest:
		if stream.bus.Publish(model.EventKind(r.Event)) == 0 {
			writeSessionError(conn, &proctor.StateError{Op: "monitor event", Status: ctrl.Status()})
		}

	case *ws.SubmitRequest:
		reason := model.SubmitReason(r.Reason)
		if reason == "" {
			reason = model.SubmitReasonManual
		}
		// A successful submit is reported through OnSubmitted.
		if _, err := ctrl.Submit(ctx, reason); err != nil {
			writeSessionError(conn, err)
		}

	case *ws.FullscreenAckRequest:
		if !r.OK {
			wsLog.Warn().Str("mode", r.Mode).Str("error", r.Error).Msg("Client could not change fullscreen mode")
		}

	default:
		if action == ws.ActionPing {
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, Time: nowUTC()})
			return
		}
		wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
		_ = conn.WriteError(string(response.ErrUnknownAction), "unknown action: "+string(action), nil)
	}
}

func writeSessionError(conn *ws.Conn, err error) {
	_, code := response.FromError(err)
	_ = conn.WriteError(string(code), response.GetMessage(code), nil)
}

// sessionStream binds one controller to its socket. It issues fullscreen
// commands to the client and relays controller notifications.
type sessionStream struct {
	conn      *ws.Conn
	bus       *proctor.EventBus
	closeOnce sync.Once
}

func (s *sessionStream) Enter(context.Context) error {
	return s.conn.WriteTyped(ws.FullscreenCommand{Event: ws.EventFullscreen, Mode: "enter"})
}

func (s *sessionStream) Exit(context.Context) error {
	return s.conn.WriteTyped(ws.FullscreenCommand{Event: ws.EventFullscreen, Mode: "exit"})
}

func (s *sessionStream) OnTick(remaining int) {
	_ = s.conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remaining})
}

func (s *sessionStream) OnLogged(severity model.Severity, entry model.LogEntry) {
	_ = s.conn.WriteTyped(ws.LoggedResponse{Event: ws.EventLogged, Severity: severity, Entry: entry})
}

// OnSubmitted reports the result and ends the stream; the read loop then
// exits on the closed socket.
func (s *sessionStream) OnSubmitted(result *model.SubmitResult) {
	_ = s.conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: result})
	s.closeOnce.Do(func() {
		_ = s.conn.Close(websocket.CloseNormalClosure, "submitted")
	})
}
