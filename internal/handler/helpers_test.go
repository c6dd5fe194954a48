package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// testEnv is a gateway wired to an in-memory assessment service and Redis.
type testEnv struct {
	upstream  *fakeUpstream
	rdb       *redis.Client
	mr        *miniredis.Miniredis
	sessions  *service.SessionService
	publisher *service.ProctorLogPublisher
	auth      *middleware.Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	up := newFakeUpstream(t)
	client := assessment.NewClient(up.srv.URL, 5*time.Second, zerolog.Nop())
	publisher := service.NewProctorLogPublisher(rdb, zerolog.Nop())
	sessions := service.NewSessionService(client, rdb, proctor.NewRegistry(), publisher, service.SessionOptions{
		Retry:     proctor.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		NewTicker: func(time.Duration) proctor.Ticker { return idleTicker{ch: make(chan time.Time)} },
	}, zerolog.Nop())
	t.Cleanup(sessions.Shutdown)

	return &testEnv{
		upstream:  up,
		rdb:       rdb,
		mr:        mr,
		sessions:  sessions,
		publisher: publisher,
		auth:      middleware.NewAuthenticator(testSecret),
	}
}

func (e *testEnv) token(t *testing.T, userID string, permissions ...string) string {
	t.Helper()
	claims := middleware.Claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// fakeUpstream serves assessment a1 with a copy/paste policy.
type fakeUpstream struct {
	srv *httptest.Server

	mu        sync.Mutex
	submitted []model.SubmitRequest
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}

	def := model.AssessmentDefinition{
		ID:              "a1",
		Title:           "Fire Safety",
		DurationMinutes: 10,
		Questions: []model.Question{
			{ID: "q1", Text: "Pick one", Type: model.QuestionTypeSingleChoice, Options: []string{"A", "B"}, Points: 1},
			{ID: "q2", Text: "Explain", Type: model.QuestionTypeEssay, Points: 1},
		},
		SecurityPolicy: model.SecurityPolicy{PreventCopyPaste: true},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /assessments/mine", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []model.AssessmentSummary{{ID: "a1", Title: def.Title, DurationMinutes: 10, QuestionCount: 2}})
	})
	mux.HandleFunc("POST /assessments/a1/start", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, model.StartResponse{Assessment: def})
	})
	mux.HandleFunc("POST /assessments/a1/answers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /assessments/a1/submit", func(w http.ResponseWriter, r *http.Request) {
		var req model.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		f.mu.Unlock()
		writeEnvelope(w, model.SubmitResult{SubmissionID: "s1", Status: model.SubmissionStatusSubmitted, TimeSpent: req.TimeSpent})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) submissions() []model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmitRequest{}, f.submitted...)
}

func writeEnvelope(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

type idleTicker struct{ ch chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.ch }
func (t idleTicker) Stop()               {}

// envelope decodes the data member of a response.Response.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode response %s: %v", body, err)
	}
	return env
}
