package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// fakeAssessmentService is an in-memory Assessment Service.
type fakeAssessmentService struct {
	mu        sync.Mutex
	def       model.AssessmentDefinition
	mine      []model.AssessmentSummary
	saved     map[string]json.RawMessage
	submitted []model.SubmitRequest
	tokens    []string
}

func newFakeAssessmentService(t *testing.T) (*fakeAssessmentService, *assessment.Client) {
	t.Helper()
	f := &fakeAssessmentService{
		def: model.AssessmentDefinition{
			ID:              "a1",
			Title:           "Fire Safety",
			DurationMinutes: 15,
			Questions: []model.Question{
				{ID: "q1", Text: "Pick one", Type: model.QuestionTypeSingleChoice, Options: []string{"A", "B"}, Points: 1},
				{ID: "q2", Text: "Explain", Type: model.QuestionTypeEssay, Points: 2},
			},
			PassingScore: 50,
		},
		saved: make(map[string]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /assessments/mine", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.writeJSON(w, f.mine)
	})
	mux.HandleFunc("POST /assessments/a1/start", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.writeJSON(w, model.StartResponse{
			Assessment: f.def,
			Submission: &model.Submission{ID: "s1", Status: model.SubmissionStatusInProgress},
		})
	})
	mux.HandleFunc("POST /assessments/a1/answers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			QuestionID string          `json:"questionId"`
			Answer     json.RawMessage `json:"answer"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.saved[body.QuestionID] = body.Answer
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /assessments/a1/submit", func(w http.ResponseWriter, r *http.Request) {
		var req model.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		f.mu.Unlock()
		f.writeJSON(w, model.SubmitResult{SubmissionID: "s1", Status: model.SubmissionStatusSubmitted, TimeSpent: req.TimeSpent})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, assessment.NewClient(srv.URL, 5*time.Second, zerolog.Nop())
}

func (f *fakeAssessmentService) record(r *http.Request) {
	f.mu.Lock()
	f.tokens = append(f.tokens, r.Header.Get("Authorization"))
	f.mu.Unlock()
}

func (f *fakeAssessmentService) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func (f *fakeAssessmentService) submissions() []model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmitRequest{}, f.submitted...)
}

// stoppedTicker never fires.
type stoppedTicker struct{ ch chan time.Time }

func (t stoppedTicker) C() <-chan time.Time { return t.ch }
func (t stoppedTicker) Stop()               {}
