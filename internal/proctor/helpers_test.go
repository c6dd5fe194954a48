package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeService struct {
	mu         sync.Mutex
	start      *model.StartResponse
	startErr   error
	submitErrs []error
	submits    []model.SubmitRequest
	saved      []savedAnswer
	saveErr    error
	saveGate   chan struct{}
}

type savedAnswer struct {
	questionID string
	answer     model.Answer
}

func (f *fakeService) Start(ctx context.Context, assessmentID string) (*model.StartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	resp := *f.start
	return &resp, nil
}

func (f *fakeService) Submit(ctx context.Context, assessmentID string, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.SubmitResult{SubmissionID: "sub-1", Status: model.SubmissionStatusSubmitted, TimeSpent: req.TimeSpent}, nil
}

func (f *fakeService) SaveAnswer(ctx context.Context, assessmentID, questionID string, answer model.Answer) error {
	if f.saveGate != nil {
		<-f.saveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedAnswer{questionID: questionID, answer: answer})
	return f.saveErr
}

func (f *fakeService) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeService) lastSubmit() model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[len(f.submits)-1]
}

func (f *fakeService) savedFor(questionID string) []model.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Answer
	for _, s := range f.saved {
		if s.questionID == questionID {
			out = append(out, s.answer)
		}
	}
	return out
}

// fakeCache is an in-memory AnswerCache. When firstGate is set the first
// SaveAnswer closes firstEntered and blocks until the gate is closed.
type fakeCache struct {
	mu      sync.Mutex
	answers map[string]model.Answer
	writes  int
	cleared int

	firstEntered chan struct{}
	firstGate    chan struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{answers: make(map[string]model.Answer)}
}

func (f *fakeCache) Load(ctx context.Context, assessmentID string) (map[string]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.Answer, len(f.answers))
	for k, v := range f.answers {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCache) Clear(ctx context.Context, assessmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = make(map[string]model.Answer)
	f.cleared++
	return nil
}

func (f *fakeCache) SaveAnswer(ctx context.Context, assessmentID, questionID string, answer model.Answer) error {
	f.mu.Lock()
	f.writes++
	first := f.writes == 1
	f.mu.Unlock()

	if first && f.firstGate != nil {
		close(f.firstEntered)
		<-f.firstGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[questionID] = answer
	return nil
}

func (f *fakeCache) get(questionID string) (model.Answer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.answers[questionID]
	return a, ok
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time, 128)}
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeFullscreen struct {
	mu        sync.Mutex
	enters    int
	exits     int
	calls     []string
	enterErr  error
	exitPanic bool

	// When enterGate is set, Enter closes entering and blocks until the
	// gate is closed.
	entering  chan struct{}
	enterGate chan struct{}
}

func (f *fakeFullscreen) Enter(context.Context) error {
	if f.enterGate != nil {
		close(f.entering)
		<-f.enterGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enters++
	f.calls = append(f.calls, "enter")
	return f.enterErr
}

func (f *fakeFullscreen) Exit(context.Context) error {
	f.mu.Lock()
	f.exits++
	f.calls = append(f.calls, "exit")
	f.mu.Unlock()
	if f.exitPanic {
		panic("document is not active")
	}
	return nil
}

type recordingListener struct {
	mu        sync.Mutex
	ticks     []int
	logged    []model.Severity
	submitted chan *model.SubmitResult
}

func newRecordingListener() *recordingListener {
	return &recordingListener{submitted: make(chan *model.SubmitResult, 4)}
}

func (l *recordingListener) OnTick(remaining int) {
	l.mu.Lock()
	l.ticks = append(l.ticks, remaining)
	l.mu.Unlock()
}

func (l *recordingListener) OnLogged(sev model.Severity, _ model.LogEntry) {
	l.mu.Lock()
	l.logged = append(l.logged, sev)
	l.mu.Unlock()
}

func (l *recordingListener) OnSubmitted(res *model.SubmitResult) {
	l.submitted <- res
}

func assessmentFixture(duration int, policy model.SecurityPolicy, questions ...model.Question) *model.StartResponse {
	return &model.StartResponse{
		Assessment: model.AssessmentDefinition{
			ID:              "asm-1",
			Title:           "Workplace Safety",
			DurationMinutes: duration,
			Questions:       questions,
			PassingScore:    70,
			SecurityPolicy:  policy,
		},
	}
}

func textQuestion(id string) model.Question {
	return model.Question{ID: id, Text: "Explain " + id, Type: model.QuestionTypeShortAnswer, Points: 1}
}

func choiceQuestion(id string, options ...string) model.Question {
	return model.Question{ID: id, Text: "Choose " + id, Type: model.QuestionTypeSingleChoice, Options: options, Points: 1}
}

type harness struct {
	svc        *fakeService
	ticker     *fakeTicker
	fullscreen *fakeFullscreen
	listener   *recordingListener
	bus        *EventBus
	ctrl       *Controller
}

func newHarness(t *testing.T, start *model.StartResponse, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		svc:        &fakeService{start: start},
		ticker:     newFakeTicker(),
		fullscreen: &fakeFullscreen{},
		listener:   newRecordingListener(),
		bus:        NewEventBus(),
	}
	opts := Options{
		Service:    h.svc,
		Fullscreen: h.fullscreen,
		Events:     []EventSource{h.bus},
		Listener:   h.listener,
		Retry:      RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		NewTicker:  func(time.Duration) Ticker { return h.ticker },
		Logger:     zerolog.Nop(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.ctrl = New(opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) mustStart(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background(), "asm-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func assertStateError(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
}
