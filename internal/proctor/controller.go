package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Service is the part of the assessment service a session needs.
type Service interface {
	Start(ctx context.Context, assessmentID string) (*model.StartResponse, error)
	Submit(ctx context.Context, assessmentID string, req model.SubmitRequest) (*model.SubmitResult, error)
}

// AnswerCache holds answers recorded locally but possibly not yet synced.
type AnswerCache interface {
	Load(ctx context.Context, assessmentID string) (map[string]model.Answer, error)
	Clear(ctx context.Context, assessmentID string) error
}

// Listener receives controller notifications. Calls are made without the
// controller lock held and may come from the timer goroutine.
type Listener interface {
	OnTick(remainingSeconds int)
	OnLogged(severity model.Severity, entry model.LogEntry)
	OnSubmitted(result *model.SubmitResult)
}

type nopListener struct{}

func (nopListener) OnTick(int)                              {}
func (nopListener) OnLogged(model.Severity, model.LogEntry) {}
func (nopListener) OnSubmitted(*model.SubmitResult)         {}

// Options configures a Controller. Service is required.
type Options struct {
	Service Service
	// Answers receives autosaved answers. Defaults to Service when it
	// implements AnswerSink.
	Answers    AnswerSink
	Cache      AnswerCache
	Fullscreen Fullscreen
	Events     []EventSource
	Listener   Listener
	Retry      RetryPolicy

	TickInterval time.Duration
	NewTicker    func(time.Duration) Ticker
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Controller runs one proctored assessment session.
//
// State machine: NotStarted → Running → Submitting → Terminal. Only Running
// accepts Tick, RecordAnswer, Advance and MonitorEvent.
type Controller struct {
	service    Service
	answers    AnswerSink
	cache      AnswerCache
	fullscreen Fullscreen
	sources    []EventSource
	listener   Listener
	retry      RetryPolicy
	interval   time.Duration
	newTicker  func(time.Duration) Ticker
	now        func() time.Time
	log        zerolog.Logger

	mu          sync.Mutex
	status      model.SessionStatus
	starting    bool
	closed      bool
	def         *model.AssessmentDefinition
	state       model.SessionState
	focusLosses int
	pending     *model.SubmitRequest
	inFlight    bool
	result      *model.SubmitResult
	baseCtx     context.Context
	stopTimer   chan struct{}
	timerWG     sync.WaitGroup
	autosave    *autosaver
	mirror      *answerMirror
	answerSeq   uint64

	subMu  sync.Mutex
	unsubs []func()

	// fsMu orders fullscreen Enter against Exit.
	fsMu sync.Mutex
}

// New creates a Controller in the NotStarted state.
func New(opts Options) *Controller {
	c := &Controller{
		service:    opts.Service,
		answers:    opts.Answers,
		cache:      opts.Cache,
		fullscreen: opts.Fullscreen,
		sources:    opts.Events,
		listener:   opts.Listener,
		retry:      opts.Retry.withDefaults(),
		interval:   opts.TickInterval,
		newTicker:  opts.NewTicker,
		now:        opts.Now,
		log:        opts.Logger.With().Str("component", "session_controller").Logger(),
		status:     model.SessionStatusNotStarted,
	}

	if c.answers == nil {
		if sink, ok := opts.Service.(AnswerSink); ok {
			c.answers = sink
		}
	}
	if c.fullscreen == nil {
		c.fullscreen = NoopFullscreen{}
	}
	if c.listener == nil {
		c.listener = nopListener{}
	}
	if c.interval <= 0 {
		c.interval = time.Second
	}
	if c.newTicker == nil {
		c.newTicker = NewTicker
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Start loads the assessment and enters Running.
func (c *Controller) Start(ctx context.Context, assessmentID string) error {
	c.mu.Lock()
	if c.status != model.SessionStatusNotStarted || c.starting {
		st := c.status
		c.mu.Unlock()
		return &StateError{Op: "start", Status: st}
	}
	c.starting = true
	c.mu.Unlock()

	def, answers, err := c.load(ctx, assessmentID)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return err
	}

	log := c.log.With().Str("assessment_id", def.ID).Logger()

	c.mu.Lock()
	if c.closed {
		c.starting = false
		c.status = model.SessionStatusTerminal
		c.mu.Unlock()
		return &StateError{Op: "start", Status: model.SessionStatusTerminal}
	}
	c.log = log
	c.def = def
	c.state = model.SessionState{
		AssessmentID:     def.ID,
		StartedAt:        c.now(),
		RemainingSeconds: def.DurationSeconds(),
		Answers:          answers,
		Warnings:         []model.LogEntry{},
		Violations:       []model.LogEntry{},
	}
	c.focusLosses = 0
	c.baseCtx = context.WithoutCancel(ctx)
	if c.answers != nil {
		c.autosave = newAutosaver(c.baseCtx, c.answers, def.ID, log)
	}
	if sink, ok := c.cache.(AnswerSink); ok {
		c.mirror = newAnswerMirror(sink, def.ID, log)
	}
	c.status = model.SessionStatusRunning
	c.starting = false
	c.startTimerLocked()
	c.mu.Unlock()

	c.subscribeEvents()

	if def.SecurityPolicy.FullscreenMode {
		c.fsMu.Lock()
		if c.Status() == model.SessionStatusRunning {
			_ = runBestEffort(log, "fullscreen enter", func() error {
				return c.fullscreen.Enter(ctx)
			})
		}
		c.fsMu.Unlock()
	}

	log.Info().
		Int("duration_seconds", def.DurationSeconds()).
		Int("questions", len(def.Questions)).
		Int("restored_answers", len(answers)).
		Msg("Session started")
	return nil
}

// load fetches the definition and merges prior answers, keeping only ids
// that belong to the assessment.
func (c *Controller) load(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, map[string]model.Answer, error) {
	resp, err := c.service.Start(ctx, assessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("start assessment %s: %w", assessmentID, err)
	}
	if resp.Submission != nil && resp.Submission.Status.IsFinal() {
		return nil, nil, fmt.Errorf("start assessment %s: %w", assessmentID, ErrAlreadyCompleted)
	}

	def := resp.Assessment
	if def.ID == "" {
		def.ID = assessmentID
	}

	answers := make(map[string]model.Answer)
	if resp.Submission != nil {
		for qid, a := range resp.Submission.Answers {
			if def.QuestionIndex(qid) >= 0 {
				answers[qid] = a
			}
		}
	}

	if c.cache != nil {
		var cached map[string]model.Answer
		err := runBestEffort(c.log, "load answer cache", func() error {
			var lerr error
			cached, lerr = c.cache.Load(ctx, def.ID)
			return lerr
		})
		if err == nil {
			for qid, a := range cached {
				if def.QuestionIndex(qid) >= 0 {
					answers[qid] = a
				}
			}
		}
	}

	return &def, answers, nil
}

// Tick advances the countdown by one second. Reaching zero submits the
// session with reason timeout; that transition happens at most once.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.SessionStatusRunning {
		st := c.status
		c.mu.Unlock()
		return &StateError{Op: "tick", Status: st}
	}

	if c.state.RemainingSeconds > 0 {
		c.state.RemainingSeconds--
	}
	remaining := c.state.RemainingSeconds

	var req *model.SubmitRequest
	if remaining == 0 {
		req = c.beginSubmitLocked(model.SubmitReasonTimeout)
	}
	c.mu.Unlock()

	c.listener.OnTick(remaining)

	if req == nil {
		return nil
	}
	c.log.Info().Msg("Time is up, auto-submitting")
	_, err := c.deliver(ctx, req)
	return err
}

// RecordAnswer stores value for questionID, mirrors it to the answer cache
// and autosaves it in the background. For each question the newest recorded
// value is the last one written to either sink. Write failures are logged,
// never returned.
func (c *Controller) RecordAnswer(questionID string, value model.Answer) error {
	c.mu.Lock()
	if c.status != model.SessionStatusRunning {
		st := c.status
		c.mu.Unlock()
		return &StateError{Op: "record answer", Status: st}
	}

	idx := c.def.QuestionIndex(questionID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if err := validateAnswer(&c.def.Questions[idx], value); err != nil {
		c.mu.Unlock()
		return err
	}

	c.state.Answers[questionID] = value
	c.answerSeq++
	seq := c.answerSeq
	if c.autosave != nil {
		c.autosave.enqueue(questionID, value)
	}
	mirror := c.mirror
	ctx := c.baseCtx
	c.mu.Unlock()

	if mirror != nil {
		mirror.write(ctx, questionID, seq, value)
	}
	return nil
}

// Advance moves one question forward or backward, clamped to the question
// list. With preventSkip, moving forward from an unanswered question fails
// with ErrUnansweredQuestion and leaves the index unchanged.
func (c *Controller) Advance(dir model.Direction) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != model.SessionStatusRunning {
		return c.state.CurrentQuestionIndex, &StateError{Op: "advance", Status: c.status}
	}
	if dir != model.DirectionForward && dir != model.DirectionBackward {
		return c.state.CurrentQuestionIndex, fmt.Errorf("%w: %d", ErrInvalidDirection, dir)
	}

	cur := c.state.CurrentQuestionIndex
	last := len(c.def.Questions) - 1
	if last < 0 {
		return 0, nil
	}

	if dir == model.DirectionForward && c.def.SecurityPolicy.PreventSkip && !c.answeredLocked(cur) {
		return cur, fmt.Errorf("%w: %s", ErrUnansweredQuestion, c.def.Questions[cur].ID)
	}

	next := cur + int(dir)
	if next < 0 {
		next = 0
	}
	if next > last {
		next = last
	}
	c.state.CurrentQuestionIndex = next
	return next, nil
}

func (c *Controller) answeredLocked(idx int) bool {
	a, ok := c.state.Answers[c.def.Questions[idx].ID]
	return ok && !a.IsEmpty()
}

// MonitorEvent records a monitored client event. Focus loss is warned once
// and every later focus loss is a violation; clipboard and shortcut events
// are violations when preventCopyPaste is on and ignored otherwise.
// The returned severity is empty when the event was ignored.
func (c *Controller) MonitorEvent(kind model.EventKind) (model.Severity, error) {
	c.mu.Lock()
	if c.status != model.SessionStatusRunning {
		st := c.status
		c.mu.Unlock()
		return "", &StateError{Op: "monitor event", Status: st}
	}
	if !kind.Valid() {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	entry := model.LogEntry{Kind: kind, Timestamp: c.now()}
	var severity model.Severity

	switch {
	case kind.IsFocusLoss():
		c.focusLosses++
		if c.focusLosses == 1 {
			severity = model.SeverityWarning
			entry.Message = "You left the assessment window. Leaving again will be recorded as a violation."
			c.state.Warnings = append(c.state.Warnings, entry)
		} else {
			severity = model.SeverityViolation
			entry.Message = fmt.Sprintf("Left the assessment window (%s), occurrence %d.", kind, c.focusLosses)
			c.state.Violations = append(c.state.Violations, entry)
		}
	case kind.IsClipboard():
		if !c.def.SecurityPolicy.PreventCopyPaste {
			c.mu.Unlock()
			return "", nil
		}
		severity = model.SeverityViolation
		entry.Message = violationMessage(kind)
		c.state.Violations = append(c.state.Violations, entry)
	}
	c.mu.Unlock()

	c.log.Info().
		Str("kind", string(kind)).
		Str("severity", string(severity)).
		Msg("Proctoring event logged")
	c.listener.OnLogged(severity, entry)
	return severity, nil
}

func violationMessage(kind model.EventKind) string {
	switch kind {
	case model.EventCopyAttempt:
		return "Copy attempt blocked."
	case model.EventPasteAttempt:
		return "Paste attempt blocked."
	default:
		return "Restricted keyboard shortcut used."
	}
}

// Submit sends the session to the assessment service. After a successful
// submit further calls return the first result without contacting the
// service. If delivery fails the session stays in Submitting with the
// payload frozen; calling Submit again resends that same payload.
func (c *Controller) Submit(ctx context.Context, reason model.SubmitReason) (*model.SubmitResult, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	c.mu.Lock()
	var req *model.SubmitRequest
	switch c.status {
	case model.SessionStatusTerminal:
		res := c.result
		c.mu.Unlock()
		if res == nil {
			return nil, &StateError{Op: "submit", Status: model.SessionStatusTerminal}
		}
		return res, nil
	case model.SessionStatusRunning:
		req = c.beginSubmitLocked(reason)
	case model.SessionStatusSubmitting:
		if c.inFlight {
			c.mu.Unlock()
			return nil, &StateError{Op: "submit", Status: model.SessionStatusSubmitting}
		}
		c.inFlight = true
		req = c.pending
	default:
		st := c.status
		c.mu.Unlock()
		return nil, &StateError{Op: "submit", Status: st}
	}
	c.mu.Unlock()

	return c.deliver(ctx, req)
}

// beginSubmitLocked freezes the payload and leaves Running.
func (c *Controller) beginSubmitLocked(reason model.SubmitReason) *model.SubmitRequest {
	full := c.def.DurationSeconds()
	spent := full - c.state.RemainingSeconds
	if reason == model.SubmitReasonTimeout {
		spent = full
	}

	snap := c.state.Clone()
	req := &model.SubmitRequest{
		Reason:     reason,
		TimeSpent:  spent,
		Answers:    snap.Answers,
		Warnings:   snap.Warnings,
		Violations: snap.Violations,
	}

	c.status = model.SessionStatusSubmitting
	c.pending = req
	c.inFlight = true
	c.stopTimerLocked()
	return req
}

func (c *Controller) deliver(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResult, error) {
	c.unsubscribeEvents()

	result, err := c.sendWithRetry(ctx, req)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Str("reason", string(req.Reason)).Msg("Submission failed")
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	c.status = model.SessionStatusTerminal
	c.result = result
	c.pending = nil
	assessmentID := c.def.ID
	fullscreen := c.def.SecurityPolicy.FullscreenMode
	mirror := c.mirror
	c.mu.Unlock()

	c.release(ctx, fullscreen)
	if mirror != nil {
		mirror.close()
	}
	if c.cache != nil {
		_ = runBestEffort(c.log, "clear answer cache", func() error {
			return c.cache.Clear(context.WithoutCancel(ctx), assessmentID)
		})
	}

	c.log.Info().
		Str("reason", string(req.Reason)).
		Int("time_spent", req.TimeSpent).
		Int("warnings", len(req.Warnings)).
		Int("violations", len(req.Violations)).
		Msg("Session submitted")
	c.listener.OnSubmitted(result)
	return result, nil
}

// release exits fullscreen. It never fails: the document may already be
// gone when this runs during teardown.
func (c *Controller) release(ctx context.Context, fullscreen bool) {
	if !fullscreen {
		return
	}
	c.fsMu.Lock()
	defer c.fsMu.Unlock()
	_ = runBestEffort(c.log, "fullscreen exit", func() error {
		return c.fullscreen.Exit(context.WithoutCancel(ctx))
	})
}

// Close tears the session down without submitting: the timer is stopped and
// waited for, event subscriptions are released, pending autosaves finish and
// fullscreen is released. A Running session becomes Terminal with no result.
// Close is safe to call more than once and in any state.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	wasRunning := c.status == model.SessionStatusRunning
	if wasRunning {
		c.status = model.SessionStatusTerminal
	}
	c.stopTimerLocked()
	saver := c.autosave
	mirror := c.mirror
	fullscreen := c.def != nil && c.def.SecurityPolicy.FullscreenMode
	c.mu.Unlock()

	c.unsubscribeEvents()
	c.timerWG.Wait()
	if saver != nil {
		saver.wait()
	}
	if mirror != nil {
		mirror.close()
	}
	if wasRunning {
		c.release(context.Background(), fullscreen)
		c.log.Info().Msg("Session closed without submission")
	}
}

// Status returns the current state.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() model.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.SessionSnapshot{
		Status: c.status,
		Result: c.result,
	}
	if c.def != nil {
		snap.State = c.state.Clone()
		snap.Policy = c.def.SecurityPolicy
	}
	return snap
}

// Definition returns the loaded assessment, or nil before Start.
func (c *Controller) Definition() *model.AssessmentDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.def == nil {
		return nil
	}
	def := *c.def
	def.Questions = append([]model.Question{}, c.def.Questions...)
	return &def
}

// ─── timer ──────────────────────────────────────────────────────────

func (c *Controller) startTimerLocked() {
	stop := make(chan struct{})
	c.stopTimer = stop
	t := c.newTicker(c.interval)
	ctx := c.baseCtx

	c.timerWG.Add(1)
	go c.runTimer(ctx, t, stop)
}

func (c *Controller) stopTimerLocked() {
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
}

func (c *Controller) runTimer(ctx context.Context, t Ticker, stop <-chan struct{}) {
	defer c.timerWG.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case <-stop:
				return
			default:
			}
			// A tick racing a submit sees a non-Running state and is dropped.
			if err := c.Tick(ctx); err != nil && !errors.Is(err, ErrInvalidSessionState) {
				c.log.Error().Err(err).Msg("Auto-submit failed")
			}
		}
	}
}

// ─── event subscriptions ────────────────────────────────────────────

func (c *Controller) subscribeEvents() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.Status() != model.SessionStatusRunning {
		return
	}
	for _, src := range c.sources {
		c.unsubs = append(c.unsubs, src.Subscribe(c.handleEvent))
	}
}

func (c *Controller) unsubscribeEvents() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

func (c *Controller) handleEvent(kind model.EventKind) {
	if _, err := c.MonitorEvent(kind); err != nil && !errors.Is(err, ErrInvalidSessionState) {
		c.log.Debug().Err(err).Msg("Monitor event rejected")
	}
}
