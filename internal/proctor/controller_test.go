package proctor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestSingleQuestionPreventSkipRunsToTimeout(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{PreventSkip: true}, textQuestion("q1")))
	h.mustStart(t)
	ctx := context.Background()

	if got := h.ctrl.Snapshot().State.RemainingSeconds; got != 600 {
		t.Fatalf("RemainingSeconds = %d, want 600", got)
	}

	idx, err := h.ctrl.Advance(model.DirectionForward)
	if !errors.Is(err, ErrUnansweredQuestion) {
		t.Fatalf("Advance unanswered: err = %v, want ErrUnansweredQuestion", err)
	}
	if idx != 0 {
		t.Fatalf("index moved to %d", idx)
	}

	if err := h.ctrl.RecordAnswer("q1", model.TextAnswer("A")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	answers := h.ctrl.Snapshot().State.Answers
	if len(answers) != 1 || !answers["q1"].Equal(model.TextAnswer("A")) {
		t.Fatalf("answers = %v, want {q1:A}", answers)
	}

	if idx, err := h.ctrl.Advance(model.DirectionForward); err != nil || idx != 0 {
		t.Fatalf("Advance on last question = (%d, %v), want (0, nil)", idx, err)
	}

	for i := 0; i < 600; i++ {
		if err := h.ctrl.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if n := h.svc.submitCount(); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	req := h.svc.lastSubmit()
	if req.Reason != model.SubmitReasonTimeout || req.TimeSpent != 600 {
		t.Errorf("submit = %s/%d, want timeout/600", req.Reason, req.TimeSpent)
	}
	if len(req.Warnings) != 0 || len(req.Violations) != 0 {
		t.Errorf("logs = %v / %v, want empty", req.Warnings, req.Violations)
	}
	if h.ctrl.Status() != model.SessionStatusTerminal {
		t.Errorf("status = %s, want TERMINAL", h.ctrl.Status())
	}

	// A late tick is rejected and never submits again.
	assertStateError(t, h.ctrl.Tick(ctx))
	if n := h.svc.submitCount(); n != 1 {
		t.Fatalf("submit calls after late tick = %d, want 1", n)
	}

	h.listener.mu.Lock()
	zeros := 0
	for _, r := range h.listener.ticks {
		if r == 0 {
			zeros++
		}
	}
	h.listener.mu.Unlock()
	if zeros != 1 {
		t.Errorf("remaining reached 0 %d times, want 1", zeros)
	}
}

func TestFocusLossWarnsOnceThenEscalates(t *testing.T) {
	h := newHarness(t, assessmentFixture(5, model.SecurityPolicy{}, textQuestion("q1")))
	h.mustStart(t)

	steps := []struct {
		kind           model.EventKind
		wantSeverity   model.Severity
		wantWarnings   int
		wantViolations int
	}{
		{model.EventVisibilityHidden, model.SeverityWarning, 1, 0},
		{model.EventWindowBlur, model.SeverityViolation, 1, 1},
		{model.EventVisibilityHidden, model.SeverityViolation, 1, 2},
	}

	for i, step := range steps {
		sev, err := h.ctrl.MonitorEvent(step.kind)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		st := h.ctrl.Snapshot().State
		if sev != step.wantSeverity || len(st.Warnings) != step.wantWarnings || len(st.Violations) != step.wantViolations {
			t.Errorf("step %d (%s): severity=%s warnings=%d violations=%d, want %s/%d/%d",
				i, step.kind, sev, len(st.Warnings), len(st.Violations),
				step.wantSeverity, step.wantWarnings, step.wantViolations)
		}
	}
}

func TestClipboardEventsFollowPolicy(t *testing.T) {
	kinds := []model.EventKind{model.EventCopyAttempt, model.EventPasteAttempt, model.EventRestrictedShortcut}

	t.Run("ignored without preventCopyPaste", func(t *testing.T) {
		h := newHarness(t, assessmentFixture(5, model.SecurityPolicy{}, textQuestion("q1")))
		h.mustStart(t)
		for _, k := range kinds {
			sev, err := h.ctrl.MonitorEvent(k)
			if err != nil || sev != "" {
				t.Errorf("%s: (%q, %v), want ignored", k, sev, err)
			}
		}
		st := h.ctrl.Snapshot().State
		if len(st.Warnings)+len(st.Violations) != 0 {
			t.Errorf("logs not empty: %+v", st)
		}
	})

	t.Run("always violations with preventCopyPaste", func(t *testing.T) {
		h := newHarness(t, assessmentFixture(5, model.SecurityPolicy{PreventCopyPaste: true}, textQuestion("q1")))
		h.mustStart(t)
		for _, k := range append(kinds, kinds...) {
			if sev, err := h.ctrl.MonitorEvent(k); err != nil || sev != model.SeverityViolation {
				t.Errorf("%s: (%q, %v), want violation", k, sev, err)
			}
		}
		st := h.ctrl.Snapshot().State
		if len(st.Warnings) != 0 || len(st.Violations) != 6 {
			t.Errorf("warnings=%d violations=%d, want 0/6", len(st.Warnings), len(st.Violations))
		}
	})
}

func TestUnknownEventRejected(t *testing.T) {
	h := newHarness(t, assessmentFixture(5, model.SecurityPolicy{}, textQuestion("q1")))
	h.mustStart(t)
	if _, err := h.ctrl.MonitorEvent("devtools-open"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestSubmitTwiceSendsOnce(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.mustStart(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := h.ctrl.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	first, err := h.ctrl.Submit(ctx, model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := h.ctrl.Submit(ctx, model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	if first != second {
		t.Error("second submit returned a different result")
	}
	if n := h.svc.submitCount(); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	if got := h.svc.lastSubmit().TimeSpent; got != 30 {
		t.Errorf("TimeSpent = %d, want 30", got)
	}
}

func TestSubmitRejectsUnknownReason(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.mustStart(t)
	if _, err := h.ctrl.Submit(context.Background(), "bored"); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("err = %v, want ErrInvalidReason", err)
	}
	if h.ctrl.Status() != model.SessionStatusRunning {
		t.Errorf("status = %s, want RUNNING", h.ctrl.Status())
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		h := newHarness(t, nil)
		h.svc.startErr = &assessment.APIError{Op: "start assessment", StatusCode: http.StatusNotFound}
		err := h.ctrl.Start(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if h.ctrl.Status() != model.SessionStatusNotStarted {
			t.Errorf("status = %s, want NOT_STARTED", h.ctrl.Status())
		}
	})

	t.Run("already completed", func(t *testing.T) {
		start := assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1"))
		start.Submission = &model.Submission{ID: "s1", Status: model.SubmissionStatusSubmitted}
		h := newHarness(t, start)
		err := h.ctrl.Start(context.Background(), "asm-1")
		if !errors.Is(err, ErrAlreadyCompleted) {
			t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
		}
	})

	t.Run("second start rejected", func(t *testing.T) {
		h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
		h.mustStart(t)
		assertStateError(t, h.ctrl.Start(context.Background(), "asm-1"))
	})
}

func TestStartRestoresPriorAnswers(t *testing.T) {
	start := assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1"), choiceQuestion("q2", "yes", "no"))
	start.Submission = &model.Submission{
		ID:     "s1",
		Status: model.SubmissionStatusInProgress,
		Answers: map[string]model.Answer{
			"q2":      model.ChoiceAnswer(1),
			"retired": model.TextAnswer("stale"),
		},
	}
	h := newHarness(t, start)
	h.mustStart(t)

	st := h.ctrl.Snapshot().State
	if len(st.Answers) != 1 || !st.Answers["q2"].Equal(model.ChoiceAnswer(1)) {
		t.Errorf("answers = %v, want only q2", st.Answers)
	}
	if st.RemainingSeconds != 600 || len(st.Warnings) != 0 || len(st.Violations) != 0 {
		t.Errorf("state not reset: %+v", st)
	}
}

func TestOperationsRejectedOutsideRunning(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	ctx := context.Background()

	check := func(phase string) {
		t.Helper()
		assertStateError(t, h.ctrl.Tick(ctx))
		assertStateError(t, h.ctrl.RecordAnswer("q1", model.TextAnswer("x")))
		_, err := h.ctrl.Advance(model.DirectionForward)
		assertStateError(t, err)
		_, err = h.ctrl.MonitorEvent(model.EventWindowBlur)
		assertStateError(t, err)
	}

	check("not started")
	if _, err := h.ctrl.Submit(ctx, model.SubmitReasonManual); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("submit before start: %v", err)
	}

	h.mustStart(t)
	if _, err := h.ctrl.Submit(ctx, model.SubmitReasonManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	check("terminal")
}

func TestRecordAnswer(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1"), choiceQuestion("q2", "a", "b")))
	h.mustStart(t)

	for i := 0; i < 2; i++ {
		if err := h.ctrl.RecordAnswer("q2", model.ChoiceAnswer(1)); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}
	if got := len(h.ctrl.Snapshot().State.Answers); got != 1 {
		t.Errorf("answers = %d entries, want 1", got)
	}

	if err := h.ctrl.RecordAnswer("q9", model.TextAnswer("x")); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question: %v", err)
	}
	if err := h.ctrl.RecordAnswer("q2", model.ChoiceAnswer(5)); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("out of range option: %v", err)
	}
	if err := h.ctrl.RecordAnswer("q1", model.ChoiceAnswer(0)); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("option for text question: %v", err)
	}
}

func TestAutosaveFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.svc.saveErr = errors.New("service unavailable")
	h.mustStart(t)

	if err := h.ctrl.RecordAnswer("q1", model.TextAnswer("draft")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	h.ctrl.autosave.wait()

	if got := h.ctrl.Snapshot().State.Answers["q1"]; !got.Equal(model.TextAnswer("draft")) {
		t.Errorf("local answer = %v, want draft", got)
	}
	if len(h.svc.savedFor("q1")) != 1 {
		t.Errorf("save attempts = %d, want 1", len(h.svc.savedFor("q1")))
	}
}

func TestAutosaveLastWriteWinsPerQuestion(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1"), textQuestion("q2")))
	gate := make(chan struct{})
	h.svc.saveGate = gate
	h.mustStart(t)

	for _, v := range []string{"a", "ab", "abc"} {
		if err := h.ctrl.RecordAnswer("q1", model.TextAnswer(v)); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}
	if err := h.ctrl.RecordAnswer("q2", model.TextAnswer("other")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	close(gate)
	h.ctrl.autosave.wait()

	q1 := h.svc.savedFor("q1")
	if len(q1) == 0 || !q1[len(q1)-1].Equal(model.TextAnswer("abc")) {
		t.Fatalf("q1 writes = %v, want last write abc", q1)
	}
	if len(q1) > 2 {
		t.Errorf("q1 writes = %d, want pending values coalesced", len(q1))
	}
	if q2 := h.svc.savedFor("q2"); len(q2) != 1 {
		t.Errorf("q2 writes = %v, want 1", q2)
	}
}

func TestAdvanceBounds(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1"), textQuestion("q2"), textQuestion("q3")))
	h.mustStart(t)

	if idx, err := h.ctrl.Advance(model.DirectionBackward); err != nil || idx != 0 {
		t.Errorf("backward at start = (%d, %v), want (0, nil)", idx, err)
	}
	var idx int
	for i := 0; i < 4; i++ {
		var err error
		if idx, err = h.ctrl.Advance(model.DirectionForward); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if idx != 2 {
		t.Errorf("index = %d, want clamped to 2", idx)
	}
	if _, err := h.ctrl.Advance(model.Direction(3)); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("direction 3: %v", err)
	}
}

func TestFullscreenIsBestEffort(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{FullscreenMode: true}, textQuestion("q1")))
	h.fullscreen.enterErr = errors.New("permission denied")
	h.fullscreen.exitPanic = true

	h.mustStart(t)
	if _, err := h.ctrl.Submit(context.Background(), model.SubmitReasonNavigationExit); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	h.fullscreen.mu.Lock()
	defer h.fullscreen.mu.Unlock()
	if h.fullscreen.enters != 1 || h.fullscreen.exits != 1 {
		t.Errorf("enters=%d exits=%d, want 1/1", h.fullscreen.enters, h.fullscreen.exits)
	}
}

func TestSubmitDuringFullscreenEnterExitsAfterwards(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{FullscreenMode: true}, textQuestion("q1")))
	h.fullscreen.entering = make(chan struct{})
	h.fullscreen.enterGate = make(chan struct{})
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- h.ctrl.Start(ctx, "asm-1") }()
	<-h.fullscreen.entering

	submitted := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Submit(ctx, model.SubmitReasonManual)
		submitted <- err
	}()

	select {
	case err := <-submitted:
		t.Fatalf("Submit returned while fullscreen enter was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(h.fullscreen.enterGate)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-submitted; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	h.fullscreen.mu.Lock()
	defer h.fullscreen.mu.Unlock()
	if len(h.fullscreen.calls) != 2 || h.fullscreen.calls[0] != "enter" || h.fullscreen.calls[1] != "exit" {
		t.Errorf("fullscreen calls = %v, want [enter exit]", h.fullscreen.calls)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.svc.submitErrs = []error{
		&assessment.APIError{Op: "submit assessment", StatusCode: http.StatusBadGateway},
		errors.New("connection reset by peer"),
	}
	h.mustStart(t)

	res, err := h.ctrl.Submit(context.Background(), model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SubmissionID != "sub-1" {
		t.Errorf("result = %+v", res)
	}
	if n := h.svc.submitCount(); n != 3 {
		t.Errorf("submit calls = %d, want 3", n)
	}
}

func TestSubmitFailureKeepsFrozenPayload(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.svc.submitErrs = []error{&assessment.APIError{Op: "submit assessment", StatusCode: http.StatusBadRequest}}
	h.mustStart(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = h.ctrl.Tick(ctx)
	}

	_, err := h.ctrl.Submit(ctx, model.SubmitReasonNavigationExit)
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("err = %v, want ErrSubmitFailed", err)
	}
	if h.ctrl.Status() != model.SessionStatusSubmitting {
		t.Fatalf("status = %s, want SUBMITTING", h.ctrl.Status())
	}
	if n := h.svc.submitCount(); n != 1 {
		t.Fatalf("permanent error retried: %d calls", n)
	}
	assertStateError(t, h.ctrl.Tick(ctx))

	if _, err := h.ctrl.Submit(ctx, model.SubmitReasonManual); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	req := h.svc.lastSubmit()
	if req.Reason != model.SubmitReasonNavigationExit || req.TimeSpent != 10 {
		t.Errorf("resubmitted %s/%d, want frozen navigation-exit/10", req.Reason, req.TimeSpent)
	}
	if h.ctrl.Status() != model.SessionStatusTerminal {
		t.Errorf("status = %s, want TERMINAL", h.ctrl.Status())
	}
}

func TestSubmitConflictCountsAsDelivered(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	h.svc.submitErrs = []error{&assessment.APIError{Op: "submit assessment", StatusCode: http.StatusConflict}}
	h.mustStart(t)

	res, err := h.ctrl.Submit(context.Background(), model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != model.SubmissionStatusSubmitted {
		t.Errorf("status = %s", res.Status)
	}
	if h.ctrl.Status() != model.SessionStatusTerminal {
		t.Errorf("controller status = %s", h.ctrl.Status())
	}
}

func TestTimerLoopAutoSubmitsOnce(t *testing.T) {
	h := newHarness(t, assessmentFixture(1, model.SecurityPolicy{}, textQuestion("q1")))
	h.mustStart(t)

	for i := 0; i < 60; i++ {
		h.ticker.ch <- time.Now()
	}

	select {
	case res := <-h.listener.submitted:
		if res.TimeSpent != 60 {
			t.Errorf("TimeSpent = %d, want 60", res.TimeSpent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("auto-submit did not happen")
	}

	h.ctrl.Close()
	if !h.ticker.isStopped() {
		t.Error("ticker not stopped")
	}
	if n := h.svc.submitCount(); n != 1 {
		t.Errorf("submit calls = %d, want 1", n)
	}
	if got := h.svc.lastSubmit().Reason; got != model.SubmitReasonTimeout {
		t.Errorf("reason = %s, want timeout", got)
	}
}

func TestEventSubscriptionFollowsRunning(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{}, textQuestion("q1")))
	if h.bus.Subscribers() != 0 {
		t.Fatal("subscribed before start")
	}
	h.mustStart(t)
	if h.bus.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", h.bus.Subscribers())
	}

	if n := h.bus.Publish(model.EventWindowBlur); n != 1 {
		t.Errorf("delivered to %d", n)
	}
	if got := len(h.ctrl.Snapshot().State.Warnings); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}

	if _, err := h.ctrl.Submit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.bus.Subscribers() != 0 {
		t.Errorf("subscribers after submit = %d, want 0", h.bus.Subscribers())
	}
	if n := h.bus.Publish(model.EventWindowBlur); n != 0 {
		t.Errorf("event delivered after submit")
	}
}

func TestCloseTearsDownWithoutSubmitting(t *testing.T) {
	h := newHarness(t, assessmentFixture(10, model.SecurityPolicy{FullscreenMode: true}, textQuestion("q1")))
	h.mustStart(t)

	h.ctrl.Close()
	h.ctrl.Close()

	if h.ctrl.Status() != model.SessionStatusTerminal {
		t.Errorf("status = %s, want TERMINAL", h.ctrl.Status())
	}
	if !h.ticker.isStopped() {
		t.Error("ticker not stopped")
	}
	if h.bus.Subscribers() != 0 {
		t.Error("subscription leaked")
	}
	if h.svc.submitCount() != 0 {
		t.Error("Close must not submit")
	}
	if _, err := h.ctrl.Submit(context.Background(), model.SubmitReasonManual); !errors.Is(err, ErrInvalidSessionState) {
		t.Errorf("submit after close: %v", err)
	}
	h.fullscreen.mu.Lock()
	defer h.fullscreen.mu.Unlock()
	if h.fullscreen.exits != 1 {
		t.Errorf("fullscreen exits = %d, want 1", h.fullscreen.exits)
	}
}
