package proctor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerSink persists a single answer. Implementations must be idempotent.
type AnswerSink interface {
	SaveAnswer(ctx context.Context, assessmentID, questionID string, answer model.Answer) error
}

// autosaver writes answers in the background. Writes for one question are
// serialized and coalesced so the last recorded value is always the last one
// written; different questions are written independently.
type autosaver struct {
	ctx          context.Context
	sink         AnswerSink
	assessmentID string
	log          zerolog.Logger

	mu      sync.Mutex
	pending map[string]model.Answer
	active  map[string]bool
	wg      sync.WaitGroup
}

func newAutosaver(ctx context.Context, sink AnswerSink, assessmentID string, log zerolog.Logger) *autosaver {
	return &autosaver{
		ctx:          ctx,
		sink:         sink,
		assessmentID: assessmentID,
		log:          log,
		pending:      make(map[string]model.Answer),
		active:       make(map[string]bool),
	}
}

func (a *autosaver) enqueue(questionID string, answer model.Answer) {
	a.mu.Lock()
	a.pending[questionID] = answer
	if a.active[questionID] {
		a.mu.Unlock()
		return
	}
	a.active[questionID] = true
	a.wg.Add(1)
	a.mu.Unlock()

	go a.drain(questionID)
}

func (a *autosaver) drain(questionID string) {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		answer, ok := a.pending[questionID]
		if !ok {
			delete(a.active, questionID)
			a.mu.Unlock()
			return
		}
		delete(a.pending, questionID)
		a.mu.Unlock()

		_ = runBestEffort(a.log.With().Str("question_id", questionID).Logger(), "autosave", func() error {
			return a.sink.SaveAnswer(a.ctx, a.assessmentID, questionID, answer)
		})
	}
}

// wait blocks until every queued write has been attempted.
func (a *autosaver) wait() {
	a.wg.Wait()
}

// answerMirror copies answers to the local cache before RecordAnswer returns.
// Each value carries the sequence number it was recorded under; writes for
// one question are serialized and a value older than one already mirrored is
// dropped. After close no further writes reach the sink.
type answerMirror struct {
	sink         AnswerSink
	assessmentID string
	log          zerolog.Logger

	mu      sync.Mutex
	closed  bool
	locks   map[string]*sync.Mutex
	written map[string]uint64
	wg      sync.WaitGroup
}

func newAnswerMirror(sink AnswerSink, assessmentID string, log zerolog.Logger) *answerMirror {
	return &answerMirror{
		sink:         sink,
		assessmentID: assessmentID,
		log:          log,
		locks:        make(map[string]*sync.Mutex),
		written:      make(map[string]uint64),
	}
}

func (m *answerMirror) write(ctx context.Context, questionID string, seq uint64, answer model.Answer) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	qmu, ok := m.locks[questionID]
	if !ok {
		qmu = &sync.Mutex{}
		m.locks[questionID] = qmu
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	qmu.Lock()
	defer qmu.Unlock()

	m.mu.Lock()
	stale := m.closed || seq <= m.written[questionID]
	if !stale {
		m.written[questionID] = seq
	}
	m.mu.Unlock()
	if stale {
		return
	}

	_ = runBestEffort(m.log.With().Str("question_id", questionID).Logger(), "mirror answer", func() error {
		return m.sink.SaveAnswer(ctx, m.assessmentID, questionID, answer)
	})
}

// close stops accepting writes and waits for in-flight ones.
func (m *answerMirror) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}
