package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis rejects BLPOP timeouts below 1s
)

// EventStore is the persistence the worker flushes into.
type EventStore interface {
	InsertBatch(ctx context.Context, events []model.ProctorEvent) (int64, error)
	Insert(ctx context.Context, e model.ProctorEvent) error
}

// ProctorEventWorker drains the proctor event queue into the audit store in
// batches. A failed batch is retried row by row; rows that still fail are
// pushed back onto the queue.
type ProctorEventWorker struct {
	store EventStore
	rdb   *redis.Client
	log   zerolog.Logger

	// RequeueBackoff is slept after a requeue so a down database is not hammered.
	RequeueBackoff time.Duration
}

// NewProctorEventWorker creates a new ProctorEventWorker.
func NewProctorEventWorker(store EventStore, rdb *redis.Client, log zerolog.Logger) *ProctorEventWorker {
	return &ProctorEventWorker{
		store:          store,
		rdb:            rdb,
		log:            log.With().Str("component", "proctor_event_worker").Logger(),
		RequeueBackoff: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what is buffered.
func (w *ProctorEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorEventWorker started")

	buffer := make([]model.ProctorEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctorEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, ok := w.decode(result[1])
		if !ok {
			continue
		}
		buffer = append(buffer, ev)
	}
}

func (w *ProctorEventWorker) decode(raw string) (model.ProctorEvent, bool) {
	var ev model.ProctorEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed proctor event")
		return ev, false
	}
	if ev.AssessmentID == "" || ev.UserID == "" || !ev.Kind.Valid() {
		w.log.Error().Str("data", raw).Msg("Discarding incomplete proctor event")
		return ev, false
	}
	return ev, true
}

// flush tries the bulk path first and falls back to row inserts.
func (w *ProctorEventWorker) flush(ctx context.Context, batch []model.ProctorEvent) {
	n, err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Proctor events persisted")
		return
	}

	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ProctorEvent
	for _, ev := range batch {
		if err := w.store.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).
				Str("event_id", ev.ID.String()).
				Str("user_id", ev.UserID).
				Msg("Insert failed, requeueing")
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ProctorEventWorker) requeue(ctx context.Context, items []model.ProctorEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue proctor events, data lost")
		return
	}

	w.log.Info().Int("count", len(items)).Msg("Requeued failed proctor events")
	sleepCtx(ctx, w.RequeueBackoff)
}

func (w *ProctorEventWorker) shutdown(buffer []model.ProctorEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("ProctorEventWorker stopping, flushing buffer")
	if len(buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, buffer)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
