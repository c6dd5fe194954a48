package proctor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Fullscreen is the client-side fullscreen lock. Both calls are best-effort.
type Fullscreen interface {
	Enter(ctx context.Context) error
	Exit(ctx context.Context) error
}

// NoopFullscreen is used by front ends without a fullscreen concept.
type NoopFullscreen struct{}

func (NoopFullscreen) Enter(context.Context) error { return nil }
func (NoopFullscreen) Exit(context.Context) error  { return nil }

// runBestEffort executes fn, converting errors and panics into a warning log.
// The returned error is for tests and internal bookkeeping only.
func runBestEffort(log zerolog.Logger, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BestEffortError{Op: op, Err: fmt.Errorf("panic: %v", r)}
			log.Warn().Err(err).Msg("Best-effort operation panicked")
		}
	}()

	if ferr := fn(); ferr != nil {
		err = &BestEffortError{Op: op, Err: ferr}
		log.Warn().Err(err).Msg("Best-effort operation failed")
	}
	return err
}
