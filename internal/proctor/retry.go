package proctor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RetryPolicy bounds redelivery of a submission. Only retryable errors
// (transport failures, 5xx, 429) are retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used for zero-valued policies.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     8 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// sendWithRetry delivers req. A 409 from the service means an earlier
// attempt already landed, so it counts as delivered.
func (c *Controller) sendWithRetry(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResult, error) {
	var result *model.SubmitResult

	op := func() error {
		res, err := c.service.Submit(ctx, c.state.AssessmentID, *req)
		switch {
		case err == nil:
			result = res
			return nil
		case errors.Is(err, ErrAlreadyCompleted):
			c.log.Warn().Err(err).Msg("Submission already recorded by the assessment service")
			result = &model.SubmitResult{Status: model.SubmissionStatusSubmitted}
			return nil
		case !assessment.IsRetryable(err):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("Submit failed, retrying")
	}

	if err := backoff.RetryNotify(op, c.retry.backOff(ctx), notify); err != nil {
		return nil, err
	}

	if result == nil {
		result = &model.SubmitResult{Status: model.SubmissionStatusSubmitted}
	}
	if result.TimeSpent == 0 {
		result.TimeSpent = req.TimeSpent
	}
	return result, nil
}
