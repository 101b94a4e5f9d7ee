package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
)

// Policy is the exponential backoff shared by page fetches, entity reads,
// attachment downloads and token refreshes.
type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Notify, when set, is called before each wait.
	Notify func(err error, wait time.Duration)
}

func Default() Policy {
	return Policy{
		Attempts:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempt ceiling is reached. The last error is returned unchanged so callers
// can reclassify it.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errs.IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), p.Notify)
}
