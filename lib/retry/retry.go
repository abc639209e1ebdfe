package retry

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/xerrors"
)

var log = logging.Logger("retry")

// Retry calls f until it succeeds, returns an error retryable rejects, or
// attempts calls have been made. Waits between calls follow b. A nil
// retryable retries every error.
func Retry[T any](ctx context.Context, attempts int, b *backoff.Backoff, retryable func(error) bool, f func() (T, error)) (result T, err error) {
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := b.Duration()
			log.Infow("retrying after error", "attempt", i+1, "wait", wait, "error", err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return result, xerrors.Errorf("retry aborted: %w", ctx.Err())
			}
		}

		result, err = f()
		if err == nil {
			return result, nil
		}
		if retryable != nil && !retryable(err) {
			return result, err
		}
	}

	log.Errorw("failed after retries", "attempts", attempts, "error", err)
	return result, err
}
