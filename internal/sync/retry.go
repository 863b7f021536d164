package sync

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// retryFactor is the growth rate of the concurrent-run backoff.
const retryFactor = 1.5

// startWithRetry starts a session, or keeps retrying while another session
// holds the engine. A stop after Run ends the attempt with ErrStopped. The retry count is persisted per collection so that
// overlapping callers share one budget. When the budget is exhausted the
// blocking session is force-stopped and onComplete receives
// ErrConcurrencyExhausted.
func (e *Engine) startWithRetry(gen uint64, onComplete CompletionFunc) {
	ctx := e.lifeCtx

	err := retry.Do(ctx, e.runBackoff(ctx), func(_ context.Context) error {
		err := e.tryStart(gen, onComplete)
		if errors.Is(err, errBusy) {
			return retry.RetryableError(err)
		}

		return err
	})

	switch {
	case err == nil:
		return

	case errors.Is(err, ErrStopped):
		e.logger.Info("sync start cancelled by stop request")

		e.deliver(func() {
			if onComplete != nil {
				onComplete(false, ErrStopped)
			}
		})

	case errors.Is(err, errBusy):
		e.logger.Error("max retry attempts reached, forcing reset",
			slog.Int("max_retries", e.maxRetries),
		)

		if rerr := e.cursors.ResetRetryCount(context.WithoutCancel(ctx), e.collection); rerr != nil {
			e.logger.Warn("resetting retry counter", slog.String("error", rerr.Error()))
		}

		e.mu.Lock()
		notify := e.stopLocked(ErrStopped)
		e.mu.Unlock()

		e.transport.Invalidate(false)
		notify()

		e.deliver(func() {
			if onComplete != nil {
				onComplete(false, ErrConcurrencyExhausted)
			}
		})

	default:
		// Engine closed while waiting.
		e.deliver(func() {
			if onComplete != nil {
				onComplete(false, ErrClosed)
			}
		})
	}
}

// runBackoff reads the persisted counter before each wait: at maxRetries it
// stops, otherwise it increments the counter and waits
// retryBase * 1.5^count, capped at retryCap.
func (e *Engine) runBackoff(ctx context.Context) retry.Backoff {
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		n, err := e.cursors.RetryCount(ctx, e.collection)
		if err != nil {
			e.logger.Warn("reading retry counter", slog.String("error", err.Error()))
		}

		if n >= e.maxRetries {
			return 0, true
		}

		if _, err := e.cursors.IncrementRetryCount(ctx, e.collection); err != nil {
			e.logger.Warn("incrementing retry counter", slog.String("error", err.Error()))
		}

		d := time.Duration(float64(e.retryBase) * math.Pow(retryFactor, float64(n)))

		e.logger.Info("sync already running, retrying later",
			slog.Int("attempt", n+1),
			slog.Int("max_retries", e.maxRetries),
			slog.Duration("delay", min(d, e.retryCap)),
		)

		return d, false
	})

	return retry.WithCappedDuration(e.retryCap, b)
}
