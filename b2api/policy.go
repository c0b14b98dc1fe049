package b2api

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"blazefetch/internal"
)

// operation is a single attempt of a retryable unit of work
type operation func(ctx context.Context) error

// SleepDuration returns the backoff delay before retry attempt n (1-based):
// 2^n seconds plus uniform jitter in [10ms, 1000ms).
func SleepDuration(attempt int) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(990 * time.Millisecond)))
	return time.Duration(1<<uint(attempt))*time.Second + 10*time.Millisecond + jitter
}

// sleepCtx sleeps for d, honoring cancellation
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bulkhead admits a bounded number of concurrent operations of one class.
// Waiting callers queue; there is no queue-length cap.
type Bulkhead struct {
	slots chan struct{}
}

// NewBulkhead creates a bulkhead admitting limit concurrent operations
func NewBulkhead(limit int) *Bulkhead {
	if limit < 1 {
		limit = 1
	}
	return &Bulkhead{slots: make(chan struct{}, limit)}
}

// Acquire blocks until a slot is free or the context is cancelled
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot
func (b *Bulkhead) Release() {
	<-b.slots
}

// InUse returns the number of currently held slots
func (b *Bulkhead) InUse() int {
	return len(b.slots)
}

// Run executes op while holding a slot
func (b *Bulkhead) Run(ctx context.Context, op operation) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// retries returns the attempt budget shared by the auth and hash policies
func (s *Session) retries() int {
	if s.cfg.RetryCount < 1 {
		return 1
	}
	return s.cfg.RetryCount
}

// runAuth retries op after authentication failures. Each retry re-runs
// Connect first; concurrent failures share a single re-authentication
// through the session's singleflight group.
func (s *Session) runAuth(ctx context.Context, op operation) error {
	retries := s.retries()

	for attempt := 1; ; attempt++ {
		stale := s.Token()

		err := op(ctx)
		if err == nil || internal.KindOf(err) != internal.KindAuth || attempt >= retries {
			return err
		}

		slog.Warn("authentication fault, re-authorizing", "attempt", attempt, "retries", retries, "error", err)

		if rerr := s.refreshAuth(ctx, stale); rerr != nil {
			return rerr
		}
		if serr := s.sleep(ctx, SleepDuration(attempt)); serr != nil {
			return serr
		}
	}
}

// runHash retries op after body checksum mismatches. rewind repositions the
// body stream before each retry; a nil rewind means the stream cannot be
// replayed and the mismatch is rejected immediately.
func (s *Session) runHash(ctx context.Context, rewind func() error, op operation) error {
	retries := s.retries()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || internal.KindOf(err) != internal.KindInvalidHash || attempt >= retries {
			return err
		}

		if rewind == nil {
			return internal.NewKindError("hash_retry", internal.KindBadRequest,
				"checksum mismatch on a non-seekable stream cannot be retried")
		}
		if rerr := rewind(); rerr != nil {
			return rerr
		}

		slog.Warn("checksum mismatch, retrying", "attempt", attempt, "retries", retries, "error", err)

		if serr := s.sleep(ctx, SleepDuration(attempt)); serr != nil {
			return serr
		}
	}
}

// RunUpload applies the upload policy stack to op, outermost first:
// auth refresh, hash retry, upload bulkhead.
func (s *Session) RunUpload(ctx context.Context, rewind func() error, op operation) error {
	return s.runAuth(ctx, func(ctx context.Context) error {
		return s.runHash(ctx, rewind, func(ctx context.Context) error {
			return s.uploads.Run(ctx, op)
		})
	})
}

// RunDownload applies the download policy stack to op. Download bodies can
// always be re-requested, so the hash policy rewinds trivially.
func (s *Session) RunDownload(ctx context.Context, op operation) error {
	noop := func() error { return nil }
	return s.runAuth(ctx, func(ctx context.Context) error {
		return s.runHash(ctx, noop, func(ctx context.Context) error {
			return s.downloads.Run(ctx, op)
		})
	})
}
