package transfer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"blazefetch/internal"
)

// progressCounter accumulates transferred bytes across all workers of one
// transfer and fans events out to an optional reporter. Failed attempts
// roll their contribution back so retries never inflate the count.
type progressCounter struct {
	start    time.Time
	total    int64
	current  atomic.Int64
	reporter internal.ProgressReporter
}

func newProgressCounter(total int64, reporter internal.ProgressReporter) *progressCounter {
	return &progressCounter{
		start:    time.Now(),
		total:    total,
		reporter: reporter,
	}
}

// Add advances (or, with negative n, rolls back) the cumulative count and
// emits a progress event
func (p *progressCounter) Add(n int64) {
	cur := p.current.Add(n)
	if p.reporter != nil {
		p.reporter.Update(internal.ProgressEvent{
			Bytes:   cur,
			Total:   p.total,
			Elapsed: time.Since(p.start),
		})
	}
}

// Count returns the bytes recorded so far
func (p *progressCounter) Count() int64 {
	return p.current.Load()
}

// countingReader counts one attempt's bytes into the shared counter as they
// stream by, applying the bandwidth limiter along the way.
type countingReader struct {
	ctx     context.Context
	r       io.Reader
	counter *progressCounter
	limiter internal.RateLimiter
	n       int64
}

func newCountingReader(ctx context.Context, r io.Reader, counter *progressCounter, limiter internal.RateLimiter) *countingReader {
	return &countingReader{ctx: ctx, r: r, counter: counter, limiter: limiter}
}

func (c *countingReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}

	n, err := c.r.Read(p)
	if n > 0 {
		if c.limiter != nil {
			if lerr := c.limiter.Wait(c.ctx, n); lerr != nil {
				return n, lerr
			}
		}
		c.n += int64(n)
		c.counter.Add(int64(n))
	}
	return n, err
}

// Rollback undoes this attempt's contribution to the shared counter
func (c *countingReader) Rollback() {
	if c.n > 0 {
		c.counter.Add(-c.n)
		c.n = 0
	}
}
