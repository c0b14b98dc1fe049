package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// minBurst keeps the limiter usable with the 32KB copy buffers the
// transfer loops use even at very low rates.
const minBurst = 64 * 1024

// BandwidthLimiter caps aggregate transfer throughput across all workers
// using a shared token bucket.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter allowing bytesPerSecond throughput.
// A rate of 0 or less disables limiting.
func NewBandwidthLimiter(bytesPerSecond int64) *BandwidthLimiter {
	if bytesPerSecond <= 0 {
		return &BandwidthLimiter{}
	}

	burst := int(bytesPerSecond)
	if burst < minBurst {
		burst = minBurst
	}

	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Wait blocks until n bytes may be transferred or the context is cancelled
func (b *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	if b.limiter == nil {
		return nil
	}

	// WaitN rejects requests larger than the burst; split them
	burst := b.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// ParseSize parses a human-readable byte size like "5M", "500K" or "2G".
// Rate limits read the result as bytes per second.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("size cannot be empty")
	}

	multiplier := int64(1)
	upper := strings.ToUpper(s)

	switch {
	case strings.HasSuffix(upper, "K"):
		multiplier = 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(upper, "M"):
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(upper, "G"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", value)
	}

	return value * multiplier, nil
}
