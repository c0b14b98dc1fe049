package utils

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"500K", 500 * 1024, false},
		{"5M", 5 * 1024 * 1024, false},
		{"2G", 2 * 1024 * 1024 * 1024, false},
		{"5m", 5 * 1024 * 1024, false},
		{" 10M ", 10 * 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5M", 0, true},
		{"0", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseSize(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q) expected error, got %d", tc.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q) unexpected error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestBandwidthLimiter_Disabled(t *testing.T) {
	limiter := NewBandwidthLimiter(0)

	// A disabled limiter must never block
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background(), 1<<20); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("disabled limiter blocked for %v", elapsed)
	}
}

func TestBandwidthLimiter_SplitsLargeRequests(t *testing.T) {
	// Requests above the burst must be split rather than rejected outright.
	// With the bucket drained the oversized wait blocks, so the failure we
	// accept here is the deadline, never rate.WaitN's burst rejection.
	limiter := NewBandwidthLimiter(minBurst)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, 4*minBurst)
	if err != nil && strings.Contains(err.Error(), "exceeds limiter's burst") {
		t.Fatalf("oversized request was rejected instead of split: %v", err)
	}
}

func TestBandwidthLimiter_HonorsCancellation(t *testing.T) {
	limiter := NewBandwidthLimiter(1024) // slow: 1KB/s with 64KB burst

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Exhaust the burst, then the next wait must fail on the deadline
	if err := limiter.Wait(context.Background(), minBurst); err != nil {
		t.Fatalf("burst wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, minBurst); err == nil {
		t.Error("expected cancellation error from rate-limited wait")
	}
}
