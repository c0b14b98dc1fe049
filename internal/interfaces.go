package internal

import (
	"context"
	"time"
)

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
}

// ProgressReporter receives transfer progress events
type ProgressReporter interface {
	Update(ev ProgressEvent)
	Finish() *TransferSummary
}

// TransferSummary contains final transfer statistics
type TransferSummary struct {
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second
	Filename     string
}
