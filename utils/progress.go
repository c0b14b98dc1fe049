package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"blazefetch/internal"
)

// ProgressTracker manages transfer progress display with real-time statistics
type ProgressTracker struct {
	bar       *pb.ProgressBar
	quiet     bool
	startTime time.Time
	total     int64
	current   int64
	mutex     sync.RWMutex

	// Statistics tracking
	lastUpdate   time.Time
	lastBytes    int64
	speedSamples []float64
	maxSamples   int
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(prefix string, total int64, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet:        quiet,
		startTime:    time.Now(),
		total:        total,
		lastUpdate:   time.Now(),
		speedSamples: make([]float64, 0),
		maxSamples:   10, // Keep the last 10 speed samples
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		bar := pb.ProgressBarTemplate(tmpl).Start64(total)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", prefix)
		tracker.bar = bar
	}

	return tracker
}

// Update updates the progress bar with cumulative progress. A tracker
// started with an unknown total rescales on the first event that carries
// one.
func (p *ProgressTracker) Update(ev internal.ProgressEvent) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	current := ev.Bytes
	p.current = current

	if ev.Total > 0 && ev.Total != p.total {
		p.total = ev.Total
		if p.bar != nil {
			p.bar.SetTotal(ev.Total)
		}
	}

	if p.bar != nil {
		p.bar.SetCurrent(current)

		// Update speed calculation every 100ms to avoid too frequent updates
		timeDiff := now.Sub(p.lastUpdate).Seconds()
		if timeDiff > 0.1 {
			bytesDiff := current - p.lastBytes
			currentSpeed := float64(bytesDiff) / timeDiff

			p.speedSamples = append(p.speedSamples, currentSpeed)
			if len(p.speedSamples) > p.maxSamples {
				p.speedSamples = p.speedSamples[1:]
			}

			p.lastUpdate = now
			p.lastBytes = current
		}
	}
}

// Finish completes the progress bar and returns the transfer summary
func (p *ProgressTracker) Finish() *internal.TransferSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	totalTime := time.Since(p.startTime)

	if p.bar != nil {
		p.bar.Finish()
	}

	averageSpeed := 0.0
	if totalTime > 0 {
		averageSpeed = float64(p.current) / totalTime.Seconds()
	}

	return &internal.TransferSummary{
		TotalBytes:   p.current,
		TotalTime:    totalTime,
		AverageSpeed: averageSpeed,
	}
}

// DisplaySummary prints the transfer summary statistics
func DisplaySummary(summary *internal.TransferSummary) {
	fmt.Printf("\n")
	fmt.Printf("Transfer completed successfully!\n")
	fmt.Printf("Total size: %s\n", FormatBytes(summary.TotalBytes))
	fmt.Printf("Total time: %v\n", summary.TotalTime.Round(time.Millisecond))
	fmt.Printf("Average speed: %s/s\n", FormatBytes(int64(summary.AverageSpeed)))
	if summary.Filename != "" {
		fmt.Printf("Saved to: %s\n", summary.Filename)
	}
}

// FormatBytes formats byte count as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
