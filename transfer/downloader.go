package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"blazefetch/b2api"
	"blazefetch/internal"
)

// Downloader drives downloads through a session into a positioned-write
// sink, choosing the streaming or chunked path by size. Concurrency is
// bounded by the session's download bulkhead.
type Downloader struct {
	Session  *b2api.Session
	Progress internal.ProgressReporter
	Limiter  internal.RateLimiter
}

// NewDownloader creates a downloader over an authorized session
func NewDownloader(session *b2api.Session) *Downloader {
	return &Downloader{Session: session}
}

// Download fetches the file identified by req into dst and returns its
// descriptor. The length is learned through a bodiless probe first, so
// small files never pay for a discarded body.
func (d *Downloader) Download(ctx context.Context, req *b2api.DownloadRequest, dst io.WriterAt) (*internal.FileInfo, error) {
	info, err := d.Session.Stat(ctx, req)
	if err != nil {
		return nil, err
	}
	length := info.Size

	account := d.Session.Account()
	cfg := d.Session.Config()
	partSize := EffectivePartSize(cfg.DownloadPartSize, account.RecommendedPartSize, account.MinPartSize)
	cutoff := EffectiveCutoff(cfg.DownloadCutoffSize, cfg.DownloadPartSize, account.RecommendedPartSize, account.MinPartSize)

	// Size file-backed sinks up front so ranged writers land in place
	if t, ok := dst.(interface{ Truncate(int64) error }); ok {
		if err := t.Truncate(length); err != nil {
			return nil, fmt.Errorf("sizing destination: %w", err)
		}
	}

	counter := newProgressCounter(length, d.Progress)

	if length < cutoff {
		if err := d.downloadWhole(ctx, req, dst, counter); err != nil {
			return nil, err
		}
		return info, nil
	}

	parts := PlanParts(length, partSize)

	slog.Info("starting chunked download", "name", info.Name, "parts", len(parts), "part_size", partSize)

	// As with uploads, the group has no shared cancel: every planned part is
	// still attempted, and the first error is reported once all have finished.
	var g errgroup.Group
	g.SetLimit(cfg.DownloadConnections)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			return d.downloadPart(ctx, req, part, dst, counter)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("downloaded file", "name", info.Name, "bytes", length, "parts", len(parts))
	return info, nil
}

// downloadWhole streams the entire body into the sink at offset zero. The
// executor verifies the advertised SHA-1 as the body drains; a mismatch
// surfaces as InvalidHash and the hash policy re-requests the body.
func (d *Downloader) downloadWhole(ctx context.Context, req *b2api.DownloadRequest, dst io.WriterAt, counter *progressCounter) error {
	op := func(ctx context.Context) error {
		res, err := d.Session.Download(ctx, &b2api.DownloadRequest{
			FileID:   req.FileID,
			Bucket:   req.Bucket,
			FileName: req.FileName,
		})
		if err != nil {
			return err
		}
		defer res.Body.Close()

		cr := newCountingReader(ctx, res.Body, counter, d.Limiter)
		if _, err := io.Copy(io.NewOffsetWriter(dst, 0), cr); err != nil {
			cr.Rollback()
			return err
		}
		return nil
	}
	return d.Session.RunDownload(ctx, op)
}

// downloadPart fetches one planned byte range into the sink at its offset
func (d *Downloader) downloadPart(ctx context.Context, req *b2api.DownloadRequest, part internal.PartInfo, dst io.WriterAt, counter *progressCounter) error {
	op := func(ctx context.Context) error {
		res, err := d.Session.Download(ctx, &b2api.DownloadRequest{
			FileID:   req.FileID,
			Bucket:   req.Bucket,
			FileName: req.FileName,
			Range:    &part,
		})
		if err != nil {
			return err
		}
		defer res.Body.Close()

		cr := newCountingReader(ctx, io.LimitReader(res.Body, part.Length), counter, d.Limiter)
		n, err := io.Copy(io.NewOffsetWriter(dst, part.Offset), cr)
		if err != nil {
			cr.Rollback()
			return err
		}
		if n != part.Length {
			cr.Rollback()
			return internal.NewKindError("b2_download_file", internal.KindTransient,
				fmt.Sprintf("range response ended at %d of %d bytes", n, part.Length)).WithOffset(part.Offset + n)
		}
		return nil
	}

	if err := d.Session.RunDownload(ctx, op); err != nil {
		return fmt.Errorf("part %d: %w", part.Number, err)
	}
	return nil
}
