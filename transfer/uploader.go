package transfer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"blazefetch/b2api"
	"blazefetch/internal"
)

// Uploader drives uploads through a session, choosing the single-shot or
// large-file path by size. Concurrency is bounded by the session's upload
// bulkhead; a single large upload consumes up to that many slots at once.
type Uploader struct {
	Session  *b2api.Session
	Progress internal.ProgressReporter
	Limiter  internal.RateLimiter
}

// NewUploader creates an uploader over an authorized session
func NewUploader(session *b2api.Session) *Uploader {
	return &Uploader{Session: session}
}

// UploadRequest carries one upload. Length may be -1 when unknown; seekable
// bodies are measured, and short non-seekable bodies are buffered. Large
// uploads need a random-access source (io.ReaderAt) so parts can be hashed,
// streamed and retried independently.
type UploadRequest struct {
	BucketID    string
	FileName    string
	ContentType string
	Info        map[string]string
	Body        io.Reader
	Length      int64
}

// Upload transfers the request body and returns the stored file descriptor
func (u *Uploader) Upload(ctx context.Context, req *UploadRequest) (*internal.FileInfo, error) {
	account := u.Session.Account()
	cfg := u.Session.Config()

	partSize := EffectivePartSize(cfg.UploadPartSize, account.RecommendedPartSize, account.MinPartSize)
	cutoff := EffectiveCutoff(cfg.UploadCutoffSize, cfg.UploadPartSize, account.RecommendedPartSize, account.MinPartSize)

	body := req.Body
	length := req.Length

	seeker, seekable := body.(io.ReadSeeker)
	if length < 0 {
		if !seekable {
			// Unknown length and no way back: buffer up to the cutoff and
			// reject anything bigger, since the large path needs rewind.
			data, err := io.ReadAll(io.LimitReader(body, cutoff+1))
			if err != nil {
				return nil, fmt.Errorf("buffering upload body: %w", err)
			}
			if int64(len(data)) > cutoff {
				return nil, internal.NewKindError("upload", internal.KindBadRequest,
					"stream is not seekable and exceeds the single-shot cutoff").WithFile(req.FileName)
			}
			br := bytes.NewReader(data)
			body, seeker, seekable = br, br, true
			length = int64(len(data))
		} else {
			var err error
			length, err = measure(seeker)
			if err != nil {
				return nil, err
			}
		}
	}

	if length < cutoff {
		return u.uploadSmall(ctx, req, body, seeker, seekable, length)
	}

	ra, ok := body.(io.ReaderAt)
	if !ok {
		return nil, internal.NewKindError("upload", internal.KindBadRequest,
			"large uploads require a random-access source").WithFile(req.FileName)
	}
	return u.uploadLarge(ctx, req, ra, length, partSize)
}

// measure determines a seekable stream's remaining length and rewinds
func measure(s io.ReadSeeker) (int64, error) {
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(pos, io.SeekStart); err != nil {
		return 0, err
	}
	return end - pos, nil
}

// uploadSmall posts the whole body through one leased upload URL
func (u *Uploader) uploadSmall(ctx context.Context, req *UploadRequest, body io.Reader, seeker io.ReadSeeker, seekable bool, length int64) (*internal.FileInfo, error) {
	// The single-shot header set needs the digest up front, so even a short
	// non-seekable body has to become replayable.
	if !seekable {
		data, err := io.ReadAll(io.LimitReader(body, length))
		if err != nil {
			return nil, fmt.Errorf("buffering upload body: %w", err)
		}
		if int64(len(data)) != length {
			return nil, internal.NewKindError("upload", internal.KindBadRequest,
				fmt.Sprintf("body ended at %d of %d declared bytes", len(data), length)).WithFile(req.FileName)
		}
		seeker = bytes.NewReader(data)
	}

	sum, err := digest(seeker, length)
	if err != nil {
		return nil, err
	}

	counter := newProgressCounter(length, u.Progress)

	var result *internal.FileInfo
	rewind := func() error {
		_, err := seeker.Seek(0, io.SeekStart)
		return err
	}

	op := func(ctx context.Context) error {
		if err := rewind(); err != nil {
			return err
		}

		urlEnt, err := u.Session.CheckoutUploadURL(ctx, req.BucketID)
		if err != nil {
			return err
		}

		cr := newCountingReader(ctx, seeker, counter, u.Limiter)
		fi, err := u.Session.UploadFile(ctx, urlEnt, &b2api.UploadFileRequest{
			BucketID:    req.BucketID,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Info:        req.Info,
			Body:        cr,
			Length:      length,
			SHA1:        sum,
		})
		if err != nil {
			cr.Rollback()
			u.Session.ReturnUploadURL(urlEnt, false)
			u.Session.EvictUploadURLs(req.BucketID)
			return err
		}

		u.Session.ReturnUploadURL(urlEnt, true)
		result = fi
		return nil
	}

	if err := u.Session.RunUpload(ctx, rewind, op); err != nil {
		return nil, err
	}

	slog.Info("uploaded file", "name", req.FileName, "bytes", length, "bucket", req.BucketID)
	return result, nil
}

// uploadLarge runs the chunked path: start the server-side session, push
// parts with bounded parallelism, then finish with the digests in
// part-number order.
func (u *Uploader) uploadLarge(ctx context.Context, req *UploadRequest, ra io.ReaderAt, length, partSize int64) (*internal.FileInfo, error) {
	parts := PlanParts(length, partSize)
	if len(parts) == 0 {
		return nil, internal.NewKindError("upload", internal.KindBadRequest,
			"could not plan parts for large upload").WithFile(req.FileName)
	}

	wholeSum, err := digest(io.NewSectionReader(ra, 0, length), length)
	if err != nil {
		return nil, err
	}

	info := make(map[string]string, len(req.Info)+1)
	for k, v := range req.Info {
		info[k] = v
	}
	info[b2api.LargeFileSHA1Key] = wholeSum

	started, err := u.Session.StartLargeFile(ctx, req.BucketID, req.FileName, req.ContentType, info)
	if err != nil {
		return nil, err
	}
	fileID := started.ID

	slog.Info("starting large upload", "name", req.FileName, "parts", len(parts), "part_size", partSize, "file_id", fileID)

	counter := newProgressCounter(length, u.Progress)
	sha1s := make([]string, len(parts))

	// Parts may land in any wire order; only the digest list is ordered.
	// No shared cancel on the group: a failed part surfaces after its
	// siblings finish, so leased URLs are returned cleanly.
	var g errgroup.Group
	g.SetLimit(u.Session.Config().UploadConnections)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			return u.uploadPart(ctx, fileID, ra, part, sha1s, counter)
		})
	}
	if err := g.Wait(); err != nil {
		// The server-side session survives for inspection or resume; the
		// caller decides whether to CancelLargeFile.
		slog.Warn("large upload failed, file left unfinished", "name", req.FileName, "file_id", fileID, "error", err)
		return nil, err
	}

	fi, err := u.Session.FinishLargeFile(ctx, fileID, sha1s)
	if err != nil {
		return nil, err
	}

	slog.Info("uploaded large file", "name", req.FileName, "bytes", length, "parts", len(parts), "bucket", req.BucketID)
	return fi, nil
}

// uploadPart pushes one planned part through a leased part URL, recording
// its digest at the part's slot
func (u *Uploader) uploadPart(ctx context.Context, fileID string, ra io.ReaderAt, part internal.PartInfo, sha1s []string, counter *progressCounter) error {
	section := io.NewSectionReader(ra, part.Offset, part.Length)

	sum, err := digest(section, part.Length)
	if err != nil {
		return err
	}

	rewind := func() error {
		_, err := section.Seek(0, io.SeekStart)
		return err
	}

	op := func(ctx context.Context) error {
		if err := rewind(); err != nil {
			return err
		}

		urlEnt, err := u.Session.CheckoutPartURL(ctx, fileID)
		if err != nil {
			return err
		}

		cr := newCountingReader(ctx, section, counter, u.Limiter)
		acked, err := u.Session.UploadPart(ctx, urlEnt, part, sum, cr)
		if err != nil {
			cr.Rollback()
			u.Session.ReturnPartURL(urlEnt, false)
			u.Session.EvictPartURLs(fileID)
			if b2err, ok := err.(*internal.B2Error); ok {
				b2err.WithOffset(part.Offset)
			}
			return err
		}

		u.Session.ReturnPartURL(urlEnt, true)
		sha1s[part.Number-1] = acked
		return nil
	}

	if err := u.Session.RunUpload(ctx, rewind, op); err != nil {
		return fmt.Errorf("part %d: %w", part.Number, err)
	}
	return nil
}

// digest computes the hex SHA-1 of a stream and rewinds it
func digest(s io.ReadSeeker, length int64) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(s, length)); err != nil {
		return "", fmt.Errorf("hashing stream: %w", err)
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
