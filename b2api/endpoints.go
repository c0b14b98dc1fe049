package b2api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blazefetch/internal"
	"blazefetch/utils"
)

// DefaultContentType lets the service sniff the content type
const DefaultContentType = "b2/x-auto"

// LargeFileSHA1Key is the file-info key carrying the whole-file digest of a
// large upload, following the convention the service documents.
const LargeFileSHA1Key = "large_file_sha1"

// apiPost runs one JSON API operation under the auth policy. The request is
// rebuilt per attempt so a refreshed token is picked up.
func (s *Session) apiPost(ctx context.Context, op string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}

	return s.runAuth(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL(op), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Authorization", s.Token())
		req.Header.Set("Content-Type", "application/json")
		return s.exec.Do(op, req, out)
	})
}

// ListBuckets lists all buckets in the account
func (s *Session) ListBuckets(ctx context.Context) ([]internal.Bucket, error) {
	body := struct {
		AccountID string `json:"accountId"`
	}{s.Account().AccountID}

	var res struct {
		Buckets []internal.Bucket `json:"buckets"`
	}
	if err := s.apiPost(ctx, "b2_list_buckets", &body, &res); err != nil {
		return nil, err
	}
	return res.Buckets, nil
}

// GetUploadURL fetches a fresh upload URL for a bucket. Most callers want
// CheckoutUploadURL, which consults the cache first.
func (s *Session) GetUploadURL(ctx context.Context, bucketID string) (*internal.UploadURL, error) {
	body := struct {
		BucketID string `json:"bucketId"`
	}{bucketID}

	u := &internal.UploadURL{}
	if err := s.apiPost(ctx, "b2_get_upload_url", &body, u); err != nil {
		return nil, err
	}
	u.Key = bucketID
	u.IssuedAt = time.Now()
	return u, nil
}

// GetUploadPartURL fetches a fresh part-upload URL for a large file
func (s *Session) GetUploadPartURL(ctx context.Context, fileID string) (*internal.UploadURL, error) {
	body := struct {
		FileID string `json:"fileId"`
	}{fileID}

	u := &internal.UploadURL{}
	if err := s.apiPost(ctx, "b2_get_upload_part_url", &body, u); err != nil {
		return nil, err
	}
	u.Key = fileID
	u.IssuedAt = time.Now()
	return u, nil
}

// StartLargeFile opens a large-file upload session server-side
func (s *Session) StartLargeFile(ctx context.Context, bucketID, fileName, contentType string, info map[string]string) (*internal.FileInfo, error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	body := struct {
		BucketID    string            `json:"bucketId"`
		FileName    string            `json:"fileName"`
		ContentType string            `json:"contentType"`
		FileInfo    map[string]string `json:"fileInfo,omitempty"`
	}{bucketID, fileName, contentType, info}

	fi := &internal.FileInfo{}
	if err := s.apiPost(ctx, "b2_start_large_file", &body, fi); err != nil {
		return nil, err
	}
	return fi, nil
}

// FinishLargeFile assembles an uploaded large file from its parts. The
// digests must be in part-number order, one per acknowledged part.
func (s *Session) FinishLargeFile(ctx context.Context, fileID string, partSHA1s []string) (*internal.FileInfo, error) {
	body := struct {
		FileID    string   `json:"fileId"`
		PartSHA1s []string `json:"partSha1Array"`
	}{fileID, partSHA1s}

	fi := &internal.FileInfo{}
	if err := s.apiPost(ctx, "b2_finish_large_file", &body, fi); err != nil {
		return nil, err
	}
	return fi, nil
}

// CancelLargeFile abandons an unfinished large file and frees its parts
func (s *Session) CancelLargeFile(ctx context.Context, fileID string) error {
	body := struct {
		FileID string `json:"fileId"`
	}{fileID}
	return s.apiPost(ctx, "b2_cancel_large_file", &body, nil)
}

// GetFileInfo fetches the descriptor of a stored file by id
func (s *Session) GetFileInfo(ctx context.Context, fileID string) (*internal.FileInfo, error) {
	body := struct {
		FileID string `json:"fileId"`
	}{fileID}

	fi := &internal.FileInfo{}
	if err := s.apiPost(ctx, "b2_get_file_info", &body, fi); err != nil {
		return nil, err
	}
	return fi, nil
}

// ListFileNames returns one page of file descriptors starting at startName,
// along with the name to continue from ("" when the listing is complete).
func (s *Session) ListFileNames(ctx context.Context, bucketID, startName string, maxCount int) ([]internal.FileInfo, string, error) {
	// The service caps page size at 10000
	if maxCount <= 0 || maxCount > 10000 {
		maxCount = 10000
	}
	body := struct {
		BucketID  string `json:"bucketId"`
		StartName string `json:"startFileName,omitempty"`
		MaxCount  int    `json:"maxFileCount"`
	}{bucketID, startName, maxCount}

	var res struct {
		Files []internal.FileInfo `json:"files"`
		Next  *string             `json:"nextFileName"`
	}
	if err := s.apiPost(ctx, "b2_list_file_names", &body, &res); err != nil {
		return nil, "", err
	}
	next := ""
	if res.Next != nil {
		next = *res.Next
	}
	return res.Files, next, nil
}

// ListParts returns one page of acknowledged parts of an unfinished large
// file, along with the part number to continue from (0 when complete).
func (s *Session) ListParts(ctx context.Context, fileID string, startPart, maxCount int) ([]internal.PartInfo, int, error) {
	if maxCount <= 0 || maxCount > 1000 {
		maxCount = 1000
	}
	body := struct {
		FileID    string `json:"fileId"`
		StartPart int    `json:"startPartNumber,omitempty"`
		MaxCount  int    `json:"maxPartCount"`
	}{fileID, startPart, maxCount}

	var res struct {
		Parts []struct {
			PartNumber int   `json:"partNumber"`
			Length     int64 `json:"contentLength"`
		} `json:"parts"`
		Next *int `json:"nextPartNumber"`
	}
	if err := s.apiPost(ctx, "b2_list_parts", &body, &res); err != nil {
		return nil, 0, err
	}

	parts := make([]internal.PartInfo, 0, len(res.Parts))
	for _, p := range res.Parts {
		parts = append(parts, internal.PartInfo{Number: p.PartNumber, Length: p.Length})
	}
	next := 0
	if res.Next != nil {
		next = *res.Next
	}
	return parts, next, nil
}

// ListUnfinishedLargeFiles lists large-file sessions that were started but
// never finished or cancelled
func (s *Session) ListUnfinishedLargeFiles(ctx context.Context, bucketID string) ([]internal.FileInfo, error) {
	body := struct {
		BucketID string `json:"bucketId"`
		MaxCount int    `json:"maxFileCount"`
	}{bucketID, 100}

	var res struct {
		Files []internal.FileInfo `json:"files"`
	}
	if err := s.apiPost(ctx, "b2_list_unfinished_large_files", &body, &res); err != nil {
		return nil, err
	}
	return res.Files, nil
}

// UploadFileRequest carries one single-shot upload
type UploadFileRequest struct {
	BucketID    string
	FileName    string
	ContentType string
	Info        map[string]string
	Body        io.Reader
	Length      int64
	SHA1        string // hex digest of Body
}

// UploadFile posts a whole file to a leased upload URL. This is the raw
// endpoint: the orchestrator owns URL checkout, policies and progress.
func (s *Session) UploadFile(ctx context.Context, u *internal.UploadURL, r *UploadFileRequest) (*internal.FileInfo, error) {
	const op = "b2_upload_file"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = r.Length
	req.Header.Set("Authorization", u.AuthToken)
	req.Header.Set("X-Bz-File-Name", utils.EncodeFileName(r.FileName))
	req.Header.Set("X-Bz-Content-Sha1", r.SHA1)
	contentType := r.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range r.Info {
		req.Header.Set("X-Bz-Info-"+k, url.QueryEscape(v))
	}

	fi := &internal.FileInfo{}
	if err := s.exec.Do(op, req, fi); err != nil {
		return nil, err
	}
	if len(fi.SHA1) == 40 && fi.SHA1 != r.SHA1 {
		return nil, internal.NewKindError(op, internal.KindInvalidHash,
			fmt.Sprintf("service stored sha1 %s, want %s", fi.SHA1, r.SHA1)).WithFile(r.FileName)
	}
	return fi, nil
}

// UploadPart posts one part of a large file to a leased part-upload URL and
// returns the digest the service acknowledged
func (s *Session) UploadPart(ctx context.Context, u *internal.UploadURL, part internal.PartInfo, sha1hex string, body io.Reader) (string, error) {
	const op = "b2_upload_part"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = part.Length
	req.Header.Set("Authorization", u.AuthToken)
	req.Header.Set("X-Bz-Part-Number", strconv.Itoa(part.Number))
	req.Header.Set("X-Bz-Content-Sha1", sha1hex)

	var res struct {
		PartNumber int    `json:"partNumber"`
		SHA1       string `json:"contentSha1"`
	}
	if err := s.exec.Do(op, req, &res); err != nil {
		return "", err
	}
	if len(res.SHA1) == 40 && res.SHA1 != sha1hex {
		return "", internal.NewKindError(op, internal.KindInvalidHash,
			fmt.Sprintf("service stored sha1 %s for part %d, want %s", res.SHA1, part.Number, sha1hex))
	}
	return sha1hex, nil
}

// DownloadRequest identifies a file either by id or by (bucket name, file
// name), optionally restricted to a byte range.
type DownloadRequest struct {
	FileID   string
	Bucket   string
	FileName string
	Range    *internal.PartInfo
}

func (r *DownloadRequest) validate() error {
	if r.FileID == "" && (r.Bucket == "" || r.FileName == "") {
		return internal.NewValidationError("download", "either file id or bucket and file name are required")
	}
	return nil
}

// DownloadResult carries the body stream and descriptor of a download
type DownloadResult struct {
	Body          io.ReadCloser
	Info          internal.FileInfo
	ContentLength int64
}

// formatRange renders the half-open [offset, offset+length) as a closed
// HTTP byte range
func formatRange(p *internal.PartInfo) string {
	return fmt.Sprintf("bytes=%d-%d", p.Offset, p.Offset+p.Length-1)
}

// Download streams a file, or a byte range of it, from the service. Whole
// bodies are SHA-1-verified as they are read; range responses cannot be,
// since the advertised digest covers the entire file. The raw endpoint:
// policies and sink plumbing live in the orchestrator.
func (s *Session) Download(ctx context.Context, r *DownloadRequest) (*DownloadResult, error) {
	return s.download(ctx, http.MethodGet, r)
}

// Stat fetches a file's descriptor via a bodiless request to the download
// endpoint, avoiding the full-body probe a GET would cost.
func (s *Session) Stat(ctx context.Context, r *DownloadRequest) (*internal.FileInfo, error) {
	res, err := s.download(ctx, http.MethodHead, r)
	if err != nil {
		return nil, err
	}
	res.Body.Close()
	return &res.Info, nil
}

func (s *Session) download(ctx context.Context, method string, r *DownloadRequest) (*DownloadResult, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	var op, uri string
	if r.FileID != "" {
		op = "b2_download_file_by_id"
		uri = s.downloadURL("/b2api/v2/b2_download_file_by_id?fileId=" + url.QueryEscape(r.FileID))
	} else {
		op = "b2_download_file_by_name"
		uri = s.downloadURL("/file/" + r.Bucket + "/" + utils.EncodeFileName(r.FileName))
	}

	var result *DownloadResult
	err := s.runAuth(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, uri, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Authorization", s.Token())
		if r.Range != nil {
			req.Header.Set("Range", formatRange(r.Range))
		}

		res, err := s.exec.DoStream(op, req)
		if err != nil {
			return err
		}

		info, err := fileInfoFromHeaders(res)
		if err != nil {
			res.Body.Close()
			return fmt.Errorf("%s: %w", op, err)
		}

		body := res.Body
		if method == http.MethodGet && r.Range == nil && res.StatusCode == http.StatusOK {
			body = newSHA1Verifier(op, body, info.SHA1)
		}

		result = &DownloadResult{
			Body:          body,
			Info:          *info,
			ContentLength: res.ContentLength,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fileInfoFromHeaders reconstructs a file descriptor from the X-Bz-*
// response headers of a download
func fileInfoFromHeaders(res *http.Response) (*internal.FileInfo, error) {
	h := res.Header

	name, err := utils.DecodeFileName(h.Get("X-Bz-File-Name"))
	if err != nil {
		return nil, err
	}

	var info map[string]string
	for k, vals := range h {
		if strings.HasPrefix(k, "X-Bz-Info-") {
			if info == nil {
				info = make(map[string]string)
			}
			key := strings.TrimPrefix(k, "X-Bz-Info-")
			val, err := url.QueryUnescape(strings.Join(vals, ", "))
			if err != nil {
				val = strings.Join(vals, ", ")
			}
			info[key] = val
		}
	}

	var created int64
	if ts := h.Get("X-Bz-Upload-Timestamp"); ts != "" {
		if i, err := strconv.ParseInt(ts, 10, 64); err == nil {
			created = i
		}
	}

	size := res.ContentLength
	// Range responses carry the full size after the slash in Content-Range
	if cr := h.Get("Content-Range"); cr != "" {
		if _, total, ok := strings.Cut(cr, "/"); ok {
			if i, err := strconv.ParseInt(total, 10, 64); err == nil {
				size = i
			}
		}
	}

	return &internal.FileInfo{
		ID:          h.Get("X-Bz-File-Id"),
		Name:        name,
		Size:        size,
		SHA1:        h.Get("X-Bz-Content-Sha1"),
		ContentType: h.Get("Content-Type"),
		Info:        info,
		Timestamp:   created,
	}, nil
}

// FileIterator walks a bucket's files lazily, one page per fetch. It is
// restartable: a fresh iterator with the same start name resumes where a
// prior listing stopped.
type FileIterator struct {
	s        *Session
	bucketID string
	next     string
	pageSize int

	buf  []internal.FileInfo
	idx  int
	done bool
	err  error
}

// Files returns an iterator over the bucket's file names starting at
// startName ("" for the beginning)
func (s *Session) Files(bucketID, startName string, pageSize int) *FileIterator {
	return &FileIterator{
		s:        s,
		bucketID: bucketID,
		next:     startName,
		pageSize: pageSize,
	}
}

// Next advances the iterator, fetching the next page when the current one
// is exhausted. It returns false at the end of the listing or on error.
func (it *FileIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	it.idx++
	for it.idx >= len(it.buf) {
		if it.done {
			return false
		}
		files, next, err := it.s.ListFileNames(ctx, it.bucketID, it.next, it.pageSize)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = files
		it.idx = 0
		it.next = next
		it.done = next == ""
	}
	return true
}

// Item returns the descriptor at the iterator's position
func (it *FileIterator) Item() *internal.FileInfo {
	return &it.buf[it.idx]
}

// Err returns the error that stopped iteration, if any
func (it *FileIterator) Err() error {
	return it.err
}
