package transfer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"sync/atomic"
	"testing"

	"blazefetch/b2api"
	"blazefetch/internal"
)

func seedFile(f *fakeB2, name string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.files[name] = content
	f.fileIDs["seeded-file"] = name
}

// TestDownload_Whole covers the streaming path for content under the
// cutoff, including the end-to-end digest check
func TestDownload_Whole(t *testing.T) {
	f := newFakeB2(t)
	s := newFakeSession(t, f, nil)

	content := deterministicBytes(10 * 1024)
	seedFile(f, "data/whole.bin", content)

	sink := &memSink{}
	downloader := NewDownloader(s)
	info, err := downloader.Download(context.Background(), &b2api.DownloadRequest{
		Bucket:   "bucket-one",
		FileName: "data/whole.bin",
	}, sink)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("downloaded bytes differ from stored content")
	}
	if info.Size != int64(len(content)) {
		t.Errorf("probed size %d, want %d", info.Size, len(content))
	}

	sum := sha1.Sum(content)
	if got := sha1.Sum(sink.Bytes()); got != sum {
		t.Error("round-trip digest mismatch")
	}

	// One bodiless probe plus one body fetch
	if got := atomic.LoadInt32(&f.downloadCalls); got != 2 {
		t.Errorf("observed %d download requests, want 2", got)
	}
}

// TestDownload_Chunked covers the ranged path: content above the cutoff is
// fetched as byte ranges and reassembled in place
func TestDownload_Chunked(t *testing.T) {
	f := newFakeB2(t)

	cfg := internal.DefaultConfig()
	cfg.DownloadPartSize = 4 * 1024
	cfg.DownloadCutoffSize = 4 * 1024
	cfg.DownloadConnections = 3
	s := newFakeSession(t, f, cfg)

	content := deterministicBytes(18 * 1024) // 5 ranges of up to 4KB
	seedFile(f, "data/chunked.bin", content)

	sink := &memSink{}
	downloader := NewDownloader(s)
	_, err := downloader.Download(context.Background(), &b2api.DownloadRequest{
		Bucket:   "bucket-one",
		FileName: "data/chunked.bin",
	}, sink)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("reassembled bytes differ from stored content")
	}

	// One probe plus one request per planned range
	want := int32(1 + len(PlanParts(int64(len(content)), cfg.DownloadPartSize)))
	if got := atomic.LoadInt32(&f.downloadCalls); got != want {
		t.Errorf("observed %d download requests, want %d", got, want)
	}
}

// TestDownload_HashMismatchRetry covers a corrupted body: the first fetch
// fails verification, the hash policy re-requests, and the sink ends up
// with the correct bytes
func TestDownload_HashMismatchRetry(t *testing.T) {
	f := newFakeB2(t)
	s := newFakeSession(t, f, nil)

	content := deterministicBytes(8 * 1024)
	seedFile(f, "data/corrupt.bin", content)
	f.corruptDownloadOnce.Store(true)

	sink := &memSink{}
	downloader := NewDownloader(s)
	_, err := downloader.Download(context.Background(), &b2api.DownloadRequest{
		Bucket:   "bucket-one",
		FileName: "data/corrupt.bin",
	}, sink)
	if err != nil {
		t.Fatalf("download failed despite hash retry: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("sink holds corrupted bytes after retry")
	}

	// Probe + corrupted fetch + clean fetch
	if got := atomic.LoadInt32(&f.downloadCalls); got != 3 {
		t.Errorf("observed %d download requests, want 3", got)
	}
}

// TestDownload_NotFound verifies a missing file surfaces as NotFound
func TestDownload_NotFound(t *testing.T) {
	f := newFakeB2(t)
	s := newFakeSession(t, f, nil)

	sink := &memSink{}
	downloader := NewDownloader(s)
	_, err := downloader.Download(context.Background(), &b2api.DownloadRequest{
		Bucket:   "bucket-one",
		FileName: "no/such/file.bin",
	}, sink)

	if got := internal.KindOf(err); got != internal.KindNotFound {
		t.Errorf("expected NotFound, got %v (%v)", got, err)
	}
}

// TestRoundTrip uploads through the chunked path and downloads through the
// ranged path, asserting byte-for-byte identity
func TestRoundTrip(t *testing.T) {
	f := newFakeB2(t)

	cfg := internal.DefaultConfig()
	cfg.UploadPartSize = 4 * 1024
	cfg.UploadCutoffSize = 4 * 1024
	cfg.UploadConnections = 2
	cfg.DownloadPartSize = 3 * 1024
	cfg.DownloadCutoffSize = 3 * 1024
	cfg.DownloadConnections = 2
	s := newFakeSession(t, f, cfg)

	content := deterministicBytes(21*1024 + 13)

	uploader := NewUploader(s)
	fi, err := uploader.Upload(context.Background(), &UploadRequest{
		BucketID: "b1",
		FileName: "roundtrip.bin",
		Body:     bytes.NewReader(content),
		Length:   int64(len(content)),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if fi.Name != "roundtrip.bin" {
		t.Errorf("stored name %q", fi.Name)
	}

	sink := &memSink{}
	downloader := NewDownloader(s)
	_, err = downloader.Download(context.Background(), &b2api.DownloadRequest{
		Bucket:   "bucket-one",
		FileName: "roundtrip.bin",
	}, sink)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("round trip corrupted the content")
	}
	if sha1.Sum(sink.Bytes()) != sha1.Sum(content) {
		t.Error("round-trip digest mismatch")
	}
}
