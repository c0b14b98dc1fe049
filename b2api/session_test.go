package b2api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"blazefetch/internal"
)

// authFixture is a minimal service fake covering authorization and a few
// API operations
type authFixture struct {
	srv       *httptest.Server
	authCalls int32
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{}
	mux := http.NewServeMux()

	mux.HandleFunc("/b2api/v2/b2_authorize_account", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key-id" || pass != "app-key" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": 401, "code": "unauthorized", "message": "bad credentials",
			})
			return
		}
		n := atomic.AddInt32(&f.authCalls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accountId":               "acct-1",
			"authorizationToken":      fmt.Sprintf("token-%d", n),
			"apiUrl":                  f.srv.URL,
			"downloadUrl":             f.srv.URL,
			"recommendedPartSize":     100 * 1024 * 1024,
			"absoluteMinimumPartSize": 5 * 1024 * 1024,
			"allowed": map[string]interface{}{
				"capabilities": []string{"listBuckets", "readFiles", "writeFiles"},
			},
		})
	})

	mux.HandleFunc("/b2api/v2/b2_get_file_info", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 404, "code": "not_found", "message": "no such file",
		})
	})

	mux.HandleFunc("/b2api/v2/b2_list_buckets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": 401, "code": "bad_auth_token", "message": "missing token",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"buckets": []map[string]string{
				{"bucketId": "b1", "bucketName": "bucket-one", "bucketType": "allPrivate"},
			},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestSession(t *testing.T, f *authFixture, cfg *internal.Config) *Session {
	t.Helper()

	if cfg == nil {
		cfg = internal.DefaultConfig()
	}
	s, err := NewSession("key-id", "app-key", cfg)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	s.AuthURL = f.srv.URL
	s.sleep = noSleep
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionConnect(t *testing.T) {
	f := newAuthFixture(t)
	s := newTestSession(t, f, nil)

	if s.Token() != "" {
		t.Error("session should start unauthorized")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if s.Token() != "token-1" {
		t.Errorf("token = %q, want token-1", s.Token())
	}

	account := s.Account()
	if account.AccountID != "acct-1" {
		t.Errorf("account id = %q, want acct-1", account.AccountID)
	}
	if account.RecommendedPartSize != 100*1024*1024 {
		t.Errorf("recommended part size = %d", account.RecommendedPartSize)
	}
	if account.MinPartSize != 5*1024*1024 {
		t.Errorf("min part size = %d", account.MinPartSize)
	}
	if account.APIBase != f.srv.URL || account.DownloadBase != f.srv.URL {
		t.Errorf("unexpected base URLs: %q / %q", account.APIBase, account.DownloadBase)
	}
}

func TestSessionConnect_BadCredentials(t *testing.T) {
	f := newAuthFixture(t)

	s, err := NewSession("key-id", "wrong", internal.DefaultConfig())
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	defer s.Close()
	s.AuthURL = f.srv.URL

	err = s.Connect(context.Background())
	if got := internal.KindOf(err); got != internal.KindAuth {
		t.Errorf("expected Authentication error, got %v (%v)", got, err)
	}
}

// TestRefreshAuth_Singleflight verifies that concurrent authentication
// failures trigger exactly one authorize round trip
func TestRefreshAuth_Singleflight(t *testing.T) {
	f := newAuthFixture(t)
	s := newTestSession(t, f, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	stale := s.Token()
	before := atomic.LoadInt32(&f.authCalls)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.refreshAuth(context.Background(), stale); err != nil {
				t.Errorf("refresh failed: %v", err)
			}
		}()
	}
	wg.Wait()

	extra := atomic.LoadInt32(&f.authCalls) - before
	if extra != 1 {
		t.Errorf("observed %d authorize calls during refresh window, want 1", extra)
	}
	if s.Token() == stale {
		t.Error("token was not rotated")
	}

	// A refresh against an already-replaced token is a no-op
	if err := s.refreshAuth(context.Background(), stale); err != nil {
		t.Fatalf("stale refresh failed: %v", err)
	}
	if got := atomic.LoadInt32(&f.authCalls) - before; got != 1 {
		t.Errorf("stale refresh triggered another authorize (%d total)", got)
	}
}

// TestAPIError_Classification verifies the service envelope surfaces as a
// classified B2Error with operation context
func TestAPIError_Classification(t *testing.T) {
	f := newAuthFixture(t)
	s := newTestSession(t, f, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	_, err := s.GetFileInfo(context.Background(), "missing-id")
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	b2err, ok := err.(*internal.B2Error)
	if !ok {
		t.Fatalf("expected *B2Error, got %T", err)
	}
	if b2err.Kind != internal.KindNotFound {
		t.Errorf("kind = %v, want NotFound", b2err.Kind)
	}
	if b2err.Status != 404 || b2err.Code != "not_found" {
		t.Errorf("envelope = %d/%q", b2err.Status, b2err.Code)
	}
	if b2err.Op != "b2_get_file_info" {
		t.Errorf("op = %q", b2err.Op)
	}
}

func TestListBuckets(t *testing.T) {
	f := newAuthFixture(t)
	s := newTestSession(t, f, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	buckets, err := s.ListBuckets(context.Background())
	if err != nil {
		t.Fatalf("list buckets failed: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Name != "bucket-one" || buckets[0].ID != "b1" {
		t.Errorf("unexpected buckets: %+v", buckets)
	}
}
