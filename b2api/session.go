package b2api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"blazefetch/internal"
	"blazefetch/utils"
)

// DefaultAuthURL is the fixed endpoint for b2_authorize_account
const DefaultAuthURL = "https://api.backblazeb2.com"

// apiPath is the versioned prefix for API operations
const apiPath = "/b2api/v2/"

// Session owns the credentials, account metadata, policy instances, URL
// caches and HTTP executor for one account. It is safe for concurrent use;
// transfers borrow it and never outlive it.
//
// A session starts unauthorized. Connect moves it to authorized; an
// authentication error observed mid-flight moves it back until the auth
// policy reconnects. Close is terminal.
type Session struct {
	// AuthURL is the authorize endpoint, overridable for testing
	AuthURL string

	cfg  *internal.Config
	exec *Executor

	keyID  string
	appKey string

	mu      sync.RWMutex
	token   string
	account internal.AccountInfo
	closed  bool

	reauth singleflight.Group

	// sleep is the backoff hook; tests shorten it
	sleep func(ctx context.Context, d time.Duration) error

	uploadURLs *URLCache
	partURLs   *URLCache
	uploads    *Bulkhead
	downloads  *Bulkhead
}

// NewSession creates an unauthorized session for the given application key.
// Call Connect before issuing operations.
func NewSession(keyID, appKey string, cfg *internal.Config) (*Session, error) {
	if keyID == "" || appKey == "" {
		return nil, internal.NewValidationError("credentials", "key id and application key are required")
	}
	if cfg == nil {
		cfg = internal.DefaultConfig()
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}

	client, err := utils.NewHTTPClient(&utils.TransportConfig{ProxyURL: cfg.ProxyURL})
	if err != nil {
		return nil, err
	}

	s := &Session{
		AuthURL:   DefaultAuthURL,
		cfg:       cfg,
		exec:      NewExecutor(client, cfg.TestMode),
		keyID:     keyID,
		appKey:    appKey,
		uploads:   NewBulkhead(cfg.UploadConnections),
		downloads: NewBulkhead(cfg.DownloadConnections),
		sleep:     sleepCtx,
	}
	s.uploadURLs = NewURLCache(s.GetUploadURL, DefaultURLLifetime, cfg.UploadConnections)
	s.partURLs = NewURLCache(s.GetUploadPartURL, DefaultURLLifetime, cfg.UploadConnections)

	return s, nil
}

// Config returns the session's tunables
func (s *Session) Config() *internal.Config {
	return s.cfg
}

// Token returns the current authorization token, or "" when unauthorized
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Account returns the account metadata captured by the last Connect
func (s *Session) Account() internal.AccountInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Connect authorizes the session with the service. It is idempotent; the
// auth policy re-runs it when a token expires. Stale upload URLs issued
// under the previous token are evicted.
func (s *Session) Connect(ctx context.Context) error {
	const op = "b2_authorize_account"

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return internal.NewKindError(op, internal.KindBadRequest, "session is closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.AuthURL+apiPath+op, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(s.keyID, s.appKey)

	var res struct {
		AccountID           string `json:"accountId"`
		Token               string `json:"authorizationToken"`
		APIURL              string `json:"apiUrl"`
		DownloadURL         string `json:"downloadUrl"`
		RecommendedPartSize int64  `json:"recommendedPartSize"`
		MinPartSize         int64  `json:"absoluteMinimumPartSize"`
		Allowed             struct {
			Capabilities []string `json:"capabilities"`
		} `json:"allowed"`
	}
	if err := s.exec.Do(op, req, &res); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = res.Token
	s.account = internal.AccountInfo{
		AccountID:           res.AccountID,
		APIBase:             res.APIURL,
		DownloadBase:        res.DownloadURL,
		MinPartSize:         res.MinPartSize,
		RecommendedPartSize: res.RecommendedPartSize,
		Capabilities:        res.Allowed.Capabilities,
	}
	s.mu.Unlock()

	s.uploadURLs.Clear()
	s.partURLs.Clear()

	slog.Info("authorized account", "account", res.AccountID, "recommended_part_size", res.RecommendedPartSize)
	return nil
}

// refreshAuth re-runs Connect exactly once per expiry, no matter how many
// tasks observe the stale token concurrently. Tasks whose token already
// changed under them skip the round trip.
func (s *Session) refreshAuth(ctx context.Context, stale string) error {
	if s.Token() != stale {
		return nil
	}
	_, err, _ := s.reauth.Do("connect", func() (interface{}, error) {
		if s.Token() != stale {
			return nil, nil
		}
		return nil, s.Connect(ctx)
	})
	return err
}

// EvictUploadURLs drops cached upload URLs for a bucket after an upload
// fault so the next checkout fetches a fresh one
func (s *Session) EvictUploadURLs(bucketID string) {
	s.uploadURLs.Evict(bucketID)
}

// EvictPartURLs drops cached part-upload URLs for a large file
func (s *Session) EvictPartURLs(fileID string) {
	s.partURLs.Evict(fileID)
}

// CheckoutUploadURL leases an upload URL for a bucket
func (s *Session) CheckoutUploadURL(ctx context.Context, bucketID string) (*internal.UploadURL, error) {
	return s.uploadURLs.Checkout(ctx, bucketID)
}

// ReturnUploadURL ends an upload URL lease
func (s *Session) ReturnUploadURL(u *internal.UploadURL, ok bool) {
	s.uploadURLs.Return(u, ok)
}

// CheckoutPartURL leases a part-upload URL for a large file
func (s *Session) CheckoutPartURL(ctx context.Context, fileID string) (*internal.UploadURL, error) {
	return s.partURLs.Checkout(ctx, fileID)
}

// ReturnPartURL ends a part-upload URL lease
func (s *Session) ReturnPartURL(u *internal.UploadURL, ok bool) {
	s.partURLs.Return(u, ok)
}

// Close releases the session. Outstanding operations fail; the session
// cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.token = ""
	s.mu.Unlock()

	s.uploadURLs.Stop()
	s.partURLs.Stop()
	s.exec.CloseIdle()
	return nil
}

// apiURL joins the account API base with an operation name
func (s *Session) apiURL(op string) string {
	return s.Account().APIBase + apiPath + op
}

// downloadURL joins the account download base with a path
func (s *Session) downloadURL(path string) string {
	return s.Account().DownloadBase + path
}
