package internal

import (
	"fmt"
	"os"
	"strconv"
)

// Test mode markers recognized by the service and forwarded verbatim
// as X-Bz-Test-Mode.
const (
	TestModeFailUploads  = "fail_some_uploads"
	TestModeExpireTokens = "expire_some_account_authorization_tokens"
	TestModeCapExceeded  = "force_cap_exceeded"
)

// Config holds application configuration
type Config struct {
	RetryCount          int
	UploadConnections   int
	DownloadConnections int

	// Size tunables in bytes; explicit values are floored at the account's
	// absolute minimum part size. A part size of 0 means "use the
	// service-recommended part size"; a cutoff of 0 means "cut over at one
	// effective part size".
	UploadCutoffSize   int64
	UploadPartSize     int64
	DownloadCutoffSize int64
	DownloadPartSize   int64

	TestMode string
	ProxyURL string

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RetryCount:          3,
		UploadConnections:   1,
		DownloadConnections: 1,

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if retries := os.Getenv("BLAZEFETCH_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			c.RetryCount = n
		}
	}

	if conns := os.Getenv("BLAZEFETCH_UPLOAD_CONNECTIONS"); conns != "" {
		if n, err := strconv.Atoi(conns); err == nil && n >= 1 {
			c.UploadConnections = n
		}
	}

	if conns := os.Getenv("BLAZEFETCH_DOWNLOAD_CONNECTIONS"); conns != "" {
		if n, err := strconv.Atoi(conns); err == nil && n >= 1 {
			c.DownloadConnections = n
		}
	}

	if mode := os.Getenv("BLAZEFETCH_TEST_MODE"); mode != "" {
		c.TestMode = mode
	}

	if proxy := os.Getenv("BLAZEFETCH_PROXY"); proxy != "" {
		c.ProxyURL = proxy
	}

	// Load logging configuration from environment
	if logLevel := os.Getenv("BLAZEFETCH_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv("BLAZEFETCH_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}

	if quiet := os.Getenv("BLAZEFETCH_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}

	if logFile := os.Getenv("BLAZEFETCH_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.RetryCount < 0 {
		return fmt.Errorf("invalid retry count: %d (must be >= 0)", c.RetryCount)
	}

	if c.UploadConnections < 1 {
		return fmt.Errorf("invalid upload connections: %d (must be >= 1)", c.UploadConnections)
	}

	if c.DownloadConnections < 1 {
		return fmt.Errorf("invalid download connections: %d (must be >= 1)", c.DownloadConnections)
	}

	if c.UploadCutoffSize < 0 || c.UploadPartSize < 0 || c.DownloadCutoffSize < 0 || c.DownloadPartSize < 0 {
		return fmt.Errorf("size tunables must be >= 0")
	}

	switch c.TestMode {
	case "", TestModeFailUploads, TestModeExpireTokens, TestModeCapExceeded:
	default:
		return fmt.Errorf("invalid test mode: %q", c.TestMode)
	}

	return nil
}
