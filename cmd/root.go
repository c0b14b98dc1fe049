package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"blazefetch/internal"
)

var (
	keyID     string
	appKey    string
	quiet     bool
	debug     bool
	logLevel  string
	logFile   string
	proxyURL  string
	retries   int
	testMode  string
	rateLimit string

	connections int
	partSize    string
	cutoffSize  string
	contentType string
	fileID      string

	config *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "blazefetch",
	Short:   "Transfer files to and from Backblaze B2 with parallel chunking",
	Version: "v1.0.0",
	Long: `Blazefetch is a CLI for Backblaze B2 Cloud Storage with chunked parallel
uploads and downloads, automatic token refresh, and integrity verification.

Examples:
  blazefetch upload backup.tar b2://my-bucket/backups/backup.tar
  blazefetch download b2://my-bucket/backups/backup.tar ./backup.tar
  blazefetch download --file-id 4_z27c88f1d182b150646ff0b16_f100920ddab886245_d20200317 out.bin
  blazefetch ls my-bucket
  blazefetch buckets

Environment Variables:
  BLAZEFETCH_KEY_ID                Application key id
  BLAZEFETCH_APPLICATION_KEY       Application key
  BLAZEFETCH_RETRIES               Retries per recovery policy
  BLAZEFETCH_UPLOAD_CONNECTIONS    Parallel upload connections
  BLAZEFETCH_DOWNLOAD_CONNECTIONS  Parallel download connections
  BLAZEFETCH_PROXY                 Proxy URL
  BLAZEFETCH_TEST_MODE             X-Bz-Test-Mode marker`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.SetupLogging(config); err != nil {
			return fmt.Errorf("failed to initialize logging: %v", err)
		}

		slog.Debug("configuration loaded",
			"retries", config.RetryCount,
			"upload_connections", config.UploadConnections,
			"download_connections", config.DownloadConnections)
		return nil
	},
}

// loadConfiguration merges defaults, environment variables and CLI flags,
// flags winning
func loadConfiguration() error {
	config = internal.DefaultConfig()
	config.LoadFromEnv()

	if keyID == "" {
		keyID = os.Getenv("BLAZEFETCH_KEY_ID")
	}
	if appKey == "" {
		appKey = os.Getenv("BLAZEFETCH_APPLICATION_KEY")
	}

	if retries >= 0 {
		config.RetryCount = retries
	}
	if proxyURL != "" {
		config.ProxyURL = proxyURL
	}
	if testMode != "" {
		config.TestMode = testMode
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}

	return config.ValidateConfig()
}

// requireCredentials fails early when no application key is configured
func requireCredentials() error {
	if keyID == "" || appKey == "" {
		return fmt.Errorf("credentials required: set --key-id and --application-key or the BLAZEFETCH_KEY_ID / BLAZEFETCH_APPLICATION_KEY environment variables")
	}
	return nil
}

// signalContext returns a context cancelled by SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received signal, shutting down", "signal", sig.String())
		if !quiet {
			fmt.Fprintf(os.Stderr, "\nreceived %v, cancelling transfer...\n", sig)
		}
		cancel()
	}()

	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().StringVar(&keyID, "key-id", "", "Application key id (env: BLAZEFETCH_KEY_ID)")
	rootCmd.PersistentFlags().StringVar(&appKey, "application-key", "", "Application key (env: BLAZEFETCH_APPLICATION_KEY)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (env: BLAZEFETCH_DEBUG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: BLAZEFETCH_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: BLAZEFETCH_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL (env: BLAZEFETCH_PROXY)")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", -1, "Retries per recovery policy (env: BLAZEFETCH_RETRIES)")
	rootCmd.PersistentFlags().StringVar(&testMode, "test-mode", "", "X-Bz-Test-Mode marker forwarded to the service (env: BLAZEFETCH_TEST_MODE)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
