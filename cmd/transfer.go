package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"blazefetch/b2api"
	"blazefetch/internal"
	"blazefetch/transfer"
	"blazefetch/utils"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <LOCAL_FILE> <b2://BUCKET/NAME>",
	Short: "Upload a file, chunking large ones into parallel parts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		localPath, rawURI := args[0], args[1]

		if err := requireCredentials(); err != nil {
			return err
		}

		if !utils.FileExists(localPath) {
			return fmt.Errorf("no such file: %s", localPath)
		}

		uri, err := utils.ParseB2URI(rawURI)
		if err != nil {
			return err
		}
		if uri.Path == "" {
			uri.Path = filepath.Base(localPath)
		}

		if err := applySizeFlags(cmd, true); err != nil {
			return err
		}

		limiter, err := parseLimiter()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Close()

		bucket, err := findBucket(ctx, session, uri.Bucket)
		if err != nil {
			return err
		}

		file, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", localPath, err)
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			return err
		}

		uploader := transfer.NewUploader(session)
		uploader.Limiter = limiter
		tracker := utils.NewProgressTracker("Uploading: ", stat.Size(), config.QuietMode)
		uploader.Progress = tracker

		fi, err := uploader.Upload(ctx, &transfer.UploadRequest{
			BucketID:    bucket.ID,
			FileName:    uri.Path,
			ContentType: contentType,
			Body:        file,
			Length:      stat.Size(),
		})
		if err != nil {
			tracker.Finish()
			return fmt.Errorf("upload failed: %w", err)
		}

		summary := tracker.Finish()
		summary.Filename = uri.String()
		if !config.QuietMode {
			utils.DisplaySummary(summary)
			fmt.Printf("File id: %s\n", fi.ID)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <b2://BUCKET/NAME | --file-id ID> <OUTPUT_FILE>",
	Short: "Download a file, fetching large ones as parallel byte ranges",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}

		req := &b2api.DownloadRequest{FileID: fileID}
		outputPath := args[len(args)-1]
		if fileID == "" {
			if len(args) != 2 {
				return fmt.Errorf("either a b2:// URI or --file-id is required")
			}
			uri, err := utils.ParseB2URI(args[0])
			if err != nil {
				return err
			}
			if uri.Path == "" {
				return fmt.Errorf("URI must name a file: %s", args[0])
			}
			req.Bucket = uri.Bucket
			req.FileName = uri.Path
		}

		if err := applySizeFlags(cmd, false); err != nil {
			return err
		}

		limiter, err := parseLimiter()
		if err != nil {
			return err
		}

		if err := utils.EnsureDir(outputPath); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Close()

		partPath := outputPath + ".part"
		sink, err := utils.CreateStagingFile(partPath)
		if err != nil {
			return err
		}
		defer sink.Close()

		downloader := transfer.NewDownloader(session)
		downloader.Limiter = limiter
		// Size is unknown until the probe; the bar rescales on first update
		tracker := utils.NewProgressTracker("Downloading: ", 0, config.QuietMode)
		downloader.Progress = tracker

		info, err := downloader.Download(ctx, req, sink)
		if err != nil {
			tracker.Finish()
			os.Remove(partPath)
			return fmt.Errorf("download failed: %w", err)
		}

		if err := sink.Close(); err != nil {
			return err
		}
		if size, err := utils.FileSize(partPath); err != nil || size != info.Size {
			os.Remove(partPath)
			return fmt.Errorf("staged file is %d bytes, expected %d", size, info.Size)
		}
		if err := utils.AtomicRename(partPath, outputPath); err != nil {
			return err
		}

		summary := tracker.Finish()
		summary.Filename = outputPath
		if !config.QuietMode {
			utils.DisplaySummary(summary)
			fmt.Printf("File: %s (sha1 %s)\n", info.Name, info.SHA1)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <BUCKET>",
	Short: "List files in a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Close()

		bucket, err := findBucket(ctx, session, args[0])
		if err != nil {
			return err
		}

		it := session.Files(bucket.ID, "", 1000)
		for it.Next(ctx) {
			f := it.Item()
			fmt.Printf("%10s  %s  %s\n", utils.FormatBytes(f.Size), f.Uploaded().Format("2006-01-02 15:04:05"), f.Name)
		}
		return it.Err()
	},
}

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets in the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Close()

		buckets, err := session.ListBuckets(ctx)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			fmt.Printf("%-12s %-10s %s\n", b.ID, b.Type, b.Name)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <BUCKET>",
	Short: "Cancel unfinished large-file uploads left behind in a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, err := connect(ctx)
		if err != nil {
			return err
		}
		defer session.Close()

		bucket, err := findBucket(ctx, session, args[0])
		if err != nil {
			return err
		}

		files, err := session.ListUnfinishedLargeFiles(ctx, bucket.ID)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := session.CancelLargeFile(ctx, f.ID); err != nil {
				return fmt.Errorf("cancelling %s: %w", f.Name, err)
			}
			fmt.Printf("cancelled %s (%s)\n", f.Name, f.ID)
		}
		if len(files) == 0 {
			fmt.Println("no unfinished large files")
		}
		return nil
	},
}

// connect builds a session from the merged configuration and authorizes it
func connect(ctx context.Context) (*b2api.Session, error) {
	session, err := b2api.NewSession(keyID, appKey, config)
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	return session, nil
}

// findBucket resolves a bucket name to its descriptor
func findBucket(ctx context.Context, session *b2api.Session, name string) (*internal.Bucket, error) {
	buckets, err := session.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range buckets {
		if buckets[i].Name == name {
			return &buckets[i], nil
		}
	}
	return nil, fmt.Errorf("no bucket named %q", name)
}

// applySizeFlags parses the size flags into the upload or download tunables
func applySizeFlags(cmd *cobra.Command, upload bool) error {
	if connections != 0 {
		if connections < 1 {
			return internal.NewValidationErrorWithValue("connections", "must be a positive integer", connections)
		}
		if upload {
			config.UploadConnections = connections
		} else {
			config.DownloadConnections = connections
		}
	}
	if partSize != "" {
		n, err := utils.ParseSize(partSize)
		if err != nil {
			return fmt.Errorf("invalid part size: %w", err)
		}
		if upload {
			config.UploadPartSize = n
		} else {
			config.DownloadPartSize = n
		}
	}
	if cutoffSize != "" {
		n, err := utils.ParseSize(cutoffSize)
		if err != nil {
			return fmt.Errorf("invalid cutoff size: %w", err)
		}
		if upload {
			config.UploadCutoffSize = n
		} else {
			config.DownloadCutoffSize = n
		}
	}
	return nil
}

// parseLimiter builds the shared bandwidth limiter from --limit-rate
func parseLimiter() (internal.RateLimiter, error) {
	if rateLimit == "" {
		return nil, nil
	}
	bps, err := utils.ParseSize(rateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	return utils.NewBandwidthLimiter(bps), nil
}

func init() {
	for _, cmd := range []*cobra.Command{uploadCmd, downloadCmd} {
		cmd.Flags().IntVarP(&connections, "connections", "t", 0, "Parallel connections for this transfer")
		cmd.Flags().StringVar(&partSize, "part-size", "", "Part size for chunked transfers (e.g. 96M; default: service recommended)")
		cmd.Flags().StringVar(&cutoffSize, "cutoff", "", "Size threshold that switches to chunked transfer (e.g. 200M)")
		cmd.Flags().StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g. 5M for 5MB/s)")
	}
	uploadCmd.Flags().StringVar(&contentType, "content-type", "", "Content type (default: service sniffs)")
	downloadCmd.Flags().StringVar(&fileID, "file-id", "", "Download by file id instead of bucket and name")
}
