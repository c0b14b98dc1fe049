package internal

import "time"

// AccountInfo is the account-level metadata returned by b2_authorize_account
type AccountInfo struct {
	AccountID           string   `json:"accountId"`
	APIBase             string   `json:"apiUrl"`
	DownloadBase        string   `json:"downloadUrl"`
	MinPartSize         int64    `json:"absoluteMinimumPartSize"`
	RecommendedPartSize int64    `json:"recommendedPartSize"`
	Capabilities        []string `json:"capabilities,omitempty"`
}

// UploadURL is a short-lived single-writer upload endpoint issued by the
// service for one upload or one large file's parts. Key is the bucketId or
// fileId the URL was issued for.
type UploadURL struct {
	URL       string    `json:"uploadUrl"`
	AuthToken string    `json:"authorizationToken"`
	Key       string    `json:"-"`
	IssuedAt  time.Time `json:"-"`
}

// PartInfo describes one contiguous byte range of a planned transfer.
// Number is 1-based; parts are non-overlapping and cover [0, totalLength).
type PartInfo struct {
	Number int   `json:"partNumber"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// Bucket is a named container for files within an account
type Bucket struct {
	ID   string `json:"bucketId"`
	Name string `json:"bucketName"`
	Type string `json:"bucketType"`
}

// FileInfo contains information about a stored file
type FileInfo struct {
	ID          string            `json:"fileId"`
	Name        string            `json:"fileName"`
	BucketID    string            `json:"bucketId"`
	Action      string            `json:"action,omitempty"`
	Size        int64             `json:"contentLength"`
	SHA1        string            `json:"contentSha1"`
	ContentType string            `json:"contentType"`
	Info        map[string]string `json:"fileInfo,omitempty"`
	Timestamp   int64             `json:"uploadTimestamp"`
}

// Uploaded returns the upload timestamp as a time.Time
func (f *FileInfo) Uploaded() time.Time {
	return time.Unix(f.Timestamp/1000, (f.Timestamp%1000)*int64(time.Millisecond))
}

// ProgressEvent is emitted after each flushed buffer of a transfer
type ProgressEvent struct {
	Bytes   int64
	Total   int64
	Elapsed time.Duration
}
