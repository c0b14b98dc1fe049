package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// B2URI contains parsed information from a b2://bucket/path URI
type B2URI struct {
	Bucket string
	Path   string
}

// String renders the URI back in b2://bucket/path form
func (u *B2URI) String() string {
	return "b2://" + u.Bucket + "/" + u.Path
}

var bucketNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-]{6,63}$`)

// ParseB2URI parses a b2://bucket/path style URI. The path component may be
// empty for bucket-level operations.
func ParseB2URI(raw string) (*B2URI, error) {
	if !strings.HasPrefix(raw, "b2://") {
		return nil, fmt.Errorf("not a b2:// URI: %s", raw)
	}

	rest := strings.TrimPrefix(raw, "b2://")
	bucket, path, _ := strings.Cut(rest, "/")

	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if path != "" {
		if err := ValidateFileName(path); err != nil {
			return nil, err
		}
	}

	return &B2URI{Bucket: bucket, Path: path}, nil
}

// ValidateBucketName checks a bucket name against the service rules:
// 6-63 characters of letters, digits and dashes, not starting with a dash.
func ValidateBucketName(name string) error {
	if !bucketNamePattern.MatchString(name) {
		return fmt.Errorf("invalid bucket name %q: must be 6-63 letters, digits or dashes", name)
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("invalid bucket name %q: cannot start with a dash", name)
	}
	return nil
}

// ValidateFileName checks a file name against the service rules: valid
// UTF-8, at most 1024 bytes, no leading slash, no segment of "." or "..",
// and no DEL characters.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if len(name) > 1024 {
		return fmt.Errorf("file name exceeds 1024 bytes: %d", len(name))
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("file name is not valid UTF-8")
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("file name cannot start with %q", "/")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("file name cannot contain %q segments", seg)
		}
	}
	if strings.ContainsRune(name, 0x7f) {
		return fmt.Errorf("file name cannot contain DEL characters")
	}
	return nil
}

// EncodeFileName percent-encodes a file name for the X-Bz-File-Name header
// and download paths. Slashes separate path segments and stay literal.
func EncodeFileName(name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.QueryEscape(seg)
		// QueryEscape turns spaces into '+'; the service wants %20
		segments[i] = strings.ReplaceAll(segments[i], "+", "%20")
	}
	return strings.Join(segments, "/")
}

// DecodeFileName reverses EncodeFileName for values read back from
// X-Bz-File-Name response headers.
func DecodeFileName(encoded string) (string, error) {
	return url.PathUnescape(encoded)
}
