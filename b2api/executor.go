package b2api

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"

	"blazefetch/internal"
	"blazefetch/utils"
)

// Executor issues one prepared HTTP request and decodes the outcome. It
// attaches the test-mode marker and user agent; callers own the
// Authorization header because the authorize call uses Basic auth while
// everything else uses tokens.
type Executor struct {
	client   *http.Client
	testMode string
}

// NewExecutor creates an executor over the given http.Client
func NewExecutor(client *http.Client, testMode string) *Executor {
	return &Executor{client: client, testMode: testMode}
}

func (e *Executor) prepare(req *http.Request) {
	req.Header.Set("User-Agent", utils.UserAgent)
	if e.testMode != "" {
		req.Header.Set("X-Bz-Test-Mode", e.testMode)
	}
}

// Do issues req and decodes a 200 JSON response into out. Any non-200
// response is decoded from the service error envelope into a classified
// B2Error.
func (e *Executor) Do(op string, req *http.Request, out interface{}) error {
	e.prepare(req)
	internal.LogRequest(req)

	res, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	internal.LogResponse(res)

	if res.StatusCode != http.StatusOK {
		return decodeError(op, res)
	}

	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// DoStream issues req and returns the raw response for 200 and 206. The
// caller owns the body.
func (e *Executor) DoStream(op string, req *http.Request) (*http.Response, error) {
	e.prepare(req)
	internal.LogRequest(req)

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	internal.LogResponse(res)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		defer res.Body.Close()
		return nil, decodeError(op, res)
	}
	return res, nil
}

// CloseIdle releases pooled transport connections
func (e *Executor) CloseIdle() {
	e.client.CloseIdleConnections()
}

// decodeError turns a non-200 response into a classified B2Error. Responses
// without a parseable envelope still classify by HTTP status.
func decodeError(op string, res *http.Response) error {
	b2err := &internal.B2Error{Op: op, Status: res.StatusCode}
	json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(b2err)
	if b2err.Status == 0 {
		b2err.Status = res.StatusCode
	}
	b2err.Kind = internal.ClassifyCode(b2err.Status, b2err.Code)
	return b2err
}

// sha1Verifier computes SHA-1 over a download body as it is read and fails
// the final read when it does not match the digest the service advertised.
type sha1Verifier struct {
	op     string
	body   io.ReadCloser
	hash   hash.Hash
	expect string
}

// newSHA1Verifier wraps body; expect is the hex digest from
// X-Bz-Content-Sha1. Digests of "none" and the "unverified:" prefix skip
// verification.
func newSHA1Verifier(op string, body io.ReadCloser, expect string) io.ReadCloser {
	if expect == "" || expect == "none" || len(expect) != 40 {
		return body
	}
	return &sha1Verifier{op: op, body: body, hash: sha1.New(), expect: expect}
}

func (v *sha1Verifier) Read(p []byte) (int, error) {
	n, err := v.body.Read(p)
	if n > 0 {
		v.hash.Write(p[:n])
	}
	if err == io.EOF {
		got := hex.EncodeToString(v.hash.Sum(nil))
		if got != v.expect {
			return n, internal.NewKindError(v.op, internal.KindInvalidHash,
				fmt.Sprintf("content sha1 mismatch: got %s, want %s", got, v.expect))
		}
	}
	return n, err
}

func (v *sha1Verifier) Close() error {
	return v.body.Close()
}
