package internal

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyCode(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   ErrorKind
	}{
		{401, "bad_auth_token", KindAuth},
		{401, "expired_auth_token", KindAuth},
		{401, "", KindAuth},
		{400, "bad_digest", KindInvalidHash},
		{403, "cap_exceeded", KindCapExceeded},
		{403, "", KindForbidden},
		{404, "not_found", KindNotFound},
		{400, "bad_request", KindBadRequest},
		{409, "conflict", KindConflict},
		{408, "request_timeout", KindTransient},
		{429, "too_many_requests", KindTransient},
		{500, "internal_error", KindTransient},
		{503, "service_unavailable", KindTransient},
		{200, "", KindUnknown},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%s", tc.status, tc.code), func(t *testing.T) {
			if got := ClassifyCode(tc.status, tc.code); got != tc.want {
				t.Errorf("ClassifyCode(%d, %q) = %v, want %v", tc.status, tc.code, got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	b2err := NewB2Error("b2_upload_file", 401, "expired_auth_token", "token expired")
	if got := KindOf(b2err); got != KindAuth {
		t.Errorf("KindOf(B2Error) = %v, want %v", got, KindAuth)
	}

	wrapped := fmt.Errorf("part 3: %w", b2err)
	if got := KindOf(wrapped); got != KindAuth {
		t.Errorf("KindOf(wrapped B2Error) = %v, want %v", got, KindAuth)
	}

	if got := KindOf(context.Canceled); got != KindCancelled {
		t.Errorf("KindOf(context.Canceled) = %v, want %v", got, KindCancelled)
	}

	if got := KindOf(errors.New("read tcp: connection reset by peer")); got != KindTransient {
		t.Errorf("KindOf(connection reset) = %v, want %v", got, KindTransient)
	}

	if got := KindOf(errors.New("something else")); got != KindUnknown {
		t.Errorf("KindOf(unrelated) = %v, want %v", got, KindUnknown)
	}

	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want %v", got, KindUnknown)
	}
}

func TestB2ErrorMessage(t *testing.T) {
	err := NewB2Error("b2_upload_part", 503, "service_unavailable", "try again").
		WithBucket("bkt").WithFile("path/to/file").WithAttempt(2).WithOffset(1024)

	msg := err.Error()
	for _, want := range []string{"b2_upload_part", "service_unavailable", "503", "bucket=bkt", "file=path/to/file", "attempt=2", "offset=1024"} {
		if !contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !NewB2Error("op", 401, "expired_auth_token", "").Retryable() {
		t.Error("auth errors should be policy-retryable")
	}
	if !NewB2Error("op", 400, "bad_digest", "").Retryable() {
		t.Error("hash errors should be policy-retryable")
	}
	if NewB2Error("op", 503, "service_unavailable", "").Retryable() {
		t.Error("transient errors must surface to the caller")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
