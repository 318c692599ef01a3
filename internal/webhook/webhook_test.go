package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, hookID int64, ref, sha, author, msg string) error {
	f.calls++
	return f.err
}

func TestShouldSkipMatchesConventionalMarkers(t *testing.T) {
	cases := []struct {
		msg  string
		skip bool
	}{
		{"fix bug [ci skip]", true},
		{"release [skip ci]", true},
		{"docs: update skip_ci note", true},
		{"CI_SKIP this one", true},
		{"normal commit message", false},
	}
	for _, c := range cases {
		e := Event{CommitMessage: c.msg}
		if got := e.ShouldSkip(); got != c.skip {
			t.Errorf("ShouldSkip(%q) = %v, want %v", c.msg, got, c.skip)
		}
	}
}

func TestHandlerRejectsUnsignedPing(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := Handler(99, []byte("secret"), enq)

	req := httptest.NewRequest("POST", "/hooks/1/", strings.NewReader(`{"hook_id":1,"zen":"hi"}`))
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != 403 {
		// No signature header set, so ValidatePayload rejects before
		// we ever reach the hook id check — confirms signature
		// validation runs first.
		t.Fatalf("expected 403 without a valid signature, got %d", rec.Code)
	}
}

func TestHandlerPushEnqueuesOnValidSignature(t *testing.T) {
	enq := &fakeEnqueuer{}
	secret := []byte("secret")
	h := Handler(1, secret, enq)

	body := []byte(`{"ref":"refs/heads/master","head_commit":{"id":"deadbeef","message":"fix thing"}}`)
	req := httptest.NewRequest("POST", "/hooks/1/", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature", sign(secret, body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.calls != 1 {
		t.Fatalf("expected exactly one enqueue call, got %d", enq.calls)
	}
}

func TestHandlerPushCISkipDoesNotEnqueue(t *testing.T) {
	enq := &fakeEnqueuer{}
	secret := []byte("secret")
	h := Handler(1, secret, enq)

	body := []byte(`{"ref":"refs/heads/master","head_commit":{"id":"deadbeef","message":"docs [ci skip]"}}`)
	req := httptest.NewRequest("POST", "/hooks/1/", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature", sign(secret, body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if enq.calls != 0 {
		t.Fatalf("expected no enqueue call for a ci-skip commit, got %d", enq.calls)
	}
}
