package githost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v32/github"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}
	gh.BaseURL = base
	return New(gh)
}

func TestFileSHAFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(github.RepositoryContent{
			Type: github.String("file"),
			SHA:  github.String("abc123"),
			Path: github.String("requirements.txt"),
		})
	})

	sha, ok, err := c.FileSHA(context.Background(), "o", "r", "requirements.txt", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || sha != "abc123" {
		t.Fatalf("got sha=%q ok=%v", sha, ok)
	}
}

func TestFileSHANotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(github.ErrorResponse{Message: "Not Found"})
	})

	_, ok, err := c.FileSHA(context.Background(), "o", "r", "missing.txt", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing path")
	}
}

func TestDirEntries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*github.RepositoryContent{
			{Type: github.String("file"), Path: github.String("confdir/a"), SHA: github.String("sa")},
			{Type: github.String("file"), Path: github.String("confdir/b"), SHA: github.String("sb")},
		})
	})

	entries, ok, err := c.DirEntries(context.Background(), "o", "r", "confdir", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || len(entries) != 2 {
		t.Fatalf("got entries=%+v ok=%v", entries, ok)
	}
}

func TestPostStatus(t *testing.T) {
	var gotState string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body github.RepoStatus
		json.NewDecoder(r.Body).Decode(&body)
		gotState = body.GetState()
		json.NewEncoder(w).Encode(body)
	})

	err := c.PostStatus(context.Background(), "o", "r", "deadbeef", StatusSuccess, "build passed", "https://example.com", "continuous-integration/kozmic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotState != "success" {
		t.Fatalf("got state %q", gotState)
	}
}
