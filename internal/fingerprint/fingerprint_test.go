package fingerprint

import (
	"context"
	"testing"
)

type fakeLookup struct {
	files map[string]string
	dirs  map[string][]Entry
}

func (f *fakeLookup) FileSHA(ctx context.Context, owner, repo, p, ref string) (string, bool, error) {
	sha, ok := f.files[p]
	return sha, ok, nil
}

func (f *fakeLookup) DirEntries(ctx context.Context, owner, repo, p, ref string) ([]Entry, bool, error) {
	entries, ok := f.dirs[p]
	return entries, ok, nil
}

func TestComputeIsOrderIndependentOverTrackedFiles(t *testing.T) {
	lookup := &fakeLookup{files: map[string]string{
		"a.txt": "sha-a",
		"b.txt": "sha-b",
	}}

	d1, err := Compute(context.Background(), lookup, "o", "r", "sha1", "img", "script", []string{"a.txt", "b.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := Compute(context.Background(), lookup, "o", "r", "sha1", "img", "script", []string{"b.txt", "a.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected order-independent digest, got %s vs %s", d1, d2)
	}
}

func TestComputeChangesWhenFileContentChanges(t *testing.T) {
	l1 := &fakeLookup{files: map[string]string{"a.txt": "sha-a"}}
	l2 := &fakeLookup{files: map[string]string{"a.txt": "sha-a-different"}}

	d1, _ := Compute(context.Background(), l1, "o", "r", "sha1", "img", "script", []string{"a.txt"})
	d2, _ := Compute(context.Background(), l2, "o", "r", "sha1", "img", "script", []string{"a.txt"})
	if d1 == d2 {
		t.Fatalf("expected digest to change when file sha changes")
	}
}

func TestComputeIncludesMissingPathsSoRemovalIsDetectable(t *testing.T) {
	present := &fakeLookup{files: map[string]string{"a.txt": "sha-a"}}
	absent := &fakeLookup{files: map[string]string{}}

	d1, _ := Compute(context.Background(), present, "o", "r", "sha1", "img", "script", []string{"a.txt"})
	d2, _ := Compute(context.Background(), absent, "o", "r", "sha1", "img", "script", []string{"a.txt"})
	if d1 == d2 {
		t.Fatalf("expected digest to differ between a present and a removed tracked file")
	}
}

func TestComputeHandlesDirectoryTrackedFile(t *testing.T) {
	lookup := &fakeLookup{
		dirs: map[string][]Entry{
			"confdir": {{Path: "confdir/a", SHA: "sa"}, {Path: "confdir/b", SHA: "sb"}},
		},
	}
	digest, err := Compute(context.Background(), lookup, "o", "r", "sha1", "img", "script", []string{"confdir"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digest == "" {
		t.Fatalf("expected non-empty digest")
	}
}

func TestImageTag(t *testing.T) {
	got := ImageTag("abc123", "42")
	if got != "kozmic-cache/abc123:42" {
		t.Fatalf("got %q", got)
	}
}
