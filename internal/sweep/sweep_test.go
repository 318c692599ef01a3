package sweep

import (
	"context"
	"testing"

	"github.com/kozmic/kozmic/internal/docker"
)

type fakeEngine struct {
	images  []docker.ImageSummary
	removed []string
}

func (f *fakeEngine) Pull(ctx context.Context, image string) error         { return nil }
func (f *fakeEngine) InspectImage(ctx context.Context, image string) error { return nil }
func (f *fakeEngine) ImageExists(ctx context.Context, repo, tag string) (bool, error) {
	return false, nil
}
func (f *fakeEngine) ImageID(ctx context.Context, repo, tag string) (string, error) { return "", nil }
func (f *fakeEngine) Create(ctx context.Context, image string, cmd []string, binds map[string]string) (docker.Handle, error) {
	return docker.Handle{}, nil
}
func (f *fakeEngine) Start(ctx context.Context, h docker.Handle) error         { return nil }
func (f *fakeEngine) Wait(ctx context.Context, h docker.Handle) (int, error)   { return 0, nil }
func (f *fakeEngine) Logs(ctx context.Context, h docker.Handle) (string, error) { return "", nil }
func (f *fakeEngine) Kill(ctx context.Context, h docker.Handle) error          { return nil }
func (f *fakeEngine) Commit(ctx context.Context, h docker.Handle, repo, tag string) error {
	return nil
}
func (f *fakeEngine) RemoveContainer(ctx context.Context, h docker.Handle) error { return nil }
func (f *fakeEngine) RemoveImage(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeEngine) ListImages(ctx context.Context, repoPrefix string) ([]docker.ImageSummary, error) {
	return f.images, nil
}

var _ docker.Engine = (*fakeEngine)(nil)

func TestRunKeepsOnlyLimitMostRecentPerProject(t *testing.T) {
	engine := &fakeEngine{images: []docker.ImageSummary{
		{ID: "i1", RepoTags: []string{"kozmic-cache/aaa:p1"}, Created: 1},
		{ID: "i2", RepoTags: []string{"kozmic-cache/bbb:p1"}, Created: 3},
		{ID: "i3", RepoTags: []string{"kozmic-cache/ccc:p1"}, Created: 2},
		{ID: "i4", RepoTags: []string{"kozmic-cache/ddd:p2"}, Created: 1},
	}}

	removed, err := Run(context.Background(), engine, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(removed) != 1 || removed[0] != "i1" {
		t.Fatalf("expected only the oldest p1 image removed, got %+v", removed)
	}
}

func TestProjectFromTag(t *testing.T) {
	if got := projectFromTag("kozmic-cache/abc:42"); got != "42" {
		t.Fatalf("got %q", got)
	}
	if got := projectFromTag("no-colon"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
