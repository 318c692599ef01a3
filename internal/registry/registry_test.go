package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing registry file: %v", err)
	}
	return path
}

const sample = `
- hook_id: 42
  secret: s3cr3t
  project_id: p1
  owner: acme
  repo: widgets
  docker_image: golang:1.21
  install_script: go mod download
  build_script: go test ./...
  tracked_files: [go.mod, go.sum]
`

func TestLoadAndLookup(t *testing.T) {
	path := writeRegistry(t, sample)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p, ok := reg.Lookup(42)
	if !ok {
		t.Fatalf("expected hook 42 to be registered")
	}
	if p.Owner != "acme" || p.Repo != "widgets" {
		t.Fatalf("unexpected project: %+v", p)
	}

	if _, ok := reg.Lookup(99); ok {
		t.Fatalf("expected unknown hook id to miss")
	}
}

func TestSecret(t *testing.T) {
	path := writeRegistry(t, sample)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	secret, ok := reg.Secret(42)
	if !ok || string(secret) != "s3cr3t" {
		t.Fatalf("got %q ok=%v", secret, ok)
	}
}

func TestHookAndProjectConversion(t *testing.T) {
	path := writeRegistry(t, sample)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, _ := reg.Lookup(42)

	h := p.Hook()
	if h.DockerImage != "golang:1.21" || len(h.TrackedFiles) != 2 {
		t.Fatalf("unexpected hook: %+v", h)
	}

	proj := p.Project("https://github.com/acme/widgets.git", "git@github.com:acme/widgets.git", nil)
	if proj.ID != "p1" || proj.CloneHTTPS == "" {
		t.Fatalf("unexpected project: %+v", proj)
	}
}

func TestAll(t *testing.T) {
	path := writeRegistry(t, sample)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	all := reg.All()
	if len(all) != 1 || all[0].ProjectID != "p1" {
		t.Fatalf("unexpected All(): %+v", all)
	}
}
