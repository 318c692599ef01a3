package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozmic/kozmic/internal/registry"
)

const sampleRegistry = `
- hook_id: 1
  secret: s1
  project_id: pub1
  owner: acme
  repo: public-widget
  private: false
  docker_image: golang:1.21
- hook_id: 2
  secret: s2
  project_id: priv1
  owner: acme
  repo: private-widget
  private: true
  docker_image: golang:1.21
`

func loadSampleRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatalf("writing registry file: %v", err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestDeployKeysForPrivateProjectsOnlyCoversPrivateRepos(t *testing.T) {
	reg := loadSampleRegistry(t)
	logger := log.New(os.Stderr, "", 0)

	keys := deployKeysForPrivateProjects(reg, "secret-key", logger)

	if _, ok := keys["pub1"]; ok {
		t.Fatalf("expected no deploy key for the public project")
	}
	key, ok := keys["priv1"]
	if !ok {
		t.Fatalf("expected a deploy key for the private project")
	}
	if key.PrivateKeyPEM == "" || key.PublicKeyOpenSSH == "" || key.Passphrase == "" {
		t.Fatalf("expected a fully populated deploy key, got %+v", key)
	}
}

func TestDeployKeysForPrivateProjectsDerivesPassphraseFromSecretKey(t *testing.T) {
	reg := loadSampleRegistry(t)
	logger := log.New(os.Stderr, "", 0)

	a := deployKeysForPrivateProjects(reg, "secret-a", logger)
	b := deployKeysForPrivateProjects(reg, "secret-b", logger)

	if a["priv1"].Passphrase == b["priv1"].Passphrase {
		t.Fatalf("expected different secret keys to derive different passphrases")
	}
}
