// Package registry loads the static Project/Hook configuration a
// standalone kozmicd process needs: which hook ids exist, their
// webhook secret, target image/scripts/tracked files, and the repo
// clone/identity material the Job Runner and Cache Fingerprint read.
// Project/Hook CRUD and the database-backed version of this data are
// explicit external collaborators (spec.md §1); this is the minimal
// YAML-driven stand-in so the Core can run without the web UI, in the
// same "read a YAML file into a Go struct" shape as
// internal/config (itself grounded on backend/ci.go's loadFromFile).
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/kozmic/kozmic/internal/model"
	"github.com/kozmic/kozmic/internal/runner"
)

// ProjectConfig is one entry in the registry file.
type ProjectConfig struct {
	HookID        int64    `yaml:"hook_id"`
	Secret        string   `yaml:"secret"`
	ProjectID     string   `yaml:"project_id"`
	Owner         string   `yaml:"owner"`
	Repo          string   `yaml:"repo"`
	Private       bool     `yaml:"private"`
	DockerImage   string   `yaml:"docker_image"`
	InstallScript string   `yaml:"install_script"`
	BuildScript   string   `yaml:"build_script"`
	TrackedFiles  []string `yaml:"tracked_files"`
}

// Registry is the in-memory lookup built from a ProjectConfig list.
type Registry struct {
	byHookID map[int64]ProjectConfig
}

// Load reads a YAML file of ProjectConfig entries.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	var projects []ProjectConfig
	if err := yaml.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}
	reg := &Registry{byHookID: map[int64]ProjectConfig{}}
	for _, p := range projects {
		reg.byHookID[p.HookID] = p
	}
	return reg, nil
}

// Lookup returns the ProjectConfig registered for hookID.
func (r *Registry) Lookup(hookID int64) (ProjectConfig, bool) {
	p, ok := r.byHookID[hookID]
	return p, ok
}

// All returns every registered project, for the coordinator's
// worker-pool dispatch and badge lookups that index by owner/repo or
// project id rather than hook id.
func (r *Registry) All() []ProjectConfig {
	out := make([]ProjectConfig, 0, len(r.byHookID))
	for _, p := range r.byHookID {
		out = append(out, p)
	}
	return out
}

// Secret implements httpapi.HookRegistry's secret half.
func (r *Registry) Secret(hookID int64) ([]byte, bool) {
	p, ok := r.byHookID[hookID]
	if !ok {
		return nil, false
	}
	return []byte(p.Secret), true
}

// Hook builds the model.Hook for a registered project.
func (p ProjectConfig) Hook() *model.Hook {
	return &model.Hook{
		HookID:        fmt.Sprintf("%d", p.HookID),
		DockerImage:   p.DockerImage,
		InstallScript: p.InstallScript,
		BuildScript:   p.BuildScript,
		TrackedFiles:  p.TrackedFiles,
	}
}

// Project builds the runner.Project for a registered project. deployKey
// is nil for a public repository.
func (p ProjectConfig) Project(cloneHTTPS, cloneSSH string, deployKey *model.DeployKey) runner.Project {
	return runner.Project{
		ID:         p.ProjectID,
		Owner:      p.Owner,
		Repo:       p.Repo,
		Private:    p.Private,
		CloneHTTPS: cloneHTTPS,
		CloneSSH:   cloneSSH,
		DeployKey:  deployKey,
	}
}
