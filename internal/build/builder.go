// Package build is the Builder (component F): it stages a workspace
// with the clone/build bootstrap script, deploy-key material, and the
// user's shell body, creates the container, hands its handle over the
// rendezvous, and waits for completion. Grounded on
// kozmic/builds/tasks.py's Builder thread, BUILD_STARTER_SH, and
// ASKPASS_SH — adapted from a Python thread writing files and driving
// docker-py into a Go function driving docker.Engine.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gogitconfig "github.com/go-git/go-git/v5/config"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/kozmic/kozmic/internal/docker"
	"github.com/kozmic/kozmic/internal/model"
)

// containerMount is where the workspace is bind-mounted inside the
// container, matching the original's `/kozmic` convention.
const containerMount = "/kozmic"

// Config describes one Builder invocation: either the install phase or
// the build phase of a Job, they share this same shape (spec.md §4.6).
type Config struct {
	Image        string
	ShellCode    string // install_script or build_script body
	WorkspaceDir string // host directory bind-mounted at containerMount
	CloneURL     string
	CommitSHA    string
	DeployKey    *model.DeployKey // nil for a public repository (HTTPS clone)
}

// Result carries the outcome of a Builder run.
type Result struct {
	Handle     docker.Handle
	ReturnCode int
}

// LogFile is the bootstrap script's fixed redirect target inside the
// workspace; the Tailer follows this same path.
const LogFile = "script.log"

// RemoteChecker verifies a clone URL is reachable before a container
// is created, so an unreachable repository or a bad deploy key fails
// fast instead of burning a container run. Run skips the check
// entirely when checker is nil.
type RemoteChecker interface {
	CheckReachable(ctx context.Context, cloneURL string, key *model.DeployKey) error
}

// GoGitChecker is the production RemoteChecker: a cheap go-git
// ListRemote-style check against the clone URL, authenticating with
// the deploy key's private half when one is present. Grounded on the
// teacher's own use of go-git.PlainClone in backend/runner.go's
// cloneRepository — this package clones inside the container rather
// than on the host, so a host-side ListContext against an in-memory
// remote is this package's touchpoint with the same library.
type GoGitChecker struct{}

func (GoGitChecker) CheckReachable(ctx context.Context, cloneURL string, key *model.DeployKey) error {
	remote := gogit.NewRemote(memory.NewStorage(), &gogitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{cloneURL},
	})

	opts := &gogit.ListOptions{}
	if key != nil {
		auth, err := gogitssh.NewPublicKeys("git", []byte(key.PrivateKeyPEM), key.Passphrase)
		if err != nil {
			return fmt.Errorf("build: parsing deploy key for preflight: %w", err)
		}
		opts.Auth = auth
	}

	if _, err := remote.ListContext(ctx, opts); err != nil {
		return fmt.Errorf("build: %s not reachable: %w", cloneURL, err)
	}
	return nil
}

var _ RemoteChecker = GoGitChecker{}

// Run stages the workspace, creates the container, rendezvous-hands
// its handle to the Job Runner, starts it, and waits for completion.
// Any failure before the handle is offered leaves the return code
// unset and is reported via the returned error, per spec.md §4.6's
// error surface. checker, when non-nil, gates staging on a successful
// remote reachability check.
func Run(ctx context.Context, engine docker.Engine, checker RemoteChecker, rv *Rendezvous, cfg Config) (Result, error) {
	if checker != nil {
		if err := checker.CheckReachable(ctx, cfg.CloneURL, cfg.DeployKey); err != nil {
			return Result{}, err
		}
	}

	if err := stage(cfg); err != nil {
		return Result{}, fmt.Errorf("build: staging workspace: %w", err)
	}

	handle, err := engine.Create(ctx, cfg.Image,
		[]string{"bash", filepath.Join(containerMount, "script-starter.sh")},
		map[string]string{cfg.WorkspaceDir: containerMount})
	if err != nil {
		return Result{}, fmt.Errorf("build: creating container: %w", err)
	}

	if err := rv.Offer(ctx, handle); err != nil {
		return Result{}, fmt.Errorf("build: offering container handle: %w", err)
	}

	if err := engine.Start(ctx, handle); err != nil {
		return Result{Handle: handle}, fmt.Errorf("build: starting container: %w", err)
	}

	rc, err := engine.Wait(ctx, handle)
	if err != nil {
		return Result{Handle: handle}, fmt.Errorf("build: waiting for container: %w", err)
	}
	return Result{Handle: handle, ReturnCode: rc}, nil
}

func stage(cfg Config) error {
	path := func(name string) string { return filepath.Join(cfg.WorkspaceDir, name) }

	if err := os.WriteFile(path("script.sh"), []byte(cfg.ShellCode), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path(LogFile), nil, 0o664); err != nil {
		return err
	}

	var starter string
	if cfg.DeployKey != nil {
		if err := os.WriteFile(path("id_rsa"), []byte(cfg.DeployKey.PrivateKeyPEM), 0o400); err != nil {
			return err
		}
		askpass := askpassScript(cfg.DeployKey.Passphrase)
		if err := os.WriteFile(path("askpass.sh"), []byte(askpass), 0o500); err != nil {
			return err
		}
		starter = privateStarterScript(cfg.CloneURL, cfg.CommitSHA)
	} else {
		starter = publicStarterScript(cfg.CloneURL, cfg.CommitSHA)
	}

	return os.WriteFile(path("script-starter.sh"), []byte(starter), 0o755)
}

// shQuote produces a POSIX single-quoted literal safe to splice into a
// shell script, covering clone_url/sha/passphrase the way the original
// uses `pipes.quote`.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

const cleanupTrap = `function cleanup {
  chmod -R a+w $(find ` + containerMount + ` -type d)
}
trap cleanup EXIT
`

func publicStarterScript(cloneURL, sha string) string {
	return fmt.Sprintf(`set -x
set -e
%s
cd %s
git clone %s ./src
cd ./src && git checkout -q %s

stdbuf -o0 bash ../script.sh > ../%s 2>&1
`, cleanupTrap, containerMount, shQuote(cloneURL), shQuote(sha), LogFile)
}

func privateStarterScript(cloneURL, sha string) string {
	return fmt.Sprintf(`set -x
set -e
%s
cd %s
ssh-keyscan -H github.com >> /etc/ssh/ssh_known_hosts

eval ` + "`ssh-agent -s`" + `
SSH_ASKPASS=./askpass.sh DISPLAY=:0.0 nohup ssh-add ./id_rsa
rm ./askpass.sh ./id_rsa

git clone %s ./src
cd ./src && git checkout -q %s

stdbuf -o0 bash ../script.sh > ../%s 2>&1
`, cleanupTrap, containerMount, shQuote(cloneURL), shQuote(sha), LogFile)
}

func askpassScript(passphrase string) string {
	return fmt.Sprintf(`#!/bin/bash
if [[ "$1" == *"Bad passphrase, try again"* ]]; then
  exit 1
fi

echo %s
`, shQuote(passphrase))
}
