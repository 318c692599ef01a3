// Package runner is the Job Runner (component H): the orchestrator
// that composes the Pub/Sub Bus, Publisher, Tailer, Builder and Cache
// Fingerprint to execute one Job end to end, with the install/build
// two-phase caching model and the cleanup guarantees of spec.md §4.8.
// Grounded on kozmic/builds/tasks.py's build_job (the Celery task that
// drives Builder+Tailer per phase, commits the cache image, and always
// finalizes) — the teacher has no equivalent of its own, since
// narwhal's core/runner.go dispatches whole containers rather than a
// two-phase install/build job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	jobbuild "github.com/kozmic/kozmic/internal/build"
	"github.com/kozmic/kozmic/internal/docker"
	"github.com/kozmic/kozmic/internal/fingerprint"
	"github.com/kozmic/kozmic/internal/githost"
	"github.com/kozmic/kozmic/internal/mail"
	"github.com/kozmic/kozmic/internal/model"
	"github.com/kozmic/kozmic/internal/publish"
	"github.com/kozmic/kozmic/internal/store"
	"github.com/kozmic/kozmic/internal/tailer"
)

// Error taxonomy (spec.md §7). Each is a sentinel the Runner wraps with
// context before recording it on the Job.
var (
	ErrImageUnavailable   = errors.New("runner: image unavailable")
	ErrInfrastructure     = errors.New("runner: infrastructure error")
	ErrRestartNotFinished = errors.New("runner: job is not finished")
)

// stallBanner is appended to stdout when the Tailer kills the
// container for lack of log growth, matching the original's
// "Killed due to inactivity" notice in kozmic/builds/tasks.py.
const stallBanner = "\n--- build killed: no log output for longer than the stall timeout ---\n"

// infrastructureNotice is the generic message recorded for an
// InfrastructureError per spec.md §7, so operators see the real cause
// only in the log, never the job's public stdout.
const infrastructureNotice = "--- something went wrong running this job ---"

const rendezvousTimeout = 60 * time.Second

// Project is the narrow slice of project/repo configuration a Job
// needs that this package doesn't own: clone URL material, owner/repo
// for fingerprinting and status posting, and whether the repo is
// private (requiring a deploy key).
type Project struct {
	ID         string
	Owner      string
	Repo       string
	Private    bool
	CloneHTTPS string
	CloneSSH   string
	DeployKey  *model.DeployKey
}

// Bus is the subset of *pubsub.Bus a Publisher needs, re-narrowed here
// so a Runner can be built in tests against an in-memory fake.
type Bus interface {
	Publish(ctx context.Context, channel, line string) error
	Append(ctx context.Context, channel, line string) error
	Finish(ctx context.Context, channel string) error
}

// Runner executes Jobs. One Runner instance is shared across the
// worker pool; it holds no per-Job state outside a call to Run, so the
// same Runner can drive many Jobs concurrently (spec.md §5: each Job
// is an independent concurrent task).
type Runner struct {
	Engine        docker.Engine
	Bus           Bus
	Jobs          *store.JobStore
	Builds        *store.BuildStore
	Hooks         *store.HookStore
	GitHost       *githost.Client
	ContentLookup fingerprint.ContentLookup
	Notifier      mail.Notifier
	Log           *log.Logger
	Checker       jobbuild.RemoteChecker // nil skips the clone-URL preflight

	WorkspaceRoot     string
	KillTimeout       time.Duration
	EnableMail        bool
	CachedImagesLimit int
}

// phaseOutcome is everything runPhase learns about one Builder+Tailer
// pairing: the handle (so the caller can commit/remove it), the exit
// code, whether the Tailer killed the container for a stall, and an
// infrastructure-level error if the phase never produced a handle or
// never finished.
type phaseOutcome struct {
	Handle     docker.Handle
	ReturnCode int
	Stalled    bool
	Err        error
}

// Run executes job end to end per the state machine of spec.md §4.8:
// Init -> Setup -> PullingImage -> (InstallPhase | BuildOnly) ->
// BuildPhase -> Finalize -> Done. It never returns an error itself —
// every failure terminates in Finalize and is recorded on the Job —
// matching the "Job Runner is the sole funnel" propagation policy of
// spec.md §7.
func (r *Runner) Run(ctx context.Context, job *model.Job, hook *model.Hook, bld *model.Build, proj Project) {
	now := time.Now()
	job.Start(now)
	bld.Status = model.BuildPending
	r.Builds.Put(bld)

	pub := publish.New(r.Bus, job.TaskUUID)
	var stdout []byte
	var jobErr error
	rc := 1

	appendLine := func(line string) {
		_ = pub.Line(ctx, line)
		stdout = append(stdout, []byte(line+"\n")...)
	}

	defer func() {
		if p := recover(); p != nil {
			jobErr = fmt.Errorf("%w: panic: %v", ErrInfrastructure, p)
			stdout = append(stdout, []byte(infrastructureNotice+"\n")...)
		}
		r.finalize(ctx, job, bld, pub, rc, stdout, jobErr, proj)
	}()

	workspace, err := os.MkdirTemp(r.WorkspaceRoot, "kozmic-job-")
	if err != nil {
		jobErr = fmt.Errorf("%w: creating workspace: %v", ErrInfrastructure, err)
		appendLine(infrastructureNotice)
		return
	}
	defer os.RemoveAll(workspace)

	cloneURL := proj.CloneHTTPS
	if proj.Private {
		cloneURL = proj.CloneSSH
	}

	appendLine(fmt.Sprintf(`Pulling "%s" Docker image...`, hook.DockerImage))
	if err := r.Engine.Pull(ctx, hook.DockerImage); err != nil {
		jobErr = fmt.Errorf("%w: %v", ErrImageUnavailable, err)
		appendLine(jobErr.Error())
		return
	}
	if err := r.Engine.InspectImage(ctx, hook.DockerImage); err != nil {
		jobErr = fmt.Errorf("%w: %v", ErrImageUnavailable, err)
		appendLine(jobErr.Error())
		return
	}

	// The cache fingerprint is keyed on the resolved immutable image
	// digest, not the mutable tag (spec.md §4.7) — retagging the same
	// repo:tag to a different digest must change the fingerprint.
	imageRepo, imageTag := splitImageRef(hook.DockerImage)
	imageDigest, err := r.Engine.ImageID(ctx, imageRepo, imageTag)
	if err != nil || imageDigest == "" {
		jobErr = fmt.Errorf("%w: resolving digest for %s: %v", ErrImageUnavailable, hook.DockerImage, err)
		appendLine(jobErr.Error())
		return
	}

	baseImage := hook.DockerImage
	if hook.HasInstallScript() {
		baseImage, rc, jobErr = r.runInstallPhase(ctx, job, hook, bld, proj, workspace, cloneURL, imageDigest, pub, appendLine, &stdout)
		if jobErr != nil || rc != 0 {
			return
		}
	}

	outcome := r.runPhase(ctx, jobbuild.Config{
		Image:        baseImage,
		ShellCode:    hook.BuildScript,
		WorkspaceDir: workspace,
		CloneURL:     cloneURL,
		CommitSHA:    bld.GHCommitSHA,
		DeployKey:    proj.DeployKey,
	}, pub, true)
	stdout = append(stdout, outcome.logTail(workspace)...)
	if outcome.Stalled {
		stdout = append(stdout, []byte(stallBanner)...)
	}
	if outcome.Err != nil {
		jobErr = fmt.Errorf("%w: %v", ErrInfrastructure, outcome.Err)
		appendLine(infrastructureNotice)
		return
	}
	rc = outcome.ReturnCode
}

// runInstallPhase computes the cache fingerprint, checks for a cache
// hit, and either skips straight to the cached base image or runs the
// install script and commits its result, per spec.md §4.8's
// InstallPhase state.
func (r *Runner) runInstallPhase(ctx context.Context, job *model.Job, hook *model.Hook, bld *model.Build, proj Project, workspace, cloneURL, imageDigest string, pub *publish.Publisher, appendLine func(string), stdout *[]byte) (baseImage string, rc int, jobErr error) {
	digest, err := fingerprint.Compute(ctx, r.ContentLookup, proj.Owner, proj.Repo, bld.GHCommitSHA,
		imageDigest, hook.InstallScript, hook.TrackedFiles)
	if err != nil {
		appendLine(infrastructureNotice)
		return "", 1, fmt.Errorf("%w: computing fingerprint: %v", ErrInfrastructure, err)
	}

	cacheRepo, cacheTag := cacheRef(digest, proj.ID)
	hit, err := r.Engine.ImageExists(ctx, cacheRepo, cacheTag)
	if err != nil {
		appendLine(infrastructureNotice)
		return "", 1, fmt.Errorf("%w: checking cache image: %v", ErrInfrastructure, err)
	}
	if hit {
		appendLine("Skipping install script as tracked files did not change...")
		return fingerprint.ImageTag(digest, proj.ID), 0, nil
	}

	outcome := r.runPhase(ctx, jobbuild.Config{
		Image:        hook.DockerImage,
		ShellCode:    hook.InstallScript,
		WorkspaceDir: workspace,
		CloneURL:     cloneURL,
		CommitSHA:    bld.GHCommitSHA,
		DeployKey:    proj.DeployKey,
	}, pub, false)
	*stdout = append(*stdout, outcome.logTail(workspace)...)
	if outcome.Stalled {
		*stdout = append(*stdout, []byte(stallBanner)...)
	}
	if outcome.Err != nil {
		if outcome.Handle.ID != "" {
			if err := r.Engine.RemoveContainer(ctx, outcome.Handle); err != nil {
				r.Log.Printf("runner: job %s: removing install container: %v", job.JobID, err)
			}
		}
		appendLine(infrastructureNotice)
		return "", 1, fmt.Errorf("%w: %v", ErrInfrastructure, outcome.Err)
	}

	// Install container is always removed once the Runner is done with
	// it, on both success and failure — the Open Question in spec.md
	// §4.8/§9 is resolved in DESIGN.md in favor of no leaked containers.
	if outcome.ReturnCode == 0 {
		if err := r.Engine.Commit(ctx, outcome.Handle, cacheRepo, cacheTag); err != nil {
			r.Log.Printf("runner: job %s: committing cache image %s:%s: %v", job.JobID, cacheRepo, cacheTag, err)
		}
	}
	if err := r.Engine.RemoveContainer(ctx, outcome.Handle); err != nil {
		r.Log.Printf("runner: job %s: removing install container: %v", job.JobID, err)
	}

	if outcome.ReturnCode != 0 {
		return "", outcome.ReturnCode, nil
	}
	return fingerprint.ImageTag(digest, proj.ID), 0, nil
}

// runPhase spawns the Builder and the Tailer for one install-or-build
// phase, coordinating them through the rendezvous exactly as spec.md
// §4.8's "_run" describes: await the container handle (60s timeout),
// start the Tailer, acknowledge the rendezvous so the Builder may
// start the container, wait for the Builder, then stop the Tailer.
func (r *Runner) runPhase(ctx context.Context, cfg jobbuild.Config, pub *publish.Publisher, removeOnExit bool) phaseOutcome {
	rv := jobbuild.NewRendezvous()
	resultCh := make(chan struct {
		res jobbuild.Result
		err error
	}, 1)

	go func() {
		res, err := jobbuild.Run(ctx, r.Engine, r.Checker, rv, cfg)
		resultCh <- struct {
			res jobbuild.Result
			err error
		}{res, err}
	}()

	rvCtx, cancel := context.WithTimeout(ctx, rendezvousTimeout)
	handle, err := rv.Receive(rvCtx)
	cancel()
	if err != nil {
		return phaseOutcome{Err: fmt.Errorf("waiting for container handle: %w", err)}
	}

	t := tailer.New(logPath(cfg.WorkspaceDir), pub, r.Engine, handle, tailer.Config{
		PollInterval: tailer.DefaultConfig.PollInterval,
		KillTimeout:  r.killTimeout(),
	})
	t.Start(ctx)
	rv.Ack()

	out := <-resultCh
	t.Stop()
	tailResult := t.Wait()

	outcome := phaseOutcome{Handle: handle, ReturnCode: out.res.ReturnCode, Stalled: tailResult.Stalled}
	if out.err != nil {
		outcome.Err = out.err
	}
	if removeOnExit {
		if err := r.Engine.RemoveContainer(ctx, handle); err != nil {
			r.Log.Printf("runner: removing container %s: %v", handle.ID, err)
		}
	}
	return outcome
}

func (r *Runner) killTimeout() time.Duration {
	if r.KillTimeout > 0 {
		return r.KillTimeout
	}
	return tailer.DefaultConfig.KillTimeout
}

// logTail reads back the phase's script.log once its container has
// exited, so the Job's persisted stdout carries the same bytes the
// Tailer already streamed live through the Publisher — the log file
// is truncated fresh by Builder.stage for every phase, so this is
// exactly that phase's output.
func (o phaseOutcome) logTail(workspace string) []byte {
	data, err := os.ReadFile(logPath(workspace))
	if err != nil {
		return nil
	}
	return data
}

// finalize implements spec.md §4.8's Finalize state: it always calls
// Publisher.Finish, always removes the workspace (handled by the
// caller's defer), always sets the Job's terminal fields, updates the
// owning Build's derived status, posts a commit status to the hosted
// git collaborator, and sends mail on a negative outcome if enabled.
func (r *Runner) finalize(ctx context.Context, job *model.Job, bld *model.Build, pub *publish.Publisher, rc int, stdout []byte, jobErr error, proj Project) {
	if err := pub.Finish(ctx); err != nil {
		r.Log.Printf("runner: job %s: finishing publisher: %v", job.JobID, err)
	}

	errText := ""
	if jobErr != nil {
		errText = jobErr.Error()
		r.Log.Printf("runner: job %s: %v", job.JobID, jobErr)
	}
	job.Finish(time.Now(), rc, stdout, errText)
	r.Jobs.Put(job)

	jobs := r.Jobs.ByBuild(bld.BuildID)
	bld.Status = model.DeriveStatus(jobs)
	r.Builds.Put(bld)

	if r.GitHost != nil {
		status := githost.StatusSuccess
		if bld.Status == model.BuildFailure || bld.Status == model.BuildError {
			status = githost.StatusFailure
		} else if bld.Status == model.BuildPending {
			status = githost.StatusPending
		}
		if err := r.GitHost.PostStatus(ctx, proj.Owner, proj.Repo, bld.GHCommitSHA, status, "kozmic build", "", "kozmic"); err != nil {
			r.Log.Printf("runner: job %s: posting commit status: %v", job.JobID, err)
		}
	}

	if r.EnableMail && (bld.Status == model.BuildFailure || bld.Status == model.BuildError) && r.Notifier != nil {
		msg := mail.Message{
			Subject: fmt.Sprintf("Build %s: %s", bld.Status, bld.GHCommitRef),
			HTML:    fmt.Sprintf("<pre>%s</pre>", string(stdout)),
		}
		if err := r.Notifier.Send(ctx, msg); err != nil {
			r.Log.Printf("runner: job %s: sending notification: %v", job.JobID, err)
		}
	}
}

// Restart re-runs a finished Job synchronously with a fresh TaskUUID,
// per spec.md §7: it deletes the prior Job record and is
// preconditioned on the Job actually being finished.
func (r *Runner) Restart(ctx context.Context, jobID, newTaskUUID string, hook *model.Hook, bld *model.Build, proj Project) (*model.Job, error) {
	old, ok := r.Jobs.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("runner: restarting %s: %w", jobID, store.ErrNotFound)
	}
	if !old.IsFinished() {
		return nil, fmt.Errorf("restarting %s: %w", jobID, ErrRestartNotFinished)
	}

	r.Jobs.Delete(jobID)
	fresh := &model.Job{
		JobID:      old.JobID,
		HookCallID: old.HookCallID,
		BuildID:    old.BuildID,
		TaskUUID:   newTaskUUID,
	}
	r.Jobs.Put(fresh)
	r.Run(ctx, fresh, hook, bld, proj)
	return fresh, nil
}

func logPath(workspaceDir string) string {
	return workspaceDir + "/" + jobbuild.LogFile
}

// cacheRef splits the kozmic-cache/<fingerprint>:<project_id> image
// reference into the repo and tag halves the Engine's repo/tag calls
// expect.
func cacheRef(digest, projectID string) (repo, tag string) {
	return "kozmic-cache/" + digest, projectID
}

// splitImageRef splits a "repo:tag" image reference into its halves
// for Engine.ImageID, defaulting to the "latest" tag the same way
// Docker itself does for a bare repo name. A registry host with an
// explicit port (e.g. "registry:5000/name") is not mistaken for a tag
// separator, since a real tag can never contain a slash.
func splitImageRef(image string) (repo, tag string) {
	idx := strings.LastIndex(image, ":")
	if idx == -1 || strings.Contains(image[idx+1:], "/") {
		return image, "latest"
	}
	return image[:idx], image[idx+1:]
}
