package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kozmic/kozmic/internal/model"
	"github.com/kozmic/kozmic/internal/queue"
	"github.com/kozmic/kozmic/internal/registry"
	"github.com/kozmic/kozmic/internal/runner"
	"github.com/kozmic/kozmic/internal/store"
	"github.com/kozmic/kozmic/internal/webhook"
)

// coordinator is the Core's process-wide wiring: it turns a webhook
// delivery into Build/HookCall/Job records (applying the dedup
// constraints of spec.md §6), pushes the job id onto the queue, and,
// on the consuming side, hands dequeued job ids to the Job Runner. It
// implements httpapi.HookRegistry, webhook.Enqueuer and
// httpapi.BuildLookup so main can wire one value into all three
// seams.
type coordinator struct {
	reg    *registry.Registry
	jobs   *store.JobStore
	builds *store.BuildStore
	calls  *store.HookCallStore
	hooks  *store.HookStore
	q      *queue.Queue
	run    *runner.Runner
	log    *log.Logger

	cloneHTTPSTemplate string // e.g. "https://github.com/%s/%s.git"
	cloneSSHTemplate   string // e.g. "git@github.com:%s/%s.git"

	// deployKeys holds one generated DeployKey per private project,
	// keyed by ProjectID. Public projects have no entry, and
	// projectFor passes nil for them the same as before.
	deployKeys map[string]*model.DeployKey
}

var _ webhook.Enqueuer = (*coordinator)(nil)

// Lookup implements httpapi.HookRegistry.
func (c *coordinator) Lookup(hookID int64) ([]byte, webhook.Enqueuer, bool) {
	secret, ok := c.reg.Secret(hookID)
	if !ok {
		return nil, nil, false
	}
	return secret, c, true
}

// Enqueue implements webhook.Enqueuer: find-or-create the Build for
// (project, ref, sha), record the HookCall, create a Job and push its
// id onto the queue. A Build that already exists for (project, ref,
// sha) is reused; a duplicate HookCall for (build, hook) is reported
// as webhook.ErrDuplicateDelivery so ingress replies OK without
// enqueuing a second Job.
func (c *coordinator) Enqueue(ctx context.Context, hookID int64, ref, sha, commitAuthor, commitMessage string) error {
	proj, ok := c.reg.Lookup(hookID)
	if !ok {
		return fmt.Errorf("coordinator: unknown hook %d", hookID)
	}

	bld, existing := c.builds.Find(proj.ProjectID, ref, sha)
	if !existing {
		bld = &model.Build{
			BuildID:     uuid.NewString(),
			ProjectID:   proj.ProjectID,
			Status:      model.BuildEnqueued,
			GHCommitSHA: sha,
			GHCommitRef: ref,
		}
		if err := c.builds.Create(bld); err != nil {
			if err == store.ErrDuplicate {
				bld, _ = c.builds.Find(proj.ProjectID, ref, sha)
			} else {
				return fmt.Errorf("coordinator: creating build: %w", err)
			}
		}
	}

	// hookKey doubles as both the HookCallStore's dedup key and the
	// HookStore's lookup key: this registry-backed deployment has one
	// Hook config per webhook endpoint, so a Job's HookCallID can stand
	// in directly for "which Hook produced this Job" without a separate
	// HookCall record type.
	hookKey := fmt.Sprintf("%d", hookID)
	if err := c.calls.Create(bld.BuildID, hookKey); err != nil {
		if err == store.ErrDuplicate {
			return webhook.ErrDuplicateDelivery
		}
		return fmt.Errorf("coordinator: recording hook call: %w", err)
	}

	c.hooks.Put(proj.Hook())

	job := &model.Job{
		JobID:      uuid.NewString(),
		HookCallID: hookKey,
		BuildID:    bld.BuildID,
		TaskUUID:   uuid.NewString(),
	}
	c.jobs.Put(job)
	bld.JobIDs = append(bld.JobIDs, job.JobID)
	c.builds.Put(bld)

	if err := c.q.Enqueue(ctx, queue.JobID{JobID: job.JobID}); err != nil {
		return fmt.Errorf("coordinator: enqueuing job %s: %w", job.JobID, err)
	}
	return nil
}

// LatestStatus implements httpapi.BuildLookup for the badge endpoint.
// owner/repo select the registered project; the build lookup itself is
// keyed by that project's id, since that's what BuildStore indexes on.
func (c *coordinator) LatestStatus(owner, repo, ref string) (string, bool) {
	for _, p := range c.reg.All() {
		if p.Owner != owner || p.Repo != repo {
			continue
		}
		if bld, ok := c.builds.Latest(p.ProjectID, ref); ok {
			return string(bld.Status), true
		}
	}
	return "", false
}

// work dequeues job ids from the queue and runs them until ctx is
// canceled, the worker-pool half of spec.md §5's scheduling model: a
// small fixed set of goroutines pulling off a channel, here fed by the
// queue consumer rather than an in-process channel.
func (c *coordinator) work(ctx context.Context) error {
	return c.q.Consume(ctx, func(ctx context.Context, id queue.JobID) error {
		job, ok := c.jobs.Get(id.JobID)
		if !ok {
			c.log.Printf("coordinator: unknown job %s, dropping", id.JobID)
			return nil
		}
		bld, ok := c.builds.Get(job.BuildID)
		if !ok {
			c.log.Printf("coordinator: unknown build %s for job %s, dropping", job.BuildID, job.JobID)
			return nil
		}
		hook, ok := c.hooks.Get(job.HookCallID)
		if !ok {
			c.log.Printf("coordinator: unknown hook %s for job %s, dropping", job.HookCallID, job.JobID)
			return nil
		}
		proj, ok := c.projectFor(bld.ProjectID)
		if !ok {
			c.log.Printf("coordinator: unknown project %s for job %s, dropping", bld.ProjectID, job.JobID)
			return nil
		}
		c.run.Run(ctx, job, hook, bld, proj)
		return nil
	})
}

func (c *coordinator) projectFor(projectID string) (runner.Project, bool) {
	for _, p := range c.reg.All() {
		if p.ProjectID != projectID {
			continue
		}
		cloneHTTPS := fmt.Sprintf(c.cloneHTTPSTemplate, p.Owner, p.Repo)
		cloneSSH := fmt.Sprintf(c.cloneSSHTemplate, p.Owner, p.Repo)
		return p.Project(cloneHTTPS, cloneSSH, c.deployKeys[p.ProjectID]), true
	}
	return runner.Project{}, false
}
