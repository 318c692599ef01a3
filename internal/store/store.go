// Package store provides in-memory reference implementations of the
// persistence collaborator the Job Execution Core talks to. They are
// concrete types, not interfaces; a SQL-backed store is out of scope
// (§1). These mutex-guarded maps follow the same "temporary database"
// shape as the teacher's CommitStore and RunnerRegistry.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kozmic/kozmic/internal/model"
)

// ErrDuplicate is returned when a Build or HookCall insertion violates one
// of the two uniqueness constraints named in spec.md §6: one Build per
// (project_id, ref, sha), and one HookCall per (build_id, hook_id).
var ErrDuplicate = errors.New("store: duplicate record")

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// JobStore owns Job records.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: map[string]*model.Job{}}
}

func (s *JobStore) Put(j *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.JobID] = j
}

func (s *JobStore) Get(jobID string) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

func (s *JobStore) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

func (s *JobStore) ByBuild(buildID string) []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Job
	for _, j := range s.jobs {
		if j.BuildID == buildID {
			out = append(out, j)
		}
	}
	return out
}

// BuildStore owns Build records and enforces unique_ref_and_sha_within_project.
type BuildStore struct {
	mu     sync.Mutex
	builds map[string]*model.Build
	// byKey indexes existing builds by (project id, ref, sha) for the
	// uniqueness constraint.
	byKey map[string]string
	// byRef indexes the most recently created build id for (project id,
	// ref), for the badge endpoint's "latest build for this branch"
	// lookup, which doesn't know a sha up front.
	byRef map[string]string
}

func NewBuildStore() *BuildStore {
	return &BuildStore{
		builds: map[string]*model.Build{},
		byKey:  map[string]string{},
		byRef:  map[string]string{},
	}
}

func buildKey(projectID, ref, sha string) string {
	return fmt.Sprintf("%s/%s/%s", projectID, ref, sha)
}

func refKey(projectID, ref string) string {
	return projectID + "/" + ref
}

// Create inserts a Build, returning ErrDuplicate if one already exists for
// the same (project, ref, sha) tuple.
func (s *BuildStore) Create(b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := buildKey(b.ProjectID, b.GHCommitRef, b.GHCommitSHA)
	if _, ok := s.byKey[key]; ok {
		return ErrDuplicate
	}
	s.byKey[key] = b.BuildID
	s.byRef[refKey(b.ProjectID, b.GHCommitRef)] = b.BuildID
	s.builds[b.BuildID] = b
	return nil
}

func (s *BuildStore) Find(projectID, ref, sha string) (*model.Build, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[buildKey(projectID, ref, sha)]
	if !ok {
		return nil, false
	}
	b := s.builds[id]
	return b, b != nil
}

// Latest returns the most recently created Build for (projectID, ref),
// regardless of sha — what the badge endpoint needs when a ref, not a
// commit, is all the caller has.
func (s *BuildStore) Latest(projectID, ref string) (*model.Build, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[refKey(projectID, ref)]
	if !ok {
		return nil, false
	}
	b := s.builds[id]
	return b, b != nil
}

func (s *BuildStore) Get(buildID string) (*model.Build, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[buildID]
	return b, ok
}

func (s *BuildStore) Put(b *model.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[b.BuildID] = b
}

// HookCallStore owns HookCall records and enforces
// unique_hook_call_within_build.
type HookCallStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewHookCallStore() *HookCallStore {
	return &HookCallStore{seen: map[string]bool{}}
}

// Create records a (buildID, hookID) hook call, returning ErrDuplicate if
// this hook has already been invoked for this build.
func (s *HookCallStore) Create(buildID, hookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := buildID + "/" + hookID
	if s.seen[key] {
		return ErrDuplicate
	}
	s.seen[key] = true
	return nil
}

// HookStore owns the immutable Hook configuration records.
type HookStore struct {
	mu    sync.Mutex
	hooks map[string]*model.Hook
}

func NewHookStore() *HookStore {
	return &HookStore{hooks: map[string]*model.Hook{}}
}

func (s *HookStore) Put(h *model.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[h.HookID] = h
}

func (s *HookStore) Get(hookID string) (*model.Hook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hooks[hookID]
	return h, ok
}
