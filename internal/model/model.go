// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package model is the domain model of the job execution core: Job, Hook,
// Build and DeployKey, the entities the rest of the Core reads and writes.
// Storage and indexing are delegated to the store package.
package model

import "time"

// JobStatus is a value derived from a Job's timestamps and return code,
// never stored directly.
type JobStatus string

const (
	StatusEnqueued JobStatus = "enqueued"
	StatusPending  JobStatus = "pending"
	StatusSuccess  JobStatus = "success"
	StatusFailure  JobStatus = "failure"
)

// Job is one execution of a Hook's script pair against a specific commit.
type Job struct {
	JobID      string
	HookCallID string
	BuildID    string
	TaskUUID   string

	StartedAt  *time.Time
	FinishedAt *time.Time
	ReturnCode *int
	Error      string
	Stdout     []byte
}

// Status derives the Job's lifecycle state from its timestamps and return
// code, per spec: unset-start -> enqueued, start-set-finish-unset ->
// pending, finish-set-rc0 -> success, finish-set-rc!=0 -> failure.
func (j *Job) Status() JobStatus {
	if j.StartedAt == nil {
		return StatusEnqueued
	}
	if j.FinishedAt == nil {
		return StatusPending
	}
	if j.ReturnCode != nil && *j.ReturnCode == 0 {
		return StatusSuccess
	}
	return StatusFailure
}

// IsFinished reports whether the Job has a terminal status.
func (j *Job) IsFinished() bool {
	switch j.Status() {
	case StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// Start sets StartedAt and clears FinishedAt/ReturnCode for a (re)start.
func (j *Job) Start(now time.Time) {
	j.StartedAt = &now
	j.FinishedAt = nil
	j.ReturnCode = nil
}

// Finish sets the terminal fields of the Job. Exactly one of ReturnCode or
// Error is expected to be meaningful on return; callers that hit an
// InfrastructureError still pass a return code of 1 alongside the error
// text, matching spec.md's "exactly one of return_code or error" invariant
// interpreted as "return_code is always set once finished".
func (j *Job) Finish(now time.Time, returnCode int, stdout []byte, errText string) {
	j.FinishedAt = &now
	j.ReturnCode = &returnCode
	j.Stdout = stdout
	j.Error = errText
}

// Hook is immutable within a run: the script pair, base image and tracked
// files that govern install-phase caching.
type Hook struct {
	HookID        string
	DockerImage   string
	InstallScript string
	BuildScript   string
	TrackedFiles  []string
}

// HasInstallScript reports whether the install phase should run at all.
func (h *Hook) HasInstallScript() bool {
	return h.InstallScript != ""
}

// BuildStatus mirrors Job statuses plus the aggregate-only "error" state.
type BuildStatus string

const (
	BuildEnqueued BuildStatus = "enqueued"
	BuildPending  BuildStatus = "pending"
	BuildSuccess  BuildStatus = "success"
	BuildFailure  BuildStatus = "failure"
	BuildError    BuildStatus = "error"
)

// Build aggregates the Jobs triggered by one webhook delivery for one
// commit.
type Build struct {
	BuildID       string
	ProjectID     string
	Status        BuildStatus
	GHCommitSHA   string
	GHCommitRef   string
	JobIDs        []string
}

// DeriveStatus computes the Build's status from its Jobs per spec.md §3:
// success iff every Job has return_code 0 and all are finished; any
// finished Job with return_code != 0 forces failure.
func DeriveStatus(jobs []*Job) BuildStatus {
	if len(jobs) == 0 {
		return BuildEnqueued
	}
	anyStarted := false
	for _, j := range jobs {
		if j.StartedAt != nil {
			anyStarted = true
		}
		if j.FinishedAt != nil && j.ReturnCode != nil && *j.ReturnCode != 0 {
			return BuildFailure
		}
	}
	allFinished := true
	for _, j := range jobs {
		if j.FinishedAt == nil {
			allFinished = false
			break
		}
	}
	if allFinished {
		return BuildSuccess
	}
	if anyStarted {
		return BuildPending
	}
	return BuildEnqueued
}
