package model

import (
	"testing"
	"time"
)

func TestJobStatusDerivation(t *testing.T) {
	j := &Job{}
	if got := j.Status(); got != StatusEnqueued {
		t.Fatalf("expected enqueued, got %s", got)
	}

	now := time.Now()
	j.Start(now)
	if got := j.Status(); got != StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}

	j.Finish(now.Add(time.Second), 0, []byte("ok\n"), "")
	if got := j.Status(); got != StatusSuccess {
		t.Fatalf("expected success, got %s", got)
	}
	if !j.IsFinished() {
		t.Fatalf("expected job to be finished")
	}

	j2 := &Job{}
	j2.Start(now)
	j2.Finish(now.Add(time.Second), 1, nil, "")
	if got := j2.Status(); got != StatusFailure {
		t.Fatalf("expected failure, got %s", got)
	}
}

func TestDeriveBuildStatus(t *testing.T) {
	now := time.Now()
	rc0, rc1 := 0, 1

	// No jobs: enqueued.
	if got := DeriveStatus(nil); got != BuildEnqueued {
		t.Fatalf("expected enqueued for no jobs, got %s", got)
	}

	finished := &now
	succeeded := &Job{StartedAt: finished, FinishedAt: finished, ReturnCode: &rc0}
	pending := &Job{StartedAt: finished}
	if got := DeriveStatus([]*Job{succeeded, pending}); got != BuildPending {
		t.Fatalf("expected pending while a job is unfinished, got %s", got)
	}

	failed := &Job{StartedAt: finished, FinishedAt: finished, ReturnCode: &rc1}
	if got := DeriveStatus([]*Job{succeeded, failed}); got != BuildFailure {
		t.Fatalf("expected failure when any finished job has rc!=0, got %s", got)
	}

	if got := DeriveStatus([]*Job{succeeded, succeeded}); got != BuildSuccess {
		t.Fatalf("expected success when all jobs finished rc=0, got %s", got)
	}
}

func TestHasInstallScript(t *testing.T) {
	h := &Hook{}
	if h.HasInstallScript() {
		t.Fatalf("empty install script should report false")
	}
	h.InstallScript = "echo hi"
	if !h.HasInstallScript() {
		t.Fatalf("non-empty install script should report true")
	}
}
