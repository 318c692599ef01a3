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

// Package webhook implements the Core's webhook ingress contract: the
// narrow slice of GitHub's webhook surface the Job Execution Core
// actually consumes (push/pull_request/ping, dedup, the ci-skip
// convention), not the full ingress routing and form-handling the web
// UI wraps around it. Signature validation and event parsing are
// grounded on agent/handlers.go's commitHandler; the ref/sha
// extraction and dedup-by-constraint-violation are grounded on
// kozmic/builds/views.py's hook() view.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v32/github"
)

// ciSkipPattern matches the conventional "skip CI" markers in a commit
// message or pull request title/body, per spec.md's ingress contract.
var ciSkipPattern = regexp.MustCompile(`(?i)\[ci\s+skip\]|\[skip\s+ci\]|skip_ci|ci_skip`)

// Event is the already-parsed record the Core consumes, matching
// spec.md §6's `{event, ref, head_sha, commit_message, commit_author}`
// shape.
type Event struct {
	Type          string // "push", "pull_request", or "ping"
	Action        string // pull_request action: "opened", "synchronize", ...
	Ref           string
	HeadSHA       string
	CommitMessage string
	CommitAuthor  string
	Body          string // pull_request body
	HookID        int64  // present on "ping"
}

// ShouldSkip reports whether the commit message (for a pull request,
// its title or body) requests a CI skip.
func (e Event) ShouldSkip() bool {
	return ciSkipPattern.MatchString(e.CommitMessage) || ciSkipPattern.MatchString(e.Body)
}

// Enqueuer is the Job Runner-facing side of ingress: given a ref/sha
// pair on a known hook, find-or-create the Build, record a HookCall,
// and enqueue a Job. Dedup is the enqueuer's responsibility (via
// internal/store's ErrDuplicate sentinels); ingress only calls it and
// treats a duplicate as a no-op "OK".
type Enqueuer interface {
	Enqueue(ctx context.Context, hookID int64, ref, sha, commitAuthor, commitMessage string) error
}

// ErrDuplicateDelivery is what an Enqueuer returns when
// (project,ref,sha) or (build,hook) has already been recorded; Handler
// treats it the same as success.
var ErrDuplicateDelivery = fmt.Errorf("webhook: duplicate delivery")

// Parse extracts an Event from a raw push or pull_request webhook
// payload already identified by its GitHub event type header.
func Parse(eventType string, payload []byte) (Event, bool, error) {
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return Event{}, false, fmt.Errorf("webhook: parsing payload: %w", err)
	}

	switch e := parsed.(type) {
	case *github.PingEvent:
		return Event{Type: "ping", HookID: e.GetHookID()}, true, nil

	case *github.PushEvent:
		ref := e.GetRef()
		const branchPrefix = "refs/heads/"
		if !strings.HasPrefix(ref, branchPrefix) {
			return Event{}, false, nil
		}
		head := e.GetHeadCommit()
		return Event{
			Type:          "push",
			Ref:           strings.TrimPrefix(ref, branchPrefix),
			HeadSHA:       head.GetID(),
			CommitMessage: head.GetMessage(),
			CommitAuthor:  head.GetAuthor().GetName(),
		}, true, nil

	case *github.PullRequestEvent:
		action := e.GetAction()
		if action != "opened" && action != "synchronize" {
			return Event{}, false, nil
		}
		pr := e.GetPullRequest()
		head := pr.GetHead()
		return Event{
			Type:          "pull_request",
			Action:        action,
			Ref:           head.GetRef(),
			HeadSHA:       head.GetSHA(),
			CommitMessage: pr.GetTitle(),
			CommitAuthor:  pr.GetUser().GetLogin(),
			Body:          pr.GetBody(),
		}, true, nil

	default:
		return Event{}, false, nil
	}
}

// Handler builds an http.HandlerFunc for a single hook id, validating
// the GitHub signature with secret the same way
// agent/handlers.go's commitHandler uses github.ValidatePayload.
func Handler(hookID int64, secret []byte, enq Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := github.ValidatePayload(r, secret)
		if err != nil {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		defer r.Body.Close()

		event, ok, err := Parse(github.WebHookType(r), payload)
		if err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if !ok {
			fmt.Fprint(w, "OK")
			return
		}

		if event.Type == "ping" {
			if event.HookID != hookID {
				http.Error(w, "hook id mismatch", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, "OK")
			return
		}

		if event.ShouldSkip() {
			fmt.Fprint(w, "OK")
			return
		}

		err = enq.Enqueue(r.Context(), hookID, event.Ref, event.HeadSHA, event.CommitAuthor, event.CommitMessage)
		if err != nil && err != ErrDuplicateDelivery {
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "OK")
	}
}
