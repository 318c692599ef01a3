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

// Package githost is the narrow hosted-git collaborator the rest of
// this module talks to: content lookups for cache fingerprinting and
// commit status updates, both backed by github.com/google/go-github/v32,
// the same client the teacher imports in agent/handlers.go.
package githost

import (
	"context"
	"fmt"

	"github.com/google/go-github/v32/github"

	"github.com/kozmic/kozmic/internal/fingerprint"
)

// Client wraps a go-github REST client with the handful of calls the
// Job Execution Core needs: content lookups and status posting.
type Client struct {
	gh *github.Client
}

// New wraps an already-authenticated go-github client.
func New(gh *github.Client) *Client {
	return &Client{gh: gh}
}

var _ fingerprint.ContentLookup = (*Client)(nil)

// FileSHA implements fingerprint.ContentLookup for a regular file.
func (c *Client) FileSHA(ctx context.Context, owner, repo, p, ref string) (string, bool, error) {
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, p, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("githost: getting contents of %s: %w", p, err)
	}
	if dir != nil || file == nil {
		return "", false, nil
	}
	return file.GetSHA(), true, nil
}

// DirEntries implements fingerprint.ContentLookup for a directory.
func (c *Client) DirEntries(ctx context.Context, owner, repo, p, ref string) ([]fingerprint.Entry, bool, error) {
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, p, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("githost: listing contents of %s: %w", p, err)
	}
	if file != nil || dir == nil {
		return nil, false, nil
	}
	entries := make([]fingerprint.Entry, 0, len(dir))
	for _, e := range dir {
		entries = append(entries, fingerprint.Entry{Path: e.GetPath(), SHA: e.GetSHA()})
	}
	return entries, true, nil
}

// CommitStatus mirrors the subset of GitHub's commit status states the
// Job Runner posts: pending while a job runs, success/failure once it
// finishes.
type CommitStatus string

const (
	StatusPending CommitStatus = "pending"
	StatusSuccess CommitStatus = "success"
	StatusFailure CommitStatus = "failure"
	StatusError   CommitStatus = "error"
)

// PostStatus sets a commit status on owner/repo@sha, the hosted-git
// equivalent of the badge the original exposes at GET /badge.
func (c *Client) PostStatus(ctx context.Context, owner, repo, sha string, status CommitStatus, description, targetURL, context_ string) error {
	_, _, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, &github.RepoStatus{
		State:       github.String(string(status)),
		Description: github.String(description),
		TargetURL:   github.String(targetURL),
		Context:     github.String(context_),
	})
	if err != nil {
		return fmt.Errorf("githost: posting status for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if ghErr, ok := err.(*github.ErrorResponse); ok {
		return ghErr.Response != nil && ghErr.Response.StatusCode == 404
	}
	return false
}
