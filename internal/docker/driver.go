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

// Package docker is a thin contract over a local container engine: pull,
// create, start, wait, logs, kill, remove, commit, image-lookup. Everything
// above this package talks to the Engine interface, never to the Docker SDK
// directly, the same way the teacher keeps Container/RunnerPool as an
// interface boundary in core/container.go and core/pool.go.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
)

// ErrImagePull is returned when a pull fails for network/registry reasons.
var ErrImagePull = errors.New("docker: image pull failed")

// ErrImageMissing is returned when a post-pull inspect can't find the
// image.
var ErrImageMissing = errors.New("docker: image missing after pull")

// Handle is an opaque reference to a created container.
type Handle struct {
	ID string
}

// Engine is the Container Driver contract (spec.md §4.1).
type Engine interface {
	Pull(ctx context.Context, image string) error
	InspectImage(ctx context.Context, image string) error
	ImageExists(ctx context.Context, repo, tag string) (bool, error)
	ImageID(ctx context.Context, repo, tag string) (string, error)
	Create(ctx context.Context, image string, cmd []string, binds map[string]string) (Handle, error)
	Start(ctx context.Context, h Handle) error
	Wait(ctx context.Context, h Handle) (int, error)
	Logs(ctx context.Context, h Handle) (string, error)
	Kill(ctx context.Context, h Handle) error
	Commit(ctx context.Context, h Handle, repo, tag string) error
	RemoveContainer(ctx context.Context, h Handle) error
	RemoveImage(ctx context.Context, id string) error
	ListImages(ctx context.Context, repoPrefix string) ([]ImageSummary, error)
}

// ImageSummary is the subset of an image's metadata the cache sweeper
// (§6 "Cache sweeper") needs to group by project and rank by age.
type ImageSummary struct {
	ID       string
	RepoTags []string
	Created  int64 // unix seconds
}

// Driver implements Engine over the real Docker daemon via
// github.com/docker/docker/client, the teacher's only container SDK
// (core/pool.go, backend/runner.go, runner/runner.go).
type Driver struct {
	cli *dockerclient.Client
}

// New builds a Driver from DOCKER_URL/DOCKER_API_VERSION-style options. An
// empty host/apiVersion falls back to the client's environment defaults,
// matching the teacher's client.NewEnvClient() calls.
func New(host, apiVersion string) (*Driver, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}
	if apiVersion != "" {
		opts = append(opts, dockerclient.WithVersion(apiVersion))
	} else {
		opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: building client: %w", err)
	}
	return &Driver{cli: cli}, nil
}

func (d *Driver) Pull(ctx context.Context, image string) error {
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImagePull, image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImagePull, image, err)
	}
	return nil
}

func (d *Driver) InspectImage(ctx context.Context, image string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageMissing, image, err)
	}
	return nil
}

func (d *Driver) ImageID(ctx context.Context, repo, tag string) (string, error) {
	ref := repo + ":" + tag
	f := filters.NewArgs()
	f.Add("reference", ref)
	images, err := d.cli.ImageList(ctx, types.ImageListOptions{Filters: f})
	if err != nil {
		return "", fmt.Errorf("docker: listing images for %s: %w", ref, err)
	}
	for _, img := range images {
		for _, repoTag := range img.RepoTags {
			if repoTag == ref {
				return img.ID, nil
			}
		}
	}
	return "", nil
}

func (d *Driver) ImageExists(ctx context.Context, repo, tag string) (bool, error) {
	id, err := d.ImageID(ctx, repo, tag)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

func (d *Driver) Create(ctx context.Context, image string, cmd []string, binds map[string]string) (Handle, error) {
	volumes := map[string]struct{}{}
	var bindStrs []string
	for host, mount := range binds {
		volumes[mount] = struct{}{}
		bindStrs = append(bindStrs, host+":"+mount)
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:   image,
		Cmd:     cmd,
		Volumes: volumes,
	}, &container.HostConfig{
		Binds: bindStrs,
	}, nil, nil, "")
	if err != nil {
		return Handle{}, fmt.Errorf("docker: creating container from %s: %w", image, err)
	}
	return Handle{ID: resp.ID}, nil
}

func (d *Driver) Start(ctx context.Context, h Handle) error {
	if err := d.cli.ContainerStart(ctx, h.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("docker: starting container %s: %w", h.ID, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, h Handle) (int, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, h.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("docker: waiting on container %s: %w", h.ID, err)
		}
		return 0, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (d *Driver) Logs(ctx context.Context, h Handle) (string, error) {
	reader, err := d.cli.ContainerLogs(ctx, h.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("docker: fetching logs for %s: %w", h.ID, err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("docker: reading logs for %s: %w", h.ID, err)
	}
	return string(out), nil
}

func (d *Driver) Kill(ctx context.Context, h Handle) error {
	if err := d.cli.ContainerKill(ctx, h.ID, "KILL"); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("docker: killing container %s: %w", h.ID, err)
	}
	return nil
}

func (d *Driver) Commit(ctx context.Context, h Handle, repo, tag string) error {
	_, err := d.cli.ContainerCommit(ctx, h.ID, types.ContainerCommitOptions{
		Reference: repo + ":" + tag,
	})
	if err != nil {
		return fmt.Errorf("docker: committing container %s to %s:%s: %w", h.ID, repo, tag, err)
	}
	return nil
}

func (d *Driver) RemoveContainer(ctx context.Context, h Handle) error {
	err := d.cli.ContainerRemove(ctx, h.ID, types.ContainerRemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("docker: removing container %s: %w", h.ID, err)
	}
	return nil
}

// ListImages returns every image whose repository starts with
// repoPrefix, for the cache sweeper (§6) to group by project and
// prune. The docker/docker client has no native prefix filter, so
// this lists all images and filters client-side — acceptable for an
// operational tool run off the job path, not per-job.
func (d *Driver) ListImages(ctx context.Context, repoPrefix string) ([]ImageSummary, error) {
	images, err := d.cli.ImageList(ctx, types.ImageListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("docker: listing images: %w", err)
	}
	var out []ImageSummary
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if len(tag) >= len(repoPrefix) && tag[:len(repoPrefix)] == repoPrefix {
				out = append(out, ImageSummary{ID: img.ID, RepoTags: img.RepoTags, Created: img.Created})
				break
			}
		}
	}
	return out, nil
}

func (d *Driver) RemoveImage(ctx context.Context, id string) error {
	_, err := d.cli.ImageRemove(ctx, id, types.ImageRemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("docker: removing image %s: %w", id, err)
	}
	return nil
}
