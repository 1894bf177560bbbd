// Package docker implements ports.ContainerRuntime using the Docker SDK.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/ports"
)

// Adapter implements ports.ContainerRuntime against the local Docker
// daemon.
type Adapter struct {
	cli *client.Client
	log *logrus.Entry
}

func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: logrus.WithField("component", "docker")}, nil
}

// PullImage pulls ref to warm the local cache. The pull stream is drained
// so the operation completes before returning.
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	reader, err := a.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// StartContainer creates and starts a long-lived container with the
// request's environment overrides and the service port published on the
// host. Returns the container ID.
func (a *Adapter) StartContainer(ctx context.Context, req ports.StartRequest) (string, error) {
	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	containerPort := req.ContainerPort
	if containerPort == 0 {
		containerPort = req.Port
	}
	exposed := nat.Port(fmt.Sprintf("%d/tcp", containerPort))

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:        req.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			exposed: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", req.Port)}},
		},
	}, nil, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// The created container would otherwise leak.
		_ = a.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	a.log.WithFields(logrus.Fields{"id": resp.ID[:12], "image": req.Image}).Info("container started")
	return resp.ID, nil
}

// StopContainer stops and removes the container. Removal is part of the
// cleanup guarantee: no run leaves a container behind.
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.cli.ContainerStop(stopCtx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := a.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ContainerLogs returns the container's output with timestamps, for
// archiving alongside the suite output.
func (a *Adapter) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	options := types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	return a.cli.ContainerLogs(ctx, id, options)
}
