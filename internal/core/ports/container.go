package ports

import (
	"context"
	"io"
)

// StartRequest describes a long-lived container launch: the image to run,
// the host port the service binds, and the target's environment overrides.
type StartRequest struct {
	Image         string
	Name          string
	Port          int
	ContainerPort int
	Env           map[string]string
}

// ContainerRuntime defines the container operations the orchestrator
// needs. This interface allows switching between Docker, Podman, or a
// remote runtime without changing the lifecycle logic.
type ContainerRuntime interface {
	PullImage(ctx context.Context, ref string) error
	StartContainer(ctx context.Context, req StartRequest) (string, error)
	StopContainer(ctx context.Context, id string) error
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
}
