package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-release/internal/core/domain"
)

// BuildRequest describes one image build. Tags carries every reference the
// build should produce; Platforms is the multi-arch set built as a single
// operation.
type BuildRequest struct {
	ContextDir string
	Dockerfile string
	Tags       []string
	Platforms  []string
	BuildArgs  map[string]string
	Output     io.Writer
}

// ImageBuilder builds container images and pushes tagged references.
// Implementations may share a build cache across calls; a build is always
// performed even when the caller never pushes, to validate buildability.
type ImageBuilder interface {
	Build(ctx context.Context, req BuildRequest) error
	Push(ctx context.Context, ref string, auth domain.RegistryAuth) error
}
