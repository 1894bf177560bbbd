// Package builder implements ports.ImageBuilder using the Docker SDK,
// with an optional go-git checkout of the source repository as the build
// context.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/ports"
)

// Adapter builds and pushes images through the local Docker daemon. The
// daemon's layer cache is shared across calls, so per-registry builds of
// the same context avoid redundant compilation work.
type Adapter struct {
	cli *client.Client
	log *logrus.Entry
}

func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: logrus.WithField("component", "builder")}, nil
}

// Checkout shallow-clones repoURL at ref into a temp directory and
// returns the path plus a cleanup func. Used when the build context is a
// remote repository rather than the local working tree.
func (a *Adapter) Checkout(ctx context.Context, repoURL, ref string) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "lighthouse-release-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	opts := &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	a.log.WithFields(logrus.Fields{"repo": repoURL, "ref": ref}).Info("cloning build context")
	if _, err := git.PlainCloneContext(ctx, tmpDir, false, opts); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to clone repo: %w", err)
	}
	return tmpDir, cleanup, nil
}

// Build runs one image build producing every tag in the request. The
// multi-arch platform set is a single atomic build operation. A nonzero
// build exit maps to domain.ErrBuild.
func (a *Adapter) Build(ctx context.Context, req ports.BuildRequest) error {
	tar, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	buildArgs := make(map[string]*string, len(req.BuildArgs))
	for k, v := range req.BuildArgs {
		v := v
		buildArgs[k] = &v
	}

	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       req.Tags,
		Dockerfile: req.Dockerfile,
		BuildArgs:  buildArgs,
		Platform:   strings.Join(req.Platforms, ","),
		Version:    types.BuilderBuildKit,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuild, err)
	}
	defer resp.Body.Close()

	out := req.Output
	if out == nil {
		out = io.Discard
	}
	// Decoding the stream is what surfaces build step failures; the HTTP
	// call above succeeds even when a RUN instruction exits nonzero.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuild, err)
	}
	return nil
}

// Push pushes a single tagged reference with the registry's credentials.
func (a *Adapter) Push(ctx context.Context, ref string, auth domain.RegistryAuth) error {
	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	})
	if err != nil {
		return fmt.Errorf("failed to encode registry auth: %w", err)
	}

	reader, err := a.cli.ImagePush(ctx, ref, types.ImagePushOptions{RegistryAuth: encoded})
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
	return nil
}
