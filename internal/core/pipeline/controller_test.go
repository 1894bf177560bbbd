package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/matrix"
	"github.com/melih/lighthouse-release/internal/core/ports"
	"github.com/melih/lighthouse-release/internal/core/publish"
)

type fakeBuilder struct {
	mu             sync.Mutex
	builds         []ports.BuildRequest
	pushes         []string
	failDockerfile string
}

func (f *fakeBuilder) Build(_ context.Context, req ports.BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, req)
	if f.failDockerfile != "" && req.Dockerfile == f.failDockerfile {
		return errors.New("step 7/12 failed")
	}
	return nil
}

func (f *fakeBuilder) Push(_ context.Context, ref string, _ domain.RegistryAuth) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, ref)
	return nil
}

type fakeRuntime struct {
	mu      sync.Mutex
	nextID  int
	stopped int
}

func (f *fakeRuntime) PullImage(context.Context, string) error { return nil }

func (f *fakeRuntime) StartContainer(context.Context, ports.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("c-%d", f.nextID), nil
}

func (f *fakeRuntime) StopContainer(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeRuntime) ContainerLogs(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeSuite struct{ err error }

func (f *fakeSuite) Run(context.Context, ports.SuiteRequest) error { return f.err }

func writeVersionFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version.py")
	require.NoError(t, os.WriteFile(path, []byte("__version__ = \"1.4.0\"\n"), 0644))
	return path
}

func newTestController(t *testing.T, fb *fakeBuilder, suiteErr error) *Controller {
	t.Helper()
	orch := matrix.New(fb, &fakeRuntime{}, &fakeSuite{err: suiteErr}, nil, matrix.Options{
		StartupWait:  50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Ready:        func(context.Context, string) error { return nil },
	})
	cfg := Config{
		VersionFile: writeVersionFile(t),
		ContextDir:  ".",
		Images: []domain.BaseImage{
			{Name: "example/server-cpu", Dockerfile: "Dockerfile.cpu"},
		},
		Registries: []domain.Registry{{Name: "hub"}},
		Targets: []domain.HardwareTarget{
			{ID: "cpu", Dockerfile: "Dockerfile.cpu", Port: 9001},
			{ID: "jetson-6.0.0", Dockerfile: "Dockerfile.jetson.6.0.0", Port: 9004},
		},
	}
	return NewController(cfg, publish.New(fb), orch)
}

func TestRun_PushToMainBuildsWithoutPushing(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)

	report, err := c.Run(context.Background(), Trigger{Kind: domain.TriggerPushToMain})
	require.NoError(t, err)
	require.Equal(t, "passed", report.Status)
	require.Equal(t, "1.4.0", report.Version)
	require.Equal(t, domain.TagSet{
		"example/server-cpu:latest",
		"example/server-cpu:1.4.0",
	}, report.Tags["example/server-cpu"])
	require.Empty(t, fb.pushes, "push gate is closed for push-to-main")
	require.Len(t, report.Targets, 2)
}

func TestRun_ReleasePushes(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)

	report, err := c.Run(context.Background(), Trigger{Kind: domain.TriggerRelease})
	require.NoError(t, err)
	require.Equal(t, "passed", report.Status)
	require.ElementsMatch(t, []string{
		"example/server-cpu:latest",
		"example/server-cpu:1.4.0",
	}, fb.pushes)
	require.Len(t, report.Publishes, 1)
	require.True(t, report.Publishes[0].Pushed)
}

func TestRun_TargetBuildFailureIsIsolated(t *testing.T) {
	fb := &fakeBuilder{failDockerfile: "Dockerfile.jetson.6.0.0"}
	c := newTestController(t, fb, nil)

	report, err := c.Run(context.Background(), Trigger{Kind: domain.TriggerPushToMain})
	require.Error(t, err)
	require.Equal(t, "failed", report.Status)
	require.Len(t, report.Targets, 2)

	byTarget := map[string]TargetRow{}
	for _, row := range report.Targets {
		byTarget[row.Target] = row
	}
	require.Equal(t, "BuildError", byTarget["jetson-6.0.0"].ErrorClass)
	require.Equal(t, string(domain.StateFailed), byTarget["jetson-6.0.0"].State)
	require.Empty(t, byTarget["cpu"].Error, "cpu target unaffected by jetson build failure")
	require.Equal(t, string(domain.StateCleaned), byTarget["cpu"].State)
}

func TestRun_CustomTagSingleReference(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)

	report, err := c.Run(context.Background(), Trigger{
		Kind:      domain.TriggerManual,
		CustomTag: "pr-42",
		ForcePush: true,
	})
	require.NoError(t, err)
	require.Equal(t, "pr-42", report.Version)
	require.Equal(t, domain.TagSet{"example/server-cpu:pr-42"}, report.Tags["example/server-cpu"])
	require.Equal(t, []string{"example/server-cpu:pr-42"}, fb.pushes)
}

func TestRun_ManualSingleTargetSkipsPublish(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)

	report, err := c.Run(context.Background(), Trigger{
		Kind:   domain.TriggerManual,
		Target: "cpu",
	})
	require.NoError(t, err)
	require.Empty(t, report.Publishes)
	require.Empty(t, fb.pushes)
	require.Len(t, report.Targets, 1)
	require.Equal(t, "cpu", report.Targets[0].Target)
}

func TestRun_UnknownTarget(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)

	_, err := c.Run(context.Background(), Trigger{
		Kind:   domain.TriggerManual,
		Target: "tpu",
	})
	require.Error(t, err)
}

func TestRun_MissingVersionFileIsFatal(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, nil)
	c.cfg.VersionFile = filepath.Join(t.TempDir(), "missing")

	report, err := c.Run(context.Background(), Trigger{Kind: domain.TriggerPushToMain})
	require.ErrorIs(t, err, domain.ErrVersionUnavailable)
	require.Equal(t, "failed", report.Status)
	require.Equal(t, "VersionUnavailable", report.FatalError)
	require.Empty(t, report.Targets, "no targets run when no tags can be computed")
}

func TestRun_SuiteFailureFailsRunButCleansUp(t *testing.T) {
	fb := &fakeBuilder{}
	c := newTestController(t, fb, fmt.Errorf("%w: suite exited 2", domain.ErrTestFailure))

	report, err := c.Run(context.Background(), Trigger{Kind: domain.TriggerPushToMain})
	require.Error(t, err)
	require.Equal(t, "failed", report.Status)
	for _, row := range report.Targets {
		require.Equal(t, "TestFailure", row.ErrorClass)
		require.Equal(t, "ok", row.Cleanup, "cleanup ran despite the failure")
	}
}
