package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/ports"
)

type fakeBuilder struct {
	mu     sync.Mutex
	builds []ports.BuildRequest
	err    error
	output string
}

func (f *fakeBuilder) Build(_ context.Context, req ports.BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, req)
	if f.output != "" && req.Output != nil {
		fmt.Fprint(req.Output, f.output)
	}
	return f.err
}

func (f *fakeBuilder) Push(context.Context, string, domain.RegistryAuth) error { return nil }

type fakeRuntime struct {
	mu       sync.Mutex
	started  []ports.StartRequest
	stopped  []string
	pulled   []string
	startErr error
	stopErr  error
	logs     string
	nextID   int
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, req ports.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.nextID++
	f.started = append(f.started, req)
	return fmt.Sprintf("container-%d", f.nextID), nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeRuntime) ContainerLogs(context.Context, string) (io.ReadCloser, error) {
	if f.logs == "" {
		return nil, errors.New("no logs")
	}
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

type fakeSuite struct {
	mu     sync.Mutex
	runs   []ports.SuiteRequest
	err    error
	output string
	block  bool
}

func (f *fakeSuite) Run(ctx context.Context, req ports.SuiteRequest) error {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.output != "" && req.Output != nil {
		fmt.Fprint(req.Output, f.output)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func newFakeArchive() *fakeArchive { return &fakeArchive{objects: map[string]string{}} }

func (f *fakeArchive) Store(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(data)
	return nil
}

func ready(context.Context, string) error { return nil }

func never(context.Context, string) error { return errors.New("not up") }

func testOptions(readyFn ReadyFunc) Options {
	return Options{
		ContextDir:   ".",
		StartupWait:  50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Ready:        readyFn,
	}
}

func cpuTarget() domain.HardwareTarget {
	return domain.HardwareTarget{
		ID:         "cpu",
		Dockerfile: "Dockerfile.cpu",
		Port:       9001,
		Env:        map[string]string{"DISABLE_VERSION_CHECK": "true"},
		SkipFlags:  []string{"SKIP_GAZE_TESTS"},
	}
}

func TestRunTarget_PassingCycle(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	require.Len(t, runs, 1)
	run := runs[0]
	require.True(t, run.Passed())
	require.Equal(t, domain.StateCleaned, run.State)
	require.True(t, run.Cleaned)
	require.NoError(t, run.CleanupErr)
	require.Len(t, rt.stopped, 1, "container stopped exactly once")
	require.Len(t, fs.runs, 1)
	require.Equal(t, "http://localhost:9001", fs.runs[0].BaseURL)
	require.Equal(t, []string{"SKIP_GAZE_TESTS"}, fs.runs[0].SkipFlags)
}

func TestRunTarget_SuiteFailureStillCleansUp(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{err: fmt.Errorf("%w: suite exited 1", domain.ErrTestFailure)}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	require.Len(t, runs, 1)
	run := runs[0]
	require.False(t, run.Passed())
	require.Equal(t, domain.StateFailed, run.State)
	require.ErrorIs(t, run.Err, domain.ErrTestFailure)
	require.True(t, run.Cleaned, "cleanup runs on test failure")
	require.Len(t, rt.stopped, 1)
}

func TestRunTarget_BuildFailureSkipsLifecycle(t *testing.T) {
	fb := &fakeBuilder{err: errors.New("compile error")}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	require.Len(t, runs, 1)
	run := runs[0]
	require.Equal(t, domain.StateFailed, run.State)
	require.ErrorIs(t, run.Err, domain.ErrBuild)
	require.Empty(t, rt.started, "no container started after build failure")
	require.Empty(t, rt.stopped)
	require.Empty(t, fs.runs)
}

func TestRunTarget_StartupTimeoutCleansUp(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(never))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	run := runs[0]
	require.ErrorIs(t, run.Err, domain.ErrStartupTimeout)
	require.Equal(t, domain.StateFailed, run.State)
	require.True(t, run.Cleaned, "started container is released on timeout")
	require.Len(t, rt.stopped, 1)
	require.Empty(t, fs.runs, "suite never runs against a not-ready instance")
}

func TestRunTarget_StartErrorNeedsNoCleanup(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{startErr: errors.New("no such image")}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	run := runs[0]
	require.ErrorIs(t, run.Err, domain.ErrStartupTimeout)
	require.Empty(t, rt.stopped, "nothing to release, no container was created")
}

func TestRunTarget_CleanupFailureDoesNotMaskVerdict(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{stopErr: errors.New("daemon gone")}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	run := runs[0]
	require.True(t, run.Passed(), "passing verdict survives a cleanup failure")
	require.False(t, run.Cleaned)
	require.ErrorIs(t, run.CleanupErr, domain.ErrCleanup)
}

func TestRunTarget_VariantsShareOneBuild(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	target := cpuTarget()
	target.Variants = []domain.Variant{
		{Name: "opencv", Env: map[string]string{"PREPROCESS_BACKEND": "opencv"}},
		{Name: "pillow", Env: map[string]string{"PREPROCESS_BACKEND": "pillow"}},
	}

	runs := o.RunTarget(context.Background(), target, "run-1")
	require.Len(t, runs, 2)
	require.Len(t, fb.builds, 1, "variants share the built image")
	require.Len(t, rt.started, 2)
	require.Len(t, rt.stopped, 2, "each variant has its own cleanup")

	require.Equal(t, "opencv", rt.started[0].Env["PREPROCESS_BACKEND"])
	require.Equal(t, "pillow", rt.started[1].Env["PREPROCESS_BACKEND"])
	// The target's base env survives the overlay.
	require.Equal(t, "true", rt.started[0].Env["DISABLE_VERSION_CHECK"])
}

func TestRunTarget_SuiteTimeoutFailsTestingAndCleansUp(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{block: true}
	opts := testOptions(ready)
	opts.SuiteTimeout = 30 * time.Millisecond
	o := New(fb, rt, fs, nil, opts)

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	run := runs[0]
	require.ErrorIs(t, run.Err, domain.ErrTestFailure, "a hung suite maps to a test failure")
	require.Equal(t, domain.StateFailed, run.State)
	require.True(t, run.Cleaned, "cleanup runs after the suite deadline expires")
	require.Len(t, rt.stopped, 1)
}

func TestRunTarget_ArchivesBuildSuiteAndContainerLogs(t *testing.T) {
	fb := &fakeBuilder{output: "Step 1/5 : FROM python:3.10\n"}
	rt := &fakeRuntime{logs: "inference server listening on 9001\n"}
	fs := &fakeSuite{output: "12 passed, 3 skipped\n"}
	ar := newFakeArchive()
	o := New(fb, rt, fs, ar, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-9")
	require.True(t, runs[0].Passed())

	require.Contains(t, ar.objects["runs/run-9/cpu-build.log"], "Step 1/5")

	variantLog := ar.objects["runs/run-9/cpu-default.log"]
	require.Contains(t, variantLog, "12 passed", "suite output archived")
	require.Contains(t, variantLog, "inference server listening", "container logs archived")
	require.Less(t, strings.Index(variantLog, "12 passed"), strings.Index(variantLog, "inference server"),
		"container logs follow the suite output")
}

func TestRunTarget_PrewrappedBuildErrorNotDoubleWrapped(t *testing.T) {
	fb := &fakeBuilder{err: fmt.Errorf("%w: step 7/12 exited 1", domain.ErrBuild)}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	runs := o.RunTarget(context.Background(), cpuTarget(), "run-1")
	run := runs[0]
	require.ErrorIs(t, run.Err, domain.ErrBuild)
	require.Equal(t, 1, strings.Count(run.Err.Error(), "build failed"))
}

func TestRunTarget_BaselinePullWarmsCache(t *testing.T) {
	fb := &fakeBuilder{}
	rt := &fakeRuntime{}
	fs := &fakeSuite{}
	o := New(fb, rt, fs, nil, testOptions(ready))

	target := cpuTarget()
	target.BaselineImage = "example/server-cpu:latest"
	o.RunTarget(context.Background(), target, "run-1")
	require.Equal(t, []string{"example/server-cpu:latest"}, rt.pulled)
}
