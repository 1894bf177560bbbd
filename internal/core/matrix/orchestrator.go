// Package matrix drives the per-hardware-target build→start→test→cleanup
// lifecycle. Targets are independent: one target's failure never blocks
// another's execution, and cleanup runs unconditionally once a container
// has been started.
package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/ports"
)

// ReadyFunc probes a started instance once; nil error means ready.
type ReadyFunc func(ctx context.Context, baseURL string) error

// HTTPReady is the default readiness probe: any HTTP response from the
// instance counts as up.
func HTTPReady(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Options configures an Orchestrator.
type Options struct {
	ContextDir   string
	StartupWait  time.Duration
	SuiteTimeout time.Duration
	PollInterval time.Duration
	APIKey       string
	Ready        ReadyFunc
}

// Orchestrator runs the test lifecycle for hardware targets.
type Orchestrator struct {
	builder ports.ImageBuilder
	runtime ports.ContainerRuntime
	suite   ports.SuiteRunner
	archive ports.LogArchive
	opts    Options
	log     *logrus.Entry
}

func New(builder ports.ImageBuilder, runtime ports.ContainerRuntime, suite ports.SuiteRunner, archive ports.LogArchive, opts Options) *Orchestrator {
	if opts.StartupWait == 0 {
		opts.StartupWait = 90 * time.Second
	}
	if opts.SuiteTimeout == 0 {
		opts.SuiteTimeout = 30 * time.Minute
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Ready == nil {
		opts.Ready = HTTPReady
	}
	return &Orchestrator{
		builder: builder,
		runtime: runtime,
		suite:   suite,
		archive: archive,
		opts:    opts,
		log:     logrus.WithField("component", "matrix"),
	}
}

// RunTarget executes the full cycle for one target: warm the cache from
// the baseline image, build a fresh image from the target's build file,
// then run one Started→Testing→Cleaned cycle per variant against the
// shared image. A build failure is fatal for the target only; no variant
// cycles are attempted and no retry is issued.
func (o *Orchestrator) RunTarget(ctx context.Context, target domain.HardwareTarget, runID string) []domain.TestRun {
	log := o.log.WithField("target", target.ID)
	variants := target.Variants
	if len(variants) == 0 {
		variants = []domain.Variant{{Name: "default"}}
	}

	if target.BaselineImage != "" {
		if err := o.runtime.PullImage(ctx, target.BaselineImage); err != nil {
			log.WithError(err).Warn("baseline pull failed, building cold")
		}
	}

	image := fmt.Sprintf("lighthouse-release-test:%s", target.ID)
	log.WithField("dockerfile", target.Dockerfile).Info("building target image")
	var buildOut bytes.Buffer
	err := o.builder.Build(ctx, ports.BuildRequest{
		ContextDir: o.opts.ContextDir,
		Dockerfile: target.Dockerfile,
		Tags:       []string{image},
		Output:     &buildOut,
	})
	o.archiveObject(fmt.Sprintf("runs/%s/%s-build.log", runID, target.ID), &buildOut)
	if err != nil {
		buildErr := err
		if !errors.Is(err, domain.ErrBuild) {
			buildErr = fmt.Errorf("%w: %v", domain.ErrBuild, err)
		}
		log.WithError(err).Error("target build failed")
		runs := make([]domain.TestRun, len(variants))
		for i, v := range variants {
			runs[i] = domain.TestRun{
				ID:      uuid.NewString(),
				Target:  target.ID,
				Variant: v.Name,
				State:   domain.StateFailed,
				Err:     buildErr,
			}
		}
		return runs
	}

	runs := make([]domain.TestRun, 0, len(variants))
	for _, v := range variants {
		runs = append(runs, o.runVariant(ctx, target, v, image, runID))
	}
	return runs
}

// runVariant is one Started→Testing→Cleaned cycle. Cleanup is a deferred
// release of the container scope: it executes on every exit path once the
// container started, including test assertion failures and timeouts, and
// its own failure never masks the test verdict.
func (o *Orchestrator) runVariant(ctx context.Context, target domain.HardwareTarget, variant domain.Variant, image, runID string) (run domain.TestRun) {
	run = domain.TestRun{
		ID:      uuid.NewString(),
		Target:  target.ID,
		Variant: variant.Name,
		State:   domain.StateBuilt,
	}
	log := o.log.WithFields(logrus.Fields{"target": target.ID, "variant": variant.Name})
	started := time.Now()
	defer func() { run.Duration = time.Since(started) }()

	var logBuf bytes.Buffer
	defer func() {
		o.archiveObject(fmt.Sprintf("runs/%s/%s-%s.log", runID, target.ID, variant.Name), &logBuf)
	}()

	env := mergeEnv(target.Env, variant.Env)
	containerID, err := o.runtime.StartContainer(ctx, ports.StartRequest{
		Image:         image,
		Name:          fmt.Sprintf("lhr-%s-%s", target.ID, variant.Name),
		Port:          target.Port,
		ContainerPort: target.Port,
		Env:           env,
	})
	if err != nil {
		run.State = domain.StateFailed
		run.Err = fmt.Errorf("%w: start: %v", domain.ErrStartupTimeout, err)
		return run
	}
	run.State = domain.StateStarted

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		o.collectContainerLogs(stopCtx, containerID, &logBuf)
		if err := o.runtime.StopContainer(stopCtx, containerID); err != nil {
			run.CleanupErr = fmt.Errorf("%w: %v", domain.ErrCleanup, err)
			log.WithError(err).Error("cleanup failed")
			return
		}
		run.Cleaned = true
		if run.Err == nil {
			run.State = domain.StateCleaned
		}
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", target.Port)
	if err := o.waitReady(ctx, baseURL); err != nil {
		run.State = domain.StateFailed
		run.Err = err
		return run
	}

	run.State = domain.StateTesting
	log.Info("running integration suite")
	suiteCtx, cancelSuite := context.WithTimeout(ctx, o.opts.SuiteTimeout)
	defer cancelSuite()
	err = o.suite.Run(suiteCtx, ports.SuiteRequest{
		BaseURL:   baseURL,
		SkipFlags: target.SkipFlags,
		APIKey:    o.opts.APIKey,
		Output:    &logBuf,
	})
	if err != nil {
		if errors.Is(suiteCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: suite exceeded %s", domain.ErrTestFailure, o.opts.SuiteTimeout)
		}
		run.State = domain.StateFailed
		run.Err = err
		return run
	}
	return run
}

// waitReady blocks until the instance answers or the bounded maximum wait
// elapses.
func (o *Orchestrator) waitReady(ctx context.Context, baseURL string) error {
	deadline, cancel := context.WithTimeout(ctx, o.opts.StartupWait)
	defer cancel()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := o.opts.Ready(deadline, baseURL); err == nil {
			return nil
		}
		select {
		case <-deadline.Done():
			return fmt.Errorf("%w: no response after %s", domain.ErrStartupTimeout, o.opts.StartupWait)
		case <-ticker.C:
		}
	}
}

// collectContainerLogs appends the container's own output beneath the
// suite output, so the archived object carries both sides of a failure.
func (o *Orchestrator) collectContainerLogs(ctx context.Context, containerID string, out *bytes.Buffer) {
	if o.archive == nil {
		return
	}
	logs, err := o.runtime.ContainerLogs(ctx, containerID)
	if err != nil {
		o.log.WithError(err).Debug("container logs unavailable")
		return
	}
	defer logs.Close()
	fmt.Fprintf(out, "\n----- container logs -----\n")
	if _, err := io.Copy(out, logs); err != nil {
		o.log.WithError(err).Debug("container log read interrupted")
	}
}

func (o *Orchestrator) archiveObject(key string, out *bytes.Buffer) {
	if o.archive == nil || out.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.archive.Store(ctx, key, bytes.NewReader(out.Bytes()), int64(out.Len())); err != nil {
		o.log.WithError(err).WithField("key", key).Warn("log archive failed")
	}
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
