// Package pipeline sequences version resolution, tag generation,
// publishing, and the hardware matrix per trigger event, and aggregates
// the per-component outcomes into a single run report.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/matrix"
	"github.com/melih/lighthouse-release/internal/core/publish"
	"github.com/melih/lighthouse-release/internal/core/tags"
	"github.com/melih/lighthouse-release/internal/core/version"
)

// Trigger is one pipeline invocation request.
type Trigger struct {
	Kind      domain.TriggerKind `json:"kind"`
	CustomTag string             `json:"custom_tag,omitempty"`
	ForcePush bool               `json:"force_push,omitempty"`
	Target    string             `json:"target,omitempty"`
}

// TargetRow is one line of the per-target breakdown table.
type TargetRow struct {
	Target     string `json:"target"`
	Variant    string `json:"variant"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
	Cleanup    string `json:"cleanup"`
	Duration   string `json:"duration"`
}

// PublishRow is one registry's reported outcome.
type PublishRow struct {
	Image    string        `json:"image"`
	Registry string        `json:"registry"`
	Refs     domain.TagSet `json:"refs"`
	Pushed   bool          `json:"pushed"`
	Error    string        `json:"error,omitempty"`
}

// Report aggregates one run. Status surfaces the first fatal error class
// and the per-target breakdown; there is no silent partial success.
type Report struct {
	RunID      string                   `json:"run_id"`
	Trigger    domain.TriggerKind       `json:"trigger"`
	Version    string                   `json:"version,omitempty"`
	Tags       map[string]domain.TagSet `json:"tags,omitempty"`
	Publishes  []PublishRow             `json:"publishes,omitempty"`
	Targets    []TargetRow              `json:"targets,omitempty"`
	Status     string                   `json:"status"`
	FatalError string                   `json:"fatal_error,omitempty"`
	Duration   string                   `json:"duration"`
}

// Config is the resolved pipeline inputs the controller operates on.
type Config struct {
	VersionFile string
	ContextDir  string
	Images      []domain.BaseImage
	Registries  []domain.Registry
	Targets     []domain.HardwareTarget
}

// Controller dispatches a trigger to the publisher and the matrix
// orchestrator.
type Controller struct {
	cfg       Config
	publisher *publish.Publisher
	matrix    *matrix.Orchestrator
	log       *logrus.Entry
}

func NewController(cfg Config, publisher *publish.Publisher, orch *matrix.Orchestrator) *Controller {
	return &Controller{
		cfg:       cfg,
		publisher: publisher,
		matrix:    orch,
		log:       logrus.WithField("component", "pipeline"),
	}
}

// Run executes one pipeline invocation. Version or tag errors are fatal
// to the whole run; build, startup, and test errors are fatal only to the
// affected target. Test execution does not gate publishing: a release
// push that completed is not retracted by a later matrix failure, the run
// is simply marked failing.
func (c *Controller) Run(ctx context.Context, trig Trigger) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:   uuid.NewString(),
		Trigger: trig.Kind,
		Status:  "passed",
		Tags:    map[string]domain.TagSet{},
	}
	defer func() { report.Duration = time.Since(started).Round(time.Millisecond).String() }()
	log := c.log.WithFields(logrus.Fields{"run": report.RunID, "trigger": trig.Kind})

	targetsOnly := trig.Kind == domain.TriggerManual && trig.Target != "" && !trig.ForcePush

	if !targetsOnly {
		ver, err := version.Resolve(trig.CustomTag, c.cfg.VersionFile)
		if err != nil {
			return c.fatal(report, err), err
		}
		report.Version = ver
		log.WithField("version", ver).Info("version resolved")

		push := publish.ShouldPush(trig.Kind, trig.ForcePush)
		for _, img := range c.cfg.Images {
			set, err := tags.Generate(img.Name, ver, trig.CustomTag, img.PartialTags)
			if err != nil {
				return c.fatal(report, err), err
			}
			report.Tags[img.Name] = set

			results, err := c.publisher.Publish(ctx, publish.Request{
				Image:      img,
				Tags:       set,
				ContextDir: c.cfg.ContextDir,
				Registries: c.cfg.Registries,
				Push:       push,
			})
			for _, res := range results {
				row := PublishRow{Image: img.Name, Registry: res.Registry, Refs: res.Refs, Pushed: res.Pushed}
				if res.Err != nil {
					row.Error = res.Err.Error()
				}
				report.Publishes = append(report.Publishes, row)
			}
			if err != nil {
				log.WithError(err).Error("publish failed")
				report.Status = "failed"
			}
		}
	}

	targets, err := c.selectTargets(trig)
	if err != nil {
		return c.fatal(report, err), err
	}

	runs := c.runMatrix(ctx, targets, report.RunID)
	for _, run := range runs {
		report.Targets = append(report.Targets, rowFor(run))
		if !run.Passed() {
			report.Status = "failed"
		}
	}

	c.logBreakdown(log, report)
	if report.Status == "failed" {
		return report, fmt.Errorf("pipeline run %s failed", report.RunID)
	}
	return report, nil
}

func (c *Controller) fatal(report *Report, err error) *Report {
	report.Status = "failed"
	report.FatalError = domain.Classify(err)
	c.log.WithError(err).Error("fatal pipeline error")
	return report
}

func (c *Controller) selectTargets(trig Trigger) ([]domain.HardwareTarget, error) {
	if trig.Kind == domain.TriggerManual && trig.Target != "" {
		for _, t := range c.cfg.Targets {
			if t.ID == trig.Target {
				return []domain.HardwareTarget{t}, nil
			}
		}
		return nil, fmt.Errorf("unknown hardware target %q", trig.Target)
	}
	return c.cfg.Targets, nil
}

// runMatrix runs every selected target on its own goroutine. Targets
// share no mutable state; within one target the lifecycle is strictly
// sequential.
func (c *Controller) runMatrix(ctx context.Context, targets []domain.HardwareTarget, runID string) []domain.TestRun {
	results := make([][]domain.TestRun, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target domain.HardwareTarget) {
			defer wg.Done()
			results[i] = c.matrix.RunTarget(ctx, target, runID)
		}(i, target)
	}
	wg.Wait()

	var runs []domain.TestRun
	for _, rs := range results {
		runs = append(runs, rs...)
	}
	return runs
}

func rowFor(run domain.TestRun) TargetRow {
	row := TargetRow{
		Target:   run.Target,
		Variant:  run.Variant,
		State:    string(run.State),
		Cleanup:  "ok",
		Duration: run.Duration.Round(time.Millisecond).String(),
	}
	if run.Err != nil {
		row.Error = run.Err.Error()
		row.ErrorClass = domain.Classify(run.Err)
	}
	if run.CleanupErr != nil {
		row.Cleanup = run.CleanupErr.Error()
	} else if !run.Cleaned && run.State != domain.StateFailed {
		row.Cleanup = "skipped"
	} else if !run.Cleaned {
		row.Cleanup = "not started"
	}
	return row
}

func (c *Controller) logBreakdown(log *logrus.Entry, report *Report) {
	for _, row := range report.Targets {
		entry := log.WithFields(logrus.Fields{
			"target":   row.Target,
			"variant":  row.Variant,
			"state":    row.State,
			"cleanup":  row.Cleanup,
			"duration": row.Duration,
		})
		if row.Error != "" {
			entry.WithField("class", row.ErrorClass).Error(row.Error)
			continue
		}
		entry.Info("target passed")
	}
	log.WithField("status", report.Status).Info("pipeline run complete")
}
