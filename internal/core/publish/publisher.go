// Package publish builds release images and pushes tag sets to the
// configured registries.
package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/ports"
)

// ShouldPush computes the push gate from the triggering event: true for a
// release creation, or for a manual dispatch that explicitly forces a
// push. Ordinary pushes to main build without publishing.
func ShouldPush(trigger domain.TriggerKind, forcePush bool) bool {
	if trigger == domain.TriggerRelease {
		return true
	}
	return trigger == domain.TriggerManual && forcePush
}

// Request is one image line's publish job across every registry.
type Request struct {
	Image      domain.BaseImage
	Tags       domain.TagSet
	ContextDir string
	Registries []domain.Registry
	Push       bool
}

// Result is one registry's independently reported outcome.
type Result struct {
	Registry string
	Refs     domain.TagSet
	Pushed   bool
	Err      error
}

// Publisher fans a tag set out to each registry: rewrite, build, and
// optionally push. The underlying builder may share its cache across
// registries; each registry's outcome is reported independently.
type Publisher struct {
	builder ports.ImageBuilder
	log     *logrus.Entry
}

func New(builder ports.ImageBuilder) *Publisher {
	return &Publisher{
		builder: builder,
		log:     logrus.WithField("component", "publish"),
	}
}

// Publish runs every registry concurrently; destinations are independent.
// The build is always performed, even with push disabled, so build
// breakage surfaces on every push to main rather than only on release.
// The returned error wraps domain.ErrPublish if any registry failed; no
// registry's failure suppresses attempts on the others.
func (p *Publisher) Publish(ctx context.Context, req Request) ([]Result, error) {
	results := make([]Result, len(req.Registries))
	var wg sync.WaitGroup
	for i, reg := range req.Registries {
		wg.Add(1)
		go func(i int, reg domain.Registry) {
			defer wg.Done()
			results[i] = p.publishOne(ctx, req, reg)
		}(i, reg)
	}
	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			return results, fmt.Errorf("%w: registry %s: %v", domain.ErrPublish, res.Registry, res.Err)
		}
	}
	return results, nil
}

func (p *Publisher) publishOne(ctx context.Context, req Request, reg domain.Registry) Result {
	refs := req.Tags.Rewrite(reg.Rewrite)
	res := Result{Registry: reg.Name, Refs: refs}
	log := p.log.WithFields(logrus.Fields{"registry": reg.Name, "image": req.Image.Name})

	log.WithField("platforms", reg.Platforms).Info("building image")
	err := p.builder.Build(ctx, ports.BuildRequest{
		ContextDir: req.ContextDir,
		Dockerfile: req.Image.Dockerfile,
		Tags:       refs,
		Platforms:  reg.Platforms,
		BuildArgs:  req.Image.BuildArgs,
	})
	if err != nil {
		res.Err = err
		return res
	}

	if !req.Push {
		log.Info("push disabled, build validated only")
		return res
	}

	for _, ref := range refs {
		log.WithField("ref", ref).Info("pushing")
		if err := p.builder.Push(ctx, ref, reg.Auth); err != nil {
			res.Err = fmt.Errorf("push %s: %w", ref, err)
			return res
		}
	}
	res.Pushed = true
	return res
}
