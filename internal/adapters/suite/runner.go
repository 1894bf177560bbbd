// Package suite executes the external integration test suite against a
// running instance.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/ports"
)

// Runner shells out to the configured suite command. The suite receives
// the instance URL, skip flags, and credential material through its
// environment; its exit code maps 1:1 to the test verdict.
type Runner struct {
	command []string
	workdir string
	log     *logrus.Entry
}

func NewRunner(command []string, workdir string) (*Runner, error) {
	if len(command) == 0 {
		return nil, errors.New("suite command is empty")
	}
	return &Runner{
		command: command,
		workdir: workdir,
		log:     logrus.WithField("component", "suite"),
	}, nil
}

func (r *Runner) Run(ctx context.Context, req ports.SuiteRequest) error {
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.workdir
	cmd.Env = append(cmd.Environ(),
		"SERVER_URL="+req.BaseURL,
		"API_KEY="+req.APIKey,
	)
	for _, flag := range req.SkipFlags {
		cmd.Env = append(cmd.Env, flag+"=true")
	}
	if req.Output != nil {
		cmd.Stdout = req.Output
		cmd.Stderr = req.Output
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	r.log.WithField("url", req.BaseURL).Info("running suite")
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: suite exited %d", domain.ErrTestFailure, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", domain.ErrTestFailure, err)
	}
	return nil
}
