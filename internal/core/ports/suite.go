package ports

import (
	"context"
	"io"
)

// SuiteRequest describes one integration-suite invocation against a
// running instance. SkipFlags name the test families to skip rather than
// fail (model families unavailable on the target). APIKey is the
// credential material for external model-backed assertions.
type SuiteRequest struct {
	BaseURL   string
	SkipFlags []string
	APIKey    string
	Output    io.Writer
}

// SuiteRunner executes the external integration test suite. The suite's
// exit code maps 1:1 to the outcome: a non-nil error wraps
// domain.ErrTestFailure when the suite itself failed.
type SuiteRunner interface {
	Run(ctx context.Context, req SuiteRequest) error
}

// LogArchive stores per-run log artifacts. Archive failures are reported
// but never escalate past the caller's logging.
type LogArchive interface {
	Store(ctx context.Context, key string, body io.Reader, size int64) error
}
