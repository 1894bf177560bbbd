package domain

import "time"

// Variant is a named set of environment overrides under which a target is
// exercised. A target with variants runs one TestRun per variant against
// the same built image.
type Variant struct {
	Name string
	Env  map[string]string
}

// HardwareTarget is a distinct build/runtime configuration (cpu, gpu, a
// jetson revision, lambda, serverless) requiring its own build and test
// cycle. Targets are independent; one target's failure does not block
// others.
type HardwareTarget struct {
	ID            string
	Dockerfile    string
	BaselineImage string
	Port          int
	Env           map[string]string
	SkipFlags     []string
	Variants      []Variant
}

// RunState is the lifecycle state of one TestRun.
type RunState string

const (
	StatePending RunState = "pending"
	StateBuilt   RunState = "built"
	StateStarted RunState = "started"
	StateTesting RunState = "testing"
	StateCleaned RunState = "cleaned"
	StateFailed  RunState = "failed"
)

// TestRun records one build→start→test→cleanup cycle for a hardware
// target. Once a container reaches Started, cleanup is attempted on every
// exit path; CleanupErr never masks Err.
type TestRun struct {
	ID         string
	Target     string
	Variant    string
	State      RunState
	Err        error
	Cleaned    bool
	CleanupErr error
	Duration   time.Duration
}

// Passed reports whether the run completed with a clean test verdict.
// The verdict is authoritative: a cleanup failure alone does not fail the
// run.
func (r TestRun) Passed() bool {
	return r.Err == nil
}
