package domain

import "errors"

// Error taxonomy for the pipeline. The first three are fatal to the whole
// run (no tags can be computed without a version and a base image); the
// per-target errors fail only the affected hardware target.
var (
	ErrVersionUnavailable = errors.New("version unavailable")
	ErrInvalidBaseImage   = errors.New("invalid base image")
	ErrInvalidVersion     = errors.New("invalid version")
	ErrBuild              = errors.New("build failed")
	ErrStartupTimeout     = errors.New("startup timeout")
	ErrTestFailure        = errors.New("test failure")
	ErrCleanup            = errors.New("cleanup failed")
	ErrPublish            = errors.New("publish failed")
)

// Classify maps an error to its taxonomy name for reports. Unknown errors
// report as "error".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVersionUnavailable):
		return "VersionUnavailable"
	case errors.Is(err, ErrInvalidBaseImage):
		return "InvalidBaseImage"
	case errors.Is(err, ErrInvalidVersion):
		return "InvalidVersion"
	case errors.Is(err, ErrBuild):
		return "BuildError"
	case errors.Is(err, ErrStartupTimeout):
		return "StartupTimeout"
	case errors.Is(err, ErrTestFailure):
		return "TestFailure"
	case errors.Is(err, ErrCleanup):
		return "CleanupFailure"
	case errors.Is(err, ErrPublish):
		return "PublishError"
	default:
		return "error"
	}
}
