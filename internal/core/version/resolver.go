// Package version resolves the semantic version for a release run.
package version

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/melih/lighthouse-release/internal/core/domain"
)

// semverRe is the accepted version grammar: MAJOR.MINOR.PATCH.
var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// assignRe matches a version assignment line in the source artifact,
// e.g. `__version__ = "1.4.0"` or `VERSION = '1.4.0'`.
var assignRe = regexp.MustCompile(`^\s*\w+\s*=\s*["'](\d+\.\d+\.\d+)["']`)

// Valid reports whether v matches the version grammar.
func Valid(v string) bool {
	return semverRe.MatchString(v)
}

// MajorMinor returns the major.minor rollup of a full version, or "" if v
// does not parse.
func MajorMinor(v string) string {
	if !Valid(v) {
		return ""
	}
	parts := strings.SplitN(v, ".", 3)
	return parts[0] + "." + parts[1]
}

// Resolve determines the effective version string for a run. A non-empty
// override is used verbatim, bypassing file-based resolution entirely.
// Otherwise the version-source artifact at path is read; it may hold a
// bare version line or an assignment such as `__version__ = "1.4.0"`.
// Resolution is a pure read with no side effects.
func Resolve(override, path string) (string, error) {
	if override != "" {
		return override, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", domain.ErrVersionUnavailable, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
		if Valid(line) {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrVersionUnavailable, path, err)
	}
	return "", fmt.Errorf("%w: no version declaration in %s", domain.ErrVersionUnavailable, path)
}
