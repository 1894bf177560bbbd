// Package tags derives the full ordered tag set for a release. Generation
// is a pure function of its inputs: same inputs always yield the same
// ordered list, a reproducibility requirement for downstream auditing.
package tags

import (
	"fmt"
	"strings"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/version"
)

// Generate expands a base image name and resolved version into the tag
// set to build and push.
//
// With a non-empty customTag the result is the single tag
// `{baseImage}:{customTag}` and the version value is ignored entirely,
// even if malformed. Otherwise the canonical set is emitted in fixed
// order: latest first, full version second, then the major.minor rollup
// when partialTags is set.
func Generate(baseImage, ver, customTag string, partialTags bool) (domain.TagSet, error) {
	if strings.TrimSpace(baseImage) == "" {
		return nil, fmt.Errorf("%w: empty name", domain.ErrInvalidBaseImage)
	}
	if customTag != "" {
		return domain.TagSet{baseImage + ":" + customTag}, nil
	}
	if !version.Valid(ver) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidVersion, ver)
	}

	out := domain.TagSet{
		baseImage + ":latest",
		baseImage + ":" + ver,
	}
	if partialTags {
		out = append(out, baseImage+":"+version.MajorMinor(ver))
	}
	return out, nil
}

// PrefixRewrite returns a rewrite rule that qualifies bare tags for a
// mirror registry by prepending its host/path convention.
func PrefixRewrite(prefix string) domain.RewriteFunc {
	if prefix == "" {
		return nil
	}
	return func(tag string) string {
		return prefix + tag
	}
}
