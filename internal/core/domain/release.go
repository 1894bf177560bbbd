package domain

// TriggerKind identifies the event that started a pipeline run.
type TriggerKind string

const (
	TriggerRelease    TriggerKind = "release-created"
	TriggerPushToMain TriggerKind = "push-to-main"
	TriggerManual     TriggerKind = "manual-dispatch"
)

// TagSet is the ordered list of image references produced for one release.
// Order is significant for display and audit logs: latest first, full
// version second, derived partial-version tags last.
type TagSet []string

// RewriteFunc maps a bare tag to a registry-qualified reference.
type RewriteFunc func(tag string) string

// Rewrite applies fn to every tag, preserving order.
func (t TagSet) Rewrite(fn RewriteFunc) TagSet {
	if fn == nil {
		return t
	}
	out := make(TagSet, len(t))
	for i, tag := range t {
		out[i] = fn(tag)
	}
	return out
}

// RegistryAuth carries credentials for a push destination.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Registry is a push destination. Rewrite qualifies bare tags for this
// registry (nil means tags are already qualified, e.g. Docker Hub).
// Platforms may be narrower than the primary registry's set; a mirror
// typically carries a single architecture for faster availability.
type Registry struct {
	Name      string
	Rewrite   RewriteFunc
	Platforms []string
	Auth      RegistryAuth
}

// BaseImage is one published image line (cpu, gpu, ...) with its build
// inputs and tag conventions.
type BaseImage struct {
	Name        string
	Dockerfile  string
	PartialTags bool
	BuildArgs   map[string]string
}
