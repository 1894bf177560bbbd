// Package config loads the pipeline configuration file: image lines,
// registries, hardware targets, suite command, and timeouts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/tags"
)

// EnvPrefix is the prefix for secret environment variables.
const EnvPrefix = "LHR_"

type Image struct {
	Name        string            `yaml:"name"`
	Dockerfile  string            `yaml:"dockerfile"`
	PartialTags bool              `yaml:"partial_tags,omitempty"`
	BuildArgs   map[string]string `yaml:"build_args,omitempty"`
}

// Registry is one push destination. Prefix is the mirror rewrite rule
// (host/path prepended to each bare tag); empty for the primary registry.
// PasswordEnv names the environment variable carrying the credential, so
// secrets never live in the file.
type Registry struct {
	Name        string   `yaml:"name"`
	Prefix      string   `yaml:"prefix,omitempty"`
	Platforms   []string `yaml:"platforms"`
	Username    string   `yaml:"username,omitempty"`
	PasswordEnv string   `yaml:"password_env,omitempty"`
	Server      string   `yaml:"server,omitempty"`
}

type Variant struct {
	Name string            `yaml:"name"`
	Env  map[string]string `yaml:"env"`
}

type Target struct {
	ID         string            `yaml:"id"`
	Dockerfile string            `yaml:"dockerfile"`
	Baseline   string            `yaml:"baseline,omitempty"`
	Port       int               `yaml:"port"`
	Env        map[string]string `yaml:"env,omitempty"`
	Skip       []string          `yaml:"skip,omitempty"`
	Variants   []Variant         `yaml:"variants,omitempty"`
}

type Suite struct {
	Command []string `yaml:"command"`
	Workdir string   `yaml:"workdir,omitempty"`
}

type Archive struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region,omitempty"`
	AccessKey    string `yaml:"access_key"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Secure       bool   `yaml:"secure,omitempty"`
}

// Duration parses yaml values like "90s" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Timeouts struct {
	Startup Duration `yaml:"startup,omitempty"`
	Suite   Duration `yaml:"suite,omitempty"`
}

type Source struct {
	Repo string `yaml:"repo,omitempty"`
	Ref  string `yaml:"ref,omitempty"`
}

// Config is the parsed pipeline configuration.
type Config struct {
	VersionFile string     `yaml:"version_file"`
	ContextDir  string     `yaml:"context_dir,omitempty"`
	Source      Source     `yaml:"source,omitempty"`
	Images      []Image    `yaml:"images"`
	Registries  []Registry `yaml:"registries"`
	Targets     []Target   `yaml:"targets"`
	Suite       Suite      `yaml:"suite"`
	Archive     *Archive   `yaml:"archive,omitempty"`
	Timeouts    Timeouts   `yaml:"timeouts,omitempty"`
}

// defaultTargetEnv is merged beneath every target's env. The pipeline
// context is a CI run, not a deployed instance, so the server's
// self-version-consistency check stays off.
var defaultTargetEnv = map[string]string{
	"DISABLE_VERSION_CHECK": "true",
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ContextDir == "" {
		cfg.ContextDir = "."
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.VersionFile == "" {
		return fmt.Errorf("config: version_file is required")
	}
	if len(c.Images) == 0 {
		return fmt.Errorf("config: at least one image is required")
	}
	for _, img := range c.Images {
		if img.Name == "" || img.Dockerfile == "" {
			return fmt.Errorf("config: image entries need name and dockerfile")
		}
	}
	if len(c.Registries) == 0 {
		return fmt.Errorf("config: at least one registry is required")
	}
	seen := map[string]bool{}
	for _, t := range c.Targets {
		if t.ID == "" || t.Dockerfile == "" || t.Port == 0 {
			return fmt.Errorf("config: target entries need id, dockerfile and port")
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate target %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// DomainImages converts the image lines to domain records.
func (c *Config) DomainImages() []domain.BaseImage {
	out := make([]domain.BaseImage, 0, len(c.Images))
	for _, img := range c.Images {
		out = append(out, domain.BaseImage{
			Name:        img.Name,
			Dockerfile:  img.Dockerfile,
			PartialTags: img.PartialTags,
			BuildArgs:   img.BuildArgs,
		})
	}
	return out
}

// DomainRegistries converts registry entries, resolving credentials from
// the environment.
func (c *Config) DomainRegistries() []domain.Registry {
	out := make([]domain.Registry, 0, len(c.Registries))
	for _, r := range c.Registries {
		passwordEnv := r.PasswordEnv
		if passwordEnv == "" {
			passwordEnv = SecretEnvName(r.Name)
		}
		out = append(out, domain.Registry{
			Name:      r.Name,
			Rewrite:   tags.PrefixRewrite(r.Prefix),
			Platforms: r.Platforms,
			Auth: domain.RegistryAuth{
				Username:      r.Username,
				Password:      os.Getenv(passwordEnv),
				ServerAddress: r.Server,
			},
		})
	}
	return out
}

// DomainTargets converts target entries, layering the CI default env
// beneath each target's own overrides.
func (c *Config) DomainTargets() []domain.HardwareTarget {
	out := make([]domain.HardwareTarget, 0, len(c.Targets))
	for _, t := range c.Targets {
		env := make(map[string]string, len(defaultTargetEnv)+len(t.Env))
		for k, v := range defaultTargetEnv {
			env[k] = v
		}
		for k, v := range t.Env {
			env[k] = v
		}
		variants := make([]domain.Variant, 0, len(t.Variants))
		for _, v := range t.Variants {
			variants = append(variants, domain.Variant{Name: v.Name, Env: v.Env})
		}
		out = append(out, domain.HardwareTarget{
			ID:            t.ID,
			Dockerfile:    t.Dockerfile,
			BaselineImage: t.Baseline,
			Port:          t.Port,
			Env:           env,
			SkipFlags:     t.Skip,
			Variants:      variants,
		})
	}
	return out
}

// APIKey returns the credential for external model-backed assertions.
func APIKey() string {
	return os.Getenv(EnvPrefix + "MODEL_API_KEY")
}

// SecretEnvName normalizes a registry name into its password variable,
// e.g. "docker-hub" -> LHR_REGISTRY_PASSWORD_DOCKER_HUB.
func SecretEnvName(registryName string) string {
	norm := strings.ToUpper(strings.ReplaceAll(registryName, "-", "_"))
	return EnvPrefix + "REGISTRY_PASSWORD_" + norm
}
