// Package cli wires the pipeline commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-release/internal/adapters/builder"
	"github.com/melih/lighthouse-release/internal/adapters/docker"
	"github.com/melih/lighthouse-release/internal/adapters/logstore"
	"github.com/melih/lighthouse-release/internal/adapters/suite"
	"github.com/melih/lighthouse-release/internal/config"
	"github.com/melih/lighthouse-release/internal/core/matrix"
	"github.com/melih/lighthouse-release/internal/core/pipeline"
	"github.com/melih/lighthouse-release/internal/core/ports"
	"github.com/melih/lighthouse-release/internal/core/publish"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "lighthouse-release",
	Short: "Release and hardware-matrix pipeline for the lighthouse images",
	Long: `Resolves a release version, derives the tag set, builds and publishes
multi-arch images to the configured registries, and runs the
build/start/test/cleanup cycle for each hardware target.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .lighthouse/release.yaml)")
	rootCmd.PersistentFlags().String("custom-tag", "",
		"tag images with this value instead of the resolved version")
	rootCmd.PersistentFlags().Bool("force-push", false,
		"push to registries even outside a release trigger")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"debug logging")

	_ = viper.BindPFlag("custom_tag", rootCmd.PersistentFlags().Lookup("custom-tag"))
	_ = viper.BindPFlag("force_push", rootCmd.PersistentFlags().Lookup("force-push"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// configPath resolves the config file location: the --config flag, then
// .lighthouse/release.yaml in the working tree, then the user config dir.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if _, err := os.Stat(".lighthouse/release.yaml"); err == nil {
		return ".lighthouse/release.yaml", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no config file found: %w", err)
	}
	candidate := filepath.Join(home, ".config", "lighthouse-release", "release.yaml")
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("no config file found (tried .lighthouse/release.yaml and %s)", candidate)
	}
	return candidate, nil
}

// newController assembles the adapters and the pipeline controller. The
// returned cleanup releases any source checkout.
func newController(ctx context.Context) (*pipeline.Controller, func(), error) {
	path, err := configPath()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	imageBuilder, err := builder.NewAdapter()
	if err != nil {
		return nil, nil, err
	}
	runtime, err := docker.NewAdapter()
	if err != nil {
		return nil, nil, err
	}
	suiteRunner, err := suite.NewRunner(cfg.Suite.Command, cfg.Suite.Workdir)
	if err != nil {
		return nil, nil, err
	}

	var archive ports.LogArchive
	if cfg.Archive != nil {
		store, err := logstore.New(logstore.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: os.Getenv(cfg.Archive.SecretKeyEnv),
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Secure:    cfg.Archive.Secure,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBucket(ctx, cfg.Archive.Region); err != nil {
			logrus.WithError(err).Warn("log archive unavailable, continuing without it")
		} else {
			archive = store
		}
	}

	cleanup := func() {}
	contextDir := cfg.ContextDir
	if cfg.Source.Repo != "" {
		dir, release, err := imageBuilder.Checkout(ctx, cfg.Source.Repo, cfg.Source.Ref)
		if err != nil {
			return nil, nil, err
		}
		contextDir = dir
		cleanup = release
	}

	orch := matrix.New(imageBuilder, runtime, suiteRunner, archive, matrix.Options{
		ContextDir:   contextDir,
		StartupWait:  time.Duration(cfg.Timeouts.Startup),
		SuiteTimeout: time.Duration(cfg.Timeouts.Suite),
		APIKey:       config.APIKey(),
	})
	controller := pipeline.NewController(pipeline.Config{
		VersionFile: cfg.VersionFile,
		ContextDir:  contextDir,
		Images:      cfg.DomainImages(),
		Registries:  cfg.DomainRegistries(),
		Targets:     cfg.DomainTargets(),
	}, publish.New(imageBuilder), orch)
	return controller, cleanup, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
