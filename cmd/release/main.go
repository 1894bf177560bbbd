package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		logrus.Errorf("pipeline failed: %v", err)
		os.Exit(1)
	}
}
