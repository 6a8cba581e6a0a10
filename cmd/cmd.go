// Package cmd implements the cloudnet subcommands.
package cmd

import (
	"fmt"
	"os"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/config"
	"grimm.is/cloudnet/internal/i18n"
	"grimm.is/cloudnet/internal/logging"
)

// Printer is the locale-aware printer for user-facing CLI output.
var Printer = i18n.NewCLIPrinter()

// newLogger builds the process logger from the logging block.
func newLogger(cfg config.Logging) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:      level,
		Output:     os.Stderr,
		JSON:       cfg.Format == "json",
		Timestamps: cfg.Timestamps,
	}), nil
}

// resolveProvider picks the cloud to reconcile against: the detected one
// when auto_detect is set, the configured one otherwise.
func resolveProvider(cfg config.Cloud, detect func() cloud.Kind) (cloud.Kind, error) {
	if cfg.AutoDetect {
		kind := detect()
		if kind == cloud.None {
			return cloud.None, fmt.Errorf("no supported cloud provider detected")
		}
		return kind, nil
	}
	kind, err := cloud.ParseKind(cfg.Provider)
	if err != nil {
		return cloud.None, err
	}
	if kind == cloud.None {
		return cloud.None, fmt.Errorf("cloud.provider is required when auto_detect is false")
	}
	return kind, nil
}
