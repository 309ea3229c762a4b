// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Happy-daemon keeps this machine registered with the relay server and
// its daemon state in sync while it runs.
//
// On startup:
//  1. Loads happy.yaml (--config or $HAPPY_CONFIG, built-in defaults
//     otherwise) and the credentials written by "happy auth login".
//  2. Loads or creates the local key state, sealed with age.
//  3. Registers the machine and opens its machine-scoped socket.
//  4. Publishes the daemon state as running, both to the server and
//     to the encrypted local daemon.state file.
//  5. Serves Prometheus metrics if configured.
//
// On SIGINT or SIGTERM it publishes shutting-down and disposes every
// connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/config"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath      string
		credentialsPath string
		machineID       string
		metricsListen   string
		showVersion     bool
	)

	flagSet := pflag.NewFlagSet("happy-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to happy.yaml (default: $HAPPY_CONFIG, then built-in defaults)")
	flagSet.StringVar(&credentialsPath, "credentials", "", "credentials file (overrides paths.credentials)")
	flagSet.StringVar(&machineID, "machine-id", "", "machine ID to register (default: generated once and kept in the home directory)")
	flagSet.StringVar(&metricsListen, "metrics-listen", "", "host:port for Prometheus metrics (overrides metrics.listen)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("happy-daemon")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if credentialsPath != "" {
		cfg.Paths.Credentials = credentialsPath
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level, _ := cfg.Logging.SlogLevel()
	logger := newLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(daemonOptions{
		config:    cfg,
		machineID: machineID,
		logger:    logger,
	})
	if err != nil {
		return err
	}
	return daemon.run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv("HAPPY_CONFIG") != "":
		return config.Load()
	default:
		return config.LoadDefault(), nil
	}
}
