// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the stockcrew CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/config"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

var version = "dev"

const serviceName = "stockcrew"

type globalFlags struct {
	ConfigPath string
	Profile    string
	Sets       []string
	EnvFile    string
	Verbose    bool
	JSON       bool
}

// cli carries the state shared by every subcommand once the root command
// has loaded the configuration.
type cli struct {
	flags    globalFlags
	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Stock analysis crew",
		Long: `stockcrew runs a crew of three agents over a dependency graph of tasks:
a price analyst and a news analyst report on a ticker and a writer turns both
reports into a newsletter. With the hierarchical process a manager reassigns
failed tasks to another capable agent.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.shutdown == nil {
				return nil
			}
			return c.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.ConfigPath, "config", "", "config file (yaml)")
	pf.StringVar(&c.flags.Profile, "profile", "", "config profile merged over --config, e.g. dev")
	pf.StringArrayVar(&c.flags.Sets, "set", nil, "override a config key, e.g. --set llm.provider=openai")
	pf.StringVar(&c.flags.EnvFile, "env-file", ".env", "dotenv file loaded before the configuration")
	pf.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&c.flags.JSON, "json", false, "output JSON")

	root.AddCommand(
		newRunCmd(c),
		newServeCmd(c),
		newGraphCmd(c),
		newTraceCmd(c),
		newMCPServeCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := loadEnvFile(c.flags.EnvFile); err != nil {
		return err
	}
	cfg, err := config.LoadWithCLI(c.flags.configArgs())
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.Log.Level
	if c.flags.Verbose {
		level = telemetry.VerboseLevel(true)
	}
	c.logger = telemetry.ConfigureSlog(cmd.ErrOrStderr(), level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Output:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.shutdown = shutdown
	return nil
}

// configArgs turns the global flags back into the argument form
// config.LoadWithCLI understands.
func (f globalFlags) configArgs() []string {
	var args []string
	if f.ConfigPath != "" {
		args = append(args, "--config", f.ConfigPath)
	}
	if f.Profile != "" {
		args = append(args, "--profile", f.Profile)
	}
	for _, s := range f.Sets {
		args = append(args, "--set", s)
	}
	return args
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
