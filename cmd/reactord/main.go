//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Command reactord serves a byte transform over TCP with a reactor Group.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"trpc.group/trpc-go/reactor"
	"trpc.group/trpc-go/reactor/log"
	"trpc.group/trpc-go/reactor/metrics"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		log.Errorf("reactord: %v", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	f := defaultConfig()
	var configFile string
	var verbose bool

	command := &cobra.Command{
		Use:          "reactord",
		Short:        "event loop TCP transform server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configFile, f)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Use a toml configuration file.")
	flags.StringVarP(&f.Address, "address", "a", f.Address, "Set the listen address.")
	flags.IntVarP(&f.Loops, "loops", "l", f.Loops, "Set the number of event loops.")
	flags.IntVarP(&f.Workers, "workers", "w", f.Workers, "Set the number of workers, 0 means one per CPU.")
	flags.IntVarP(&f.QueueSize, "queue", "q", f.QueueSize, "Set the worker queue size.")
	flags.StringVar(&f.Policy, "policy", f.Policy, "Set the overload policy: failfast or block.")
	flags.StringVar(&f.Mode, "mode", f.Mode, "Set where the transform runs: offload or inline.")
	flags.BoolVar(&f.ReusePort, "reuseport", f.ReusePort, "Give every loop its own SO_REUSEPORT listener.")
	flags.StringVar(&f.LoadBalance, "loadbalance", f.LoadBalance, "Set how connections are spread over loops.")
	flags.StringVarP(&f.Transform, "transform", "t", f.Transform, "Set the transform: echo, upper or reverse.")
	flags.StringVar(&f.IdleTimeout, "idle-timeout", f.IdleTimeout, "Close connections idle for this long.")
	flags.StringVar(&f.MetricsInterval, "metrics-interval", f.MetricsInterval, "Print metrics at this interval.")
	flags.StringVar(&f.Log.File, "log-file", f.Log.File, "Write logs to a rotating file.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	return command
}

// resolveConfig loads the config file, if any, and applies the flags set
// on the command line over it.
func resolveConfig(cmd *cobra.Command, path string, f *Config) (*Config, error) {
	if path == "" {
		return f, nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	override := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	override("address", func() { cfg.Address = f.Address })
	override("loops", func() { cfg.Loops = f.Loops })
	override("workers", func() { cfg.Workers = f.Workers })
	override("queue", func() { cfg.QueueSize = f.QueueSize })
	override("policy", func() { cfg.Policy = f.Policy })
	override("mode", func() { cfg.Mode = f.Mode })
	override("reuseport", func() { cfg.ReusePort = f.ReusePort })
	override("loadbalance", func() { cfg.LoadBalance = f.LoadBalance })
	override("transform", func() { cfg.Transform = f.Transform })
	override("idle-timeout", func() { cfg.IdleTimeout = f.IdleTimeout })
	override("metrics-interval", func() { cfg.MetricsInterval = f.MetricsInterval })
	override("log-file", func() { cfg.Log.File = f.Log.File })
	return cfg, nil
}

func setupLog(cfg *Config) error {
	if cfg.Log.File != "" {
		log.Default = log.NewFileLogger(log.FileConfig{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxAge:     cfg.Log.MaxAge,
			MaxBackups: cfg.Log.MaxBackups,
			Stdout:     cfg.Log.Stdout,
		})
	}
	return log.SetLevel(cfg.Log.Level)
}

func run(ctx context.Context, cfg *Config) error {
	if err := setupLog(cfg); err != nil {
		return err
	}
	p, err := processor(cfg.Transform)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	interval, err := cfg.metricsInterval()
	if err != nil {
		return err
	}
	g, err := reactor.ListenGroup("tcp", cfg.Address, p, opts...)
	if err != nil {
		return err
	}
	log.Infof("reactord listening on %s, %d loops, %s mode, transform %s",
		g.Addr(), len(g.Loops()), cfg.Mode, cfg.Transform)
	log.Debugf("configuration:\n%s", cfg)
	if interval > 0 {
		go reportMetrics(ctx, interval)
	}
	err = g.Serve(ctx)
	metrics.ShowMetrics()
	return err
}

func reportMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ShowMetrics()
		}
	}
}
