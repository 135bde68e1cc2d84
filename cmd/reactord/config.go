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

package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"trpc.group/trpc-go/reactor"
)

// Config is the reactord configuration, read from a toml file and
// overridden by command line flags.
type Config struct {
	Address     string `toml:"address"`
	Loops       int    `toml:"loops"`
	Workers     int    `toml:"workers"`
	QueueSize   int    `toml:"queue_size"`
	Policy      string `toml:"policy"`
	Mode        string `toml:"mode"`
	ReusePort   bool   `toml:"reuseport"`
	LoadBalance string `toml:"loadbalance"`
	Transform   string `toml:"transform"`
	IdleTimeout string `toml:"idle_timeout"`
	// MetricsInterval prints the metrics of every interval, empty disables it.
	MetricsInterval string `toml:"metrics_interval"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSize    int    `toml:"max_size"`
		MaxAge     int    `toml:"max_age"`
		MaxBackups int    `toml:"max_backups"`
		Stdout     bool   `toml:"stdout"`
	} `toml:"log"`
}

func defaultConfig() *Config {
	c := &Config{
		Address:     "127.0.0.1:8080",
		Loops:       1,
		QueueSize:   1024,
		Policy:      reactor.FailFast.String(),
		Mode:        reactor.Offload.String(),
		LoadBalance: reactor.RoundRobin,
		Transform:   "echo",
	}
	c.Log.Level = "info"
	return c
}

// LoadConfig decodes the toml file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	c := defaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}
	return c, nil
}

// String renders c as toml.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err.Error()
	}
	return buf.String()
}

// Options converts c into reactor options.
func (c *Config) Options() ([]reactor.Option, error) {
	opts := []reactor.Option{
		reactor.WithLoops(c.Loops),
		reactor.WithQueueSize(c.QueueSize),
		reactor.WithReusePort(c.ReusePort),
		reactor.WithLoadBalance(c.LoadBalance),
	}
	if c.Workers > 0 {
		opts = append(opts, reactor.WithWorkers(c.Workers))
	}
	switch c.Policy {
	case reactor.FailFast.String():
		opts = append(opts, reactor.WithOverloadPolicy(reactor.FailFast))
	case reactor.BoundedBlock.String():
		opts = append(opts, reactor.WithOverloadPolicy(reactor.BoundedBlock))
	default:
		return nil, fmt.Errorf("unknown overload policy %q", c.Policy)
	}
	switch c.Mode {
	case reactor.Offload.String():
		opts = append(opts, reactor.WithProcessMode(reactor.Offload))
	case reactor.Inline.String():
		opts = append(opts, reactor.WithProcessMode(reactor.Inline))
	default:
		return nil, fmt.Errorf("unknown process mode %q", c.Mode)
	}
	if c.IdleTimeout != "" {
		d, err := time.ParseDuration(c.IdleTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "parse idle timeout")
		}
		opts = append(opts, reactor.WithIdleTimeout(d))
	}
	return opts, nil
}

// metricsInterval returns zero when periodic metrics are disabled.
func (c *Config) metricsInterval() (time.Duration, error) {
	if c.MetricsInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MetricsInterval)
	if err != nil {
		return 0, errors.Wrap(err, "parse metrics interval")
	}
	return d, nil
}
