// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the on-disk shape of a quicd configuration file, parsed
// with yaml.v2 in the same flat-struct style as the rest of the corpus's
// YAML-configured daemons.
type fileConfig struct {
	Listen struct {
		Addr string `yaml:"addr"`
	} `yaml:"listen"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	LocalCIDLen    int    `yaml:"local_cid_len"`
	MaxIdleTimeout string `yaml:"max_idle_timeout"`
	LogLevel       string `yaml:"log_level"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = ":4433"
	}
	if cfg.LocalCIDLen == 0 {
		cfg.LocalCIDLen = 8
	}
	return &cfg, nil
}

func (c *fileConfig) idleTimeout() (time.Duration, error) {
	if c.MaxIdleTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.MaxIdleTimeout)
}
