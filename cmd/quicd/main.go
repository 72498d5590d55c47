// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command quicd runs a standalone QUIC v1 server endpoint: it accepts
// connections, drives each one's TLS handshake to completion, and
// otherwise just keeps the transport alive (SPEC_FULL.md §10).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	quic "github.com/isabella232/quic-dev/internal/quic"
)

var configPath string

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "quicd.yaml", "path to the quicd configuration file")
}

var rootCmd = &cobra.Command{
	Use:   "quicd",
	Short: "`quicd` serves a QUIC v1 transport endpoint",
	Long:  "`quicd` serves a QUIC v1 transport endpoint",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"quicd-dev"},
	}

	idleTimeout, err := cfg.idleTimeout()
	if err != nil {
		return fmt.Errorf("max_idle_timeout: %w", err)
	}

	ln, err := quic.Listen("udp", cfg.Listen.Addr, &quic.Config{
		TLSConfig:      tlsConfig,
		LocalCIDLen:    cfg.LocalCIDLen,
		MaxIdleTimeout: idleTimeout,
		Log:            entry,
		Events:         quic.NewLogrusEventSink(entry),
	})
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	entry.WithField("addr", cfg.Listen.Addr).Info("listening")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, entry)
	}

	return ln.Serve(ctx)
}

func serveMetrics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithField("err", err).Error("metrics server exited")
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
