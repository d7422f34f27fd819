// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command segsplit intercepts outbound traffic to a configured target
// service and rewrites each payload-bearing TCP segment of a target flow
// (the ClientHello segment included) into two, defeating passive
// SNI-based filtering without touching the payload bytes.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/segsplit/internal/classify"
	"grimm.is/segsplit/internal/config"
	"grimm.is/segsplit/internal/intercept"
	"grimm.is/segsplit/internal/iplist"
	"grimm.is/segsplit/internal/logging"
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/splitter"
)

func main() {
	cfg, err := config.Parse("segsplit", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out := io.Writer(os.Stderr)
	if cfg.SyslogHost != "" {
		sw, swErr := logging.NewSyslogWriter(logging.SyslogConfig{
			Enabled:  true,
			Host:     cfg.SyslogHost,
			Port:     cfg.SyslogPort,
			Protocol: cfg.SyslogProtocol,
		})
		if swErr != nil {
			fmt.Fprintf(os.Stderr, "segsplit: syslog forwarding disabled: %v\n", swErr)
		} else {
			defer sw.Close()
			out = io.MultiWriter(os.Stderr, sw)
		}
	}

	logging.New(logging.Config{Verbose: cfg.Verbose, Output: out})
	log := logging.WithComponent("main")

	stats, registry := metrics.New()
	classifier := classify.New()

	if cfg.IPListURL != "" {
		refresher := iplist.NewRefresher(cfg.IPListPath, iplist.DefaultCacheTTL, iplist.HTTPSource{URL: cfg.IPListURL})
		learned := refresher.Refresh(context.Background())
		classifier.Refresh(learned)
		log.Info("ip list refreshed", "learned", len(learned))
	}

	var strategy splitter.Strategy = splitter.Fixed{K: cfg.FragmentSize, D: cfg.DelayMS}
	if cfg.Adaptive {
		strategy = splitter.Adaptive{}
	}

	kern, err := newKernel(cfg)
	if err != nil {
		log.Error("failed to construct kernel provider", "err", err)
		os.Exit(1)
	}
	loop := intercept.New(kern, classifier, strategy, stats)

	go serveMetrics(registry, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting intercept loop", "run_id", loop.RunID, "fragment_size", cfg.FragmentSize, "delay_ms", cfg.DelayMS, "adaptive", cfg.Adaptive)
	if err := loop.Run(ctx); err != nil {
		log.Error("intercept loop exited with error", "err", err)
		os.Exit(1)
	}
}

// serveMetrics exposes the Statistics registry for scraping. Its failure
// (e.g. the port already in use) is logged, not fatal: the intercept
// loop is the part of this program that must keep running.
func serveMetrics(registry *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe("127.0.0.1:9090", mux); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}
