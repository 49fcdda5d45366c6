// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bandit starts the Aleutian Bandit decision server.
//
// Aleutian Bandit serves multi-armed bandit decisions with:
//   - Beta-Bernoulli Thompson sampling
//   - Contextual LinUCB with incremental inverse maintenance
//   - A Monte Carlo stopping rule that concludes experiments
//   - Durable posteriors in an embedded BadgerDB store
//
// Usage:
//
//	go run ./cmd/bandit
//	go run ./cmd/bandit -port 9090
//	go run ./cmd/bandit -config config/bandit.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/bandit/health
//
//	# Create an experiment
//	curl -X POST http://localhost:8080/v1/bandit/experiments \
//	  -H "Content-Type: application/json" \
//	  -d '{"experiment_id": "checkout-cta", "n_arms": 3}'
//
//	# Ask for a decision
//	curl -X POST http://localhost:8080/v1/bandit/select \
//	  -H "Content-Type: application/json" \
//	  -d '{"experiment_id": "checkout-cta"}'
//
//	# Report an outcome
//	curl -X POST http://localhost:8080/v1/bandit/reward \
//	  -H "Content-Type: application/json" \
//	  -d '{"experiment_id": "checkout-cta", "arm_id": 1, "reward": 1}'
//
//	# Run the stopping rule
//	curl -X POST http://localhost:8080/v1/bandit/experiments/checkout-cta/evaluate
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianBandit/pkg/logging"
	"github.com/AleutianAI/AleutianBandit/services/bandit"
	"github.com/AleutianAI/AleutianBandit/services/bandit/config"
	"github.com/AleutianAI/AleutianBandit/services/bandit/events"
	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"github.com/AleutianAI/AleutianBandit/services/bandit/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bandit:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", *port)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "bandit",
		LogDir:  cfg.LogDir,
		Stderr:  os.Stderr,
	})
	defer logger.Close()
	log := logger.Slog()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "aleutian-bandit",
		ServiceVersion: bandit.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian-bandit"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// Posterior store
	var st *store.BadgerStore
	if cfg.InMemory {
		log.Warn("Running with in-memory posterior store; posteriors will not survive a restart")
		st, err = store.OpenBadgerInMemory()
	} else {
		bcfg := store.DefaultBadgerConfig(cfg.DataDir)
		bcfg.Logger = log
		st, err = store.OpenBadger(bcfg)
	}
	if err != nil {
		return fmt.Errorf("open posterior store: %w", err)
	}
	defer st.Close()

	// Event log sink
	var sink events.Sink = events.NewLogSink(log)
	if cfg.Influx.Enabled {
		sink = events.NewInfluxSink(events.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, log)
		log.Info("Event log sink: InfluxDB", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}
	defer sink.Close()

	svc := bandit.NewService(st, bandit.ServiceConfig{
		PBestSamples:        cfg.Select.PBestSamples,
		StoppingThreshold:   cfg.Stopping.Threshold,
		StoppingSamples:     cfg.Stopping.Samples,
		DefaultAlpha:        cfg.LinUCB.DefaultAlpha,
		DefaultLambda:       cfg.LinUCB.DefaultLambda,
		InverseRefreshEvery: cfg.LinUCB.InverseRefreshEvery,
	},
		bandit.WithSink(sink),
		bandit.WithMetrics(metrics),
		bandit.WithLogger(log),
	)

	handlers := bandit.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.GinMiddleware(metrics))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	bandit.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Background inverse maintenance for contextual experiments.
	if cfg.LinUCB.MaintenanceInterval > 0 {
		go maintenanceLoop(ctx, svc, cfg.LinUCB.MaintenanceInterval, log)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting Aleutian Bandit server", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down Aleutian Bandit server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// maintenanceLoop periodically recomputes cached inverses from their
// design matrices so Sherman-Morrison drift stays bounded even on arms
// that rarely hit the update-count cadence.
func maintenanceLoop(ctx context.Context, svc *bandit.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.RefreshInverses(ctx); err != nil {
				logger.Warn("Inverse maintenance sweep failed", "error", err)
				continue
			}
			logger.Debug("Inverse maintenance sweep complete")
		}
	}
}
