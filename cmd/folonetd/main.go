// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command folonetd runs folonet's datapath, Flow State Engine, and
// Cold-Start Controller as one process. Grounded on the teacher's
// cmd/flywall-sim: a flag-parsed entrypoint that loads a config file, builds
// the long-lived components, and runs until asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loheagn/folonet/internal/config"
	"github.com/loheagn/folonet/internal/engine"
	"github.com/loheagn/folonet/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	iface := flag.String("iface", "lima0", "network interface to attach the capture loop to")
	configPath := flag.String("config", "", "path to the YAML config file (required)")
	provisionerURL := flag.String("provisioner", "", "base URL of an external server manager; if empty, folonetd runs an embedded reference one")
	metricsAddr := flag.String("metrics-addr", ":9090", "address the /metrics endpoint listens on")
	flag.Parse()

	log := logging.Default().With("component", "folonetd")

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "folonetd: -config is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, engine.Options{
		Iface:          *iface,
		ProvisionerURL: *provisionerURL,
	})
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	metricsServer := startMetricsServer(*metricsAddr, eng, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	log.Info("folonetd started", "iface", *iface, "config", *configPath, "metrics_addr", *metricsAddr)

	<-ctx.Done()
	log.Info("shutting down")

	if err := eng.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

// startMetricsServer registers eng's collector on its own registry (rather
// than the global one, so running multiple engines in one test binary never
// collides) and serves it at /metrics.
func startMetricsServer(addr string, eng *engine.Engine, log *logging.Logger) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(eng.Metrics())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
