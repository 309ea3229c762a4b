// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer serves /metrics for the daemon's registry.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	logger   *slog.Logger
}

// newMetricsRegistry returns a registry with the Go runtime and process
// collectors plus extra.
func newMetricsRegistry(extra ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	collectorList := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, extra...)
	for _, collector := range collectorList {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics collector: %w", err)
		}
	}
	return registry, nil
}

// startMetrics listens on address and serves registry until stop.
func startMetrics(address string, registry *prometheus.Registry, logger *slog.Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &metricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go func() {
		defer close(server.done)
		if err := server.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr().String())
	return server, nil
}

// address returns the bound address, useful when listening on port 0.
func (s *metricsServer) address() string { return s.listener.Addr().String() }

func (s *metricsServer) stop(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", "error", err)
	}
	<-s.done
}
