// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes the process's Prometheus metrics over HTTP. The
// collectors themselves live in the packages they instrument
// (internal/harvest, internal/jsonl) and register through promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Start serves /metrics on addr until ctx is cancelled and returns the
// bound address (useful with ":0"). It is meant for long harvests an
// operator wants to watch; serve failures are logged, never fatal.
func Start(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Warn().Err(serveErr).Msg("Metrics server failed")
		}
	}()

	bound := ln.Addr().String()
	log.Info().Str("addr", bound).Msg("Serving metrics")
	return bound, nil
}
