// File: cmd/metrics.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/retumi/internal/config"
)

// startMetricsServer exposes reg on cfg.Address. It returns the bound address
// and a function that stops the server.
func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, logger *zap.Logger) (string, func(context.Context) error, error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen for metrics on %s: %w", cfg.Address, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("address", ln.Addr().String()), zap.String("path", path))
	return ln.Addr().String(), srv.Shutdown, nil
}
