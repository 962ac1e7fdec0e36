package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pot-ledger/pkg/api"
	"pot-ledger/pkg/logging"
	promMetrics "pot-ledger/pkg/metrics/prometheus"
	"pot-ledger/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	logger := m.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promMetrics.NewPrometheusCollector("pot_ledger")
	if err := collector.Register(registry); err != nil {
		return err
	}

	l, err := m.open(collector)
	if err != nil {
		return err
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = m.config.APIAddr
	if a := c.String("address"); a != "" {
		serverConfig.Address = a
	}
	serverConfig.RequestTimeout = m.config.Timeout
	serverConfig.Gatherer = registry
	server := api.NewServer(l, serverConfig, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if m.config.ReconcileInterval > 0 {
		go reconcileLoop(ctx, l, m.config.ReconcileInterval, logger)
	}

	errc := server.Start()
	select {
	case err, ok := <-errc:
		if ok && err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
		return err
	}
	return nil
}

// reconcileLoop repairs drift on a timer until ctx ends.
func reconcileLoop(ctx context.Context, l *store.Ledger, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := l.Reconcile(ctx)
			if err != nil {
				logger.Warn("scheduled reconcile failed", zap.Error(err))
				continue
			}
			if report.Drift {
				logger.Warn("scheduled reconcile repaired drift", zap.Int("transactions", report.Transactions))
			}
		}
	}
}
