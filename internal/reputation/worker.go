package reputation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/oro/internal/metrics"
)

// Refresh outcomes recorded in metrics.
const (
	refreshOK       = "ok"
	refreshFallback = "fallback"
	refreshError    = "error"
)

// Worker periodically rescores stale wallets, oldest first.
type Worker struct {
	service  *Service
	store    Store
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a refresh worker.
// interval is typically 1 hour in production.
func NewWorker(service *Service, store Store, interval time.Duration, batch int, logger *slog.Logger) *Worker {
	if batch <= 0 {
		batch = DefaultRefreshBatch
	}
	return &Worker{
		service:  service,
		store:    store,
		interval: interval,
		batch:    batch,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the refresh loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.refreshStale(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.refreshStale(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) refreshStale(ctx context.Context) {
	cutoff := w.service.now().Add(-w.service.staleAfter)
	addrs, err := w.store.ListStale(ctx, cutoff, w.batch)
	if err != nil {
		w.logger.Warn("wallet refresh failed to list stale wallets", "error", err)
		return
	}

	var ok, fallback, failed int
	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		rec, err := w.service.Refresh(ctx, addr)
		switch {
		case err != nil:
			failed++
			metrics.WalletRefreshTotal.WithLabelValues(refreshError).Inc()
			w.logger.Warn("wallet refresh failed", "address", addr, "error", err)
		case rec.Fallback:
			fallback++
			metrics.WalletRefreshTotal.WithLabelValues(refreshFallback).Inc()
		default:
			ok++
			metrics.WalletRefreshTotal.WithLabelValues(refreshOK).Inc()
		}
	}

	if stats, err := w.store.Stats(ctx, cutoff); err == nil {
		metrics.TrackedWallets.Set(float64(stats.TotalWallets))
	}

	if len(addrs) > 0 {
		w.logger.Info("wallet refresh completed",
			"stale", len(addrs), "refreshed", ok, "fallback", fallback, "failed", failed)
	}
}
