package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mbd888/oro/internal/logging"
	"github.com/mbd888/oro/internal/traces"
	"github.com/mbd888/oro/internal/validation"
)

// ErrInvalidAddress is returned for input that is not a scoreable address.
var ErrInvalidAddress = errors.New("reputation: invalid address")

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStaleAfter sets how long stored scores are served before rescoring.
func WithStaleAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithPublisher sets the receiver of score updates.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithServiceClock sets the time source used for staleness checks.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service serves wallet scores from the store, rescoring stale wallets.
type Service struct {
	scorer     Scorer
	store      Store
	publisher  Publisher
	staleAfter time.Duration
	now        func() time.Time

	inflight singleflight.Group
}

// NewService creates a reputation service.
func NewService(scorer Scorer, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		scorer:     scorer,
		store:      store,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StaleAfter returns the freshness window for stored scores.
func (s *Service) StaleAfter() time.Duration {
	return s.staleAfter
}

// GetScore returns the wallet's stored score while it is fresh and rescores
// it otherwise. forceRefresh skips the stored copy.
func (s *Service) GetScore(ctx context.Context, address string, forceRefresh bool) (*WalletRecord, error) {
	if !validation.IsValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	addr := validation.NormalizeAddress(address)
	ctx = logging.WithWallet(ctx, addr)

	if !forceRefresh {
		rec, err := s.store.Get(ctx, addr)
		switch {
		case err == nil && s.now().Sub(rec.LastUpdated) < s.staleAfter:
			return rec, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			logging.L(ctx).Warn("stored score unavailable, rescoring", "error", err)
		}
	}
	return s.Refresh(ctx, addr)
}

// Refresh rescores a wallet and stores the result. Concurrent refreshes of
// the same address share one scoring run. Fallback results are returned but
// not stored, so the next request retries the provider.
//
// The shared run is detached from the caller's cancellation and bounded by
// the scorer's own deadline; a caller that gives up gets ctx.Err() while the
// others still receive the real score.
func (s *Service) Refresh(ctx context.Context, address string) (*WalletRecord, error) {
	if !validation.IsValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	addr := validation.NormalizeAddress(address)

	shared := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(addr, func() (any, error) {
		return s.refresh(shared, addr)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		rec := *r.Val.(*WalletRecord)
		return &rec, nil
	}
}

func (s *Service) refresh(ctx context.Context, addr string) (rec *WalletRecord, err error) {
	ctx, span := traces.StartSpan(ctx, "reputation.Refresh", traces.WalletAddr(addr))
	defer func() { traces.End(span, err) }()

	res := s.scorer.Score(ctx, addr)
	rec = RecordFromResult(res)

	if res.Metadata.Fallback {
		now := s.now()
		rec.Fallback = true
		rec.LastUpdated = now
		rec.CreatedAt = now
		return rec, nil
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store score: %w", err)
	}
	logging.L(ctx).Info("wallet scored", "score", rec.Score, "tier", rec.Tier, "risk_level", rec.RiskLevel)

	if s.publisher != nil {
		s.publisher.PublishScore(rec)
	}
	return rec, nil
}

// Stats reports store statistics using the service's freshness window.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx, s.now().Add(-s.staleAfter))
}
