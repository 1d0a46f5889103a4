package reputation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/oro/internal/risk"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*WalletRecord
	now     func() time.Time
}

// NewMemoryStore creates an in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*WalletRecord),
		now:     time.Now,
	}
}

// WithClock sets the time source used for LastUpdated and CreatedAt.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, address string) (*WalletRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.wallets[strings.ToLower(address)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *WalletRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := strings.ToLower(rec.Address)
	now := m.now()
	rec.Address = addr
	rec.LastUpdated = now
	if rec.RiskLevel == "" {
		rec.RiskLevel = risk.LevelLow
	}
	if rec.RiskFlags == nil {
		rec.RiskFlags = []risk.Flag{}
	}
	if existing, ok := m.wallets[addr]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}

	cp := *rec
	m.wallets[addr] = &cp
	return nil
}

func (m *MemoryStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*WalletRecord
	for _, rec := range m.wallets {
		if rec.LastUpdated.Before(olderThan) {
			stale = append(stale, rec)
		}
	}
	sortOldestFirst(stale)
	if limit <= 0 {
		limit = DefaultRefreshBatch
	}
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return addresses(stale), nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*WalletRecord, 0, len(m.wallets))
	for _, rec := range m.wallets {
		all = append(all, rec)
	}
	sortOldestFirst(all)
	return addresses(all), nil
}

func (m *MemoryStore) Stats(_ context.Context, freshSince time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Stats{TotalWallets: len(m.wallets)}
	total := 0
	for _, rec := range m.wallets {
		if rec.LastUpdated.After(freshSince) {
			s.RecentlyUpdated++
		}
		total += rec.Score
	}
	if s.TotalWallets > 0 {
		s.AverageScore = float64(total) / float64(s.TotalWallets)
	}
	return s, nil
}

// sortOldestFirst orders by LastUpdated, breaking ties by address so the
// order is stable.
func sortOldestFirst(recs []*WalletRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastUpdated.Equal(recs[j].LastUpdated) {
			return recs[i].LastUpdated.Before(recs[j].LastUpdated)
		}
		return recs[i].Address < recs[j].Address
	})
}

func addresses(recs []*WalletRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Address
	}
	return out
}
