package reputation

import (
	"context"
	"time"
)

// Store persists wallet records keyed by lowercase address.
type Store interface {
	// Get returns the record for address, or ErrNotFound.
	Get(ctx context.Context, address string) (*WalletRecord, error)

	// Upsert inserts or replaces the record for rec.Address. LastUpdated is
	// bumped, CreatedAt is kept from the first insert, and both are written
	// back into rec.
	Upsert(ctx context.Context, rec *WalletRecord) error

	// ListStale returns up to limit addresses last updated before olderThan,
	// oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	// ListAll returns every tracked address, oldest update first.
	ListAll(ctx context.Context) ([]string, error)

	// Stats counts wallets, those updated after freshSince, and the mean score.
	Stats(ctx context.Context, freshSince time.Time) (*Stats, error)
}
