package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/scoring"
)

// PostgresStore implements Store backed by the wallets table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, address string) (*WalletRecord, error) {
	const q = `
		SELECT address, score, tier, transaction_count, token_count, balance_eth,
			   risk_flags, risk_level, last_updated, created_at
		FROM wallets
		WHERE address = $1`

	rec := &WalletRecord{}
	var tier, level string
	var flags []byte
	err := p.db.QueryRowContext(ctx, q, strings.ToLower(address)).Scan(
		&rec.Address, &rec.Score, &tier, &rec.TransactionCount, &rec.TokenCount,
		&rec.BalanceEth, &flags, &level, &rec.LastUpdated, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	rec.Tier = scoring.Tier(tier)
	rec.RiskLevel = risk.Level(level)
	if err := json.Unmarshal(flags, &rec.RiskFlags); err != nil {
		return nil, fmt.Errorf("decode risk flags for %s: %w", rec.Address, err)
	}
	if rec.RiskFlags == nil {
		rec.RiskFlags = []risk.Flag{}
	}
	return rec, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, rec *WalletRecord) error {
	const q = `
		INSERT INTO wallets
			(address, score, tier, transaction_count, token_count, balance_eth,
			 risk_flags, risk_level, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8, ''), 'LOW'), CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO UPDATE SET
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			transaction_count = EXCLUDED.transaction_count,
			token_count = EXCLUDED.token_count,
			balance_eth = EXCLUDED.balance_eth,
			risk_flags = EXCLUDED.risk_flags,
			risk_level = EXCLUDED.risk_level,
			last_updated = CURRENT_TIMESTAMP
		RETURNING risk_level, last_updated, created_at`

	flags := rec.RiskFlags
	if flags == nil {
		flags = []risk.Flag{}
	}
	encoded, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode risk flags: %w", err)
	}

	rec.Address = strings.ToLower(rec.Address)
	var level string
	err = p.db.QueryRowContext(ctx, q,
		rec.Address,
		rec.Score,
		string(rec.Tier),
		rec.TransactionCount,
		rec.TokenCount,
		rec.BalanceEth.Round(balancePlaces),
		encoded,
		string(rec.RiskLevel),
	).Scan(&level, &rec.LastUpdated, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", rec.Address, err)
	}
	rec.RiskLevel = risk.Level(level)
	rec.RiskFlags = flags
	return nil
}

func (p *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	const q = `
		SELECT address FROM wallets
		WHERE last_updated < $1
		ORDER BY last_updated ASC, address ASC
		LIMIT $2`

	if limit <= 0 {
		limit = DefaultRefreshBatch
	}
	rows, err := p.db.QueryContext(ctx, q, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAddresses(rows)
}

func (p *PostgresStore) ListAll(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT address FROM wallets ORDER BY last_updated ASC, address ASC`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAddresses(rows)
}

func (p *PostgresStore) Stats(ctx context.Context, freshSince time.Time) (*Stats, error) {
	const q = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE last_updated > $1),
			COALESCE(AVG(score), 0)
		FROM wallets`

	s := &Stats{}
	if err := p.db.QueryRowContext(ctx, q, freshSince).Scan(&s.TotalWallets, &s.RecentlyUpdated, &s.AverageScore); err != nil {
		return nil, fmt.Errorf("wallet stats: %w", err)
	}
	return s, nil
}

func scanAddresses(rows *sql.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
