// Package persistence is the optional Postgres-backed load/store of the
// per-tenant state: wallets, NFT ownership, wanted NFTs/collections and
// active loops (active loops are written but LoadTenant does not read
// them back). Connecting retries failures with exponential backoff; the
// load queries themselves are not retried.
package persistence

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outblock/swaps-core/internal/graphindex"
	"github.com/outblock/swaps-core/internal/types"
)

// Store is a Postgres-backed persistence adapter for every tenant's
// GraphIndex state, keyed by tenant id. It never holds the authoritative copy; GraphIndex
// does. Store is a write-behind/startup-load mirror.
type Store struct {
	db *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema exists, retrying
// transient connection failures with exponential backoff.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("SWAPS_DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			cfg.MaxConns = int32(maxConn)
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = "300000"
	}

	var pool *pgxpool.Pool
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	err = backoff.Retry(func() error {
		p, dialErr := pgxpool.NewWithConfig(ctx, cfg)
		if dialErr != nil {
			return dialErr
		}
		if pingErr := p.Ping(ctx); pingErr != nil {
			p.Close()
			return pingErr
		}
		pool = p
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("persistence: connect after retries: %w", err)
	}

	s := &Store{db: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE SCHEMA IF NOT EXISTS swaps;

		CREATE TABLE IF NOT EXISTS swaps.nfts (
			tenant_id       TEXT NOT NULL,
			nft_id          TEXT NOT NULL,
			collection_id   TEXT NOT NULL DEFAULT '',
			owner_wallet_id TEXT NOT NULL,
			estimated_value NUMERIC,
			has_value       BOOLEAN NOT NULL DEFAULT FALSE,
			currency        TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, nft_id)
		);
		CREATE INDEX IF NOT EXISTS idx_nfts_owner ON swaps.nfts (tenant_id, owner_wallet_id);

		CREATE TABLE IF NOT EXISTS swaps.wants (
			tenant_id     TEXT NOT NULL,
			wallet_id     TEXT NOT NULL,
			nft_id        TEXT NOT NULL DEFAULT '',
			collection_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, wallet_id, nft_id, collection_id)
		);
		CREATE INDEX IF NOT EXISTS idx_wants_wallet ON swaps.wants (tenant_id, wallet_id);

		CREATE TABLE IF NOT EXISTS swaps.active_loops (
			tenant_id    TEXT NOT NULL,
			canonical_id TEXT NOT NULL,
			steps_json   JSONB NOT NULL,
			score        DOUBLE PRECISION NOT NULL,
			efficiency   DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, canonical_id)
		);
	`
	_, err := s.db.Exec(ctx, ddl)
	return err
}

// Tenants lists every tenant id with at least one persisted row, so the
// composition root knows which GraphIndexes to rebuild at startup.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id FROM swaps.nfts
		UNION
		SELECT tenant_id FROM swaps.wants
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("persistence: scan tenant id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate tenant ids: %w", err)
	}
	return out, nil
}

// LoadTenant reads every NFT and want row for a tenant and replays them
// into a fresh GraphIndex, rebuilding every inverse index before the
// core serves requests.
func (s *Store) LoadTenant(ctx context.Context, tenantID string) (*graphindex.GraphIndex, error) {
	idx := graphindex.New()

	nftRows, err := s.db.Query(ctx, `
		SELECT nft_id, collection_id, owner_wallet_id, estimated_value, has_value, currency
		FROM swaps.nfts WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("persistence: load nfts: %w", err)
	}
	ownerBatches := make(map[types.WalletID][]*types.NFT)
	for nftRows.Next() {
		var nftID, collectionID, owner, currency string
		var estValue decimal.NullDecimal
		var hasValue bool
		if err := nftRows.Scan(&nftID, &collectionID, &owner, &estValue, &hasValue, &currency); err != nil {
			nftRows.Close()
			return nil, fmt.Errorf("persistence: scan nft row: %w", err)
		}
		nft := &types.NFT{ID: types.NftID(nftID), CollectionID: types.CollectionID(collectionID), HasValue: hasValue, Currency: currency}
		if estValue.Valid {
			nft.EstimatedValue = estValue.Decimal
		}
		ownerBatches[types.WalletID(owner)] = append(ownerBatches[types.WalletID(owner)], nft)
	}
	nftRows.Close()
	if err := nftRows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate nft rows: %w", err)
	}

	for wallet, nfts := range ownerBatches {
		if _, err := idx.UpsertInventory(wallet, nfts, graphindex.MergeSteal); err != nil {
			return nil, fmt.Errorf("persistence: replay inventory for %s: %w", wallet, err)
		}
	}

	wantRows, err := s.db.Query(ctx, `
		SELECT wallet_id, nft_id, collection_id FROM swaps.wants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("persistence: load wants: %w", err)
	}
	defer wantRows.Close()
	for wantRows.Next() {
		var wallet, nftID, collectionID string
		if err := wantRows.Scan(&wallet, &nftID, &collectionID); err != nil {
			return nil, fmt.Errorf("persistence: scan want row: %w", err)
		}
		var nftIDs []types.NftID
		var collectionIDs []types.CollectionID
		if nftID != "" {
			nftIDs = append(nftIDs, types.NftID(nftID))
		}
		if collectionID != "" {
			collectionIDs = append(collectionIDs, types.CollectionID(collectionID))
		}
		if len(nftIDs) == 0 && len(collectionIDs) == 0 {
			continue
		}
		if _, err := idx.UpsertWants(types.WalletID(wallet), nftIDs, collectionIDs); err != nil {
			return nil, fmt.Errorf("persistence: replay wants for %s: %w", wallet, err)
		}
	}
	if err := wantRows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate want rows: %w", err)
	}

	return idx, nil
}

// SaveNft upserts one NFT's ownership row.
func (s *Store) SaveNft(ctx context.Context, tenantID string, owner types.WalletID, nft *types.NFT) error {
	value := decimal.NullDecimal{Decimal: nft.EstimatedValue, Valid: nft.HasValue}
	_, err := s.db.Exec(ctx, `
		INSERT INTO swaps.nfts (tenant_id, nft_id, collection_id, owner_wallet_id, estimated_value, has_value, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, nft_id) DO UPDATE SET
			collection_id = EXCLUDED.collection_id,
			owner_wallet_id = EXCLUDED.owner_wallet_id,
			estimated_value = EXCLUDED.estimated_value,
			has_value = EXCLUDED.has_value,
			currency = EXCLUDED.currency`,
		tenantID, string(nft.ID), string(nft.CollectionID), string(owner), value, nft.HasValue, nft.Currency)
	return err
}

// SaveWant upserts one want row; exactly one of nftID/collectionID should
// be non-empty, matching the types.Want sum type.
func (s *Store) SaveWant(ctx context.Context, tenantID string, wallet types.WalletID, nftID types.NftID, collectionID types.CollectionID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO swaps.wants (tenant_id, wallet_id, nft_id, collection_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		tenantID, string(wallet), string(nftID), string(collectionID))
	return err
}

// DeleteWallet removes a wallet's rows after it's removed from
// GraphIndex.
func (s *Store) DeleteWallet(ctx context.Context, tenantID string, wallet types.WalletID) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM swaps.nfts WHERE tenant_id = $1 AND owner_wallet_id = $2`, tenantID, string(wallet))
	batch.Queue(`DELETE FROM swaps.wants WHERE tenant_id = $1 AND wallet_id = $2`, tenantID, string(wallet))
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveActiveLoop upserts a discovered loop's persisted summary row.
func (s *Store) SaveActiveLoop(ctx context.Context, tenantID string, loop *types.TradeLoop, stepsJSON []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO swaps.active_loops (tenant_id, canonical_id, steps_json, score, efficiency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, canonical_id) DO UPDATE SET
			steps_json = EXCLUDED.steps_json,
			score = EXCLUDED.score,
			efficiency = EXCLUDED.efficiency`,
		tenantID, loop.CanonicalID, stepsJSON, loop.Score, loop.Efficiency)
	return err
}

// DeleteActiveLoop removes a loop's persisted row once invalidated.
func (s *Store) DeleteActiveLoop(ctx context.Context, tenantID, canonicalID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM swaps.active_loops WHERE tenant_id = $1 AND canonical_id = $2`, tenantID, canonicalID)
	return err
}
