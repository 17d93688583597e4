package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/moment-museum/giftscan/pkg/db"
	"github.com/moment-museum/giftscan/pkg/db/models"
	"github.com/moment-museum/giftscan/pkg/utils"
)

// Store is the PostgreSQL implementation of db.Store.
type Store struct {
	Logger  *zap.Logger
	Pool    *pgxpool.Pool
	genesis uint64
}

var _ db.Store = (*Store)(nil)

// Opts configures the Postgres store.
type Opts struct {
	// URL overrides POSTGRES_URL.
	URL string
	// GenesisHeight is returned for a cursor that was never set.
	GenesisHeight uint64
	MinConns      int32
	MaxConns      int32
}

// New connects, applies pool settings and initializes the schema.
func New(ctx context.Context, logger *zap.Logger, o Opts) (*Store, error) {
	connCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	dbURL := o.URL
	if dbURL == "" {
		dbURL = utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres")
	}
	if o.GenesisHeight == 0 {
		o.GenesisHeight = db.DefaultGenesisHeight
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}
	if o.MinConns > 0 {
		config.MinConns = o.MinConns
	}
	if o.MaxConns > 0 {
		config.MaxConns = o.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(connCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{
		Logger:  logger.With(zap.String("component", "postgres_store")),
		Pool:    pool,
		genesis: o.GenesisHeight,
	}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.Logger.Info("Postgres store ready")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS gifts (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			moment_id BIGINT NOT NULL,
			sender TEXT NOT NULL,
			points BIGINT NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gifts_occurred_at ON gifts (occurred_at)`,
		`CREATE TABLE IF NOT EXISTS scanner_state (
			key TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveGift inserts one gift. The unique constraint on transaction_id
// makes replays a no-op; inserted reports whether a row was written.
func (s *Store) SaveGift(ctx context.Context, g *models.Gift) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO gifts (transaction_id, moment_id, sender, points, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transaction_id) DO NOTHING
	`, g.TransactionID, g.MomentID, g.Sender, g.Points, g.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("save gift %s: %w", g.TransactionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// LastProcessedHeight returns the cursor, falling back to the genesis
// height when the scanner has never persisted one.
func (s *Store) LastProcessedHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.Pool.QueryRow(ctx,
		`SELECT value FROM scanner_state WHERE key = $1`, db.CursorKey,
	).Scan(&height)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.genesis, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return height, nil
}

func (s *Store) SetLastProcessedHeight(ctx context.Context, height uint64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO scanner_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, db.CursorKey, height)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ResetCursor drops all progress state and restarts from height.
func (s *Store) ResetCursor(ctx context.Context, height uint64) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM scanner_state`); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO scanner_state (key, value) VALUES ($1, $2)
	`, db.CursorKey, height); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ZeroPointGifts(ctx context.Context) ([]models.Gift, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT transaction_id, moment_id, sender, points, occurred_at
		FROM gifts
		WHERE points = 0
		ORDER BY occurred_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list zero-point gifts: %w", err)
	}
	defer rows.Close()
	return scanGifts(rows)
}

func (s *Store) UpdateGiftPoints(ctx context.Context, transactionID string, points uint64) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE gifts SET points = $2 WHERE transaction_id = $1`,
		transactionID, points)
	if err != nil {
		return fmt.Errorf("update points for %s: %w", transactionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update points: gift %s not found", transactionID)
	}
	return nil
}

func (s *Store) GiftsBetween(ctx context.Context, start, end time.Time) ([]models.Gift, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT transaction_id, moment_id, sender, points, occurred_at
		FROM gifts
		WHERE occurred_at BETWEEN $1 AND $2
		ORDER BY occurred_at
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list gifts in window: %w", err)
	}
	defer rows.Close()
	return scanGifts(rows)
}

func scanGifts(rows pgx.Rows) ([]models.Gift, error) {
	var out []models.Gift
	for rows.Next() {
		var g models.Gift
		if err := rows.Scan(&g.TransactionID, &g.MomentID, &g.Sender, &g.Points, &g.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan gift: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}
