package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/moment-museum/giftscan/pkg/db"
	"github.com/moment-museum/giftscan/pkg/db/models"
	"github.com/moment-museum/giftscan/pkg/utils"
)

// Conn is the slice of driver.Conn the store uses. Narrowed so tests
// can stand in for the server.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(context.Context) error
	Close() error
}

// Store is the ClickHouse implementation of db.Store. Gift uniqueness
// rides on ReplacingMergeTree keyed by transaction_id: duplicate saves
// collapse into one row at merge time, and reads go through FINAL so
// callers never observe the duplicates.
type Store struct {
	Logger  *zap.Logger
	Conn    Conn
	genesis uint64
}

var _ db.Store = (*Store)(nil)

// Opts configures the ClickHouse store.
type Opts struct {
	// DSN overrides CLICKHOUSE_ADDR.
	DSN string
	// GenesisHeight is returned for a cursor that was never set.
	GenesisHeight uint64
	MaxOpenConns  int
	MaxIdleConns  int
}

// New connects, applies pool settings and initializes the schema.
func New(ctx context.Context, logger *zap.Logger, o Opts) (*Store, error) {
	connCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	dsn := o.DSN
	if dsn == "" {
		dsn = utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000?sslmode=disable")
	}
	if o.GenesisHeight == 0 {
		o.GenesisHeight = db.DefaultGenesisHeight
	}

	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CLICKHOUSE_ADDR: %w", err)
	}
	if o.MaxOpenConns > 0 {
		options.MaxOpenConns = o.MaxOpenConns
	} else {
		options.MaxOpenConns = utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 10)
	}
	if o.MaxIdleConns > 0 {
		options.MaxIdleConns = o.MaxIdleConns
	}
	options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(connCtx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	s := &Store{
		Logger:  logger.With(zap.String("component", "clickhouse_store")),
		Conn:    conn,
		genesis: o.GenesisHeight,
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	s.Logger.Info("ClickHouse store ready")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS gifts (
			transaction_id String,
			moment_id UInt64,
			sender String,
			points UInt64,
			occurred_at DateTime64(3, 'UTC'),
			updated_at DateTime64(3, 'UTC') DEFAULT now64(3),
			INDEX idx_occurred_at occurred_at TYPE minmax GRANULARITY 8192
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (transaction_id)`,
		`CREATE TABLE IF NOT EXISTS scanner_state (
			key String,
			value UInt64,
			updated_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (key)`,
	}
	for _, stmt := range statements {
		if err := s.Conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveGift persists one gift. A transaction already in the ledger is a
// strict no-op: inserting anyway would write a fresher row version that
// shadows the existing one under ReplacingMergeTree, undoing any
// re-scored points when a window replays.
func (s *Store) SaveGift(ctx context.Context, g *models.Gift) (bool, error) {
	exists, err := s.hasGift(ctx, g.TransactionID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	batch, err := s.Conn.PrepareBatch(ctx, `
		INSERT INTO gifts (transaction_id, moment_id, sender, points, occurred_at, updated_at)
	`)
	if err != nil {
		return false, fmt.Errorf("save gift %s: %w", g.TransactionID, err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	if err := batch.Append(g.TransactionID, g.MomentID, g.Sender, g.Points, g.OccurredAt, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("save gift %s: %w", g.TransactionID, err)
	}
	if err := batch.Send(); err != nil {
		return false, fmt.Errorf("save gift %s: %w", g.TransactionID, err)
	}
	return true, nil
}

func (s *Store) hasGift(ctx context.Context, transactionID string) (bool, error) {
	var count uint64
	err := s.Conn.QueryRow(ctx,
		`SELECT count() FROM gifts FINAL WHERE transaction_id = ?`,
		transactionID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check gift %s: %w", transactionID, err)
	}
	return count > 0, nil
}

func (s *Store) LastProcessedHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.Conn.QueryRow(ctx,
		`SELECT value FROM scanner_state FINAL WHERE key = ? LIMIT 1`,
		db.CursorKey,
	).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return s.genesis, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return height, nil
}

func (s *Store) SetLastProcessedHeight(ctx context.Context, height uint64) error {
	err := s.Conn.Exec(ctx, `
		INSERT INTO scanner_state (key, value, updated_at) VALUES (?, ?, ?)
	`, db.CursorKey, height, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ResetCursor drops all progress state and restarts from height.
func (s *Store) ResetCursor(ctx context.Context, height uint64) error {
	if err := s.Conn.Exec(ctx, `TRUNCATE TABLE scanner_state`); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return s.SetLastProcessedHeight(ctx, height)
}

func (s *Store) ZeroPointGifts(ctx context.Context) ([]models.Gift, error) {
	rows, err := s.Conn.Query(ctx, `
		SELECT transaction_id, moment_id, sender, points, occurred_at
		FROM gifts FINAL
		WHERE points = 0
		ORDER BY occurred_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list zero-point gifts: %w", err)
	}
	defer rows.Close()
	return scanGifts(rows)
}

// UpdateGiftPoints re-scores a gift by inserting a newer row version;
// ReplacingMergeTree keeps the latest updated_at per transaction_id.
func (s *Store) UpdateGiftPoints(ctx context.Context, transactionID string, points uint64) error {
	var g models.Gift
	err := s.Conn.QueryRow(ctx, `
		SELECT transaction_id, moment_id, sender, points, occurred_at
		FROM gifts FINAL
		WHERE transaction_id = ?
	`, transactionID).Scan(&g.TransactionID, &g.MomentID, &g.Sender, &g.Points, &g.OccurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update points: gift %s not found", transactionID)
	}
	if err != nil {
		return fmt.Errorf("update points for %s: %w", transactionID, err)
	}

	err = s.Conn.Exec(ctx, `
		INSERT INTO gifts (transaction_id, moment_id, sender, points, occurred_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.TransactionID, g.MomentID, g.Sender, points, g.OccurredAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update points for %s: %w", transactionID, err)
	}
	return nil
}

func (s *Store) GiftsBetween(ctx context.Context, start, end time.Time) ([]models.Gift, error) {
	rows, err := s.Conn.Query(ctx, `
		SELECT transaction_id, moment_id, sender, points, occurred_at
		FROM gifts FINAL
		WHERE occurred_at BETWEEN ? AND ?
		ORDER BY occurred_at
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list gifts in window: %w", err)
	}
	defer rows.Close()
	return scanGifts(rows)
}

func scanGifts(rows driver.Rows) ([]models.Gift, error) {
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
	return s.Conn.Ping(ctx)
}

func (s *Store) Close() error {
	return s.Conn.Close()
}
