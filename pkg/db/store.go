package db

import (
	"context"
	"time"

	"github.com/moment-museum/giftscan/pkg/db/models"
)

// DefaultGenesisHeight is where a fresh deployment starts scanning.
const DefaultGenesisHeight = 118542742

// CursorKey is the scanner_state key holding the progress cursor.
const CursorKey = "last_processed_height"

// Store is the durable ledger behind the scan loop and the leaderboard.
// The uniqueness of a gift per transaction ID is enforced by the
// engine, not by callers, so concurrent or replayed saves stay safe.
type Store interface {
	// SaveGift persists one gift. A duplicate transaction ID is a
	// no-op and reports inserted=false.
	SaveGift(ctx context.Context, g *models.Gift) (inserted bool, err error)

	// LastProcessedHeight returns the cursor, or the genesis height
	// when the scanner has never run.
	LastProcessedHeight(ctx context.Context) (uint64, error)

	// SetLastProcessedHeight advances the cursor after a fully
	// persisted window.
	SetLastProcessedHeight(ctx context.Context, height uint64) error

	// ResetCursor discards progress and restarts scanning from the
	// given height. Administrative use only.
	ResetCursor(ctx context.Context, height uint64) error

	// ZeroPointGifts lists gifts that could not be scored at
	// ingestion time.
	ZeroPointGifts(ctx context.Context) ([]models.Gift, error)

	// UpdateGiftPoints re-scores an existing gift in place. No other
	// column changes.
	UpdateGiftPoints(ctx context.Context, transactionID string, points uint64) error

	// GiftsBetween returns all gifts whose OccurredAt falls inside
	// [start, end], for leaderboard aggregation.
	GiftsBetween(ctx context.Context, start, end time.Time) ([]models.Gift, error)

	Ping(ctx context.Context) error
	Close() error
}
