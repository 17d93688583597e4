package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/moment-museum/giftscan/pkg/classify"
	"github.com/moment-museum/giftscan/pkg/db"
	"github.com/moment-museum/giftscan/pkg/db/models"
	"github.com/moment-museum/giftscan/pkg/flow"
)

// ChainClient is the subset of the node client the scan loop needs.
type ChainClient interface {
	Available(ctx context.Context, height uint64) (bool, error)
	EventsInRange(ctx context.Context, from, to uint64, name string) ([]flow.Event, error)
}

// GiftClassifier turns a candidate transaction ID into a gift record,
// a rejection, or an error.
type GiftClassifier interface {
	ClassifyTransaction(ctx context.Context, txID string) (*models.Gift, classify.Kind, error)
}

// PointsResolver scores a moment. It never fails; unscoreable moments
// resolve to zero.
type PointsResolver interface {
	ResolvePoints(ctx context.Context, momentID uint64) uint64
}

// errPendingCandidate forces a window retry: a candidate that is not
// sealed yet must be re-checked later, never silently dropped.
var errPendingCandidate = errors.New("candidate transaction not sealed yet")

// Config tunes the scan loop.
type Config struct {
	// WindowSize is the number of blocks processed per cursor advance.
	WindowSize uint64
	// DepositEvent is the range-index event the extractor queries for.
	DepositEvent string
	// Vault is the custodial account receiving gifts.
	Vault string
	// WaitInterval is the sleep before retrying a window the indexer
	// has not reached yet.
	WaitInterval time.Duration
	// ErrorBackoff is the sleep before retrying a failed window.
	ErrorBackoff time.Duration
	// Concurrency bounds classify/score workers within a window.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 100
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Scanner walks the chain in fixed windows: gate, extract, classify,
// score, persist, then advance the cursor. One window is fully
// committed before the next begins, so the cursor always means
// "everything up to here is done".
type Scanner struct {
	cfg        Config
	chain      ChainClient
	classifier GiftClassifier
	scorer     PointsResolver
	store      db.Store
	logger     *zap.Logger
	pool       pond.Pool
}

// New creates a Scanner. The worker pool bounds per-window parallelism
// for classification and scoring against the slow upstream APIs.
func New(logger *zap.Logger, chain ChainClient, classifier GiftClassifier, scorer PointsResolver, store db.Store, cfg Config) *Scanner {
	cfg.applyDefaults()
	return &Scanner{
		cfg:        cfg,
		chain:      chain,
		classifier: classifier,
		scorer:     scorer,
		store:      store,
		logger:     logger.With(zap.String("component", "scanner")),
		pool:       pond.NewPool(cfg.Concurrency),
	}
}

// Run drives the scan loop until ctx is cancelled. A failed window is
// retried without advancing the cursor, so a crash or restart resumes
// from the last committed height with no loss and no double-count.
func (s *Scanner) Run(ctx context.Context) error {
	start, err := s.store.LastProcessedHeight(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	s.logger.Info("Scan loop starting", zap.Uint64("cursor", start))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Re-read the cursor every window so an administrative reset
		// takes effect without a restart.
		height, err := s.store.LastProcessedHeight(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Cursor read failed", zap.Error(err))
			if err := sleep(ctx, s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		from := height + 1
		to := height + s.cfg.WindowSize

		ok, err := s.chain.Available(ctx, to)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Availability check failed",
				zap.Uint64("to", to), zap.Error(err))
			if err := sleep(ctx, s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}
		if !ok {
			// WAITING_FOR_BLOCKS: same window is retried once the
			// indexer catches up.
			s.logger.Debug("Waiting for blocks", zap.Uint64("to", to))
			if err := sleep(ctx, s.cfg.WaitInterval); err != nil {
				return err
			}
			continue
		}

		saved, err := s.processWindow(ctx, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Window failed, will retry",
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			if err := sleep(ctx, s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		if err := s.store.SetLastProcessedHeight(ctx, to); err != nil {
			// Gifts are saved but the cursor did not move: the window
			// replays and SaveGift dedup keeps the ledger clean.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Cursor advance failed, window will replay",
				zap.Uint64("to", to), zap.Error(err))
			if err := sleep(ctx, s.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		if saved > 0 {
			s.logger.Info("Window committed",
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("gifts", saved))
		} else {
			s.logger.Debug("Window committed",
				zap.Uint64("from", from), zap.Uint64("to", to))
		}
	}
}

// processWindow runs extract, classify, score and persist for one block
// window. The cursor is untouched here; any error aborts the window.
func (s *Scanner) processWindow(ctx context.Context, from, to uint64) (int, error) {
	events, err := s.chain.EventsInRange(ctx, from, to, s.cfg.DepositEvent)
	if err != nil {
		return 0, fmt.Errorf("extract events [%d, %d]: %w", from, to, err)
	}

	candidates := candidateTransactions(events, s.cfg.Vault)
	if len(candidates) == 0 {
		return 0, nil
	}
	s.logger.Debug("Candidates found",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("count", len(candidates)))

	// Classify and score candidates in parallel; scoring starts as
	// soon as its candidate is classified. All results are collected
	// before anything is persisted, so the window commit barrier holds.
	gifts := make([]*models.Gift, len(candidates))
	errs := make([]error, len(candidates))

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, txID := range candidates {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				errs[i] = groupCtx.Err()
				return
			}
			gift, kind, err := s.classifier.ClassifyTransaction(groupCtx, txID)
			if err != nil {
				errs[i] = err
				return
			}
			switch kind {
			case classify.KindGift:
				gift.Points = s.scorer.ResolvePoints(groupCtx, gift.MomentID)
				gifts[i] = gift
			case classify.KindPending:
				errs[i] = fmt.Errorf("%w: %s", errPendingCandidate, txID)
			}
		})
	}
	_ = group.Wait()

	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	saved := 0
	for _, gift := range gifts {
		if gift == nil {
			continue
		}
		inserted, err := s.store.SaveGift(ctx, gift)
		if err != nil {
			return saved, fmt.Errorf("save gift %s: %w", gift.TransactionID, err)
		}
		if inserted {
			saved++
			s.logger.Info("Gift recorded",
				zap.String("txID", gift.TransactionID),
				zap.String("sender", gift.Sender),
				zap.Uint64("momentID", gift.MomentID),
				zap.Uint64("points", gift.Points))
		}
	}
	return saved, nil
}

// candidateTransactions narrows range-index events to the deduplicated
// transaction IDs depositing into the vault, in first-seen order. It
// does not yet decide whether a transaction is a genuine gift.
func candidateTransactions(events []flow.Event, vault string) []string {
	seen := map[string]bool{}
	var out []string
	for _, ev := range events {
		if ev.Fields.To != vault || ev.TransactionID == "" {
			continue
		}
		if !seen[ev.TransactionID] {
			seen[ev.TransactionID] = true
			out = append(out, ev.TransactionID)
		}
	}
	return out
}

// ResetCursor discards all progress and restarts scanning from height.
// Administrative use only, e.g. to force a re-scan after a classifier
// fix. Run picks the new height up on its next window.
func (s *Scanner) ResetCursor(ctx context.Context, height uint64) error {
	s.logger.Warn("Resetting progress cursor", zap.Uint64("height", height))
	return s.store.ResetCursor(ctx, height)
}

// Close releases the worker pool.
func (s *Scanner) Close() {
	s.pool.StopAndWait()
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
