package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RescoreZeroPoint re-resolves points for every gift that scored zero
// at ingestion time, typically because the catalog was unreachable.
// The full scoring path runs again, edition overrides included, and
// only the points column is touched. Returns how many gifts changed.
func (s *Scanner) RescoreZeroPoint(ctx context.Context) (int, error) {
	gifts, err := s.store.ZeroPointGifts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load zero-point gifts: %w", err)
	}
	if len(gifts) == 0 {
		return 0, nil
	}
	s.logger.Info("Re-scoring zero-point gifts", zap.Int("count", len(gifts)))

	updated := 0
	for _, gift := range gifts {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		points := s.scorer.ResolvePoints(ctx, gift.MomentID)
		if points == 0 {
			continue
		}
		if err := s.store.UpdateGiftPoints(ctx, gift.TransactionID, points); err != nil {
			return updated, fmt.Errorf("re-score %s: %w", gift.TransactionID, err)
		}
		updated++
		s.logger.Info("Gift re-scored",
			zap.String("txID", gift.TransactionID),
			zap.Uint64("momentID", gift.MomentID),
			zap.Uint64("points", points))
	}
	return updated, nil
}
