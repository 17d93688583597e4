package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/moment-museum/giftscan/pkg/db/models"
	"github.com/moment-museum/giftscan/pkg/flow"
	"github.com/moment-museum/giftscan/pkg/httpx"
	"go.uber.org/zap"
)

// ChainReader is the subset of the node client the classifier needs.
type ChainReader interface {
	Transaction(ctx context.Context, id string) (*flow.Transaction, error)
	BlockAt(ctx context.Context, height uint64) (*flow.Block, error)
}

// Classifier fetches candidate transactions and applies the gift rule.
type Classifier struct {
	chain  ChainReader
	rule   Rule
	logger *zap.Logger
}

// NewClassifier creates a Classifier over the given chain reader.
func NewClassifier(logger *zap.Logger, chain ChainReader, rule Rule) *Classifier {
	return &Classifier{
		chain:  chain,
		rule:   rule,
		logger: logger.With(zap.String("component", "classifier")),
	}
}

// ClassifyTransaction fetches the transaction detail, classifies it and
// builds the gift record for genuine gifts. OccurredAt is the chain
// timestamp: taken from the transaction when the node reports one,
// otherwise looked up from the referenced block. Points are left for
// the scoring resolver.
//
// A payload the node serves but that cannot be decoded is a verdict on
// that one transaction, not a transient fault: it classifies as
// malformed so the window can move on. Transport and server errors
// still propagate and fail the window.
func (c *Classifier) ClassifyTransaction(ctx context.Context, txID string) (*models.Gift, Kind, error) {
	tx, err := c.chain.Transaction(ctx, txID)
	if err != nil {
		if errors.Is(err, httpx.ErrMalformedResponse) {
			c.logger.Warn("Transaction payload undecodable, skipping",
				zap.String("txID", txID), zap.Error(err))
			return nil, KindMalformed, nil
		}
		return nil, KindMalformed, fmt.Errorf("fetch transaction %s: %w", txID, err)
	}

	res := Classify(tx, c.rule)
	if res.Kind != KindGift {
		c.logger.Debug("Candidate rejected",
			zap.String("txID", txID),
			zap.String("kind", res.Kind.String()))
		return nil, res.Kind, nil
	}

	occurredAt := tx.Timestamp
	if occurredAt.IsZero() {
		block, err := c.chain.BlockAt(ctx, tx.ReferenceBlockHeight)
		if err != nil {
			if errors.Is(err, httpx.ErrMalformedResponse) {
				c.logger.Warn("Reference block payload undecodable, skipping",
					zap.String("txID", txID),
					zap.Uint64("height", tx.ReferenceBlockHeight), zap.Error(err))
				return nil, KindMalformed, nil
			}
			return nil, KindGift, fmt.Errorf("fetch reference block %d for %s: %w", tx.ReferenceBlockHeight, txID, err)
		}
		occurredAt = block.Timestamp
	}

	return &models.Gift{
		TransactionID: txID,
		MomentID:      res.MomentID,
		Sender:        res.Sender,
		OccurredAt:    occurredAt,
	}, KindGift, nil
}
