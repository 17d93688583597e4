package models

import "time"

// Gift is one genuine peer-to-peer transfer of a collectible into the
// vault account. Rows are immutable after ingestion except for Points,
// which the zero-point maintenance pass may update in place.
type Gift struct {
	TransactionID string    `json:"transaction_id"`
	MomentID      uint64    `json:"moment_id"`
	Sender        string    `json:"sender"`
	Points        uint64    `json:"points"`
	OccurredAt    time.Time `json:"occurred_at"`
}
