package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/moment-museum/giftscan/pkg/db/models"
)

// Boost is one step of the early-bird multiplier schedule: gifts
// strictly before Cutoff earn Multiplier times their stored points.
type Boost struct {
	Cutoff     time.Time
	Multiplier float64
}

// Schedule is an ordered list of boosts, earliest cutoff first.
// The multiplier is applied at read time so stored points never change.
type Schedule []Boost

// MultiplierAt returns the multiplier for a gift at t: the first boost
// whose cutoff t falls strictly before, else 1.0. A gift exactly at a
// cutoff belongs to the next (later) tier.
func (s Schedule) MultiplierAt(t time.Time) float64 {
	for _, b := range s {
		if t.Before(b.Cutoff) {
			return b.Multiplier
		}
	}
	return 1.0
}

// Entry is one leaderboard row.
type Entry struct {
	Sender     string    `json:"sender"`
	Points     float64   `json:"points"`
	LastGiftAt time.Time `json:"last_gift_at"`
}

// Compute aggregates gifts into a ranked leaderboard: weighted points
// summed per sender, sorted descending, ties broken by the earliest
// last-contribution timestamp, then by sender for full determinism.
func Compute(gifts []models.Gift, schedule Schedule) []Entry {
	totals := make(map[string]*Entry)
	for _, g := range gifts {
		e, ok := totals[g.Sender]
		if !ok {
			e = &Entry{Sender: g.Sender}
			totals[g.Sender] = e
		}
		e.Points += float64(g.Points) * schedule.MultiplierAt(g.OccurredAt)
		if g.OccurredAt.After(e.LastGiftAt) {
			e.LastGiftAt = g.OccurredAt
		}
	}

	out := make([]Entry, 0, len(totals))
	for _, e := range totals {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		if !out[i].LastGiftAt.Equal(out[j].LastGiftAt) {
			return out[i].LastGiftAt.Before(out[j].LastGiftAt)
		}
		return out[i].Sender < out[j].Sender
	})
	return out
}

// GiftReader is the slice of the store the aggregator needs.
type GiftReader interface {
	GiftsBetween(ctx context.Context, start, end time.Time) ([]models.Gift, error)
}

// Aggregator computes leaderboards from the gift ledger. Read-only.
type Aggregator struct {
	store GiftReader
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(store GiftReader) *Aggregator {
	return &Aggregator{store: store}
}

// Leaderboard ranks senders by weighted points over [start, end].
func (a *Aggregator) Leaderboard(ctx context.Context, start, end time.Time, schedule Schedule) ([]Entry, error) {
	gifts, err := a.store.GiftsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return Compute(gifts, schedule), nil
}
