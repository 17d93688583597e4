package classify

import (
	"strings"

	"github.com/moment-museum/giftscan/pkg/flow"
)

// Kind is the classification verdict for a candidate transaction.
type Kind int

const (
	// KindGift is a genuine peer-to-peer transfer into the vault.
	KindGift Kind = iota
	// KindPurchase is a marketplace trade: the transfer is real but
	// payment or escrow events ride along in the same transaction.
	KindPurchase
	// KindPending is a transaction that is not sealed yet; it must be
	// re-checked on a later pass and never recorded.
	KindPending
	// KindMalformed is an event sequence that matches no known shape.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindGift:
		return "gift"
	case KindPurchase:
		return "purchase"
	case KindPending:
		return "pending"
	default:
		return "malformed"
	}
}

// Rule names the events that make up the genuine-gift shape.
type Rule struct {
	// WithdrawEvent and DepositEvent are the fully-qualified names of
	// the collectible transfer pair.
	WithdrawEvent string
	DepositEvent  string
	// Vault is the custodial account deposits must land in.
	Vault string
}

// paymentMarkers flag marketplace and payment events. Any of these
// between the withdraw and the vault deposit means the transfer was
// bought, not gifted.
var paymentMarkers = []string{
	".Market",
	".Marketplace",
	"ListingCompleted",
	"MomentListed",
	"MomentPurchased",
	"FlowToken",
	"DapperUtilityCoin",
	"FiatToken",
}

func isPaymentEvent(name string) bool {
	for _, marker := range paymentMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// Result carries the verdict plus the gift fields extracted from the
// withdraw event when the verdict is KindGift.
type Result struct {
	Kind     Kind
	MomentID uint64
	Sender   string
}

// Classify decides whether a transaction is a genuine gift by matching
// its ordered event sequence against the rule: a sealed transaction
// whose first collectible withdraw is later followed by a collectible
// deposit into the vault, with no marketplace or payment event between
// the two. The match is by event name, not array position, so benign
// fee events between the pair do not change the verdict.
func Classify(tx *flow.Transaction, rule Rule) Result {
	if tx == nil || len(tx.Events) == 0 {
		return Result{Kind: KindMalformed}
	}
	if !tx.Sealed() {
		return Result{Kind: KindPending}
	}

	withdraw := -1
	for i, ev := range tx.Events {
		if ev.Name == rule.WithdrawEvent {
			withdraw = i
			break
		}
	}
	if withdraw < 0 {
		return Result{Kind: KindMalformed}
	}

	src := tx.Events[withdraw].Fields
	if src.From == "" || src.ID == 0 {
		return Result{Kind: KindMalformed}
	}

	deposit := -1
	for i := withdraw + 1; i < len(tx.Events); i++ {
		ev := tx.Events[i]
		if ev.Name == rule.DepositEvent && ev.Fields.To == rule.Vault {
			deposit = i
			break
		}
	}
	if deposit < 0 {
		return Result{Kind: KindMalformed}
	}

	for i := withdraw + 1; i < deposit; i++ {
		if isPaymentEvent(tx.Events[i].Name) {
			return Result{Kind: KindPurchase}
		}
	}

	return Result{
		Kind:     KindGift,
		MomentID: uint64(src.ID),
		Sender:   src.From,
	}
}
