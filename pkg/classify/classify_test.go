package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moment-museum/giftscan/pkg/flow"
)

const (
	withdrawEvent = "A.0b2a3299cc857e29.TopShot.Withdraw"
	depositEvent  = "A.0b2a3299cc857e29.TopShot.Deposit"
	vault         = "0xf853bd09d46e7db6"
)

func testRule() Rule {
	return Rule{WithdrawEvent: withdrawEvent, DepositEvent: depositEvent, Vault: vault}
}

func withdraw(from string, id uint64) flow.Event {
	return flow.Event{Name: withdrawEvent, Fields: flow.EventFields{From: from, ID: flow.MomentID(id)}}
}

func deposit(to string, id uint64) flow.Event {
	return flow.Event{Name: depositEvent, Fields: flow.EventFields{To: to, ID: flow.MomentID(id)}}
}

func sealed(events ...flow.Event) *flow.Transaction {
	return &flow.Transaction{ID: "tx", Status: flow.StatusSealed, Events: events}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tx       *flow.Transaction
		expected Kind
	}{
		{
			name:     "clean withdraw then deposit is a gift",
			tx:       sealed(withdraw("0xsender", 42), deposit(vault, 42)),
			expected: KindGift,
		},
		{
			name: "benign fee events between the pair still a gift",
			tx: sealed(
				withdraw("0xsender", 42),
				flow.Event{Name: "A.f919ee77447b7497.FlowFees.FeesDeducted"},
				deposit(vault, 42),
			),
			expected: KindGift,
		},
		{
			name: "payment event between the pair is a purchase",
			tx: sealed(
				withdraw("0xseller", 42),
				flow.Event{Name: "A.ead892083b3e2c6c.DapperUtilityCoin.TokensWithdrawn"},
				deposit(vault, 42),
			),
			expected: KindPurchase,
		},
		{
			name: "marketplace listing event is a purchase",
			tx: sealed(
				withdraw("0xseller", 42),
				flow.Event{Name: "A.c1e4f4f4c4257510.TopShotMarketV3.MomentPurchased"},
				deposit(vault, 42),
			),
			expected: KindPurchase,
		},
		{
			name:     "unsealed transaction is pending",
			tx:       &flow.Transaction{ID: "tx", Status: "PENDING", Events: []flow.Event{withdraw("0xsender", 42), deposit(vault, 42)}},
			expected: KindPending,
		},
		{
			name:     "deposit to another account is not our shape",
			tx:       sealed(withdraw("0xsender", 42), deposit("0xother", 42)),
			expected: KindMalformed,
		},
		{
			name:     "deposit without a withdraw is malformed",
			tx:       sealed(deposit(vault, 42)),
			expected: KindMalformed,
		},
		{
			name:     "withdraw after the deposit is malformed",
			tx:       sealed(deposit(vault, 42), withdraw("0xsender", 42)),
			expected: KindMalformed,
		},
		{
			name:     "withdraw missing sender is malformed",
			tx:       sealed(withdraw("", 42), deposit(vault, 42)),
			expected: KindMalformed,
		},
		{
			name:     "withdraw missing moment id is malformed",
			tx:       sealed(withdraw("0xsender", 0), deposit(vault, 42)),
			expected: KindMalformed,
		},
		{
			name:     "empty event list is malformed",
			tx:       sealed(),
			expected: KindMalformed,
		},
		{
			name:     "nil transaction is malformed",
			tx:       nil,
			expected: KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.tx, testRule())
			assert.Equal(t, tt.expected, res.Kind)
			if tt.expected == KindGift {
				assert.Equal(t, uint64(42), res.MomentID)
				assert.NotEmpty(t, res.Sender)
			}
		})
	}
}
