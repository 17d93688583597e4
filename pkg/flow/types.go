package flow

import (
	"strconv"
	"strings"
	"time"
)

// Transaction sealing status as reported by the node.
const StatusSealed = "SEALED"

// MomentID is a collectible identifier that the node emits either as a
// JSON number or as a quoted decimal string, depending on the event
// payload version.
type MomentID uint64

func (m *MomentID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*m = MomentID(n)
	return nil
}

// EventFields is the decoded payload of a collectible transfer event.
// Withdraw events carry `from`, deposit events carry `to`.
type EventFields struct {
	ID   MomentID `json:"id"`
	From string   `json:"from"`
	To   string   `json:"to"`
}

// Event is a single emitted event, either from the range index
// (where TransactionID is set) or from a transaction detail
// (where ordering within Events is meaningful).
type Event struct {
	Name          string      `json:"name"`
	TransactionID string      `json:"transaction_hash"`
	Fields        EventFields `json:"fields"`
}

// Block is the subset of the block header the scanner needs.
type Block struct {
	Height    uint64    `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction is the full transaction detail: ordered events plus
// sealing status and the block it references.
type Transaction struct {
	ID                   string    `json:"id"`
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
	ReferenceBlockHeight uint64    `json:"reference_block_height"`
	Events               []Event   `json:"events"`
}

// Sealed reports whether the transaction result is final.
func (t *Transaction) Sealed() bool { return t.Status == StatusSealed }

type blocksResponse struct {
	Blocks []Block `json:"blocks"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}
