package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
)

// Routing keys on the ledger exchange.
const (
	RoutingKeyBalancePrefix    = "balance."
	RoutingKeyReconcileRequest = "reconcile.request"
)

// BalanceChangedMessage announces one committed change of an account balance.
type BalanceChangedMessage struct {
	MessageID     string    `json:"message_id"`
	AccountID     int64     `json:"account_id"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Operation     string    `json:"operation"`
	DeltaCents    int64     `json:"delta_cents"`
	BalanceCents  int64     `json:"balance_cents"`
	Balance       string    `json:"balance"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBalanceChangedMessage creates a message with a fresh id
func NewBalanceChangedMessage(change core.BalanceChange) *BalanceChangedMessage {
	return &BalanceChangedMessage{
		MessageID:     uuid.NewString(),
		AccountID:     change.AccountID,
		TransactionID: change.TransactionID,
		Operation:     string(change.Operation),
		DeltaCents:    change.Delta.Cents,
		BalanceCents:  change.Balance.Cents,
		Balance:       change.Balance.String(),
		Timestamp:     time.Now(),
	}
}

// RoutingKey is balance.<operation>, so consumers can bind to balance.# or
// to a single operation.
func (m *BalanceChangedMessage) RoutingKey() string {
	return RoutingKeyBalancePrefix + m.Operation
}

// ToJSON converts the message to JSON bytes
func (m *BalanceChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BalanceChangedMessageFromJSON creates a message from JSON bytes
func BalanceChangedMessageFromJSON(data []byte) (*BalanceChangedMessage, error) {
	var msg BalanceChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReconcileRequestMessage asks the worker to reconcile one account, or every
// account when AccountID is zero.
type ReconcileRequestMessage struct {
	MessageID   string    `json:"message_id"`
	AccountID   int64     `json:"account_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileRequestMessage creates a request with a fresh id
func NewReconcileRequestMessage(accountID int64) *ReconcileRequestMessage {
	return &ReconcileRequestMessage{
		MessageID:   uuid.NewString(),
		AccountID:   accountID,
		RequestedAt: time.Now(),
	}
}

// All reports whether the request covers every account.
func (m *ReconcileRequestMessage) All() bool {
	return m.AccountID == 0
}

// ToJSON converts the message to JSON bytes
func (m *ReconcileRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileRequestMessageFromJSON creates a message from JSON bytes
func ReconcileRequestMessageFromJSON(data []byte) (*ReconcileRequestMessage, error) {
	var msg ReconcileRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AccountID < 0 {
		return nil, core.NewValidationError("account_id", "must not be negative")
	}
	return &msg, nil
}
