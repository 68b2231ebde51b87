package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses. A record is written once, already decided; there is
// no later status transition.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusFlagged   = "flagged"
)

// Transaction types.
const (
	TypeSend       = "send"
	TypeReceive    = "receive"
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
)

// Transaction is a persisted money movement, decided at creation time.
type Transaction struct {
	ID               string
	UserID           string
	Type             string
	Amount           decimal.Decimal
	Currency         string
	BeneficiaryID    *string
	BeneficiaryName  *string
	Status           string
	PaymentMethod    string
	Description      *string
	Metadata         json.RawMessage
	RiskScore        float64
	FraudCheckPassed bool
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

// Beneficiary is a transfer counterparty, identified by UPI id or
// account number plus routing code. Immutable after creation except the
// verification flag, which an out-of-band KYC process may set.
type Beneficiary struct {
	ID            string
	UserID        string
	Name          string
	UPIID         *string
	AccountNumber *string
	IFSCCode      *string
	AddedVia      string
	IsVerified    *bool
	CreatedAt     time.Time
}

// FraudEvent is an append-only record of a detected fraud condition.
// The details blob may reference a beneficiary id, which the signal
// collector looks up via containment.
type FraudEvent struct {
	ID          string
	UserID      string
	EventType   string
	Details     json.RawMessage
	RiskScore   float64
	ActionTaken string
	CreatedAt   time.Time
}

// AuditEntry records a privileged operation outcome.
type AuditEntry struct {
	ID           string
	UserID       string
	ActionType   string
	ResourceType string
	ResourceID   string
	InitiatedBy  string
	Amount       decimal.Decimal
	Status       string
	Details      json.RawMessage
	CreatedAt    time.Time
}
