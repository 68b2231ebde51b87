package fraud

import (
	"context"
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrAdjudicatorUnavailable signals that no AI assessment could be
	// obtained. Distinct from a zero-risk result: callers must fall back to
	// rules alone, never treat it as confirmed safe.
	ErrAdjudicatorUnavailable = errors.New("fraud: adjudicator unavailable")

	// ErrStoreUnavailable signals that the persistence layer could not be
	// reached at all and only the degraded fallback verdict is possible.
	ErrStoreUnavailable = errors.New("fraud: signal store unavailable")
)

// Signals are the deterministic measurements one evaluation runs on. The
// JSON tags double as the field names shown to the adjudicator prompt.
type Signals struct {
	Amount                  decimal.Decimal `json:"amount"`
	VelocityLastHour        int             `json:"velocityLastHour"`
	AverageAmount           decimal.Decimal `json:"averageAmount"`
	MonthlyIncome           decimal.Decimal `json:"monthlyIncome"`
	NewBeneficiaryAgeHours  *float64        `json:"newBeneficiaryAgeHours,omitempty"`
	BeneficiaryVerified     *bool           `json:"beneficiaryVerified,omitempty"`
	PriorBeneficiaryFlagged bool            `json:"priorBeneficiaryFlagged"`
	Description             string          `json:"description,omitempty"`
}

// Assessment is the adjudicator's parsed verdict. Safe is the model's own
// interpretation of its score, not derived here.
type Assessment struct {
	Safe      bool     `json:"safe"`
	RiskScore float64  `json:"riskScore"`
	Flags     []string `json:"flags"`
	Reasons   []string `json:"reasons"`
	Model     string   `json:"model,omitempty"`
	Raw       string   `json:"raw,omitempty"`
}

// Adjudicator obtains an AI risk assessment for a set of signals. A nil
// assessment with ErrAdjudicatorUnavailable means no model responded.
type Adjudicator interface {
	Assess(ctx context.Context, signals Signals) (*Assessment, error)
}

// Evaluation is the blended decision for one prospective transfer.
type Evaluation struct {
	Safe      bool
	RiskScore float64
	Flags     []string
	AI        *Assessment
	BaseScore float64
	Signals   Signals
	Degraded  bool
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
