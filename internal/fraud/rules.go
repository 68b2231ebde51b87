package fraud

import "github.com/shopspring/decimal"

// Flags emitted by the rule engine.
const (
	FlagHighVelocity      = "high_velocity"
	FlagAmountAnomaly     = "amount_anomaly"
	FlagCapacityExceeded  = "capacity_exceeded"
	FlagNewBeneficiary    = "new_beneficiary"
	FlagBeneficiaryKnown  = "beneficiary_flagged"
	FlagServerUnavailable = "server_unavailable"
)

const (
	velocityThreshold         = 5
	newBeneficiaryMaxAgeHours = 24.0
)

var (
	anomalyMultiplier       = decimal.NewFromInt(5)
	capacityRatio           = decimal.NewFromFloat(0.6)
	newBeneficiaryMinAmount = decimal.NewFromInt(1000)
)

// ApplyRules scores the deterministic signals against fixed thresholds.
// Each rule fires independently; the returned base score is the unclamped
// additive sum. Clamping belongs to the blender.
func ApplyRules(sig Signals) (float64, []string) {
	score := 0.0
	flags := make([]string, 0, 4)

	if sig.VelocityLastHour >= velocityThreshold {
		flags = append(flags, FlagHighVelocity)
		score += 0.3
	}

	if sig.AverageAmount.IsPositive() && sig.Amount.GreaterThan(sig.AverageAmount.Mul(anomalyMultiplier)) {
		flags = append(flags, FlagAmountAnomaly)
		score += 0.3
	}

	if sig.MonthlyIncome.IsPositive() && sig.Amount.GreaterThan(sig.MonthlyIncome.Mul(capacityRatio)) {
		flags = append(flags, FlagCapacityExceeded)
		score += 0.4
	}

	if sig.NewBeneficiaryAgeHours != nil &&
		*sig.NewBeneficiaryAgeHours < newBeneficiaryMaxAgeHours &&
		sig.Amount.GreaterThan(newBeneficiaryMinAmount) {
		flags = append(flags, FlagNewBeneficiary)
		score += 0.4
	}

	if sig.PriorBeneficiaryFlagged {
		flags = append(flags, FlagBeneficiaryKnown)
		score += 0.5
	}

	return score, flags
}
