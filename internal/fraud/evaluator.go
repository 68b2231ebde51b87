package fraud

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var degradedUnsafeFloor = decimal.NewFromInt(1000)

// Evaluator runs the full pipeline for one prospective transfer:
// collect signals, apply rules, consult the adjudicator, blend.
type Evaluator struct {
	collector   *Collector
	adjudicator Adjudicator
	logger      zerolog.Logger
}

// NewEvaluator constructs an evaluator. adjudicator may be nil, in which
// case decisions rest on rules alone.
func NewEvaluator(collector *Collector, adjudicator Adjudicator, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		collector:   collector,
		adjudicator: adjudicator,
		logger:      logger.With().Str("component", "fraud_evaluator").Logger(),
	}
}

// Evaluate produces the final fraud verdict for one transfer attempt.
// A total persistence outage yields the degraded-but-defined fallback
// verdict rather than an error: small amounts pass, the rest is flagged.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, amount decimal.Decimal, beneficiaryID, description string) Evaluation {
	signals, err := e.collector.Collect(ctx, userID, amount, beneficiaryID, description)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("signal store unreachable; returning fallback verdict")
		return degradedEvaluation(amount)
	}

	baseScore, ruleFlags := ApplyRules(signals)

	var ai *Assessment
	if e.adjudicator != nil {
		assessment, assessErr := e.adjudicator.Assess(ctx, signals)
		switch {
		case assessErr == nil:
			ai = assessment
			e.logger.Debug().
				Str("model", assessment.Model).
				Float64("ai_score", assessment.RiskScore).
				Bool("ai_safe", assessment.Safe).
				Msg("adjudicator responded")
		case errors.Is(assessErr, ErrAdjudicatorUnavailable):
			e.logger.Warn().Msg("adjudicator unavailable; deciding on rules alone")
		default:
			e.logger.Warn().Err(assessErr).Msg("adjudicator failed; deciding on rules alone")
		}
	}

	safe, finalScore, flags := Blend(baseScore, ruleFlags, ai)

	return Evaluation{
		Safe:      safe,
		RiskScore: round2(finalScore),
		Flags:     flags,
		AI:        ai,
		BaseScore: baseScore,
		Signals:   signals,
	}
}

// degradedEvaluation is the hard-coded policy for a total store outage:
// amounts under 1000 pass at 0.2, everything else is flagged at 0.8.
func degradedEvaluation(amount decimal.Decimal) Evaluation {
	safe := amount.LessThan(degradedUnsafeFloor)
	score := 0.8
	if safe {
		score = 0.2
	}
	return Evaluation{
		Safe:      safe,
		RiskScore: score,
		Flags:     []string{FlagServerUnavailable},
		Degraded:  true,
		Signals:   Signals{Amount: amount},
	}
}
