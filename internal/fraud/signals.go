package fraud

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fraudgate/internal/storage"
)

const (
	velocityWindow = time.Hour
	incomeWindow   = 30 * 24 * time.Hour
)

// Collector gathers the deterministic signals for one evaluation from
// historical records. Each lookup failing independently degrades to "no
// data" for that signal; only a total store outage is a hard failure.
type Collector struct {
	store  storage.SignalStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewCollector constructs a signal collector.
func NewCollector(store storage.SignalStore, logger zerolog.Logger) *Collector {
	return &Collector{
		store:  store,
		logger: logger.With().Str("component", "signal_collector").Logger(),
		now:    time.Now,
	}
}

// Collect gathers signals for a prospective transfer. beneficiaryID may be
// empty, in which case beneficiary-related signals stay undefined.
func (c *Collector) Collect(ctx context.Context, userID string, amount decimal.Decimal, beneficiaryID, description string) (Signals, error) {
	if c.store == nil {
		return Signals{}, ErrStoreUnavailable
	}

	sig := Signals{
		Amount:      amount,
		Description: description,
	}
	now := c.now().UTC()
	historyFailures := 0

	velocity, err := c.store.CountTransactionsSince(ctx, userID, now.Add(-velocityWindow))
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return Signals{}, ErrStoreUnavailable
		}
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("velocity lookup failed; signal degraded")
		historyFailures++
	} else {
		sig.VelocityLastHour = velocity
	}

	avg, err := c.store.AverageTransactionAmount(ctx, userID)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("average amount lookup failed; signal degraded")
		historyFailures++
	} else {
		sig.AverageAmount = avg
	}

	income, err := c.store.SumReceivedSince(ctx, userID, now.Add(-incomeWindow))
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("income lookup failed; signal degraded")
		historyFailures++
	} else {
		sig.MonthlyIncome = income
	}

	// All user-history lookups failing means the store itself is gone, not
	// a per-signal gap.
	if historyFailures == 3 {
		return Signals{}, ErrStoreUnavailable
	}

	if beneficiaryID != "" {
		c.collectBeneficiary(ctx, beneficiaryID, now, &sig)
	}

	return sig, nil
}

func (c *Collector) collectBeneficiary(ctx context.Context, beneficiaryID string, now time.Time, sig *Signals) {
	ben, err := c.store.GetBeneficiary(ctx, beneficiaryID)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Str("beneficiary_id", beneficiaryID).Msg("beneficiary lookup failed; signal degraded")
	case ben != nil:
		age := math.Max(0, now.Sub(ben.CreatedAt).Hours())
		sig.NewBeneficiaryAgeHours = &age
		if ben.IsVerified != nil {
			verified := *ben.IsVerified
			sig.BeneficiaryVerified = &verified
		}
	}

	flagged, err := c.store.BeneficiaryFlagged(ctx, beneficiaryID)
	if err != nil {
		c.logger.Warn().Err(err).Str("beneficiary_id", beneficiaryID).Msg("prior flag lookup failed; signal degraded")
		return
	}
	sig.PriorBeneficiaryFlagged = flagged
}
