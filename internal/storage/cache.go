package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fraudgate/internal/config"
)

const flagKeyPrefix = "flag:beneficiary:"

// FlagCache is a read-through Redis cache in front of the prior-flag lookup.
// Only positive and negative lookups are cached, with a TTL; any cache
// failure falls back to the direct store read.
type FlagCache struct {
	inner  SignalStore
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewFlagCache wraps a SignalStore with a Redis flag cache.
func NewFlagCache(inner SignalStore, cfg config.RedisConfig, logger zerolog.Logger) *FlagCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := cfg.FlagTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FlagCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "flag_cache").Logger(),
	}
}

// Close releases the Redis client.
func (c *FlagCache) Close() error {
	return c.client.Close()
}

// BeneficiaryFlagged consults the cache before the fraud event log.
func (c *FlagCache) BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error) {
	key := flagKeyPrefix + beneficiaryID

	value, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return value == "1", nil
	case err != redis.Nil:
		c.logger.Warn().Err(err).Msg("flag cache read failed; falling back to store")
	}

	flagged, err := c.inner.BeneficiaryFlagged(ctx, beneficiaryID)
	if err != nil {
		return false, err
	}

	cached := "0"
	if flagged {
		cached = "1"
	}
	if setErr := c.client.Set(ctx, key, cached, c.ttl).Err(); setErr != nil {
		c.logger.Warn().Err(setErr).Msg("flag cache write failed")
	}
	return flagged, nil
}

// CountTransactionsSince delegates to the wrapped store.
func (c *FlagCache) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return c.inner.CountTransactionsSince(ctx, userID, since)
}

// AverageTransactionAmount delegates to the wrapped store.
func (c *FlagCache) AverageTransactionAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	return c.inner.AverageTransactionAmount(ctx, userID)
}

// SumReceivedSince delegates to the wrapped store.
func (c *FlagCache) SumReceivedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return c.inner.SumReceivedSince(ctx, userID, since)
}

// GetBeneficiary delegates to the wrapped store.
func (c *FlagCache) GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	return c.inner.GetBeneficiary(ctx, id)
}

var _ SignalStore = (*FlagCache)(nil)
