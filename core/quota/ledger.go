package quota

import (
	"context"
	"errors"
	"fmt"

	"mixfm/logger"
	"mixfm/model"

	"github.com/redis/go-redis/v9"
)

// ErrBandwidthExceeded means the user's plan bandwidth ceiling is reached.
// Usage-based, distinct from an entitlement violation.
var ErrBandwidthExceeded = errors.New("quota: bandwidth limit exceeded")

// Ledger tracks cumulative bandwidth per user within a billing period.
// Precheck reads current state; Charge mutates it with the actual artifact
// size once composition has produced one.
type Ledger interface {
	State(ctx context.Context, userID, limitBytes int64) (model.QuotaState, error)
	Precheck(ctx context.Context, userID, limitBytes int64) error
	Charge(ctx context.Context, userID, bytes, limitBytes int64) error
}

// redisLedger keeps counters in Redis so they survive restarts and are
// shared across instances. Billing-cycle resets delete the key externally.
type redisLedger struct {
	client *redis.Client
}

// NewRedisLedger builds a ledger over the shared Redis client.
func NewRedisLedger(client *redis.Client) Ledger {
	return &redisLedger{client: client}
}

func bandwidthKey(userID int64) string {
	return fmt.Sprintf("quota:bandwidth:%d", userID)
}

func (l *redisLedger) used(ctx context.Context, userID int64) (int64, error) {
	used, err := l.client.Get(ctx, bandwidthKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota for user %d: %w", userID, err)
	}
	return used, nil
}

// State returns the current usage snapshot.
func (l *redisLedger) State(ctx context.Context, userID, limitBytes int64) (model.QuotaState, error) {
	used, err := l.used(ctx, userID)
	if err != nil {
		return model.QuotaState{}, err
	}
	return model.QuotaState{
		UserID:              userID,
		BandwidthUsedBytes:  used,
		BandwidthLimitBytes: limitBytes,
	}, nil
}

// Precheck rejects when the user is already at or over the limit. It only
// reads; it reserves nothing. Two concurrent mixes by the same user may
// both pass and later both charge, an accepted relaxed-consistency race
// that avoids serializing a user's mixes.
func (l *redisLedger) Precheck(ctx context.Context, userID, limitBytes int64) error {
	used, err := l.used(ctx, userID)
	if err != nil {
		return err
	}
	if used >= limitBytes {
		return ErrBandwidthExceeded
	}
	return nil
}

// Charge records the actual output size. The check mirrors Precheck: a user
// under the limit is allowed one final artifact that may push usage over it,
// so usage can overshoot by at most one artifact per in-flight mix.
func (l *redisLedger) Charge(ctx context.Context, userID, bytes, limitBytes int64) error {
	used, err := l.used(ctx, userID)
	if err != nil {
		return err
	}
	if used >= limitBytes {
		return ErrBandwidthExceeded
	}

	total, err := l.client.IncrBy(ctx, bandwidthKey(userID), bytes).Result()
	if err != nil {
		return fmt.Errorf("failed to charge quota for user %d: %w", userID, err)
	}

	logger.Debug("quota charged",
		logger.Int64("userId", userID),
		logger.Int64("bytes", bytes),
		logger.Int64("totalUsed", total))
	return nil
}
