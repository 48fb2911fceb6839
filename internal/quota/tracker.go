// Package quota enforces per-user, per-feature daily usage ceilings.
// Counters live in Redis keyed by the user's local calendar date; the
// check and the increment happen in one Lua script so concurrent
// requests cannot overshoot the ceiling.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"vitalog/internal/types"
)

// counterTTL keeps yesterday's keys around briefly for the snapshot
// endpoint, then lets Redis reap them.
const counterTTL = 48 * time.Hour

// checkAndIncrSrc denies without incrementing when the counter is at or
// over the ceiling, otherwise increments and stamps the TTL on first
// write. Returns {allowed, count}.
const checkAndIncrSrc = `
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
  return {0, current}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
return {1, current}
`

// RedisClient is the slice of *redis.Client the tracker needs.
type RedisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Tracker owns the daily usage counters.
type Tracker struct {
	rdb    RedisClient
	script *redis.Script
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker. loc determines where the day boundary
// falls (the product runs on Asia/Tokyo).
func NewTracker(rdb RedisClient, loc *time.Location, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		rdb:    rdb,
		script: redis.NewScript(checkAndIncrSrc),
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Tracker) key(userID string, day string, feature types.FeatureType) string {
	return fmt.Sprintf("usage:%s:%s:%s", userID, day, feature)
}

func (t *Tracker) localDay() string {
	return t.now().In(t.loc).Format("2006-01-02")
}

// CheckAndIncrement consumes one unit of the feature if the ceiling
// allows it. A denied attempt does not increment. Unlimited tiers never
// touch Redis; a zero limit (feature gated off) is denied outright.
func (t *Tracker) CheckAndIncrement(ctx context.Context, userID string, feature types.FeatureType, limit int) (types.UsageDecision, error) {
	decision := types.UsageDecision{Feature: feature, Limit: limit}

	switch {
	case limit == types.UnlimitedDaily:
		decision.Allowed = true
		decision.Remaining = types.UnlimitedDaily
		return decision, nil
	case limit <= 0:
		decision.Allowed = false
		return decision, nil
	}

	day := t.localDay()
	res, err := t.script.Run(ctx, t.rdb,
		[]string{t.key(userID, day, feature)},
		limit, int(counterTTL.Seconds()),
	).Slice()
	if err != nil {
		return decision, types.NewAppError(types.ErrCodeUpstreamRedis, "usage counter unavailable", err)
	}
	if len(res) != 2 {
		return decision, types.NewAppError(types.ErrCodeUpstreamRedis, "unexpected counter script reply", nil)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	decision.Allowed = allowed == 1
	decision.Used = int(count)
	decision.Remaining = max(limit-int(count), 0)

	if !decision.Allowed {
		t.logger.Info("daily quota denied",
			slog.String("user_id", userID),
			slog.String("feature", string(feature)),
			slog.Int("limit", limit))
	}
	return decision, nil
}

// Snapshot reports today's consumption for each feature in limits
// without incrementing anything.
func (t *Tracker) Snapshot(ctx context.Context, userID string, limits map[types.FeatureType]int) (map[types.FeatureType]types.FeatureUsage, error) {
	day := t.localDay()
	out := make(map[types.FeatureType]types.FeatureUsage, len(limits))

	for feature, limit := range limits {
		usage := types.FeatureUsage{Limit: limit}
		if limit == types.UnlimitedDaily {
			usage.Remaining = types.UnlimitedDaily
		}

		used, err := t.rdb.Get(ctx, t.key(userID, day, feature)).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, types.NewAppError(types.ErrCodeUpstreamRedis, "usage counter unavailable", err)
		}
		usage.Used = used
		if limit >= 0 {
			usage.Remaining = max(limit-used, 0)
		}
		out[feature] = usage
	}
	return out, nil
}

// Day returns the current local calendar date the counters are keyed by.
func (t *Tracker) Day() string {
	return t.localDay()
}

// Ping reports counter-store reachability for health checks.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}
