package quota

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// RedisLedger is the cross-process implementation of domain.QuotaLedger.
// Rows live under quota:{provider}:{keyHash}:{day} and expire at the next
// local midnight. Writes are atomic via a Lua script that merges the used
// counter monotonically, so two processes sharing a key never regress each
// other's accounting. Redis outages degrade to the in-process shadow ledger
// and never block a call.
type RedisLedger struct {
	rdb    *redis.Client
	loc    *time.Location
	mirror domain.QuotaLedger // optional durable write-through, read when Redis is cold
	shadow *MemoryLedger
	script *redis.Script
}

const luaQuotaMergeScript = `
local key = KEYS[1]
local used = tonumber(ARGV[1])
local quota = tonumber(ARGV[2])
local state = ARGV[3]
local cooldown = tonumber(ARGV[4])
local updated = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local cur = redis.call("HGET", key, "used")
if cur ~= false and cur ~= nil then
  local curn = tonumber(cur)
  if curn ~= nil and curn > used then
    used = curn
  end
end

redis.call("HSET", key,
  "used", used,
  "quota", quota,
  "state", state,
  "cooldown_until", cooldown,
  "updated_at", updated)
if ttl > 0 then
  redis.call("EXPIRE", key, ttl)
end

return used
`

// NewRedisLedger constructs the Redis-backed ledger. mirror may be nil.
func NewRedisLedger(rdb *redis.Client, loc *time.Location, mirror domain.QuotaLedger) *RedisLedger {
	if rdb == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RedisLedger{
		rdb:    rdb,
		loc:    loc,
		mirror: mirror,
		shadow: NewMemoryLedger(),
		script: redis.NewScript(luaQuotaMergeScript),
	}
}

func redisKey(provider domain.Provider, keyHash, day string) string {
	return "quota:" + string(provider) + ":" + keyHash + ":" + day
}

// ttlUntilNextMidnight computes how long a row for the given day may live.
// Days are YYYYMMDD strings in the configured zone; the row expires when
// that day ends.
func (l *RedisLedger) ttlUntilNextMidnight(day string) time.Duration {
	d, err := time.ParseInLocation("20060102", day, l.loc)
	if err != nil {
		return 24 * time.Hour
	}
	ttl := time.Until(d.AddDate(0, 0, 1))
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// Record writes the row through shadow, mirror, and Redis. Redis errors are
// logged and absorbed; the shadow keeps the process-local truth.
func (l *RedisLedger) Record(ctx domain.Context, u domain.KeyUsage) error {
	_ = l.shadow.Record(ctx, u)
	if l.mirror != nil {
		if err := l.mirror.Record(ctx, u); err != nil {
			slog.Error("quota ledger mirror write failed",
				slog.String("provider", string(u.Provider)),
				slog.String("key_hash", u.KeyHash),
				slog.Any("error", err))
		}
	}

	ttl := l.ttlUntilNextMidnight(u.Day)
	var cooldown int64
	if !u.CooldownUntil.IsZero() {
		cooldown = u.CooldownUntil.Unix()
	}
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := l.script.Run(ctx, l.rdb,
		[]string{redisKey(u.Provider, u.KeyHash, u.Day)},
		u.Used, u.Quota, string(u.State), cooldown, updated.Unix(), int(ttl.Seconds()),
	).Result()
	if err != nil {
		// Fail open: the shadow ledger already holds the row.
		slog.Error("quota ledger redis write failed",
			slog.String("provider", string(u.Provider)),
			slog.String("key_hash", u.KeyHash),
			slog.Any("error", err))
	}
	return nil
}

// Load returns every row of the provider for the given day. It reads Redis
// first, falls back to the mirror when Redis is cold or down, and finally to
// the in-process shadow.
func (l *RedisLedger) Load(ctx domain.Context, provider domain.Provider, day string) ([]domain.KeyUsage, error) {
	rows, err := l.loadRedis(ctx, provider, day)
	if err != nil {
		slog.Warn("quota ledger redis read failed, falling back",
			slog.String("provider", string(provider)),
			slog.Any("error", err))
	} else if len(rows) > 0 {
		return rows, nil
	}
	if l.mirror != nil {
		mrows, merr := l.mirror.Load(ctx, provider, day)
		if merr == nil && len(mrows) > 0 {
			return mrows, nil
		}
		if merr != nil {
			slog.Warn("quota ledger mirror read failed",
				slog.String("provider", string(provider)),
				slog.Any("error", merr))
		}
	}
	if err != nil {
		return l.shadow.Load(ctx, provider, day)
	}
	return rows, nil
}

func (l *RedisLedger) loadRedis(ctx domain.Context, provider domain.Provider, day string) ([]domain.KeyUsage, error) {
	pattern := redisKey(provider, "*", day)
	var out []domain.KeyUsage
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("op=quota.load: %w", err)
		}
		for _, k := range keys {
			fields, err := l.rdb.HGetAll(ctx, k).Result()
			if err != nil {
				return nil, fmt.Errorf("op=quota.load: %w", err)
			}
			if len(fields) == 0 {
				continue
			}
			out = append(out, parseRow(provider, k, day, fields))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func parseRow(provider domain.Provider, key, day string, fields map[string]string) domain.KeyUsage {
	u := domain.KeyUsage{Provider: provider, Day: day}
	// quota:{provider}:{keyHash}:{day}
	prefix := "quota:" + string(provider) + ":"
	suffix := ":" + day
	if len(key) > len(prefix)+len(suffix) {
		u.KeyHash = key[len(prefix) : len(key)-len(suffix)]
	}
	u.Used, _ = strconv.Atoi(fields["used"])
	u.Quota, _ = strconv.Atoi(fields["quota"])
	u.State = domain.KeyState(fields["state"])
	if sec, err := strconv.ParseInt(fields["cooldown_until"], 10, 64); err == nil && sec > 0 {
		u.CooldownUntil = time.Unix(sec, 0)
	}
	if sec, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil && sec > 0 {
		u.UpdatedAt = time.Unix(sec, 0)
	}
	return u
}

// Close releases the Redis connection.
func (l *RedisLedger) Close() error {
	if l.mirror != nil {
		_ = l.mirror.Close()
	}
	return l.rdb.Close()
}
