package accountstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "lectgen"

// =============================================================================
// Redis Store
// =============================================================================

// RedisStore keeps each account in a hash and guards writes with an
// optimistic WATCH/MULTI/EXEC transaction. A write that loses the race fails
// with ErrConcurrencyConflict and the caller retries.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store over a connected client. An empty prefix
// defaults to "lectgen".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) accountKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:account:%s", s.prefix, id)
}

// anchorIndexKey is a sorted set of account ids scored by cycle anchor.
func (s *RedisStore) anchorIndexKey() string {
	return s.prefix + ":accounts:by_anchor"
}

func (s *RedisStore) Create(ctx context.Context, a *domain.Account) error {
	const op = "accountstore.redis.create"
	key := s.accountKey(a.ID)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.AccountExists(op, a.ID.String())
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, a)
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		return classifyRedisError(ctx, err, op)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "accountstore.redis.get"

	vals, err := s.rdb.HGetAll(ctx, s.accountKey(id)).Result()
	if err != nil {
		return nil, classifyRedisError(ctx, err, op)
	}
	if len(vals) == 0 {
		return nil, domain.AccountNotFound(op, id.String())
	}
	acct, err := decodeAccount(id, vals)
	if err != nil {
		return nil, domain.Internal(err, op, "corrupt account record")
	}
	return acct, nil
}

func (s *RedisStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Account, error) {
	const op = "accountstore.redis.mutate"
	key := s.accountKey(id)

	var result *domain.Account
	var fnErr error
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return domain.AccountNotFound(op, id.String())
		}
		acct, err := decodeAccount(id, vals)
		if err != nil {
			return domain.Internal(err, op, "corrupt account record")
		}

		stored := acct.Clone()
		changed, err := fn(acct)
		if err != nil {
			fnErr = err
			return err
		}
		if !changed {
			result = stored
			return nil
		}

		acct.Version = stored.Version + 1
		acct.UpdatedAt = s.now().UTC()

		// EXEC aborts with TxFailedErr if the key changed since WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, acct)
			return nil
		})
		if err != nil {
			return err
		}
		result = acct
		return nil
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		if fnErr != nil {
			return nil, fnErr
		}
		return nil, classifyRedisError(ctx, err, op)
	}
	return result, nil
}

func (s *RedisStore) ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const op = "accountstore.redis.list_stale"

	if limit <= 0 {
		limit = 1000
	}
	members, err := s.rdb.ZRangeByScore(ctx, s.anchorIndexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UTC().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, classifyRedisError(ctx, err, op)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, a *domain.Account) {
	pipe.HSet(ctx, s.accountKey(a.ID), encodeAccount(a))
	pipe.ZAdd(ctx, s.anchorIndexKey(), redis.Z{
		Score:  float64(a.CycleAnchor.UTC().Unix()),
		Member: a.ID.String(),
	})
}

func encodeAccount(a *domain.Account) map[string]interface{} {
	expires := ""
	if a.SubscriptionExpiresAt != nil {
		expires = a.SubscriptionExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"tier":                    string(a.Tier),
		"usage_count":             a.UsageCount,
		"usage_cap":               a.UsageCap,
		"cycle_anchor":            a.CycleAnchor.UTC().Format(time.RFC3339Nano),
		"subscription_expires_at": expires,
		"version":                 a.Version,
		"created_at":              a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":              a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeAccount(id uuid.UUID, vals map[string]string) (*domain.Account, error) {
	a := &domain.Account{ID: id, Tier: domain.Tier(vals["tier"])}

	var err error
	if a.UsageCount, err = strconv.Atoi(vals["usage_count"]); err != nil {
		return nil, fmt.Errorf("usage_count: %w", err)
	}
	if a.UsageCap, err = strconv.Atoi(vals["usage_cap"]); err != nil {
		return nil, fmt.Errorf("usage_cap: %w", err)
	}
	if a.Version, err = strconv.ParseInt(vals["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if a.CycleAnchor, err = time.Parse(time.RFC3339Nano, vals["cycle_anchor"]); err != nil {
		return nil, fmt.Errorf("cycle_anchor: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, vals["updated_at"]); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if v := vals["subscription_expires_at"]; v != "" {
		exp, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("subscription_expires_at: %w", err)
		}
		a.SubscriptionExpiresAt = &exp
	}
	return a, nil
}

// =============================================================================
// Redis Action Log
// =============================================================================

// streamSkew widens stream id ranges to absorb drift between the caller's
// clock and the Redis server clock that assigns entry ids.
const streamSkew = time.Minute

// RedisActionLog appends billable actions to a Redis stream.
type RedisActionLog struct {
	rdb    redis.UniversalClient
	stream string
}

// NewRedisActionLog creates an action log writing to "<prefix>:actions".
func NewRedisActionLog(rdb redis.UniversalClient, prefix string) *RedisActionLog {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisActionLog{rdb: rdb, stream: prefix + ":actions"}
}

func (l *RedisActionLog) Append(ctx context.Context, a *domain.BillableAction) error {
	const op = "accountstore.redis.append_action"

	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]interface{}{
			"id":         a.ID.String(),
			"account_id": a.AccountID.String(),
			"kind":       string(a.Kind),
			"outcome":    string(a.Outcome),
			"cost":       a.Cost,
			"metadata":   string(a.Metadata),
			"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return classifyRedisError(ctx, err, op)
	}
	return nil
}

func (l *RedisActionLog) ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error) {
	actions, err := l.scan(ctx, "accountstore.redis.list_actions", from, to)
	if err != nil {
		return nil, err
	}
	out := actions[:0]
	for _, a := range actions {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *RedisActionLog) Summarize(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error) {
	actions, err := l.scan(ctx, "accountstore.redis.summarize", from, to)
	if err != nil {
		return nil, err
	}
	return domain.Summarize(actions), nil
}

func (l *RedisActionLog) scan(ctx context.Context, op string, from, to time.Time) ([]domain.BillableAction, error) {
	start := strconv.FormatInt(from.Add(-streamSkew).UnixMilli(), 10) + "-0"
	stop := strconv.FormatInt(to.Add(streamSkew).UnixMilli(), 10)

	msgs, err := l.rdb.XRange(ctx, l.stream, start, stop).Result()
	if err != nil {
		return nil, classifyRedisError(ctx, err, op)
	}

	var out []domain.BillableAction
	for _, m := range msgs {
		a, err := decodeAction(m.Values)
		if err != nil {
			continue
		}
		if inRange(a.CreatedAt, from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func decodeAction(vals map[string]interface{}) (domain.BillableAction, error) {
	str := func(k string) string {
		v, _ := vals[k].(string)
		return v
	}

	var a domain.BillableAction
	var err error
	if a.ID, err = uuid.Parse(str("id")); err != nil {
		return a, err
	}
	if a.AccountID, err = uuid.Parse(str("account_id")); err != nil {
		return a, err
	}
	if a.Cost, err = strconv.ParseInt(str("cost"), 10, 64); err != nil {
		return a, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, str("created_at")); err != nil {
		return a, err
	}
	a.Kind = domain.ActionKind(str("kind"))
	a.Outcome = domain.ActionOutcome(str("outcome"))
	if md := str("metadata"); md != "" {
		a.Metadata = json.RawMessage(md)
	}
	return a, nil
}

// classifyRedisError maps client errors onto the domain taxonomy. Errors that
// already carry a domain code pass through.
func classifyRedisError(ctx context.Context, err error, op string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return domain.Wrap(domain.ErrConcurrencyConflict, domain.ECONFLICT, op, "account changed during transaction")
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(err, op)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return domain.Unavailable(err, op)
	}
	return domain.Internal(err, op, "redis error")
}
