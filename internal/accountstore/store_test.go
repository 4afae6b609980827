package accountstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Backends
// =============================================================================

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryActionLog(t *testing.T) {
	testActionLog(t, NewMemoryActionLog(), nil)
}

func TestPostgresStore(t *testing.T) {
	db := openTestDB(t)
	testStore(t, NewPostgresStore(db, WithLockTimeout(time.Second)))
}

func TestPostgresActionLog(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	testActionLog(t, NewPostgresActionLog(db), store)
}

func TestRedisStore(t *testing.T) {
	rdb := openTestRedis(t)
	testStore(t, NewRedisStore(rdb, "lectgen_test_"+uuid.NewString()[:8]))
}

func TestRedisActionLog(t *testing.T) {
	rdb := openTestRedis(t)
	testActionLog(t, NewRedisActionLog(rdb, "lectgen_test_"+uuid.NewString()[:8]), nil)
}

// openTestDB connects to TEST_DATABASE_URL, which must point at a database
// that already has the migrations applied.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

// =============================================================================
// Store contract
// =============================================================================

func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	newAccount := func(t *testing.T) *domain.Account {
		t.Helper()
		a := domain.NewAccount(uuid.New(), 5, now)
		require.NoError(t, store.Create(ctx, a))
		return a
	}

	t.Run("create and get", func(t *testing.T) {
		a := newAccount(t)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TierFree, got.Tier)
		assert.Equal(t, 0, got.UsageCount)
		assert.Equal(t, 5, got.UsageCap)
		assert.Nil(t, got.SubscriptionExpiresAt)
		assert.WithinDuration(t, now, got.CycleAnchor, time.Second)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		a := newAccount(t)
		err := store.Create(ctx, domain.NewAccount(a.ID, 5, now))
		assert.ErrorIs(t, err, domain.ErrAccountExists)
		assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
		assert.False(t, domain.IsTransient(err))
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)

		_, err = store.Mutate(ctx, uuid.New(), func(*domain.Account) (bool, error) { return true, nil })
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("mutate persists changes and bumps version", func(t *testing.T) {
		a := newAccount(t)
		expires := now.Add(30 * 24 * time.Hour)

		updated, err := store.Mutate(ctx, a.ID, func(acct *domain.Account) (bool, error) {
			acct.UsageCount = 3
			acct.Tier = domain.TierVIP
			acct.SubscriptionExpiresAt = &expires
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, updated.UsageCount)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.UsageCount)
		assert.Equal(t, domain.TierVIP, got.Tier)
		require.NotNil(t, got.SubscriptionExpiresAt)
		assert.WithinDuration(t, expires, *got.SubscriptionExpiresAt, time.Second)
		assert.Greater(t, got.Version, a.Version)
	})

	t.Run("unchanged mutate writes nothing", func(t *testing.T) {
		a := newAccount(t)
		before, err := store.Get(ctx, a.ID)
		require.NoError(t, err)

		_, err = store.Mutate(ctx, a.ID, func(acct *domain.Account) (bool, error) {
			acct.UsageCount = 99
			return false, nil
		})
		require.NoError(t, err)

		after, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, after.UsageCount)
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("callback error aborts the write", func(t *testing.T) {
		a := newAccount(t)
		boom := errors.New("boom")

		_, err := store.Mutate(ctx, a.ID, func(acct *domain.Account) (bool, error) {
			acct.UsageCount = 4
			return true, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.UsageCount)
	})

	t.Run("cancelled context is unavailable", func(t *testing.T) {
		a := newAccount(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.Mutate(cctx, a.ID, func(acct *domain.Account) (bool, error) {
			acct.UsageCount = 1
			return true, nil
		})
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.UsageCount)
	})

	t.Run("concurrent mutates never lose updates", func(t *testing.T) {
		a := newAccount(t)
		const workers = 10

		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Mutate(ctx, a.ID, func(acct *domain.Account) (bool, error) {
					acct.UsageCount++
					return true, nil
				})
				if err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
					return
				}
				// Optimistic backends may reject a racing write; it must not apply.
				assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, applied, got.UsageCount)
	})

	t.Run("list stale", func(t *testing.T) {
		old := now.AddDate(0, -2, 0)
		stale := domain.NewAccount(uuid.New(), 5, old)
		require.NoError(t, store.Create(ctx, stale))
		_, err := store.Mutate(ctx, stale.ID, func(acct *domain.Account) (bool, error) {
			acct.UsageCount = 2
			return true, nil
		})
		require.NoError(t, err)

		fresh := newAccount(t)

		ids, err := store.ListStale(ctx, domain.CycleStart(now), 10000)
		require.NoError(t, err)
		assert.Contains(t, ids, stale.ID)
		assert.NotContains(t, ids, fresh.ID)
	})
}

// =============================================================================
// Action log contract
// =============================================================================

func testActionLog(t *testing.T, log ActionLog, accounts Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	accountA, accountB := uuid.New(), uuid.New()
	if accounts != nil {
		require.NoError(t, accounts.Create(ctx, domain.NewAccount(accountA, 5, now)))
		require.NoError(t, accounts.Create(ctx, domain.NewAccount(accountB, 5, now)))
	}

	records := []domain.BillableAction{
		{ID: uuid.New(), AccountID: accountA, Kind: domain.ActionKindSlideGeneration, Outcome: domain.ActionOutcomeSuccess, Cost: 1000, Metadata: json.RawMessage(`{"slides":10}`), CreatedAt: now.Add(-2 * time.Minute)},
		{ID: uuid.New(), AccountID: accountA, Kind: domain.ActionKindSlideGeneration, Outcome: domain.ActionOutcomeFailure, Cost: 50, CreatedAt: now.Add(-time.Minute)},
		{ID: uuid.New(), AccountID: accountB, Kind: domain.ActionKindImagePrompt, Outcome: domain.ActionOutcomeSuccess, Cost: 200, CreatedAt: now.Add(-time.Minute)},
	}
	for i := range records {
		require.NoError(t, log.Append(ctx, &records[i]))
	}

	from, to := now.Add(-time.Hour), now.Add(time.Hour)

	t.Run("list by account", func(t *testing.T) {
		got, err := log.ListByAccount(ctx, accountA, from, to)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, records[0].ID, got[0].ID)
		assert.Equal(t, records[1].ID, got[1].ID)
		assert.JSONEq(t, `{"slides":10}`, string(got[0].Metadata))
		assert.Empty(t, got[1].Metadata)
	})

	t.Run("range excludes later entries", func(t *testing.T) {
		got, err := log.ListByAccount(ctx, accountA, from, now.Add(-90*time.Second))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, records[0].ID, got[0].ID)
	})

	t.Run("summarize", func(t *testing.T) {
		got, err := log.Summarize(ctx, from, to)
		require.NoError(t, err)

		byAccount := make(map[uuid.UUID]domain.ActionSummary)
		for _, s := range got {
			byAccount[s.AccountID] = s
		}
		assert.Equal(t, domain.ActionSummary{AccountID: accountA, Actions: 2, Successes: 1, Failures: 1, TotalCost: 1050}, byAccount[accountA])
		assert.Equal(t, domain.ActionSummary{AccountID: accountB, Actions: 1, Successes: 1, TotalCost: 200}, byAccount[accountB])
	})
}

func TestCheckColumnRange(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		count   int
		cap     int
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"largest cap", 0, domain.MaxUsageCap, false},
		{"cap past int32", 0, domain.MaxUsageCap + 1, true},
		{"cap wraps to zero", 0, 1 << 32, true},
		{"count past int32", domain.MaxUsageCap + 1, 5, true},
		{"negative count", -1, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.NewAccount(uuid.New(), tt.cap, now)
			a.UsageCount = tt.count

			err := checkColumnRange("test", a)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}
