// Package accountstore provides persistence for quota accounts and the
// billable action log.
//
// Every write to an account's counter, cap or cycle anchor goes through
// Store.Mutate, which runs the callback against the current row inside a
// single atomic unit: a row lock for Postgres, WATCH/MULTI for Redis and a
// per-account mutex in memory.
package accountstore

import (
	"context"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
)

// MutateFunc receives the current account and edits it in place. It returns
// false when nothing should be written; the store then leaves the row as is.
type MutateFunc func(a *domain.Account) (changed bool, err error)

// Store persists accounts.
//
// Implementations return errors carrying domain codes:
//   - domain.ErrAccountNotFound when the id has no record
//   - domain.ErrConcurrencyConflict when the write lost a race
//   - domain.ErrStorageUnavailable when the backend cannot be reached or the
//     context ends before commit
//
// Errors returned by a MutateFunc are passed through untouched.
type Store interface {
	// Create inserts a new account. It fails with domain.ErrAccountExists on
	// a duplicate id.
	Create(ctx context.Context, a *domain.Account) error

	// Get returns a snapshot of the account without locking.
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// Mutate runs fn against the account atomically and returns the
	// resulting state (the stored row when fn reports no change).
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Account, error)

	// ListStale returns up to limit ids whose cycle anchor is before the
	// given instant. Backends may skip accounts with a zero counter.
	ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// ActionLog is the append-only billable action record.
type ActionLog interface {
	Append(ctx context.Context, a *domain.BillableAction) error

	// ListByAccount returns an account's actions in [from, to), oldest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error)

	// Summarize returns per-account totals for actions in [from, to).
	Summarize(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error)
}

// contextError maps a cancelled or expired context to ErrStorageUnavailable.
func contextError(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable(err, op)
	}
	return nil
}
