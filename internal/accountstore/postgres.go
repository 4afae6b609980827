package accountstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"
)

// PostgreSQL error codes that indicate a lost race rather than a fault.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// =============================================================================
// Postgres Store
// =============================================================================

// PostgresStore serializes writes with SELECT ... FOR UPDATE inside a
// transaction. The update also checks the row version so a write can never
// land on a row that changed underneath it.
type PostgresStore struct {
	db          *sql.DB
	queries     *repository.Queries
	lockTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLockTimeout bounds how long Mutate waits for the row lock. A timed out
// wait surfaces as a concurrency conflict.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.lockTimeout = d
	}
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:          db,
		queries:     repository.New(db),
		lockTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Create(ctx context.Context, a *domain.Account) error {
	const op = "accountstore.postgres.create"
	if err := checkColumnRange(op, a); err != nil {
		return err
	}

	row, err := s.queries.CreateAccount(ctx, repository.CreateAccountParams{
		ID:                    a.ID,
		Tier:                  string(a.Tier),
		UsageCap:              int32(a.UsageCap),
		CycleAnchor:           a.CycleAnchor.UTC(),
		SubscriptionExpiresAt: toNullTime(a.SubscriptionExpiresAt),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.AccountExists(op, a.ID.String())
		}
		return classifyPgError(ctx, err, op)
	}

	*a = *accountFromRow(row)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "accountstore.postgres.get"

	row, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.AccountNotFound(op, id.String())
		}
		return nil, classifyPgError(ctx, err, op)
	}
	return accountFromRow(row), nil
}

func (s *PostgresStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Account, error) {
	const op = "accountstore.postgres.mutate"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyPgError(ctx, err, op)
	}
	// Rollback after Commit is a no-op; any early return discards the write.
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, classifyPgError(ctx, err, op)
		}
	}

	qtx := s.queries.WithTx(tx)

	row, err := qtx.GetAccountForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.AccountNotFound(op, id.String())
		}
		return nil, classifyPgError(ctx, err, op)
	}

	acct := accountFromRow(row)
	changed, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if !changed {
		return accountFromRow(row), nil
	}
	if err := checkColumnRange(op, acct); err != nil {
		return nil, err
	}

	updated, err := qtx.UpdateAccountQuota(ctx, repository.UpdateAccountQuotaParams{
		ID:                    id,
		Tier:                  string(acct.Tier),
		UsageCount:            int32(acct.UsageCount),
		UsageCap:              int32(acct.UsageCap),
		CycleAnchor:           acct.CycleAnchor.UTC(),
		SubscriptionExpiresAt: toNullTime(acct.SubscriptionExpiresAt),
		Version:               row.Version,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Conflict(op, "account version changed during update")
		}
		return nil, classifyPgError(ctx, err, op)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyPgError(ctx, err, op)
	}

	return accountFromRow(updated), nil
}

func (s *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const op = "accountstore.postgres.list_stale"

	if limit <= 0 {
		limit = 1000
	}
	ids, err := s.queries.ListStaleAccountIDs(ctx, repository.ListStaleAccountIDsParams{
		CycleAnchor: before.UTC(),
		Limit:       int32(limit),
	})
	if err != nil {
		return nil, classifyPgError(ctx, err, op)
	}
	return ids, nil
}

// =============================================================================
// Postgres Action Log
// =============================================================================

// PostgresActionLog writes billable actions to the billable_actions table.
type PostgresActionLog struct {
	queries *repository.Queries
}

// NewPostgresActionLog creates an action log over an open database handle.
func NewPostgresActionLog(db *sql.DB) *PostgresActionLog {
	return &PostgresActionLog{queries: repository.New(db)}
}

func (l *PostgresActionLog) Append(ctx context.Context, a *domain.BillableAction) error {
	const op = "accountstore.postgres.append_action"

	var metadata pqtype.NullRawMessage
	if len(a.Metadata) > 0 {
		metadata = pqtype.NullRawMessage{RawMessage: a.Metadata, Valid: true}
	}

	_, err := l.queries.InsertBillableAction(ctx, repository.InsertBillableActionParams{
		ID:        a.ID,
		AccountID: a.AccountID,
		Kind:      string(a.Kind),
		Outcome:   string(a.Outcome),
		Cost:      a.Cost,
		Metadata:  metadata,
		CreatedAt: a.CreatedAt.UTC(),
	})
	if err != nil {
		return classifyPgError(ctx, err, op)
	}
	return nil
}

func (l *PostgresActionLog) ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error) {
	const op = "accountstore.postgres.list_actions"

	rows, err := l.queries.ListBillableActionsByAccount(ctx, repository.ListBillableActionsByAccountParams{
		AccountID:   accountID,
		CreatedAt:   from.UTC(),
		CreatedAt_2: to.UTC(),
	})
	if err != nil {
		return nil, classifyPgError(ctx, err, op)
	}

	actions := make([]domain.BillableAction, 0, len(rows))
	for _, r := range rows {
		a := domain.BillableAction{
			ID:        r.ID,
			AccountID: r.AccountID,
			Kind:      domain.ActionKind(r.Kind),
			Outcome:   domain.ActionOutcome(r.Outcome),
			Cost:      r.Cost,
			CreatedAt: r.CreatedAt,
		}
		if r.Metadata.Valid {
			a.Metadata = r.Metadata.RawMessage
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (l *PostgresActionLog) Summarize(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error) {
	const op = "accountstore.postgres.summarize"

	rows, err := l.queries.SummarizeBillableActions(ctx, repository.SummarizeBillableActionsParams{
		CreatedAt:   from.UTC(),
		CreatedAt_2: to.UTC(),
	})
	if err != nil {
		return nil, classifyPgError(ctx, err, op)
	}

	out := make([]domain.ActionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ActionSummary{
			AccountID: r.AccountID,
			Actions:   r.Actions,
			Successes: r.Successes,
			Failures:  r.Failures,
			TotalCost: r.TotalCost,
		})
	}
	return out, nil
}

// =============================================================================
// Helpers
// =============================================================================

// classifyPgError maps driver errors onto the domain taxonomy.
func classifyPgError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(err, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgSerializationFailure,
			pgErr.Code == pgDeadlockDetected,
			pgErr.Code == pgLockNotAvailable:
			return domain.Wrap(domain.ErrConcurrencyConflict, domain.ECONFLICT, op, pgErr.Message)
		case pgErr.Code == pgAdminShutdown,
			pgErr.Code == pgCannotConnectNow,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return domain.Unavailable(err, op)
		}
		return domain.Internal(err, op, "database error")
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return domain.Unavailable(err, op)
	}

	return domain.Internal(err, op, "database error")
}

func accountFromRow(r repository.Account) *domain.Account {
	a := &domain.Account{
		ID:          r.ID,
		Tier:        domain.Tier(r.Tier),
		UsageCount:  int(r.UsageCount),
		UsageCap:    int(r.UsageCap),
		CycleAnchor: r.CycleAnchor.UTC(),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.SubscriptionExpiresAt.Valid {
		exp := r.SubscriptionExpiresAt.Time.UTC()
		a.SubscriptionExpiresAt = &exp
	}
	return a
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// checkColumnRange rejects counters and caps that would not survive the
// conversion to the INTEGER columns.
func checkColumnRange(op string, a *domain.Account) error {
	if a.UsageCap < 0 || a.UsageCap > domain.MaxUsageCap {
		return domain.Errorf(domain.EINVALID, op, "usage cap %d is out of range", a.UsageCap)
	}
	if a.UsageCount < 0 || a.UsageCount > domain.MaxUsageCap {
		return domain.Errorf(domain.EINVALID, op, "usage count %d is out of range", a.UsageCount)
	}
	return nil
}
