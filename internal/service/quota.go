// Package service contains the business logic layer.
//
// This file implements the quota engine: entitlement checks, the atomic
// check-then-increment, and the administrative overrides. Every write to an
// account's counter, cap, tier or cycle anchor goes through
// accountstore.Store.Mutate so increments and overrides on the same account
// are serialized.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/lectgen/internal/accountstore"
	"github.com/DukeRupert/lectgen/internal/audit"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Operation names used for metrics, audit events and error ops.
const (
	OpCheck        = "check"
	OpTryIncrement = "try_increment"
	OpSetCap       = "set_cap"
	OpResetCounter = "reset_counter"
	OpChangeTier   = "change_tier"
	OpCycleSweep   = "cycle_sweep"
)

// ActorScheduler identifies writes made by the batch cycle sweep.
const ActorScheduler = "scheduler"

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines the quota engine operations.
type QuotaService interface {
	// CreateAccount registers a FREE account with the default cap. A nil id
	// is replaced with a generated one. An empty actor records the new
	// account as its own creator.
	CreateAccount(ctx context.Context, actor string, id uuid.UUID) (*domain.Account, error)

	// GetAccount returns a snapshot of the stored account.
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// CanPerformAction reports whether one more billable action is permitted
	// now. It never writes.
	CanPerformAction(ctx context.Context, id uuid.UUID) (bool, error)

	// CheckEntitlement returns the full read-only decision.
	CheckEntitlement(ctx context.Context, id uuid.UUID) (domain.Decision, error)

	// TryIncrement atomically checks entitlement and, when allowed, counts one
	// action. A denial is returned as Decision.Allowed == false and leaves the
	// account untouched.
	TryIncrement(ctx context.Context, id uuid.UUID) (domain.Decision, error)

	// GetUsage returns the display view of the account's current cycle.
	GetUsage(ctx context.Context, id uuid.UUID) (*domain.Usage, error)

	// SetCap changes the account's FREE-tier cap.
	SetCap(ctx context.Context, actor string, id uuid.UUID, newCap int) (*domain.Account, error)

	// ResetCounter zeroes the counter and re-anchors the cycle at now.
	ResetCounter(ctx context.Context, actor string, id uuid.UUID) (*domain.Account, error)

	// ChangeTier moves the account to a new tier. expiresAt applies to VIP
	// only and is cleared for other tiers.
	ChangeTier(ctx context.Context, actor string, id uuid.UUID, tier domain.Tier, expiresAt *time.Time) (*domain.Account, error)

	// SweepStaleCycles resets up to batch counters whose cycle has rolled
	// over and returns how many were reset.
	SweepStaleCycles(ctx context.Context, batch int) (int, error)
}

// =============================================================================
// Configuration
// =============================================================================

// QuotaConfig configures the quota service.
type QuotaConfig struct {
	Policies *domain.PolicyTable

	// ConflictRetries bounds how many times a write is retried after losing
	// a race before ErrConcurrencyConflict is surfaced.
	ConflictRetries int

	// RetryBaseDelay is the first backoff interval between retries.
	RetryBaseDelay time.Duration

	// OpTimeout bounds each operation including retries. Zero disables it.
	OpTimeout time.Duration
}

// Validate checks the configuration and fills defaults.
func (c *QuotaConfig) Validate() error {
	if c.Policies == nil {
		return domain.Invalid("quota.config", "policy table is required")
	}
	if c.ConflictRetries < 0 {
		return domain.Invalid("quota.config", "conflict retries must be non-negative")
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 10 * time.Millisecond
	}
	if c.OpTimeout < 0 {
		return domain.Invalid("quota.config", "operation timeout must be non-negative")
	}
	return nil
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  accountstore.Store
	sink   audit.Sink
	cfg    QuotaConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store accountstore.Store, sink audit.Sink, cfg QuotaConfig, logger *slog.Logger) (QuotaService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &quotaService{
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *quotaService) CreateAccount(ctx context.Context, actor string, id uuid.UUID) (*domain.Account, error) {
	const op = "quota.create_account"

	if id == uuid.Nil {
		id = uuid.New()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	acct := domain.NewAccount(id, s.cfg.Policies.FreeCap(), s.now())
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, s.storageError(ctx, op, err)
	}

	if actor == "" {
		actor = acct.ID.String()
	}

	s.logger.Info("account created", "account_id", acct.ID, "actor", actor, "tier", acct.Tier, "cap", acct.UsageCap)
	s.emit(ctx, audit.Event{
		Type:      audit.EventAccountCreated,
		AccountID: acct.ID,
		Actor:     actor,
		Operation: "create_account",
		Tier:      acct.Tier,
		Cap:       acct.UsageCap,
		Timestamp: acct.CreatedAt,
	})
	return acct, nil
}

func (s *quotaService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "quota.get_account"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storageError(ctx, op, err)
	}
	return acct, nil
}

func (s *quotaService) CanPerformAction(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.CheckEntitlement(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (s *quotaService) CheckEntitlement(ctx context.Context, id uuid.UUID) (d domain.Decision, err error) {
	const op = "quota.check"
	start := time.Now()
	defer func() { metrics.OperationFinished(OpCheck, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Decision{}, s.storageError(ctx, op, err)
	}

	now := s.now()
	d, err = domain.Decide(acct, s.cfg.Policies, now)
	if err != nil {
		s.logger.Error("account has unknown tier", "account_id", id, "tier", acct.Tier, "op", op)
		return domain.Decision{}, err
	}

	s.recordDecision(ctx, OpCheck, id, d, now)
	return d, nil
}

func (s *quotaService) TryIncrement(ctx context.Context, id uuid.UUID) (d domain.Decision, err error) {
	const op = "quota.try_increment"
	start := time.Now()
	defer func() { metrics.OperationFinished(OpTryIncrement, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var decision domain.Decision
	var decidedAt time.Time
	_, err = s.mutate(ctx, op, OpTryIncrement, id, func(a *domain.Account) (bool, error) {
		now := s.now()
		decidedAt = now

		// A pending rollover is applied here and written together with the
		// increment; on denial the store discards it with everything else.
		domain.RollCycle(a, now)

		d, err := domain.Decide(a, s.cfg.Policies, now)
		if err != nil {
			return false, err
		}
		if !d.Allowed {
			decision = d
			return false, nil
		}

		a.UsageCount++
		decision = d.AfterIncrement()
		return true, nil
	})
	if err != nil {
		return domain.Decision{}, err
	}

	if !decision.Allowed {
		s.logger.Info("quota exceeded",
			"account_id", id,
			"tier", decision.EffectiveTier,
			"used", decision.Count,
			"cap", decision.Cap,
		)
	}

	s.recordDecision(ctx, OpTryIncrement, id, decision, decidedAt)
	return decision, nil
}

func (s *quotaService) GetUsage(ctx context.Context, id uuid.UUID) (*domain.Usage, error) {
	const op = "quota.get_usage"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storageError(ctx, op, err)
	}

	usage, err := domain.UsageFor(acct, s.cfg.Policies, s.now())
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (s *quotaService) SetCap(ctx context.Context, actor string, id uuid.UUID, newCap int) (acct *domain.Account, err error) {
	const op = "quota.set_cap"
	start := time.Now()
	defer func() { metrics.OperationFinished(OpSetCap, start, err) }()

	if newCap < 0 || newCap > domain.MaxUsageCap {
		return nil, domain.Errorf(domain.EINVALID, op, "cap must be between 0 and %d, got %d", domain.MaxUsageCap, newCap)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var previous int
	acct, err = s.mutate(ctx, op, OpSetCap, id, func(a *domain.Account) (bool, error) {
		previous = a.UsageCap
		a.UsageCap = newCap
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("usage cap changed",
		"account_id", id,
		"actor", actor,
		"previous_cap", previous,
		"cap", newCap,
		"tier", acct.Tier,
	)
	s.recordOverride(ctx, audit.EventSetCap, OpSetCap, actor, acct, strconv.Itoa(previous))
	return acct, nil
}

func (s *quotaService) ResetCounter(ctx context.Context, actor string, id uuid.UUID) (acct *domain.Account, err error) {
	const op = "quota.reset_counter"
	start := time.Now()
	defer func() { metrics.OperationFinished(OpResetCounter, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var previous int
	acct, err = s.mutate(ctx, op, OpResetCounter, id, func(a *domain.Account) (bool, error) {
		previous = a.UsageCount
		a.UsageCount = 0
		a.CycleAnchor = s.now().UTC()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("usage counter reset",
		"account_id", id,
		"actor", actor,
		"previous_count", previous,
	)
	s.recordOverride(ctx, audit.EventResetCounter, OpResetCounter, actor, acct, strconv.Itoa(previous))
	return acct, nil
}

func (s *quotaService) ChangeTier(ctx context.Context, actor string, id uuid.UUID, tier domain.Tier, expiresAt *time.Time) (acct *domain.Account, err error) {
	const op = "quota.change_tier"
	start := time.Now()
	defer func() { metrics.OperationFinished(OpChangeTier, start, err) }()

	if !tier.Valid() {
		return nil, domain.InvalidTier(op, string(tier))
	}
	if tier != domain.TierVIP {
		expiresAt = nil
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		expiresAt = &exp
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var previous domain.Tier
	acct, err = s.mutate(ctx, op, OpChangeTier, id, func(a *domain.Account) (bool, error) {
		previous = a.Tier
		a.Tier = tier
		a.SubscriptionExpiresAt = expiresAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tier changed",
		"account_id", id,
		"actor", actor,
		"previous_tier", previous,
		"tier", tier,
		"expires_at", expiresAt,
	)
	s.recordOverride(ctx, audit.EventChangeTier, OpChangeTier, actor, acct, string(previous))
	return acct, nil
}

func (s *quotaService) SweepStaleCycles(ctx context.Context, batch int) (int, error) {
	const op = "quota.cycle_sweep"

	now := s.now()
	ids, err := s.store.ListStale(ctx, domain.CycleStart(now), batch)
	if err != nil {
		return 0, s.storageError(ctx, op, err)
	}

	var errs []error
	reset := 0
	for _, id := range ids {
		var rolled bool
		acct, err := s.mutate(ctx, op, OpCycleSweep, id, func(a *domain.Account) (bool, error) {
			// The row may have been incremented or reset since it was listed.
			rolled = domain.RollCycle(a, s.now())
			return rolled, nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				continue
			}
			s.logger.Warn("cycle sweep failed for account", "account_id", id, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !rolled {
			continue
		}
		reset++
		metrics.CycleSweepResetsTotal.Inc()
		s.recordOverride(ctx, audit.EventCycleSweep, OpCycleSweep, ActorScheduler, acct, "")
	}

	if reset > 0 {
		s.logger.Info("cycle sweep completed", "listed", len(ids), "reset", reset)
	}
	return reset, errors.Join(errs...)
}

// =============================================================================
// Helpers
// =============================================================================

// mutate runs fn through the store, retrying lost races with jittered
// exponential backoff until ConflictRetries is exhausted.
func (s *quotaService) mutate(ctx context.Context, op, metricOp string, id uuid.UUID, fn accountstore.MutateFunc) (*domain.Account, error) {
	b := retry.NewExponential(s.cfg.RetryBaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(uint64(s.cfg.ConflictRetries), b)

	var result *domain.Account
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		acct, err := s.store.Mutate(ctx, id, fn)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				metrics.ConflictRetried(metricOp)
				s.logger.Debug("concurrent update, retrying", "account_id", id, "op", op)
				return retry.RetryableError(err)
			}
			return err
		}
		result = acct
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.logger.Warn("concurrent update retries exhausted", "account_id", id, "op", op, "retries", s.cfg.ConflictRetries)
			return nil, domain.Conflict(op, "account is busy, please retry")
		}
		return nil, s.storageError(ctx, op, err)
	}
	return result, nil
}

// storageError keeps domain-coded errors and maps a finished context to
// ErrStorageUnavailable, so a timeout never reads as allow or deny.
func (s *quotaService) storageError(ctx context.Context, op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(err, op)
	}
	s.logger.Error("unexpected storage error", "error", err, "op", op)
	return domain.Internal(err, op, "storage error")
}

func (s *quotaService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.OpTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *quotaService) recordDecision(ctx context.Context, operation string, id uuid.UUID, d domain.Decision, at time.Time) {
	metrics.DecisionRecorded(operation, d.Allowed, d.EffectiveTier)

	e := audit.Event{
		Type:      audit.EventDecisionDeny,
		AccountID: id,
		Actor:     id.String(),
		Operation: operation,
		Decision:  "deny",
		Tier:      d.EffectiveTier,
		Count:     d.Count,
		Cap:       d.Cap,
		Unlimited: d.Unlimited,
		Timestamp: at.UTC(),
	}
	if d.Allowed {
		e.Type = audit.EventDecisionAllow
		e.Decision = "allow"
	}
	s.emit(ctx, e)
}

func (s *quotaService) recordOverride(ctx context.Context, typ audit.EventType, operation, actor string, acct *domain.Account, previous string) {
	metrics.OverrideApplied(operation)
	s.emit(ctx, audit.Event{
		Type:      typ,
		AccountID: acct.ID,
		Actor:     actor,
		Operation: operation,
		Decision:  "override",
		Tier:      acct.Tier,
		Count:     acct.UsageCount,
		Cap:       acct.UsageCap,
		Previous:  previous,
		Timestamp: s.now().UTC(),
	})
}

// emit delivers an audit event. The write it describes has already
// committed, so a delivery failure is logged rather than returned.
func (s *quotaService) emit(ctx context.Context, e audit.Event) {
	if err := s.sink.Emit(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Error("failed to emit audit event",
			"error", err,
			"event", e.Type,
			"account_id", e.AccountID,
		)
	}
}
