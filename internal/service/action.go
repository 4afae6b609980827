package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/lectgen/internal/accountstore"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/metrics"
	"github.com/google/uuid"
)

// ActionService records billable actions for reporting. Records are never
// consulted by the entitlement check.
type ActionService interface {
	// RecordAction validates and appends a record. ID and CreatedAt are
	// filled when empty.
	RecordAction(ctx context.Context, a *domain.BillableAction) error

	// ListActions returns an account's actions in [from, to).
	ListActions(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error)

	// SummarizeActions returns per-account totals in [from, to).
	SummarizeActions(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error)
}

type actionService struct {
	log      accountstore.ActionLog
	accounts accountstore.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewActionService creates a new ActionService.
func NewActionService(log accountstore.ActionLog, accounts accountstore.Store, logger *slog.Logger) ActionService {
	return &actionService{
		log:      log,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *actionService) RecordAction(ctx context.Context, a *domain.BillableAction) error {
	const op = "action.record"

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := a.Validate(); err != nil {
		return err
	}

	if _, err := s.accounts.Get(ctx, a.AccountID); err != nil {
		return err
	}

	if err := s.log.Append(ctx, a); err != nil {
		s.logger.Error("failed to record billable action", "error", err, "op", op, "account_id", a.AccountID)
		return err
	}

	metrics.ActionRecorded(a)
	s.logger.Debug("billable action recorded",
		"action_id", a.ID,
		"account_id", a.AccountID,
		"kind", a.Kind,
		"outcome", a.Outcome,
		"cost", a.Cost,
	)
	return nil
}

func (s *actionService) ListActions(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error) {
	const op = "action.list"
	if !from.Before(to) {
		return nil, domain.Invalid(op, "from must be before to")
	}
	return s.log.ListByAccount(ctx, accountID, from, to)
}

func (s *actionService) SummarizeActions(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error) {
	const op = "action.summarize"
	if !from.Before(to) {
		return nil, domain.Invalid(op, "from must be before to")
	}
	return s.log.Summarize(ctx, from, to)
}
