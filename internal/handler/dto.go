package handler

import (
	"encoding/json"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/export"
	"github.com/google/uuid"
)

// =============================================================================
// Requests
// =============================================================================

// CreateAccountRequest is the body of POST /api/admin/accounts.
type CreateAccountRequest struct {
	ID *uuid.UUID `json:"id"`
}

// SetCapRequest is the body of PUT /api/admin/accounts/{id}/cap.
type SetCapRequest struct {
	Cap *int `json:"cap" validate:"required,min=0,max=2147483647"`
}

// ChangeTierRequest is the body of PUT /api/admin/accounts/{id}/tier.
type ChangeTierRequest struct {
	Tier      string     `json:"tier" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// RecordActionRequest is the body of POST /api/actions.
type RecordActionRequest struct {
	Kind     string          `json:"kind" validate:"required,oneof=slide_generation audio_transcription image_prompt"`
	Outcome  string          `json:"outcome" validate:"required,oneof=success failure"`
	Cost     int64           `json:"cost" validate:"min=0"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ExportRequest is the body of POST /api/admin/exports. Month is "YYYY-MM";
// the previous month is exported when it is empty.
type ExportRequest struct {
	Month string `json:"month" validate:"omitempty,datetime=2006-01"`
}

// =============================================================================
// Responses
// =============================================================================

// DecisionResponse reports an entitlement decision.
type DecisionResponse struct {
	Allowed       bool   `json:"allowed"`
	Used          int    `json:"used"`
	Cap           *int   `json:"cap"`
	Remaining     *int   `json:"remaining"`
	Unlimited     bool   `json:"unlimited"`
	State         string `json:"state"`
	Tier          string `json:"tier"`
	EffectiveTier string `json:"effective_tier"`
}

func newDecisionResponse(d domain.Decision) DecisionResponse {
	resp := DecisionResponse{
		Allowed:       d.Allowed,
		Used:          d.Count,
		Unlimited:     d.Unlimited,
		State:         string(d.State),
		Tier:          string(d.Tier),
		EffectiveTier: string(d.EffectiveTier),
	}
	if !d.Unlimited {
		limit, remaining := d.Cap, d.Remaining()
		resp.Cap = &limit
		resp.Remaining = &remaining
	}
	return resp
}

// UsageResponse is the display view of an account's current cycle.
type UsageResponse struct {
	AccountID     string     `json:"account_id"`
	Tier          string     `json:"tier"`
	EffectiveTier string     `json:"effective_tier"`
	Used          int        `json:"used"`
	Cap           *int       `json:"cap"`
	Remaining     *int       `json:"remaining"`
	Unlimited     bool       `json:"unlimited"`
	State         string     `json:"state"`
	CycleStart    time.Time  `json:"cycle_start"`
	CycleEnd      time.Time  `json:"cycle_end"`
	ExpiresAt     *time.Time `json:"subscription_expires_at,omitempty"`
}

func newUsageResponse(u *domain.Usage) UsageResponse {
	resp := UsageResponse{
		AccountID:     u.AccountID,
		Tier:          string(u.Tier),
		EffectiveTier: string(u.EffectiveTier),
		Used:          u.Used,
		Unlimited:     u.Unlimited,
		State:         string(u.State),
		CycleStart:    u.CycleStart,
		CycleEnd:      u.CycleEnd,
		ExpiresAt:     u.ExpiresAt,
	}
	if !u.Unlimited {
		limit, remaining := u.Cap, u.Remaining
		resp.Cap = &limit
		resp.Remaining = &remaining
	}
	return resp
}

// AccountResponse is the stored state of an account.
type AccountResponse struct {
	ID          uuid.UUID  `json:"id"`
	Tier        string     `json:"tier"`
	UsageCount  int        `json:"usage_count"`
	UsageCap    int        `json:"usage_cap"`
	CycleAnchor time.Time  `json:"cycle_anchor"`
	ExpiresAt   *time.Time `json:"subscription_expires_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID,
		Tier:        string(a.Tier),
		UsageCount:  a.UsageCount,
		UsageCap:    a.UsageCap,
		CycleAnchor: a.CycleAnchor,
		ExpiresAt:   a.SubscriptionExpiresAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// ActionResponse is a recorded billable action.
type ActionResponse struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Outcome   string          `json:"outcome"`
	Cost      int64           `json:"cost"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newActionResponse(a *domain.BillableAction) ActionResponse {
	return ActionResponse{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Outcome:   string(a.Outcome),
		Cost:      a.Cost,
		Metadata:  a.Metadata,
		CreatedAt: a.CreatedAt,
	}
}

// ExportResponse describes a written usage export.
type ExportResponse struct {
	Month    string `json:"month"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	Accounts int    `json:"accounts"`
}

func newExportResponse(r *export.Result) ExportResponse {
	return ExportResponse{
		Month:    r.Month.Format("2006-01"),
		Key:      r.Key,
		URL:      r.URL,
		Accounts: r.Accounts,
	}
}
