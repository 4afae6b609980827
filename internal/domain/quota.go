// Package domain contains core business types and interfaces.
//
// This file defines the tier policy table and the entitlement decision that
// gates billable actions.
package domain

import (
	"math"
	"time"
)

// DefaultFreeMonthlyQuota is the FREE cap used when none is configured.
const DefaultFreeMonthlyQuota = 5

// MaxUsageCap is the largest cap every store can persist. Postgres keeps
// counters and caps in INTEGER columns.
const MaxUsageCap = math.MaxInt32

// QuotaState is the per-account position relative to its cap.
type QuotaState string

const (
	QuotaStateUnderCap  QuotaState = "under_cap"
	QuotaStateAtCap     QuotaState = "at_cap"
	QuotaStateUnlimited QuotaState = "unlimited"
)

// Policy defines the entitlement rules for a tier.
type Policy struct {
	Unlimited bool
	// Cap is the default cap assigned to new accounts of this tier. Accounts
	// carry their own cap once created.
	Cap int
	// Priority orders tiers for reporting; it never affects a decision.
	Priority int
}

// PolicyTable maps tiers to their policies.
type PolicyTable struct {
	policies map[Tier]Policy
}

// NewPolicyTable builds the table with the given FREE monthly cap.
func NewPolicyTable(freeCap int) (*PolicyTable, error) {
	if freeCap < 0 || freeCap > MaxUsageCap {
		return nil, Errorf(EINVALID, "policy.new", "free monthly quota must be between 0 and %d, got %d", MaxUsageCap, freeCap)
	}
	return &PolicyTable{
		policies: map[Tier]Policy{
			TierFree:  {Cap: freeCap, Priority: 0},
			TierVIP:   {Unlimited: true, Priority: 50},
			TierAdmin: {Unlimited: true, Priority: 100},
		},
	}, nil
}

// Lookup returns the policy for a tier. Unknown tiers are an error rather
// than falling back to FREE or unlimited.
func (p *PolicyTable) Lookup(tier Tier) (Policy, error) {
	policy, ok := p.policies[tier]
	if !ok {
		return Policy{}, InvalidTier("policy.lookup", string(tier))
	}
	return policy, nil
}

// FreeCap returns the configured FREE default cap.
func (p *PolicyTable) FreeCap() int {
	return p.policies[TierFree].Cap
}

// Decision is the outcome of an entitlement check. A denial is a normal
// result, not an error.
type Decision struct {
	Allowed       bool
	Count         int
	Cap           int
	Unlimited     bool
	State         QuotaState
	Tier          Tier
	EffectiveTier Tier
}

// Remaining returns how many actions are left in the cycle, or -1 when unlimited.
func (d Decision) Remaining() int {
	if d.Unlimited {
		return -1
	}
	if d.Count >= d.Cap {
		return 0
	}
	return d.Cap - d.Count
}

// Decide answers whether the account may perform one more billable action at
// now. It is pure: the account is not modified.
func Decide(a *Account, table *PolicyTable, now time.Time) (Decision, error) {
	effTier := a.EffectiveTier(now)
	policy, err := table.Lookup(effTier)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Count:         EffectiveCount(a, now),
		Cap:           a.UsageCap,
		Tier:          a.Tier,
		EffectiveTier: effTier,
	}

	if policy.Unlimited {
		d.Allowed = true
		d.Unlimited = true
		d.State = QuotaStateUnlimited
		return d, nil
	}

	d.Allowed = d.Count < d.Cap
	d.State = stateFor(d.Count, d.Cap)
	return d, nil
}

// AfterIncrement returns the decision as it reads once the allowed action has
// been counted.
func (d Decision) AfterIncrement() Decision {
	d.Count++
	if !d.Unlimited {
		d.State = stateFor(d.Count, d.Cap)
	}
	return d
}

func stateFor(count, limit int) QuotaState {
	if count >= limit {
		return QuotaStateAtCap
	}
	return QuotaStateUnderCap
}

// Usage is the display view of an account's quota within the current cycle.
type Usage struct {
	AccountID     string
	Tier          Tier
	EffectiveTier Tier
	Used          int
	Cap           int
	Remaining     int
	Unlimited     bool
	State         QuotaState
	Priority      int
	CycleStart    time.Time
	CycleEnd      time.Time
	ExpiresAt     *time.Time
}

// UsageFor builds the display view for an account at now.
func UsageFor(a *Account, table *PolicyTable, now time.Time) (Usage, error) {
	d, err := Decide(a, table, now)
	if err != nil {
		return Usage{}, err
	}
	policy, _ := table.Lookup(d.EffectiveTier)
	return Usage{
		AccountID:     a.ID.String(),
		Tier:          d.Tier,
		EffectiveTier: d.EffectiveTier,
		Used:          d.Count,
		Cap:           d.Cap,
		Remaining:     d.Remaining(),
		Unlimited:     d.Unlimited,
		State:         d.State,
		Priority:      policy.Priority,
		CycleStart:    CycleStart(now),
		CycleEnd:      CycleEnd(now),
		ExpiresAt:     a.SubscriptionExpiresAt,
	}, nil
}
