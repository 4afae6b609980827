// Package domain contains core business types and interfaces.
//
// This file defines the Account type that owns a user's quota state. The
// counter, cap and cycle anchor are only ever written through the quota
// service's atomic mutate path.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier represents the subscription class of an account.
type Tier string

const (
	TierFree  Tier = "free"
	TierVIP   Tier = "vip"
	TierAdmin Tier = "admin"
)

// Tiers lists every known tier.
var Tiers = []Tier{TierFree, TierVIP, TierAdmin}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierVIP, TierAdmin:
		return true
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a boundary value into a Tier. Matching ignores case and
// surrounding whitespace; anything else is rejected with ErrInvalidTier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", InvalidTier("tier.parse", s)
	}
	return t, nil
}

// Account is the domain representation of a user's quota record.
type Account struct {
	ID                    uuid.UUID
	Tier                  Tier
	UsageCount            int
	UsageCap              int
	CycleAnchor           time.Time
	SubscriptionExpiresAt *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewAccount returns a FREE account with an empty counter anchored at now.
func NewAccount(id uuid.UUID, freeCap int, now time.Time) *Account {
	now = now.UTC()
	return &Account{
		ID:          id,
		Tier:        TierFree,
		UsageCount:  0,
		UsageCap:    freeCap,
		CycleAnchor: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SubscriptionExpired returns true if a paid subscription lapsed before now.
// ADMIN accounts never expire.
func (a *Account) SubscriptionExpired(now time.Time) bool {
	if a.Tier != TierVIP || a.SubscriptionExpiresAt == nil {
		return false
	}
	return a.SubscriptionExpiresAt.Before(now)
}

// EffectiveTier returns the tier used for entitlement decisions. A VIP whose
// subscription has lapsed is evaluated as FREE; the stored tier is untouched.
func (a *Account) EffectiveTier(now time.Time) Tier {
	if a.SubscriptionExpired(now) {
		return TierFree
	}
	return a.Tier
}

// Clone returns a deep copy so callers can mutate without sharing pointers.
func (a *Account) Clone() *Account {
	c := *a
	if a.SubscriptionExpiresAt != nil {
		exp := *a.SubscriptionExpiresAt
		c.SubscriptionExpiresAt = &exp
	}
	return &c
}
