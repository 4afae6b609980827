package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, freeCap int) *PolicyTable {
	t.Helper()
	table, err := NewPolicyTable(freeCap)
	require.NoError(t, err)
	return table
}

func TestPolicyTable_Lookup(t *testing.T) {
	table := mustTable(t, 5)

	tests := []struct {
		name          string
		tier          Tier
		wantUnlimited bool
		wantCap       int
		wantErr       bool
	}{
		{"free is capped", TierFree, false, 5, false},
		{"vip is unlimited", TierVIP, true, 0, false},
		{"admin is unlimited", TierAdmin, true, 0, false},
		{"unknown tier fails", Tier("gold"), false, 0, true},
		{"empty tier fails", Tier(""), false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := table.Lookup(tt.tier)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTier))
				assert.Equal(t, EINVALID, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnlimited, policy.Unlimited)
			assert.Equal(t, tt.wantCap, policy.Cap)
		})
	}
}

func TestNewPolicyTable_RejectsOutOfRangeCap(t *testing.T) {
	_, err := NewPolicyTable(-1)
	assert.Error(t, err)

	_, err = NewPolicyTable(MaxUsageCap + 1)
	assert.Equal(t, EINVALID, ErrorCode(err))

	table, err := NewPolicyTable(MaxUsageCap)
	assert.NoError(t, err)
	assert.Equal(t, MaxUsageCap, table.FreeCap())
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"free", TierFree, false},
		{"VIP", TierVIP, false},
		{" admin ", TierAdmin, false},
		{"premium", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTier)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide(t *testing.T) {
	table := mustTable(t, 5)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	thisMonth := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	lastMonth := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name        string
		tier        Tier
		count       int
		limit       int
		anchor      time.Time
		expires     *time.Time
		wantAllowed bool
		wantCount   int
		wantState   QuotaState
		wantEffTier Tier
	}{
		{"free under cap", TierFree, 4, 5, thisMonth, nil, true, 4, QuotaStateUnderCap, TierFree},
		{"free at cap", TierFree, 5, 5, thisMonth, nil, false, 5, QuotaStateAtCap, TierFree},
		{"free zero cap", TierFree, 0, 0, thisMonth, nil, false, 0, QuotaStateAtCap, TierFree},
		{"free stale counter treated as zero", TierFree, 5, 5, lastMonth, nil, true, 0, QuotaStateUnderCap, TierFree},
		{"vip ignores counter", TierVIP, 500, 5, thisMonth, nil, true, 500, QuotaStateUnlimited, TierVIP},
		{"vip with future expiry", TierVIP, 50, 5, thisMonth, &future, true, 50, QuotaStateUnlimited, TierVIP},
		{"expired vip evaluated as free", TierVIP, 5, 5, thisMonth, &past, false, 5, QuotaStateAtCap, TierFree},
		{"expired vip under cap", TierVIP, 2, 5, thisMonth, &past, true, 2, QuotaStateUnderCap, TierFree},
		{"admin ignores expiry", TierAdmin, 99, 0, thisMonth, &past, true, 99, QuotaStateUnlimited, TierAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := &Account{
				ID:                    uuid.New(),
				Tier:                  tt.tier,
				UsageCount:            tt.count,
				UsageCap:              tt.limit,
				CycleAnchor:           tt.anchor,
				SubscriptionExpiresAt: tt.expires,
			}
			before := *acct

			d, err := Decide(acct, table, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantCount, d.Count)
			assert.Equal(t, tt.wantState, d.State)
			assert.Equal(t, tt.wantEffTier, d.EffectiveTier)
			assert.Equal(t, tt.tier, d.Tier)

			// Decide never mutates the account
			assert.Equal(t, before, *acct)
		})
	}
}

func TestDecide_UnknownStoredTier(t *testing.T) {
	table := mustTable(t, 5)
	acct := &Account{ID: uuid.New(), Tier: Tier("platinum"), CycleAnchor: time.Now()}

	_, err := Decide(acct, table, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestDecision_AfterIncrement(t *testing.T) {
	d := Decision{Allowed: true, Count: 4, Cap: 5, State: QuotaStateUnderCap}
	after := d.AfterIncrement()
	assert.Equal(t, 5, after.Count)
	assert.Equal(t, QuotaStateAtCap, after.State)
	assert.Equal(t, 0, after.Remaining())

	u := Decision{Allowed: true, Count: 10, Unlimited: true, State: QuotaStateUnlimited}
	assert.Equal(t, QuotaStateUnlimited, u.AfterIncrement().State)
	assert.Equal(t, -1, u.Remaining())
}

func TestUsageFor(t *testing.T) {
	table := mustTable(t, 5)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	acct := NewAccount(uuid.New(), 5, now)
	acct.UsageCount = 3

	u, err := UsageFor(acct, table, now)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 2, u.Remaining)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), u.CycleStart)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), u.CycleEnd)
}
