package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/lectgen/internal/accountstore"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActionFixture(t *testing.T) (*actionService, *accountstore.MemoryStore, uuid.UUID) {
	t.Helper()
	store := accountstore.NewMemoryStore()
	acct := domain.NewAccount(uuid.New(), 5, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Create(context.Background(), acct))

	svc := NewActionService(accountstore.NewMemoryActionLog(), store, testLogger()).(*actionService)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return svc, store, acct.ID
}

func TestActionService_RecordAction(t *testing.T) {
	svc, _, accountID := newActionFixture(t)
	ctx := context.Background()

	a := &domain.BillableAction{
		AccountID: accountID,
		Kind:      domain.ActionKindSlideGeneration,
		Outcome:   domain.ActionOutcomeSuccess,
		Cost:      12,
		Metadata:  json.RawMessage(`{"slides":8}`),
	}
	require.NoError(t, svc.RecordAction(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, svc.now(), a.CreatedAt)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := svc.ListActions(ctx, accountID, from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, int64(12), got[0].Cost)
}

func TestActionService_RecordActionRejects(t *testing.T) {
	svc, _, accountID := newActionFixture(t)

	tests := []struct {
		name   string
		action domain.BillableAction
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unknown kind",
			action: domain.BillableAction{AccountID: accountID, Kind: "video", Outcome: domain.ActionOutcomeSuccess},
			check: func(t *testing.T, err error) {
				assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
			},
		},
		{
			name:   "negative cost",
			action: domain.BillableAction{AccountID: accountID, Kind: domain.ActionKindImagePrompt, Outcome: domain.ActionOutcomeFailure, Cost: -1},
			check: func(t *testing.T, err error) {
				assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
			},
		},
		{
			name:   "unknown account",
			action: domain.BillableAction{AccountID: uuid.New(), Kind: domain.ActionKindAudioTranscription, Outcome: domain.ActionOutcomeSuccess},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrAccountNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.action
			err := svc.RecordAction(context.Background(), &a)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestActionService_RecordingDoesNotTouchQuota(t *testing.T) {
	svc, store, accountID := newActionFixture(t)
	ctx := context.Background()
	before, err := store.Get(ctx, accountID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.RecordAction(ctx, &domain.BillableAction{
			AccountID: accountID,
			Kind:      domain.ActionKindSlideGeneration,
			Outcome:   domain.ActionOutcomeSuccess,
		}))
	}

	after, err := store.Get(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, before.UsageCount, after.UsageCount)
	assert.Equal(t, before.Version, after.Version)
}

func TestActionService_Summarize(t *testing.T) {
	svc, _, accountID := newActionFixture(t)
	ctx := context.Background()

	for _, outcome := range []domain.ActionOutcome{domain.ActionOutcomeSuccess, domain.ActionOutcomeSuccess, domain.ActionOutcomeFailure} {
		require.NoError(t, svc.RecordAction(ctx, &domain.BillableAction{
			AccountID: accountID,
			Kind:      domain.ActionKindSlideGeneration,
			Outcome:   outcome,
			Cost:      5,
		}))
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	summaries, err := svc.SummarizeActions(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, accountID, summaries[0].AccountID)
	assert.Equal(t, int64(3), summaries[0].Actions)
	assert.Equal(t, int64(2), summaries[0].Successes)
	assert.Equal(t, int64(1), summaries[0].Failures)
	assert.Equal(t, int64(15), summaries[0].TotalCost)

	_, err = svc.SummarizeActions(ctx, to, from)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = svc.ListActions(ctx, accountID, to, to)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}
