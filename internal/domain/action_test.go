package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBillableAction_Validate(t *testing.T) {
	acct := uuid.New()

	tests := []struct {
		name      string
		action    BillableAction
		wantField string
	}{
		{"valid", BillableAction{AccountID: acct, Kind: ActionKindSlideGeneration, Outcome: ActionOutcomeSuccess, Cost: 1200}, ""},
		{"valid with metadata", BillableAction{AccountID: acct, Kind: ActionKindImagePrompt, Outcome: ActionOutcomeFailure, Metadata: json.RawMessage(`{"slides":12}`)}, ""},
		{"missing account", BillableAction{Kind: ActionKindSlideGeneration, Outcome: ActionOutcomeSuccess}, "account_id"},
		{"unknown kind", BillableAction{AccountID: acct, Kind: "pdf_render", Outcome: ActionOutcomeSuccess}, "kind"},
		{"unknown outcome", BillableAction{AccountID: acct, Kind: ActionKindSlideGeneration, Outcome: "partial"}, "outcome"},
		{"negative cost", BillableAction{AccountID: acct, Kind: ActionKindSlideGeneration, Outcome: ActionOutcomeSuccess, Cost: -1}, "cost"},
		{"bad metadata", BillableAction{AccountID: acct, Kind: ActionKindSlideGeneration, Outcome: ActionOutcomeSuccess, Metadata: json.RawMessage(`{`)}, "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			if assert.ErrorAs(t, err, &ve) {
				assert.Contains(t, ve.Fields, tt.wantField)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	actions := []BillableAction{
		{AccountID: a, Outcome: ActionOutcomeSuccess, Cost: 100},
		{AccountID: b, Outcome: ActionOutcomeFailure, Cost: 10},
		{AccountID: a, Outcome: ActionOutcomeFailure, Cost: 5},
	}

	got := Summarize(actions)
	assert.Equal(t, []ActionSummary{
		{AccountID: a, Actions: 2, Successes: 1, Failures: 1, TotalCost: 105},
		{AccountID: b, Actions: 1, Successes: 0, Failures: 1, TotalCost: 10},
	}, got)
	assert.Empty(t, Summarize(nil))
}
