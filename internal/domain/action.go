package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies the type of billable work.
type ActionKind string

const (
	ActionKindSlideGeneration    ActionKind = "slide_generation"
	ActionKindAudioTranscription ActionKind = "audio_transcription"
	ActionKindImagePrompt        ActionKind = "image_prompt"
)

// Valid reports whether the kind is known.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionKindSlideGeneration, ActionKindAudioTranscription, ActionKindImagePrompt:
		return true
	}
	return false
}

// ActionOutcome records whether the billable work completed.
type ActionOutcome string

const (
	ActionOutcomeSuccess ActionOutcome = "success"
	ActionOutcomeFailure ActionOutcome = "failure"
)

// Valid reports whether the outcome is known.
func (o ActionOutcome) Valid() bool {
	return o == ActionOutcomeSuccess || o == ActionOutcomeFailure
}

// BillableAction is an append-only log entry written once per completed
// generation attempt. It is used for reporting only.
type BillableAction struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Kind      ActionKind
	Outcome   ActionOutcome
	Cost      int64 // tokens or equivalent
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// Validate checks the fields a caller supplies.
func (a *BillableAction) Validate() error {
	const op = "action.validate"
	if a.AccountID == uuid.Nil {
		return NewValidationError(op, "account_id", "is required")
	}
	if !a.Kind.Valid() {
		return NewValidationError(op, "kind", "must be one of slide_generation, audio_transcription, image_prompt")
	}
	if !a.Outcome.Valid() {
		return NewValidationError(op, "outcome", "must be success or failure")
	}
	if a.Cost < 0 {
		return NewValidationError(op, "cost", "must be non-negative")
	}
	if len(a.Metadata) > 0 && !json.Valid(a.Metadata) {
		return NewValidationError(op, "metadata", "must be valid JSON")
	}
	return nil
}

// ActionSummary aggregates an account's actions over a period.
type ActionSummary struct {
	AccountID uuid.UUID
	Actions   int64
	Successes int64
	Failures  int64
	TotalCost int64
}

// Summarize folds actions into per-account summaries ordered by first appearance.
func Summarize(actions []BillableAction) []ActionSummary {
	index := make(map[uuid.UUID]int)
	var out []ActionSummary
	for _, a := range actions {
		i, ok := index[a.AccountID]
		if !ok {
			i = len(out)
			index[a.AccountID] = i
			out = append(out, ActionSummary{AccountID: a.AccountID})
		}
		s := &out[i]
		s.Actions++
		s.TotalCost += a.Cost
		if a.Outcome == ActionOutcomeSuccess {
			s.Successes++
		} else {
			s.Failures++
		}
	}
	return out
}
