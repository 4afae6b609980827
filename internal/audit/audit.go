// Package audit emits a record of every quota decision and administrative
// override. Delivery is delegated to a Sink; the default sink writes JSON
// lines with zerolog so they can be shipped separately from application logs.
package audit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies what happened.
type EventType string

const (
	EventDecisionAllow  EventType = "decision.allow"
	EventDecisionDeny   EventType = "decision.deny"
	EventSetCap         EventType = "override.set_cap"
	EventResetCounter   EventType = "override.reset_counter"
	EventChangeTier     EventType = "override.change_tier"
	EventCycleSweep     EventType = "override.cycle_sweep"
	EventAccountCreated EventType = "account.created"
)

// IsOverride reports whether the event records an administrative write.
func (t EventType) IsOverride() bool {
	switch t {
	case EventSetCap, EventResetCounter, EventChangeTier, EventCycleSweep:
		return true
	}
	return false
}

// Event is a single audit record.
type Event struct {
	Type      EventType
	AccountID uuid.UUID
	// Actor is the principal that triggered the event: the account itself for
	// decisions, the administrator for overrides, "scheduler" for sweeps.
	Actor     string
	// Operation names the engine entry point ("check", "try_increment", ...).
	Operation string
	Decision  string
	Tier      domain.Tier
	Count     int
	Cap       int
	Unlimited bool
	// Previous holds the overridden value where one exists (old cap, old tier).
	Previous  string
	Timestamp time.Time
}

// Sink delivers audit events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// =============================================================================
// Zerolog Sink
// =============================================================================

// ZerologSink writes one JSON line per event.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates a sink writing to w.
func NewZerologSink(w io.Writer) *ZerologSink {
	logger := zerolog.New(w).With().Str("stream", "audit").Logger()
	return &ZerologSink{logger: logger}
}

func (s *ZerologSink) Emit(_ context.Context, e Event) error {
	ev := s.logger.Info()
	if e.Type.IsOverride() {
		ev = s.logger.Warn()
	}

	ev = ev.
		Str("event", string(e.Type)).
		Str("account_id", e.AccountID.String()).
		Str("actor", e.Actor).
		Str("operation", e.Operation).
		Str("decision", e.Decision).
		Str("tier", string(e.Tier)).
		Int("count", e.Count).
		Time("at", e.Timestamp)

	if e.Unlimited {
		ev = ev.Bool("unlimited", true)
	} else {
		ev = ev.Int("cap", e.Cap)
	}
	if e.Previous != "" {
		ev = ev.Str("previous", e.Previous)
	}

	ev.Send()
	return nil
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder keeps events in memory. Useful in tests and for the nop wiring.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
