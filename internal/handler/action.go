package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/service"
	"github.com/go-playground/validator/v10"
)

// ActionHandler records and lists the caller's billable actions.
type ActionHandler struct {
	actions  service.ActionService
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(actions service.ActionService, validate *validator.Validate, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		actions:  actions,
		validate: validate,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers action routes with the provided middleware.
func (h *ActionHandler) RegisterRoutes(mux *http.ServeMux, requireAccount func(http.Handler) http.Handler) {
	mux.Handle("POST /api/actions", requireAccount(http.HandlerFunc(h.Record)))
	mux.Handle("GET /api/actions", requireAccount(http.HandlerFunc(h.List)))
}

// Record appends a billable action for the caller.
func (h *ActionHandler) Record(w http.ResponseWriter, r *http.Request) {
	const op = "handler.action.record"

	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req RecordActionRequest
	if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	action := &domain.BillableAction{
		AccountID: p.AccountID,
		Kind:      domain.ActionKind(req.Kind),
		Outcome:   domain.ActionOutcome(req.Outcome),
		Cost:      req.Cost,
		Metadata:  req.Metadata,
	}
	if err := h.actions.RecordAction(r.Context(), action); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newActionResponse(action))
}

// List returns the caller's actions in [from, to). Both bounds are RFC 3339;
// the current cycle is used when they are omitted.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handler.action.list"

	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	now := h.now()
	from, err := parseTimeParam(r, "from", domain.CycleStart(now))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "from must be an RFC 3339 timestamp"))
		return
	}
	to, err := parseTimeParam(r, "to", domain.CycleEnd(now))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "to must be an RFC 3339 timestamp"))
		return
	}

	actions, err := h.actions.ListActions(r.Context(), p.AccountID, from, to)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]ActionResponse, 0, len(actions))
	for i := range actions {
		out = append(out, newActionResponse(&actions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    from,
		"to":      to,
		"actions": out,
	})
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
