package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/DukeRupert/lectgen/internal/service"
)

// QuotaHandler serves the caller's own quota endpoints.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes with the provided middleware.
// requireConsume guards the counting endpoint and usually adds rate limiting
// on top of requireAccount.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux, requireAccount, requireConsume func(http.Handler) http.Handler) {
	mux.Handle("GET /api/quota", requireAccount(http.HandlerFunc(h.Usage)))
	mux.Handle("GET /api/quota/check", requireAccount(http.HandlerFunc(h.Check)))
	mux.Handle("POST /api/quota/consume", requireConsume(http.HandlerFunc(h.Consume)))
}

// Usage returns the caller's usage for the current cycle.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	usage, err := h.quota.GetUsage(r.Context(), p.AccountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUsageResponse(usage))
}

// Check answers whether the caller may start a generation, without counting it.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	d, err := h.quota.CheckEntitlement(r.Context(), p.AccountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(d))
}

// Consume counts one generation against the caller's quota. A denial is
// reported as 402 with the current usage.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	d, err := h.quota.TryIncrement(r.Context(), p.AccountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !d.Allowed {
		QuotaExceededResponse(w, newDecisionResponse(d))
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(d))
}
