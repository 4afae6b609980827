package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/export"
	"github.com/DukeRupert/lectgen/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// UsageExporter writes a month's usage report.
type UsageExporter interface {
	ExportMonth(ctx context.Context, month time.Time) (*export.Result, error)
}

// AdminHandler handles the administrative override endpoints.
type AdminHandler struct {
	quota    service.QuotaService
	exporter UsageExporter
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(quota service.QuotaService, exporter UsageExporter, validate *validator.Validate, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		quota:    quota,
		exporter: exporter,
		validate: validate,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("POST /api/admin/accounts", requireAdmin(http.HandlerFunc(h.CreateAccount)))
	mux.Handle("GET /api/admin/accounts/{id}", requireAdmin(http.HandlerFunc(h.AccountDetail)))
	mux.Handle("PUT /api/admin/accounts/{id}/cap", requireAdmin(http.HandlerFunc(h.SetCap)))
	mux.Handle("POST /api/admin/accounts/{id}/reset", requireAdmin(http.HandlerFunc(h.ResetCounter)))
	mux.Handle("PUT /api/admin/accounts/{id}/tier", requireAdmin(http.HandlerFunc(h.ChangeTier)))
	mux.Handle("POST /api/admin/exports", requireAdmin(http.HandlerFunc(h.Export)))
}

// CreateAccount registers a FREE account, with a generated id unless one is given.
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin.create_account"

	var req CreateAccountRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	id := uuid.Nil
	if req.ID != nil {
		id = *req.ID
	}
	acct, err := h.quota.CreateAccount(r.Context(), actor(r), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(acct))
}

// AccountDetail returns the stored account and its current usage view.
func (h *AdminHandler) AccountDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	acct, err := h.quota.GetAccount(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	usage, err := h.quota.GetUsage(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": newAccountResponse(acct),
		"usage":   newUsageResponse(usage),
	})
}

// SetCap changes the account's FREE-tier cap.
func (h *AdminHandler) SetCap(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin.set_cap"

	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req SetCapRequest
	if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	acct, err := h.quota.SetCap(r.Context(), actor(r), id, *req.Cap)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

// ResetCounter zeroes the account's counter and starts a new cycle now.
func (h *AdminHandler) ResetCounter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	acct, err := h.quota.ResetCounter(r.Context(), actor(r), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

// ChangeTier moves the account to another tier.
func (h *AdminHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin.change_tier"

	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req ChangeTierRequest
	if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	acct, err := h.quota.ChangeTier(r.Context(), actor(r), id, tier, req.ExpiresAt)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

// Export writes the usage report for the requested month, or the previous
// month when none is given.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin.export"

	var req ExportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	month := domain.CycleStart(h.now()).AddDate(0, -1, 0)
	if req.Month != "" {
		parsed, err := time.Parse("2006-01", req.Month)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "month", "must match the format 2006-01"))
			return
		}
		month = parsed
	}

	res, err := h.exporter.ExportMonth(r.Context(), month)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("usage export requested", "actor", actor(r), "month", res.Month.Format("2006-01"))
	writeJSON(w, http.StatusCreated, newExportResponse(res))
}

func (h *AdminHandler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.admin", "account id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func actor(r *http.Request) string {
	return auth.GetPrincipalFromRequest(r).Actor()
}
