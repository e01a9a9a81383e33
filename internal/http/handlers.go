package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/services"
)

type RecurringAPI interface {
	InitializeMonth(ctx context.Context, month core.Month) (int, error)
	RecurringData(ctx context.Context, month core.Month) ([]services.RecurringItemView, error)
	AutoLink(ctx context.Context, month core.Month) (int, error)
	AddCustomItem(ctx context.Context, month core.Month, name string, typ core.CategoryType, expected decimal.Decimal) (int64, error)
	RemoveCustomItem(ctx context.Context, mappingID int64) error
	MapTransaction(ctx context.Context, mappingID, txID int64) (services.RecurringItemView, error)
	UnmapTransaction(ctx context.Context, mappingID, txID int64) (services.RecurringItemView, error)
	SetSkipped(ctx context.Context, mappingID int64, skipped bool) error
	CategorizeInstallmentSiblings(ctx context.Context, txID int64, category, subcategory string) (int, error)
}

type InstallmentsAPI interface {
	Schedule(ctx context.Context, target core.Month, horizon int) ([]services.MonthInstallments, error)
	LastInstallmentMonth(ctx context.Context) (core.Month, error)
}

type MetricsAPI interface {
	Metricas(ctx context.Context, month core.Month) (services.MetricasResult, error)
}

type CategorizerAPI interface {
	SmartCategorize(ctx context.Context, month *core.Month, dryRun bool) (services.CategorizeReport, error)
	FindSimilarTransactions(ctx context.Context, txID int64) (services.RuleProposal, error)
	RenameTransaction(ctx context.Context, txID int64, newDescription string) (int, error)
	DetectInconsistencies(ctx context.Context) ([]services.Inconsistency, error)
}

type QualityAPI interface {
	Audit(ctx context.Context, month core.Month) (services.QualityReport, error)
}

type handlers struct {
	svc Services
}

func monthParam(r *http.Request) (core.Month, error) {
	return core.ParseMonth(chi.URLParam(r, "month"))
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing id: %w", core.ErrInvalidState)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding body: %w", core.ErrInvalidState)
	}
	return nil
}

func (h *handlers) initializeMonth(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.svc.Recurring.InitializeMonth(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *handlers) recurringData(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := h.svc.Recurring.RecurringData(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) autoLink(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	linked, err := h.svc.Recurring.AutoLink(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"linked": linked})
}

func (h *handlers) addCustomItem(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name     string          `json:"name"`
		Type     string          `json:"type"`
		Expected decimal.Decimal `json:"expected"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.svc.Recurring.AddCustomItem(r.Context(), month, req.Name, core.CategoryType(req.Type), req.Expected)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"mapping_id": id})
}

func (h *handlers) removeCustomItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Recurring.RemoveCustomItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type linkRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

func (h *handlers) mapTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.svc.Recurring.MapTransaction(r.Context(), id, req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) unmapTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.svc.Recurring.UnmapTransaction(r.Context(), id, req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) setSkipped(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Skipped bool `json:"skipped"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Recurring.SetSkipped(r.Context(), id, req.Skipped); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"skipped": req.Skipped})
}

func (h *handlers) categorizeSiblings(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Category    string `json:"category"`
		Subcategory string `json:"subcategory"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.svc.Recurring.CategorizeInstallmentSiblings(r.Context(), id, req.Category, req.Subcategory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *handlers) installmentSchedule(w http.ResponseWriter, r *http.Request) {
	target, err := core.ParseMonth(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, err)
		return
	}
	horizon := h.svc.InstallmentHorizon
	if horizon <= 0 {
		horizon = 12
	}
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		horizon, err = strconv.Atoi(raw)
		if err != nil || horizon < 1 {
			writeError(w, fmt.Errorf("parsing horizon: %w", core.ErrInvalidState))
			return
		}
	}
	schedule, err := h.svc.Installments.Schedule(r.Context(), target, horizon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *handlers) lastInstallmentMonth(w http.ResponseWriter, r *http.Request) {
	last, err := h.svc.Installments.LastInstallmentMonth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]string{"month": ""}
	if !last.IsZero() {
		out["month"] = last.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) metricas(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.svc.Metrics.Metricas(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) smartCategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month  string `json:"month"`
		DryRun bool   `json:"dry_run"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var month *core.Month
	if req.Month != "" {
		m, err := core.ParseMonth(req.Month)
		if err != nil {
			writeError(w, err)
			return
		}
		month = &m
	}
	report, err := h.svc.Categorizer.SmartCategorize(r.Context(), month, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) findSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proposal, err := h.svc.Categorizer.FindSimilarTransactions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (h *handlers) rename(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	renamed, err := h.svc.Categorizer.RenameTransaction(r.Context(), id, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"renamed": renamed})
}

func (h *handlers) inconsistencies(w http.ResponseWriter, r *http.Request) {
	found, err := h.svc.Categorizer.DetectInconsistencies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *handlers) quality(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.svc.Quality.Audit(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
