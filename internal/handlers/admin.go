package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketplace/internal/models"
	"marketplace/internal/money"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

func marshalAuditData(data map[string]string) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (h *Handler) LedgerAudit(w http.ResponseWriter, r *http.Request) {
	reports, err := h.wallet.AuditAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	mismatched := 0
	for _, report := range reports {
		if !report.OK() {
			mismatched++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"accounts":   len(reports),
		"mismatched": mismatched,
		"reports":    reports,
	})
}

func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	withdrawal, err := h.withdrawals.Complete(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"withdrawal_id": withdrawal.ID,
		"status":        withdrawal.Status,
	})
}

func (h *Handler) FailWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := h.withdrawals.Fail(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"withdrawal_id": result.Withdrawal.ID,
		"status":        result.Withdrawal.Status,
		"refunded":      money.FormatMinor(result.Entry.Amount),
	})
}

func (h *Handler) RefundDeposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := h.payments.RefundDeposit(r.Context(), actor, chi.URLParam(r, "reference"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, intentView(result.Intent))
}

type grantRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

var errUnknownRole = errors.New("unknown role")

func parseRole(raw string) (models.Role, error) {
	switch role := models.Role(raw); role {
	case models.RoleClient, models.RoleFreelancer, models.RoleAdmin:
		return role, nil
	}
	return "", errUnknownRole
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := parseRole(req.Role)
	if err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	exists, err := h.roles.UserExists(r.Context(), req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.roles.Grant(r.Context(), tx, req.UserID, string(role)); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, actor.UserID, "role.grant", "user", req.UserID, marshalAuditData(map[string]string{
			"role": string(role),
		}))
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	logs, err := h.audit.ListByEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
