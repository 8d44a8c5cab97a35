package handlers

import (
	"errors"
	"net/http"

	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/services"
	"marketplace/internal/store"

	"github.com/jmoiron/sqlx"
)

type provisionRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// ProvisionMe records the caller's identity and opens their wallet. Client
// and freelancer roles are taken from the token; admin is only granted by
// another admin.
func (h *Handler) ProvisionMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.users.Upsert(r.Context(), tx, actor.UserID, req.Email, req.DisplayName); err != nil {
			return err
		}
		for _, role := range actor.Roles {
			if role == models.RoleAdmin {
				continue
			}
			if err := h.roles.Grant(r.Context(), tx, actor.UserID, string(role)); err != nil {
				return err
			}
		}
		return h.audit.Log(r.Context(), tx, actor.UserID, "user.provision", "user", actor.UserID, marshalAuditData(map[string]string{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}))
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondError(w, http.StatusConflict, "email already in use")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	account, err := h.wallet.OpenAccount(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    actor.UserID,
		"account_id": account.ID,
		"balance":    money.FormatMinor(account.Balance),
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeServiceError(w, r, services.ErrUnknownUser)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	roles, err := h.roles.Roles(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	for _, role := range roles {
		user.Roles = append(user.Roles, models.Role(role))
	}
	response := map[string]any{"user": user}
	if account, err := h.wallet.AccountFor(r.Context(), actor.UserID); err == nil {
		response["account_id"] = account.ID
		response["balance"] = money.FormatMinor(account.Balance)
	}
	respondJSON(w, http.StatusOK, response)
}
