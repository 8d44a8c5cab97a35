package handlers

import (
	"net/http"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/websocket"
)

type entryResponse struct {
	Seq          int64            `json:"seq"`
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Amount       string           `json:"amount"`
	Kind         models.EntryKind `json:"kind"`
	BalanceAfter string           `json:"balance_after"`
	ReferenceID  string           `json:"reference_id"`
	CreatedAt    time.Time        `json:"created_at"`
}

func entryViews(entries []models.LedgerEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			Seq:          e.Seq,
			ID:           e.ID,
			AccountID:    e.AccountID,
			Amount:       money.FormatMinor(e.Amount),
			Kind:         e.Kind,
			BalanceAfter: money.FormatMinor(e.BalanceAfter),
			ReferenceID:  e.ReferenceID,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	account, err := h.wallet.AccountFor(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": account.ID,
		"balance":    money.FormatMinor(account.Balance),
	})
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	entries, err := h.wallet.ListEntries(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entries": entryViews(entries),
		"limit":   limit,
		"offset":  offset,
	})
}

type withdrawRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.withdrawals.Withdraw(r.Context(), actor, amount, req.Method)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"withdrawal_id": result.Withdrawal.ID,
		"status":        result.Withdrawal.Status,
		"amount":        money.FormatMinor(result.Withdrawal.Amount),
		"balance":       money.FormatMinor(result.Entry.BalanceAfter),
	})
}

// WSBalances streams balance changes for the caller's account. The current
// balance is sent first so the client never starts from a stale value.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var snapshot *websocket.BalanceUpdate
	if account, err := h.wallet.AccountFor(r.Context(), actor.UserID); err == nil {
		snapshot = &websocket.BalanceUpdate{
			AccountID: account.ID,
			Balance:   money.FormatMinor(account.Balance),
			Kind:      "snapshot",
		}
	}
	websocket.ServeWS(w, r, h.hub, actor.UserID, snapshot)
}
