package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"marketplace/internal/middleware"
	"marketplace/internal/money"
	"marketplace/internal/services"
	"marketplace/internal/validator"
)

const maxBodyBytes = 1 << 20

var errInvalidAmount = errors.New("invalid amount")

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return actor, ok
}

func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// writeServiceError is the single place domain errors become status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validator.Errors
	if errors.As(err, &fields) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return
	}
	switch {
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrSelfProposal):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrProposalNotFound),
		errors.Is(err, services.ErrIntentNotFound),
		errors.Is(err, services.ErrWithdrawalNotFound),
		errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrUnknownUser):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrNotCompleted),
		errors.Is(err, services.ErrTaskNotOpen),
		errors.Is(err, services.ErrDuplicateProposal),
		errors.Is(err, services.ErrProposalClosed),
		errors.Is(err, services.ErrNotDraft),
		errors.Is(err, services.ErrTaskLocked),
		errors.Is(err, services.ErrUnbalancedSettlement),
		errors.Is(err, services.ErrSettlementIntegrity),
		errors.Is(err, services.ErrPendingWithdrawal),
		errors.Is(err, services.ErrWithdrawalResolved),
		errors.Is(err, services.ErrIntentNotRefundable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, services.ErrProposalMismatch),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrFeeExceedsBudget),
		errors.Is(err, services.ErrUnknownTaskRole),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrUnsupportedMethod),
		errors.Is(err, services.ErrAmountOutOfRange),
		errors.Is(err, services.ErrBelowMinimum),
		errors.Is(err, services.ErrUnknownOutcome):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case services.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
