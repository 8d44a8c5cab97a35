package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/services"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBytes = 64 << 10

type intentResponse struct {
	ID               string              `json:"id"`
	Amount           string              `json:"amount"`
	Method           string              `json:"method"`
	GatewayReference string              `json:"gateway_reference"`
	Status           models.IntentStatus `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	ResolvedAt       *time.Time          `json:"resolved_at,omitempty"`
}

func intentView(i models.PaymentIntent) intentResponse {
	return intentResponse{
		ID:               i.ID,
		Amount:           money.FormatMinor(i.Amount),
		Method:           i.Method,
		GatewayReference: i.GatewayReference,
		Status:           i.Status,
		CreatedAt:        i.CreatedAt,
		ResolvedAt:       i.ResolvedAt,
	}
}

type createIntentRequest struct {
	Amount   string            `json:"amount"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	intent, err := h.payments.CreateIntent(r.Context(), actor, amount, req.Method, req.Metadata)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, intentView(intent))
}

func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	intent, err := h.payments.GetIntent(r.Context(), actor, chi.URLParam(r, "reference"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, intentView(intent))
}

// PaymentWebhook verifies a gateway callback and reconciles it. Duplicate
// deliveries are acknowledged without effect. When storage is down the
// callback is queued and acknowledged so the gateway stops resending it.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	event, err := h.gateways.Verify(provider, r.Header, body)
	switch {
	case errors.Is(err, gateway.ErrIgnoredEvent):
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, gateway.ErrUnknownProvider):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected", slog.String("provider", provider))
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome := services.PaymentOutcome(event.Status)
	result, err := h.payments.Reconcile(r.Context(), event.Reference, outcome)
	if err != nil && services.IsRetryable(err) && h.queue != nil {
		qerr := h.queue.EnqueueReconcile(r.Context(), event.Reference, outcome)
		if qerr == nil {
			respondJSON(w, http.StatusAccepted, map[string]string{
				"status":            "queued",
				"gateway_reference": event.Reference,
			})
			return
		}
		h.logger.Error("unable to queue reconcile",
			slog.String("gateway_reference", event.Reference),
			slog.Any("error", qerr),
		)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            result.Intent.Status,
		"gateway_reference": result.Intent.GatewayReference,
		"replayed":          result.Replayed,
	})
}
