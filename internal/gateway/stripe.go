package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	StripeSignatureHeader = "Stripe-Signature"
	// ReferenceMetadataKey is the PaymentIntent metadata key that carries the
	// reference issued when the intent was created here.
	ReferenceMetadataKey = "gateway_reference"
)

type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Verify(header http.Header, body []byte) (Event, error) {
	if v.secret == "" {
		return Event{}, fmt.Errorf("%w: stripe secret not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(body, header.Get(StripeSignatureHeader), v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureErr(err) {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := Event{Type: string(evt.Type)}
	switch event.Type {
	case "payment_intent.succeeded":
		event.Status = StatusSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		event.Status = StatusFailed
	default:
		return event, ErrIgnoredEvent
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: event has no object", ErrMalformedPayload)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	event.ProviderID = intent.ID
	event.Reference = intent.Metadata[ReferenceMetadataKey]
	return event, nil
}

func isStripeSignatureErr(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// SignStripe builds a Stripe-Signature header value for body, as Stripe
// would when delivering it at the given time.
func SignStripe(secret string, at time.Time, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(webhook.ComputeSignature(at, body, secret)))
}
