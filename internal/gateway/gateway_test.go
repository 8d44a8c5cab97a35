package gateway

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeBody(t *testing.T, eventType, intentID, reference string) []byte {
	t.Helper()
	object := map[string]any{"id": intentID, "object": "payment_intent", "amount": 5000, "currency": "usd"}
	if reference != "" {
		object["metadata"] = map[string]string{ReferenceMetadataKey: reference}
	}
	body, err := json.Marshal(map[string]any{
		"id":          "evt_1NxYzAbC",
		"object":      "event",
		"api_version": "2020-08-27",
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func newTestRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(ProviderStripe, NewStripeVerifier("whsec", 5*time.Minute))
	registry.Register(ProviderMpesa, NewMpesaVerifier("mpesa-secret"))
	return registry
}

func stripeHeader(value string) http.Header {
	header := http.Header{}
	if value != "" {
		header.Set(StripeSignatureHeader, value)
	}
	return header
}

func TestStripeVerifyReadsReferenceFromMetadata(t *testing.T) {
	body := stripeBody(t, "payment_intent.succeeded", "pi_3NxYzAbC", "stripe_ref-1")
	header := stripeHeader(SignStripe("whsec", time.Now().Add(-time.Minute), body))

	event, err := newTestRegistry().Verify("stripe", header, body)
	require.NoError(t, err)
	assert.Equal(t, Event{
		Provider:   ProviderStripe,
		Type:       "payment_intent.succeeded",
		Reference:  "stripe_ref-1",
		ProviderID: "pi_3NxYzAbC",
		Status:     StatusSucceeded,
	}, event)
}

func TestStripeVerifyFailures(t *testing.T) {
	now := time.Now()
	body := stripeBody(t, "payment_intent.succeeded", "pi_1", "stripe_ref-1")
	tampered := stripeBody(t, "payment_intent.succeeded", "pi_1", "stripe_ref-2")
	customer := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	noReference := stripeBody(t, "payment_intent.payment_failed", "pi_1", "")

	tests := []struct {
		name    string
		header  string
		body    []byte
		wantErr error
	}{
		{name: "missing header", body: body, wantErr: ErrInvalidSignature},
		{name: "wrong secret", header: SignStripe("other", now, body), body: body, wantErr: ErrInvalidSignature},
		{name: "stale timestamp", header: SignStripe("whsec", now.Add(-10*time.Minute), body), body: body, wantErr: ErrInvalidSignature},
		{name: "tampered body", header: SignStripe("whsec", now, body), body: tampered, wantErr: ErrInvalidSignature},
		{name: "no v1", header: "t=1700000000", body: body, wantErr: ErrInvalidSignature},
		{name: "not json", header: SignStripe("whsec", now, []byte("nope")), body: []byte("nope"), wantErr: ErrMalformedPayload},
		{name: "unrelated event", header: SignStripe("whsec", now, customer), body: customer, wantErr: ErrIgnoredEvent},
		{name: "intent without reference", header: SignStripe("whsec", now, noReference), body: noReference, wantErr: ErrMalformedPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestRegistry().Verify("stripe", stripeHeader(tc.header), tc.body)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestStripeFailedPayment(t *testing.T) {
	for _, eventType := range []string{"payment_intent.payment_failed", "payment_intent.canceled"} {
		body := stripeBody(t, eventType, "pi_2", "stripe_ref-2")
		event, err := newTestRegistry().Verify("stripe", stripeHeader(SignStripe("whsec", time.Now(), body)), body)
		require.NoError(t, err, eventType)
		assert.Equal(t, StatusFailed, event.Status)
		assert.Equal(t, "stripe_ref-2", event.Reference)
	}
}

func TestMpesaVerify(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status Status
	}{
		{
			name:   "success",
			body:   `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","AccountReference":"mpesa_ref-1","ResultCode":0,"ResultDesc":"ok"}}}`,
			status: StatusSucceeded,
		},
		{
			name:   "cancelled by user",
			body:   `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","AccountReference":"mpesa_ref-1","ResultCode":1032,"ResultDesc":"cancelled"}}}`,
			status: StatusFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			header.Set(MpesaSignatureHeader, SignMpesa("mpesa-secret", []byte(tc.body)))
			event, err := newTestRegistry().Verify("mpesa", header, []byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, "mpesa_ref-1", event.Reference)
			assert.Equal(t, "ws_CO_1", event.ProviderID)
			assert.Equal(t, tc.status, event.Status)
		})
	}
}

func TestMpesaVerifyRejects(t *testing.T) {
	registry := newTestRegistry()
	body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","AccountReference":"mpesa_ref-1","ResultCode":0}}}`)

	header := http.Header{}
	header.Set(MpesaSignatureHeader, SignMpesa("wrong", body))
	_, err := registry.Verify("mpesa", header, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	missingCode := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","AccountReference":"mpesa_ref-1"}}}`)
	header.Set(MpesaSignatureHeader, SignMpesa("mpesa-secret", missingCode))
	_, err = registry.Verify("mpesa", header, missingCode)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	noRef := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
	header.Set(MpesaSignatureHeader, SignMpesa("mpesa-secret", noRef))
	_, err = registry.Verify("mpesa", header, noRef)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestUnconfiguredSecretRejectsEverything(t *testing.T) {
	body := stripeBody(t, "payment_intent.succeeded", "pi_1", "stripe_ref-1")
	_, err := NewStripeVerifier("", time.Minute).Verify(stripeHeader(SignStripe("", time.Now(), body)), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestUnknownProvider(t *testing.T) {
	_, err := newTestRegistry().Verify("paypal", http.Header{}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
