package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

const MpesaSignatureHeader = "X-Mpesa-Signature"

type MpesaVerifier struct {
	secret []byte
}

func NewMpesaVerifier(secret string) *MpesaVerifier {
	return &MpesaVerifier{secret: []byte(secret)}
}

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			AccountReference  string `json:"AccountReference"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Verify checks the hex HMAC-SHA256 of the body. The STK push is sent with
// the intent reference as AccountReference, which the callback echoes back.
// ResultCode 0 is a successful push; anything else is a failure.
func (v *MpesaVerifier) Verify(header http.Header, body []byte) (Event, error) {
	if len(v.secret) == 0 {
		return Event{}, fmt.Errorf("%w: mpesa secret not configured", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(header.Get(MpesaSignatureHeader))
	if err != nil || len(sig) == 0 {
		return Event{}, ErrInvalidSignature
	}
	if !hmac.Equal(sig, mpesaMAC(v.secret, body)) {
		return Event{}, ErrInvalidSignature
	}

	var payload mpesaCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	cb := payload.Body.StkCallback
	if cb.ResultCode == nil {
		return Event{}, fmt.Errorf("%w: missing ResultCode", ErrMalformedPayload)
	}
	event := Event{
		Type:       "stk_callback",
		Reference:  cb.AccountReference,
		ProviderID: cb.CheckoutRequestID,
		Status:     StatusFailed,
	}
	if *cb.ResultCode == 0 {
		event.Status = StatusSucceeded
	}
	return event, nil
}

func mpesaMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func SignMpesa(secret string, body []byte) string {
	return hex.EncodeToString(mpesaMAC([]byte(secret), body))
}
