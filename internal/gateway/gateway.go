package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderMpesa  Provider = "mpesa"
)

// Status is the normalised outcome of a verified gateway event.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrIgnoredEvent marks authentic events that carry no payment outcome.
	ErrIgnoredEvent = errors.New("event type ignored")
)

// Event is a verified callback. Reference is the intent reference issued at
// creation; ProviderID is the provider's own object id, kept for logs.
type Event struct {
	Provider   Provider `json:"provider"`
	Type       string   `json:"type"`
	Reference  string   `json:"reference"`
	ProviderID string   `json:"provider_id,omitempty"`
	Status     Status   `json:"status"`
}

// Verifier authenticates a raw callback and extracts its outcome.
type Verifier interface {
	Verify(header http.Header, body []byte) (Event, error)
}

type Registry struct {
	verifiers map[Provider]Verifier
}

func NewRegistry() *Registry {
	return &Registry{verifiers: map[Provider]Verifier{}}
}

func (r *Registry) Register(provider Provider, verifier Verifier) {
	r.verifiers[provider] = verifier
}

func (r *Registry) Verify(provider string, header http.Header, body []byte) (Event, error) {
	verifier, ok := r.verifiers[Provider(provider)]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	event, err := verifier.Verify(header, body)
	if err != nil {
		return Event{}, err
	}
	event.Provider = Provider(provider)
	if event.Reference == "" {
		return Event{}, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}
	return event, nil
}
