// Package msg defines the envelope exchanged between contexts and the interface for the message brokers that carry
// it. Every context (coordinator, relay, page) consumes from its own endpoint and publishes to the endpoint of the
// next hop.
package msg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tarancss/walletlink/lib/types"
)

// Message types. A response carries the request type plus ResultSuffix.
const (
	TypeDetect           = "DETECT"
	TypeConnect          = "CONNECT"
	TypeDisconnect       = "DISCONNECT"
	TypeCancel           = "CANCEL" // reserved, no provider supports cancelling a prompt
	TypePageActive       = "PAGE_ACTIVE"
	TypePageInactive     = "PAGE_INACTIVE"
	TypeProvidersChanged = "PROVIDERS_CHANGED"

	ResultSuffix = "_RESULT"
)

// Well known endpoint names.
const (
	EndpointCoordinator = "coordinator"
	EndpointRelay       = "relay"
	EndpointPage        = "page"
)

// Fault is the error body of an unsuccessful response.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Envelope is the closed message contract: requests carry Payload, responses carry Success and either Data or Error.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *Fault          `json:"error,omitempty"`
}

// Errors returned by Validate.
var (
	ErrNoType        = errors.New("envelope without type")
	ErrMixedEnvelope = errors.New("envelope mixes request and response fields")
	ErrBadResponse   = errors.New("response must carry data on success or error on failure")
	ErrClosed        = errors.New("broker closed")
	ErrNoEndpoint    = errors.New("unknown endpoint")
)

// NewRequest builds a request envelope marshalling payload (which may be nil).
func NewRequest(typ, requestID string, payload interface{}) (Envelope, error) {
	e := Envelope{Type: typ, RequestID: requestID}

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return e, fmt.Errorf("cannot marshal %s payload: %w", typ, err)
		}

		e.Payload = b
	}

	return e, nil
}

// IsResponse reports whether the envelope is a response.
func (e Envelope) IsResponse() bool {
	return e.Success != nil
}

// Succeeded reports whether the envelope is a successful response.
func (e Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// RequestType returns the type of the request a response answers.
func (e Envelope) RequestType() string {
	if len(e.Type) > len(ResultSuffix) && e.Type[len(e.Type)-len(ResultSuffix):] == ResultSuffix {
		return e.Type[:len(e.Type)-len(ResultSuffix)]
	}

	return e.Type
}

// Reply builds the successful response to request e.
func (e Envelope) Reply(data interface{}) (Envelope, error) {
	ok := true
	r := Envelope{Type: e.Type + ResultSuffix, RequestID: e.RequestID, Success: &ok}

	b, err := json.Marshal(data)
	if err != nil {
		return e.Fail(types.CodeProviderResponseInvalid, err.Error()), fmt.Errorf("cannot marshal %s result: %w", e.Type, err)
	}

	r.Data = b

	return r, nil
}

// Fail builds the unsuccessful response to request e.
func (e Envelope) Fail(code, message string) Envelope {
	ko := false

	return Envelope{Type: e.Type + ResultSuffix, RequestID: e.RequestID, Success: &ko, Error: &Fault{Code: code, Message: message}}
}

// Validate checks the envelope against the closed contract.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return ErrNoType
	}

	if !e.IsResponse() {
		if e.Data != nil || e.Error != nil {
			return ErrMixedEnvelope
		}

		return nil
	}

	if e.Payload != nil {
		return ErrMixedEnvelope
	}

	if *e.Success && e.Error != nil || !*e.Success && e.Error == nil {
		return ErrBadResponse
	}

	return nil
}

// Broker is implemented by every transport. Consume may only be called once per endpoint; the returned channels are
// closed when the broker is closed.
type Broker interface {
	Setup(endpoints ...string) error
	Close() error

	Publish(ctx context.Context, endpoint string, e Envelope) error
	Consume(endpoint string) (<-chan Envelope, <-chan error, error)
}

// Announcement is the payload of PAGE_ACTIVE and PAGE_INACTIVE: the endpoint the announcing page consumes from.
type Announcement struct {
	Endpoint string `json:"endpoint"`
}
