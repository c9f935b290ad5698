// Package types defines the data model shared by the probe, bridge, orchestrator and connection store, together with
// the error taxonomy surfaced to the UI.
package types

import (
	"time"
)

// DetectionResult is the outcome of one detection pass for one provider. A pass supersedes every previous result.
type DetectionResult struct {
	ProviderID   string    `json:"providerId"`
	Detected     bool      `json:"detected"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

// ConnectionRequest is issued by the orchestrator for a single provider attempt and consumed once by the bridge.
type ConnectionRequest struct {
	RequestID           string        `json:"requestId"`
	ProviderID          string        `json:"providerId"`
	PreferredProviderID string        `json:"preferredProviderId,omitempty"`
	IssuedAt            time.Time     `json:"issuedAt"`
	Timeout             time.Duration `json:"timeoutMs"`
}

// ConnectPayload is the payload of a CONNECT envelope as seen by the page. The request expires TimeoutMs after
// IssuedAtEpochMs; a page receiving it later must not prompt the user.
type ConnectPayload struct {
	ProviderID      string `json:"providerId"`
	TimeoutMs       int64  `json:"timeoutMs"`
	IssuedAtEpochMs int64  `json:"issuedAtEpochMs,omitempty"`
}

// Payload returns the wire payload for the request.
func (r ConnectionRequest) Payload() ConnectPayload {
	p := ConnectPayload{ProviderID: r.ProviderID, TimeoutMs: r.Timeout.Milliseconds()}
	if !r.IssuedAt.IsZero() {
		p.IssuedAtEpochMs = r.IssuedAt.UnixMilli()
	}

	return p
}

// Deadline returns the instant the request expires, false when it carries no issue time or timeout.
func (p ConnectPayload) Deadline() (time.Time, bool) {
	if p.IssuedAtEpochMs <= 0 || p.TimeoutMs <= 0 {
		return time.Time{}, false
	}

	return time.UnixMilli(p.IssuedAtEpochMs + p.TimeoutMs), true
}

// DisconnectPayload is the payload of a DISCONNECT envelope.
type DisconnectPayload struct {
	ProviderID string `json:"providerId"`
}

// ConnectionResult is the canonical shape every provider response is normalized into. Error holds an error code
// (see Code) when Success is false.
type ConnectionResult struct {
	Success    bool   `json:"success"`
	ProviderID string `json:"providerId"`
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey,omitempty"`
	Network    string `json:"network"`
	Error      string `json:"error,omitempty"`
}

// Failed returns an unsuccessful result for the given provider carrying the code of err.
func Failed(providerID string, err error) ConnectionResult {
	return ConnectionResult{ProviderID: providerID, Error: Code(err)}
}

// PersistedConnection is the durable record of the last successful connection.
type PersistedConnection struct {
	Connection         ConnectionResult `json:"connection"`
	ConnectedAtEpochMs int64            `json:"connectedAtEpochMs"`
}

// ConnectedAt returns the connection time.
func (p PersistedConnection) ConnectedAt() time.Time {
	return time.UnixMilli(p.ConnectedAtEpochMs)
}

// Stale reports whether the entry is older than ttl at instant now.
func (p PersistedConnection) Stale(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-p.ConnectedAtEpochMs > ttl.Milliseconds()
}
