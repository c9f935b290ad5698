package types

import (
	"errors"
)

// Error taxonomy. The UI must be able to tell these apart, so they are never collapsed into a generic failure.
var (
	ErrNoProviderDetected      = errors.New("no wallet provider detected")
	ErrRelayUnreachable        = errors.New("no active page reachable through the relay")
	ErrProviderTimeout         = errors.New("provider did not answer in time")
	ErrProviderRejected        = errors.New("request rejected by the user")
	ErrProviderResponseInvalid = errors.New("provider response could not be normalized")
	ErrStorageUnavailable      = errors.New("connection storage unavailable")
	ErrProviderFailed          = errors.New("provider failed")
	ErrUnknownProvider         = errors.New("unknown provider")
	ErrUnsupportedType         = errors.New("unsupported message type")
)

// Wire codes for the errors above.
const (
	CodeNoProviderDetected      = "NO_PROVIDER_DETECTED"
	CodeRelayUnreachable        = "RELAY_UNREACHABLE"
	CodeProviderTimeout         = "PROVIDER_TIMEOUT"
	CodeProviderRejected        = "PROVIDER_REJECTED"
	CodeProviderResponseInvalid = "PROVIDER_RESPONSE_INVALID"
	CodeStorageUnavailable      = "STORAGE_UNAVAILABLE"
	CodeProviderFailed          = "PROVIDER_FAILED"
	CodeUnknownProvider         = "UNKNOWN_PROVIDER"
	CodeUnsupportedType         = "UNSUPPORTED_TYPE"
)

var codes = []struct { //nolint:gochecknoglobals // static table
	err      error
	code     string
	guidance string
}{
	{ErrNoProviderDetected, CodeNoProviderDetected, "No wallet was found. Install a supported wallet extension and reload the page."},
	{ErrRelayUnreachable, CodeRelayUnreachable, "No page is reachable. Open a normal web page in the active tab and try again."},
	{ErrProviderTimeout, CodeProviderTimeout, "The wallet did not answer in time. Try connecting again."},
	{ErrProviderRejected, CodeProviderRejected, "The connection was declined. Retry or check your wallet."},
	{ErrProviderResponseInvalid, CodeProviderResponseInvalid, "The wallet returned a response that could not be read."},
	{ErrStorageUnavailable, CodeStorageUnavailable, "The connection will not be remembered between sessions."},
	{ErrProviderFailed, CodeProviderFailed, "The wallet reported an error. Make sure it is unlocked and try again."},
	{ErrUnknownProvider, CodeUnknownProvider, "The requested wallet is not supported."},
	{ErrUnsupportedType, CodeUnsupportedType, "The request is not supported."},
}

// Code returns the wire code for err, or CodeProviderFailed for errors outside the taxonomy. A nil error has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeProviderFailed
}

// FromCode returns the sentinel error for a wire code, ErrProviderFailed when the code is unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}

	return ErrProviderFailed
}

// Guidance returns the user-facing message for err.
func Guidance(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.guidance
		}
	}

	return err.Error()
}
