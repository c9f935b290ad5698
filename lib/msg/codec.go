package msg

import (
	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // stateless codec

// Encode marshals an envelope for the wire and validates it first.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	return wire.Marshal(e)
}

// Decode unmarshals and validates an envelope read from the wire.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := wire.Unmarshal(b, &e); err != nil {
		return e, err
	}

	return e, e.Validate()
}
