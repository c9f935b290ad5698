package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
)

// Adapter normalizes the raw connect response of a provider.
type Adapter func(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error)

// adapters is keyed by the response shape declared in the descriptor.
var adapters = map[provider.Shape]Adapter{ //nolint:gochecknoglobals // static table
	provider.ShapeString:    fromString,
	provider.ShapeAddresses: fromAddresses,
	provider.ShapeAddress:   fromAddress,
	provider.ShapeAccounts:  fromAccounts,
}

// Normalize converts raw into a ConnectionResult using the adapter for d's shape.
func Normalize(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error) {
	a, ok := adapters[d.Shape]
	if !ok {
		return types.ConnectionResult{}, fmt.Errorf("%s: no adapter for shape %q: %w", d.ID, d.Shape, types.ErrProviderResponseInvalid)
	}

	r, err := a(d, raw)
	if err != nil {
		return types.Failed(d.ID, err), err
	}

	if r.Address == "" {
		return types.Failed(d.ID, types.ErrProviderResponseInvalid), fmt.Errorf("%s: empty address: %w", d.ID, types.ErrProviderResponseInvalid)
	}

	if r.Network == "" {
		r.Network = d.Network
	}

	r.Success, r.ProviderID = true, d.ID

	return r, nil
}

func invalid(d provider.Descriptor, raw json.RawMessage, err error) error {
	return fmt.Errorf("%s: cannot read %s response %.64q (%v): %w", d.ID, d.Shape, raw, err, types.ErrProviderResponseInvalid) //nolint:errorlint // decode error is context only
}

// fromString reads a bare address string.
func fromString(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error) {
	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		return types.ConnectionResult{}, invalid(d, raw, err)
	}

	return types.ConnectionResult{Address: addr}, nil
}

// fromAddresses reads {addresses: [...], publicKey?, network?}, also accepting the bare array.
func fromAddresses(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error) {
	var v struct {
		Addresses []string `json:"addresses"`
		PublicKey string   `json:"publicKey"`
		Network   string   `json:"network"`
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		if err2 := json.Unmarshal(raw, &v.Addresses); err2 != nil {
			return types.ConnectionResult{}, invalid(d, raw, err)
		}
	}

	return types.ConnectionResult{Address: first(v.Addresses), PublicKey: v.PublicKey, Network: v.Network}, nil
}

// fromAddress reads {address, publicKey, network?}.
func fromAddress(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error) {
	var v struct {
		Address   string `json:"address"`
		PublicKey string `json:"publicKey"`
		Network   string `json:"network"`
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return types.ConnectionResult{}, invalid(d, raw, err)
	}

	return types.ConnectionResult{Address: v.Address, PublicKey: v.PublicKey, Network: v.Network}, nil
}

// fromAccounts reads an EIP-1193 accounts array; the first account is the selected one.
func fromAccounts(d provider.Descriptor, raw json.RawMessage) (types.ConnectionResult, error) {
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return types.ConnectionResult{}, invalid(d, raw, err)
	}

	return types.ConnectionResult{Address: first(accounts)}, nil
}

func first(ss []string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}

	return ""
}
