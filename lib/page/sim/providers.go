package sim

import (
	"context"

	"github.com/tarancss/walletlink/lib/page"
)

// Account is the identity a simulated provider hands out.
type Account struct {
	Address   string
	PublicKey string
	Network   string
}

// Behaviour controls how a simulated provider answers connect.
type Behaviour int

// Behaviours.
const (
	Approve Behaviour = iota
	Reject            // the user declines the prompt
	Hang              // the prompt is never answered
	Fail              // the wallet throws (ie. locked)
)

func connect(b Behaviour, answer func() interface{}) Method {
	return func(ctx context.Context, _ []interface{}) (interface{}, error) {
		switch b {
		case Reject:
			return nil, &page.ScriptError{Code: page.UserRejectedCode, Message: "User rejected the request."}
		case Hang:
			<-ctx.Done()

			return nil, ctx.Err()
		case Fail:
			return nil, &page.ScriptError{Message: "wallet is locked"}
		}

		return answer(), nil
	}
}

func ok(context.Context, []interface{}) (interface{}, error) { return true, nil }

// Yours returns an object shaped like the Yours wallet handle: connect resolves to {address, publicKey}.
func Yours(a Account, b Behaviour) *Object {
	return &Object{Methods: map[string]Method{
		"isReady":    ok,
		"disconnect": ok,
		"connect": connect(b, func() interface{} {
			return map[string]interface{}{"address": a.Address, "publicKey": a.PublicKey, "network": a.Network}
		}),
	}}
}

// Panda returns an object shaped like the Panda wallet handle: connect resolves to {addresses: [...]}.
func Panda(a Account, b Behaviour) *Object {
	return &Object{Methods: map[string]Method{
		"disconnect": ok,
		"connect": connect(b, func() interface{} {
			return map[string]interface{}{"addresses": []string{a.Address}, "publicKey": a.PublicKey}
		}),
	}}
}

// RelayOne returns an object shaped like the RelayX handle: authBeta resolves to a bare address string.
func RelayOne(a Account, b Behaviour) *Object {
	return &Object{Methods: map[string]Method{
		"authBeta": connect(b, func() interface{} { return a.Address }),
	}}
}

// Ethereum returns an EIP-1193 style handle: request resolves to an accounts array.
func Ethereum(a Account, b Behaviour) *Object {
	return &Object{Methods: map[string]Method{
		"request": connect(b, func() interface{} { return []string{a.Address} }),
	}}
}
