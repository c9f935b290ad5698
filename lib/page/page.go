// Package page abstracts the global object graph of a web page as seen from the page's own execution context. The
// probe and the page half of the bridge only ever touch the page through Window.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Handle is what Inspect found at a property path.
type Handle struct {
	Present bool            // the path resolves to a non-null object
	Methods map[string]bool // requested method name -> callable
}

// Callable reports whether every method in names is callable on the handle.
func (h Handle) Callable(names []string) bool {
	if !h.Present {
		return false
	}

	for _, n := range names {
		if !h.Methods[n] {
			return false
		}
	}

	return true
}

// Capabilities returns the callable method names in the order of names.
func (h Handle) Capabilities(names []string) []string {
	out := make([]string, 0, len(names))

	for _, n := range names {
		if h.Methods[n] {
			out = append(out, n)
		}
	}

	return out
}

// Window is the page's global object. Implementations must be safe for concurrent use.
type Window interface {
	// Keys lists the enumerable global property names.
	Keys(ctx context.Context) ([]string, error)
	// Inspect resolves a dotted property path and reports which of methods are callable on it. A getter throwing
	// while resolving path is reported as an error for that path only.
	Inspect(ctx context.Context, path string, methods []string) (Handle, error)
	// Call invokes method on the object at path with args, awaiting the result if it is a promise, and returns
	// the result as JSON. A thrown or rejected value is returned as *ScriptError.
	Call(ctx context.Context, path, method string, args ...interface{}) (json.RawMessage, error)
	// Subscribe registers fn for the named page events. The returned function unsubscribes.
	Subscribe(events []string, fn func(event string)) (func(), error)
}

// ScriptError is a value thrown or rejected by page script.
type ScriptError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ScriptError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("script error %d: %s", e.Code, e.Message)
	}

	return "script error: " + e.Message
}

// UserRejectedCode is the EIP-1193 code for a request rejected by the user.
const UserRejectedCode = 4001

var rejectionWords = []string{"reject", "denied", "declined", "cancel"} //nolint:gochecknoglobals // static table

// IsUserRejection reports whether err is a script error signalling that the user declined the prompt.
func IsUserRejection(err error) bool {
	var se *ScriptError
	if !errors.As(err, &se) {
		return false
	}

	if se.Code == UserRejectedCode {
		return true
	}

	m := strings.ToLower(se.Message)
	for _, w := range rejectionWords {
		if strings.Contains(m, w) {
			return true
		}
	}

	return false
}
