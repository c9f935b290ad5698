package connection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tarancss/walletlink/lib/types"
	"github.com/tarancss/walletlink/lib/util"
)

// State is the connection state shown to the user.
type State int

// States.
const (
	Disconnected State = iota
	Detecting
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Detecting:
		return "detecting"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidTransition is returned for a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{ //nolint:gochecknoglobals // static table
	Disconnected: {Detecting},
	Detecting:    {Connecting, Disconnected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Tracker holds the current state and, when connected, the connection.
type Tracker struct {
	mu    sync.Mutex
	state State
	conn  types.ConnectionResult
	err   string // code of the last failure
}

// NewTracker returns a tracker in the Disconnected state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot is a consistent read of the tracker.
type Snapshot struct {
	State      State                   `json:"state"`
	Connection *types.ConnectionResult `json:"connection,omitempty"`
	LastError  string                  `json:"lastError,omitempty"`
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{State: t.state, LastError: t.err}

	if t.state == Connected {
		c := t.conn
		s.Connection = &c
	}

	return s
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// to must be called with t.mu held.
func (t *Tracker) to(next State) error {
	if util.In(transitions[t.state], next) {
		t.state = next

		return nil
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, next)
}

// Detect moves Disconnected to Detecting.
func (t *Tracker) Detect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.to(Detecting)
}

// Connect moves Detecting to Connecting.
func (t *Tracker) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.to(Connecting)
}

// Succeed moves Connecting to Connected holding r.
func (t *Tracker) Succeed(r types.ConnectionResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.to(Connected); err != nil {
		return err
	}

	t.conn, t.err = r, ""

	return nil
}

// Fail moves Detecting or Connecting back to Disconnected, remembering the failure code.
func (t *Tracker) Fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Connected {
		return fmt.Errorf("%w: %s -> %s on failure", ErrInvalidTransition, t.state, Disconnected)
	}

	if e := t.to(Disconnected); e != nil {
		return e
	}

	t.err = types.Code(err)

	return nil
}

// Disconnect moves Connected to Disconnected. It is used both for user disconnects and stale loads.
func (t *Tracker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Connected {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, Disconnected)
	}

	t.state = Disconnected
	t.conn, t.err = types.ConnectionResult{}, ""

	return nil
}
