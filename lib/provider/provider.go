// Package provider defines the static description of every supported wallet provider. Descriptors are loaded once at
// startup (from defaults or configuration) and never mutated, so detection and connection are data driven.
package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarancss/walletlink/lib/util"
)

// DetectionMethod names one of the probe strategies a provider participates in.
type DetectionMethod string

// Detection strategies.
const (
	Direct      DetectionMethod = "direct"
	Enumeration DetectionMethod = "enumeration"
	Event       DetectionMethod = "event"
)

// Shape names the raw response shape returned by a provider's connect method.
type Shape string

// Known response shapes.
const (
	ShapeString    Shape = "string"    // "1Abc..."
	ShapeAddresses Shape = "addresses" // {"addresses": ["1Abc...", ...]}
	ShapeAddress   Shape = "address"   // {"address": "1Abc...", "publicKey": "02..."}
	ShapeAccounts  Shape = "accounts"  // ["0xabc...", ...]
)

// Descriptor describes a provider: where its handle lives in the page, the minimum callable surface it must expose
// and how its connect response is shaped.
type Descriptor struct {
	ID               string            `json:"id" mapstructure:"id"`
	DisplayName      string            `json:"displayName" mapstructure:"displayName"`
	Priority         int               `json:"priority" mapstructure:"priority"` // lower is tried first
	DetectionMethods []DetectionMethod `json:"detectionMethods" mapstructure:"detectionMethods"`
	Path             string            `json:"path" mapstructure:"path"`       // dotted global property path, ie. "yours"
	Methods          []string          `json:"methods" mapstructure:"methods"` // required callable surface
	Keywords         []string          `json:"keywords,omitempty" mapstructure:"keywords"`
	ReadyEvents      []string          `json:"readyEvents,omitempty" mapstructure:"readyEvents"`
	ConnectMethod    string            `json:"connectMethod" mapstructure:"connectMethod"`
	ConnectArgs      []interface{}     `json:"connectArgs,omitempty" mapstructure:"connectArgs"`
	DisconnectMethod string            `json:"disconnectMethod,omitempty" mapstructure:"disconnectMethod"`
	Shape            Shape             `json:"shape" mapstructure:"shape"`
	Network          string            `json:"network" mapstructure:"network"`
}

// Has reports whether the descriptor participates in detection method m.
func (d Descriptor) Has(m DetectionMethod) bool {
	return util.In(d.DetectionMethods, m)
}

// MatchesKey reports whether a global property name looks like this provider.
func (d Descriptor) MatchesKey(key string) bool {
	k := strings.ToLower(key)
	for _, w := range d.Keywords {
		if w != "" && strings.Contains(k, strings.ToLower(w)) {
			return true
		}
	}

	return false
}

// Errors returned by validation.
var (
	ErrNoID          = errors.New("provider descriptor without id")
	ErrDuplicateID   = errors.New("duplicate provider id")
	ErrNoPath        = errors.New("provider descriptor without path")
	ErrNoConnect     = errors.New("provider descriptor without connect method")
	ErrUnknownShape  = errors.New("unknown response shape")
	ErrUnknownMethod = errors.New("unknown detection method")
)

// Validate checks the descriptor is usable.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return ErrNoID
	}

	if d.Path == "" {
		return fmt.Errorf("%s: %w", d.ID, ErrNoPath)
	}

	if d.ConnectMethod == "" {
		return fmt.Errorf("%s: %w", d.ID, ErrNoConnect)
	}

	switch d.Shape {
	case ShapeString, ShapeAddresses, ShapeAddress, ShapeAccounts:
	default:
		return fmt.Errorf("%s: %w %q", d.ID, ErrUnknownShape, d.Shape)
	}

	for _, m := range d.DetectionMethods {
		if m != Direct && m != Enumeration && m != Event {
			return fmt.Errorf("%s: %w %q", d.ID, ErrUnknownMethod, m)
		}
	}

	return nil
}

// Set is an immutable, priority-ordered collection of descriptors.
type Set struct {
	list []Descriptor
	byID map[string]Descriptor
}

// NewSet validates the descriptors and returns them as a Set ordered by priority (ties keep input order).
func NewSet(ds []Descriptor) (*Set, error) {
	s := &Set{list: make([]Descriptor, 0, len(ds)), byID: make(map[string]Descriptor, len(ds))}

	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return nil, err
		}

		if _, ok := s.byID[d.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}

		s.byID[d.ID] = d
		s.list = append(s.list, d)
	}

	sort.SliceStable(s.list, func(i, j int) bool { return s.list[i].Priority < s.list[j].Priority })

	return s, nil
}

// MustSet is NewSet for static tables; it panics on invalid input.
func MustSet(ds []Descriptor) *Set {
	s, err := NewSet(ds)
	if err != nil {
		panic(err)
	}

	return s
}

// All returns a copy of the descriptors in priority order.
func (s *Set) All() []Descriptor {
	out := make([]Descriptor, len(s.list))
	copy(out, s.list)

	return out
}

// Get returns the descriptor for id.
func (s *Set) Get(id string) (Descriptor, bool) {
	d, ok := s.byID[id]

	return d, ok
}

// Len returns the number of descriptors.
func (s *Set) Len() int {
	return len(s.list)
}

// Order returns the ids in attempt order: by priority, with preferred (if present in ids) moved to the front.
func (s *Set) Order(ids []string, preferred string) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}

	out := make([]string, 0, len(ids))

	if preferred != "" && in[preferred] {
		out = append(out, preferred)
	}

	for _, d := range s.list {
		if in[d.ID] && d.ID != preferred {
			out = append(out, d.ID)
		}
	}

	return out
}
