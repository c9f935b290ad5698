// Package sim implements page.Window over an in-process simulated global object. Providers are injected, removed
// and made to fire events by the host, which makes the probe and bridge runnable without a browser.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tarancss/walletlink/lib/page"
)

// Method is a provider function. Returning a *page.ScriptError simulates a thrown or rejected value.
type Method func(ctx context.Context, args []interface{}) (interface{}, error)

// Object is an injected object: callable methods and nested objects.
type Object struct {
	Methods  map[string]Method
	Children map[string]*Object
}

// global is either a plain value or a getter, which may panic like a throwing JS getter.
type global struct {
	obj    *Object
	getter func() *Object
}

// Window is a simulated page global object.
type Window struct {
	mu        sync.RWMutex
	globals   map[string]global
	listeners map[string]map[int]func(string)
	seq       int
}

// New returns an empty window.
func New() *Window {
	return &Window{globals: make(map[string]global), listeners: make(map[string]map[int]func(string))}
}

var _ page.Window = (*Window)(nil)

// Set injects o as global property name.
func (w *Window) Set(name string, o *Object) {
	w.mu.Lock()
	w.globals[name] = global{obj: o}
	w.mu.Unlock()
}

// SetGetter injects a property whose value is computed on every access.
func (w *Window) SetGetter(name string, g func() *Object) {
	w.mu.Lock()
	w.globals[name] = global{getter: g}
	w.mu.Unlock()
}

// Delete removes a global property.
func (w *Window) Delete(name string) {
	w.mu.Lock()
	delete(w.globals, name)
	w.mu.Unlock()
}

// Dispatch fires event to its listeners synchronously.
func (w *Window) Dispatch(event string) {
	w.mu.RLock()
	fns := make([]func(string), 0, len(w.listeners[event]))
	for _, fn := range w.listeners[event] {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Keys lists the global property names in lexical order.
func (w *Window) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.RLock()
	keys := make([]string, 0, len(w.globals))
	for k := range w.globals {
		keys = append(keys, k)
	}
	w.mu.RUnlock()

	sort.Strings(keys)

	return keys, nil
}

// resolve walks path, converting a panicking getter into an error.
func (w *Window) resolve(path string) (o *Object, err error) {
	parts := strings.Split(path, ".")

	w.mu.RLock()
	g, ok := w.globals[parts[0]]
	w.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	o = g.obj
	if g.getter != nil {
		defer func() {
			if r := recover(); r != nil {
				o, err = nil, &page.ScriptError{Message: fmt.Sprintf("getter %s threw: %v", parts[0], r)}
			}
		}()

		o = g.getter()
	}

	for _, p := range parts[1:] {
		if o == nil {
			return nil, nil
		}

		o = o.Children[p]
	}

	return o, nil
}

// Inspect resolves path and checks methods.
func (w *Window) Inspect(ctx context.Context, path string, methods []string) (page.Handle, error) {
	if err := ctx.Err(); err != nil {
		return page.Handle{}, err
	}

	o, err := w.resolve(path)
	if err != nil || o == nil {
		return page.Handle{}, err
	}

	h := page.Handle{Present: true, Methods: make(map[string]bool, len(methods))}
	for _, m := range methods {
		h.Methods[m] = o.Methods[m] != nil
	}

	return h, nil
}

// Call invokes the method. The method runs on its own goroutine so a prompt that never answers only blocks until
// ctx is done.
func (w *Window) Call(ctx context.Context, path, method string, args ...interface{}) (json.RawMessage, error) {
	o, err := w.resolve(path)
	if err != nil {
		return nil, err
	}

	if o == nil || o.Methods[method] == nil {
		return nil, &page.ScriptError{Message: fmt.Sprintf("%s.%s is not a function", path, method)}
	}

	type result struct {
		v   interface{}
		err error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &page.ScriptError{Message: fmt.Sprint(r)}}
			}
		}()

		v, err := o.Methods[method](ctx, args)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}

		b, err := json.Marshal(r.v)
		if err != nil {
			return nil, &page.ScriptError{Message: "result is not serializable: " + err.Error()}
		}

		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers fn for events.
func (w *Window) Subscribe(events []string, fn func(string)) (func(), error) {
	w.mu.Lock()
	w.seq++
	id := w.seq

	for _, ev := range events {
		if w.listeners[ev] == nil {
			w.listeners[ev] = make(map[int]func(string))
		}

		w.listeners[ev][id] = fn
	}
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		for _, ev := range events {
			delete(w.listeners[ev], id)
		}
		w.mu.Unlock()
	}, nil
}
