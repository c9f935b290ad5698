// Package cdp implements page.Window over the Chrome DevTools Protocol. Scripts run in the main world of the tab so
// they see the same globals as the wallet extensions that inject into it.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cdpage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/page"
)

// binding is the runtime binding page listeners report events through.
const binding = "__walletlinkEvent"

// Window is a browser tab.
type Window struct {
	ctx    context.Context // tab context
	cancel context.CancelFunc
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[string]map[int]func(string)
	watched   map[string]bool
	seq       int
}

var _ page.Window = (*Window)(nil)

// New launches a browser (headless if requested), opens url in a tab and installs the event binding.
func New(ctx context.Context, url string, headless bool, logger *zap.Logger) (*Window, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", headless)) //nolint:gocritic // copy of defaults
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	w := &Window{
		ctx:       tabCtx,
		cancel:    func() { tabCancel(); allocCancel() },
		logger:    logger.Named("cdp"),
		listeners: make(map[string]map[int]func(string)),
		watched:   make(map[string]bool),
	}

	chromedp.ListenTarget(tabCtx, w.onEvent)

	if err := chromedp.Run(tabCtx, runtime.AddBinding(binding), chromedp.Navigate(url)); err != nil {
		w.cancel()

		return nil, fmt.Errorf("cannot open %s: %w", url, err)
	}

	return w, nil
}

// Close closes the tab and the browser.
func (w *Window) Close() error {
	w.cancel()

	return nil
}

func (w *Window) onEvent(ev interface{}) {
	e, ok := ev.(*runtime.EventBindingCalled)
	if !ok || e.Name != binding {
		return
	}

	w.mu.Lock()
	fns := make([]func(string), 0, len(w.listeners[e.Payload]))
	for _, fn := range w.listeners[e.Payload] {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	// ListenTarget callbacks must not block the event loop
	go func() {
		for _, fn := range fns {
			fn(e.Payload)
		}
	}()
}

// run executes actions on the tab, bounded by the caller's ctx.
func (w *Window) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(w.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}

func (w *Window) eval(ctx context.Context, script string, res interface{}) error {
	return w.run(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}

	return string(b)
}

const keysScript = `(() => {
	const out = [];
	for (const k of Object.keys(window)) { out.push(k); }
	return out;
})()`

// Keys lists the enumerable properties of window.
func (w *Window) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := w.eval(ctx, keysScript, &keys); err != nil {
		return nil, fmt.Errorf("cannot enumerate globals: %w", err)
	}

	return keys, nil
}

// resolveJS walks a dotted path from window; it throws if a getter throws.
const resolveJS = `const resolve = (path) => path.split('.').reduce((o, k) => (o == null ? undefined : o[k]), window);`

type inspection struct {
	Present bool            `json:"present"`
	Methods map[string]bool `json:"methods"`
	Error   string          `json:"error"`
}

// Inspect resolves path and reports which of methods are functions.
func (w *Window) Inspect(ctx context.Context, path string, methods []string) (page.Handle, error) {
	script := fmt.Sprintf(`(() => {
	%s
	try {
		const o = resolve(%s);
		if (o == null) { return {present: false, methods: {}}; }
		const methods = {};
		for (const m of %s) { methods[m] = typeof o[m] === 'function'; }
		return {present: true, methods};
	} catch (e) {
		return {present: false, methods: {}, error: String(e && e.message || e)};
	}
})()`, resolveJS, jsonEncode(path), jsonEncode(methods))

	var res inspection
	if err := w.eval(ctx, script, &res); err != nil {
		return page.Handle{}, fmt.Errorf("cannot inspect %s: %w", path, err)
	}

	if res.Error != "" {
		return page.Handle{}, &page.ScriptError{Message: res.Error}
	}

	return page.Handle{Present: res.Present, Methods: res.Methods}, nil
}

type outcome struct {
	OK      bool            `json:"ok"`
	Value   json.RawMessage `json:"value"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

// Call invokes path.method(...args) and awaits it. Rejections and throws become *page.ScriptError.
func (w *Window) Call(ctx context.Context, path, method string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}

	script := fmt.Sprintf(`(async () => {
	%s
	try {
		const o = resolve(%s);
		if (o == null || typeof o[%s] !== 'function') {
			return {ok: false, message: %s};
		}
		const v = await o[%s](...%s);
		return {ok: true, value: v === undefined ? null : v};
	} catch (e) {
		return {ok: false, code: (e && typeof e.code === 'number') ? e.code : 0, message: String(e && e.message || e)};
	}
})()`, resolveJS, jsonEncode(path), jsonEncode(method), jsonEncode(path+"."+method+" is not a function"),
		jsonEncode(method), jsonEncode(args))

	var res outcome
	if err := w.eval(ctx, script, &res); err != nil {
		return nil, fmt.Errorf("cannot call %s.%s: %w", path, method, err)
	}

	if !res.OK {
		return nil, &page.ScriptError{Code: res.Code, Message: res.Message}
	}

	return res.Value, nil
}

// listenScript registers a window listener for event that reports through the binding.
func listenScript(event string) string {
	return fmt.Sprintf(`window.addEventListener(%[1]s, () => { try { window[%[2]s](%[1]s); } catch (e) {} });`,
		jsonEncode(event), jsonEncode(binding))
}

// Subscribe registers fn for events. Listeners are installed in the current document and in every document loaded
// afterwards.
func (w *Window) Subscribe(events []string, fn func(string)) (func(), error) {
	w.mu.Lock()
	w.seq++
	id := w.seq

	var fresh []string

	for _, ev := range events {
		if w.listeners[ev] == nil {
			w.listeners[ev] = make(map[int]func(string))
		}

		w.listeners[ev][id] = fn

		if !w.watched[ev] {
			w.watched[ev] = true
			fresh = append(fresh, ev)
		}
	}
	w.mu.Unlock()

	for _, ev := range fresh {
		script := listenScript(ev)

		err := w.run(context.Background(),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := cdpage.AddScriptToEvaluateOnNewDocument(script).Do(ctx)

				return err //nolint:wrapcheck // wrapped below
			}),
			chromedp.Evaluate(script, nil),
		)
		if err != nil {
			return nil, fmt.Errorf("cannot listen to %s: %w", ev, err)
		}

		w.logger.Debug("listening", zap.String("event", ev))
	}

	return func() {
		w.mu.Lock()
		for _, ev := range events {
			delete(w.listeners[ev], id)
		}
		w.mu.Unlock()
	}, nil
}
