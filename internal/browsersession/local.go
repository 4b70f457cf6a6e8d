package browsersession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/zk1tty/wf-backend/internal/k8s"
	"github.com/zk1tty/wf-backend/internal/storagestate"
)

// LocalRunner starts one chromedp-backed browser per session in-process.
// It is used when BROWSER_RUNNER=local, grounded on
// matrix-org-complement-crypto/internal/api/js/chrome's
// NewExecAllocator/NewContext idiom.
type LocalRunner struct {
	Headless bool
}

func NewLocalRunner(headless bool) *LocalRunner {
	return &LocalRunner{Headless: headless}
}

func (r *LocalRunner) Start(ctx context.Context, sessionID string) (BrowserSession, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", r.Headless), chromedp.WSURLReadTimeout(DefaultStartTimeout))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser for session %s: %w", sessionID, err)
	}

	return &localBrowser{
		sessionID:    sessionID,
		ctx:          browserCtx,
		cancel:       browserCancel,
		allocCancel:  allocCancel,
		mouse:        &localMouse{},
		keyboard:     &localKeyboard{},
	}, nil
}

func (r *LocalRunner) Healthy(ctx context.Context) error { return nil }
func (r *LocalRunner) Close() error                      { return nil }

// localBrowser adapts a chromedp context to the BrowserSession interface.
// Mouse/keyboard calls reference the same ctx, so the handle's internal
// queue spec.md §5 describes is chromedp's own per-tab command
// serialization — a second caller's Evaluate cannot interleave bytes with
// an in-flight Navigate on the same context.
type localBrowser struct {
	sessionID   string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	// podName is set by K8sRunner so Close can tear down the backing pod.
	// It is empty for a LocalRunner-started browser.
	podName string

	mu       sync.Mutex
	handlers []FrameNavigatedHandler

	mouse    *localMouse
	keyboard *localKeyboard
}

func (b *localBrowser) Navigate(ctx context.Context, url string) error {
	if err := chromedp.Run(b.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate session %s to %s: %w", b.sessionID, url, err)
	}
	b.fireFrameNavigated(url)
	return nil
}

func (b *localBrowser) fireFrameNavigated(url string) {
	b.mu.Lock()
	handlers := append([]FrameNavigatedHandler{}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(url)
	}
}

func (b *localBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(b.ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("current url for session %s: %w", b.sessionID, err)
	}
	return url, nil
}

func (b *localBrowser) OnFrameNavigated(handler FrameNavigatedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)

	// Registering the first handler also wires the CDP-level listener, so
	// client-initiated navigations (not just our own Navigate calls) are
	// detected too, matching spec.md §4.4's "single event: frame_navigated".
	if len(b.handlers) == 1 {
		chromedp.ListenTarget(b.ctx, func(ev any) {
			if nav, ok := ev.(*page.EventFrameNavigated); ok {
				b.fireFrameNavigated(nav.Frame.URL)
			}
		})
	}
}

func (b *localBrowser) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	var result any
	action := chromedp.Evaluate(script, &result, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
	if err := chromedp.Run(b.ctx, action); err != nil {
		return nil, fmt.Errorf("evaluate in session %s: %w", b.sessionID, err)
	}
	return result, nil
}

func (b *localBrowser) ExposeBridge(ctx context.Context, name string, handler BindingHandler) error {
	err := chromedp.Run(b.ctx,
		runtime.AddBinding(name),
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(ev any) {
				bindingEvent, ok := ev.(*runtime.EventBindingCalled)
				if !ok || bindingEvent.Name != name {
					return
				}
				handler(bindingEvent.Payload)
			})
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("expose bridge %s in session %s: %w", name, b.sessionID, err)
	}
	return nil
}

func (b *localBrowser) Cookies(ctx context.Context) ([]storagestate.Cookie, error) {
	return extractCookies(b.ctx, b.sessionID)
}

func (b *localBrowser) ExtractLocalStorage(ctx context.Context) ([]storagestate.OriginStorage, error) {
	const script = `(() => {
		const items = [];
		for (let i = 0; i < window.localStorage.length; i++) {
			const name = window.localStorage.key(i);
			items.push({name, value: window.localStorage.getItem(name)});
		}
		return [{origin: window.location.origin, localStorage: items}];
	})()`

	var raw []struct {
		Origin       string `json:"origin"`
		LocalStorage []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"localStorage"`
	}

	if err := chromedp.Run(b.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, fmt.Errorf("extract local storage for session %s: %w", b.sessionID, err)
	}

	out := make([]storagestate.OriginStorage, 0, len(raw))
	for _, o := range raw {
		kvs := make([]storagestate.StorageKV, 0, len(o.LocalStorage))
		for _, kv := range o.LocalStorage {
			kvs = append(kvs, storagestate.StorageKV{Name: kv.Name, Value: kv.Value})
		}
		out = append(out, storagestate.OriginStorage{Origin: o.Origin, LocalStorage: kvs})
	}
	return out, nil
}

// ApplyStorageState replays a previously-saved storagestate.Blob into this
// browser before a workflow begins, mirroring extractCookies's CDP idiom in
// reverse and reusing Evaluate for localStorage, the same two primitives
// Cookies/ExtractLocalStorage read back out.
func (b *localBrowser) ApplyStorageState(ctx context.Context, blob *storagestate.Blob) error {
	if blob == nil {
		return nil
	}
	if err := applyCookies(b.ctx, blob.Cookies); err != nil {
		return fmt.Errorf("apply storage state cookies for session %s: %w", b.sessionID, err)
	}
	if err := b.applyLocalStorage(blob.Origins); err != nil {
		return fmt.Errorf("apply storage state local storage for session %s: %w", b.sessionID, err)
	}
	return nil
}

func applyCookies(ctx context.Context, cookies []storagestate.Cookie) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if !c.Expires.IsZero() {
				params = params.WithExpires(cdp.TimeSinceEpoch(c.Expires))
			}
			if _, err := params.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (b *localBrowser) applyLocalStorage(origins []storagestate.OriginStorage) error {
	for _, o := range origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		payload, err := json.Marshal(o.LocalStorage)
		if err != nil {
			return fmt.Errorf("marshal local storage for origin %s: %w", o.Origin, err)
		}
		script := fmt.Sprintf(`(() => {
			const items = %s;
			for (const item of items) {
				window.localStorage.setItem(item.name, item.value);
			}
			return true;
		})()`, payload)
		if err := chromedp.Run(b.ctx, chromedp.Evaluate(script, new(any))); err != nil {
			return fmt.Errorf("set local storage for origin %s: %w", o.Origin, err)
		}
	}
	return nil
}

func (b *localBrowser) EnvMetadata(ctx context.Context) (EnvMetadata, error) {
	const script = `({
		userAgent: navigator.userAgent,
		timezone: Intl.DateTimeFormat().resolvedOptions().timeZone,
		viewport: {width: window.innerWidth, height: window.innerHeight},
		languages: navigator.languages,
		devicePixelRatio: window.devicePixelRatio
	})`

	var meta EnvMetadata
	if err := chromedp.Run(b.ctx, chromedp.Evaluate(script, &meta)); err != nil {
		return EnvMetadata{}, fmt.Errorf("env metadata for session %s: %w", b.sessionID, err)
	}
	return meta, nil
}

func (b *localBrowser) Mouse() Mouse       { return b.mouse }
func (b *localBrowser) Keyboard() Keyboard { return b.keyboard }

func (b *localBrowser) Healthy() bool {
	return b.ctx.Err() == nil
}

func (b *localBrowser) Close(ctx context.Context) error {
	b.cancel()
	b.allocCancel()
	if b.podName != "" {
		if err := k8s.DeletePod(context.Background(), b.podName); err != nil {
			return fmt.Errorf("delete browser pod %s for session %s: %w", b.podName, b.sessionID, err)
		}
	}
	return nil
}

type localMouse struct{}

func (m *localMouse) Move(ctx context.Context, x, y float64) error {
	return chromedp.Run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (m *localMouse) Down(ctx context.Context, button MouseButton) error {
	return chromedp.Run(ctx, chromedp.MouseEvent(input.MousePressed, 0, 0, chromedp.Button(string(button))))
}

func (m *localMouse) Up(ctx context.Context, button MouseButton) error {
	return chromedp.Run(ctx, chromedp.MouseEvent(input.MouseReleased, 0, 0, chromedp.Button(string(button))))
}

func (m *localMouse) Click(ctx context.Context, x, y float64, button MouseButton) error {
	return chromedp.Run(ctx, chromedp.MouseClickXY(x, y, chromedp.Button(string(button))))
}

func (m *localMouse) DblClick(ctx context.Context, x, y float64) error {
	return chromedp.Run(ctx,
		chromedp.MouseClickXY(x, y),
		chromedp.MouseClickXY(x, y),
	)
}

func (m *localMouse) Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error {
	return chromedp.Run(ctx, chromedp.MouseEvent(input.MouseWheel, x, y, func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithDeltaX(deltaX).WithDeltaY(deltaY)
	}))
}

type localKeyboard struct{}

func (k *localKeyboard) Press(ctx context.Context, key string) error {
	return chromedp.Run(ctx, chromedp.KeyEvent(key))
}

func (k *localKeyboard) Down(ctx context.Context, key, code string) error {
	return chromedp.Run(ctx, chromedp.KeyEvent(key))
}

func (k *localKeyboard) Up(ctx context.Context, key string) error {
	// chromedp's high-level KeyEvent dispatches a full press; there is no
	// separate "release only" primitive, so key-up is a no-op at this
	// layer (down already completed the press).
	return nil
}

func extractCookies(ctx context.Context, sessionID string) ([]storagestate.Cookie, error) {
	var cdpCookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cdpCookies = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("extract cookies for session %s: %w", sessionID, err)
	}

	out := make([]storagestate.Cookie, 0, len(cdpCookies))
	for _, c := range cdpCookies {
		out = append(out, storagestate.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  cdpCookieExpiry(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func cdpCookieExpiry(expires float64) time.Time {
	if expires <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(expires), 0)
}
