// Package recorder implements C4: injecting and re-injecting the in-page
// event recorder across navigations, and projecting its opaque events into
// the two semantic fields (type, timestamp) the rest of the core needs.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
)

// BridgeName is the page-side emit function name C3's ExposeBridge binds.
const BridgeName = "sendRRWebEvent"

// progressPingWait is how long the bridge waits after (re-)injection before
// emitting a synthetic progress ping if no real event has arrived.
const progressPingWait = 2 * time.Second

// domReadyPollInterval/domReadyMaxWait bound the wait-for-DOM-ready loop
// after a navigation, before re-injecting.
const (
	domReadyPollInterval = 50 * time.Millisecond
	domReadyMaxWait      = 10 * time.Second
)

// SamplingOptions mirrors spec.md §6's sampling knob.
type SamplingOptions struct {
	Scroll int    `json:"scroll"`
	Media  int    `json:"media"`
	Input  string `json:"input"`
}

// SlimDOMOptions mirrors spec.md §6.
type SlimDOMOptions struct {
	Script      bool `json:"script"`
	Comment     bool `json:"comment"`
	HeadFavicon bool `json:"headFavicon"`
}

// MaskInputOptions mirrors spec.md §6.
type MaskInputOptions struct {
	Password bool `json:"password"`
}

// Options is the fixed option set spec.md §6 requires be applied verbatim
// on every (re-)injection.
type Options struct {
	CheckoutEveryNms int              `json:"checkoutEveryNms"`
	Sampling         SamplingOptions  `json:"sampling"`
	SlimDOMOptions   SlimDOMOptions   `json:"slimDOMOptions"`
	MaskInputOptions MaskInputOptions `json:"maskInputOptions"`
}

// DefaultOptions is spec.md §6's required option set.
var DefaultOptions = Options{
	CheckoutEveryNms: 5000,
	Sampling:         SamplingOptions{Scroll: 100, Media: 400, Input: "last"},
	SlimDOMOptions:   SlimDOMOptions{Script: false, Comment: false, HeadFavicon: false},
	MaskInputOptions: MaskInputOptions{Password: true},
}

// EventHandler receives each parsed recorder event, in arrival order.
type EventHandler func(Event)

// Bridge installs the recorder on a BrowserSession and re-installs it after
// every navigation, forwarding parsed events to an EventHandler.
type Bridge struct {
	session browsersession.BrowserSession
	options Options
	onEvent EventHandler
	logger  *slog.Logger

	mu          sync.Mutex
	lastEventAt time.Time
	pingSeq     int
}

// NewBridge constructs a Bridge. logger may be nil (defaults to slog.Default()).
func NewBridge(session browsersession.BrowserSession, onEvent EventHandler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{session: session, options: DefaultOptions, onEvent: onEvent, logger: logger}
}

// Attach exposes the bridge binding, performs the initial injection, and
// wires re-injection on every frame_navigated.
func (b *Bridge) Attach(ctx context.Context) error {
	if err := b.session.ExposeBridge(ctx, BridgeName, b.handleRaw); err != nil {
		return fmt.Errorf("recorder: expose bridge: %w", err)
	}

	b.session.OnFrameNavigated(func(url string) {
		go b.reinject(context.Background(), url)
	})

	return b.inject(ctx)
}

// reinject waits for DOM-ready after a navigation, then re-runs inject. The
// recorder library guarantees the next emitted event after restart is a
// FullSnapshot, per spec.md §4.4.
func (b *Bridge) reinject(ctx context.Context, url string) {
	if err := b.waitDOMReady(ctx); err != nil {
		b.logger.Warn("recorder: dom-ready wait failed, injecting anyway", "url", url, "error", err)
	}
	if err := b.inject(ctx); err != nil {
		b.logger.Error("recorder: re-injection failed", "url", url, "error", err)
	}
}

func (b *Bridge) waitDOMReady(ctx context.Context) error {
	deadline := time.Now().Add(domReadyMaxWait)
	for time.Now().Before(deadline) {
		result, err := b.session.Evaluate(ctx, "document.readyState")
		if err == nil {
			if state, ok := result.(string); ok && (state == "interactive" || state == "complete") {
				return nil
			}
		}
		time.Sleep(domReadyPollInterval)
	}
	return fmt.Errorf("dom not ready after %s", domReadyMaxWait)
}

// inject loads the vendored bundle, starts recording with the fixed option
// set, and arms the progress-ping watchdog.
func (b *Bridge) inject(ctx context.Context) error {
	optsJSON, err := json.Marshal(b.options)
	if err != nil {
		return fmt.Errorf("recorder: marshal options: %w", err)
	}

	script := fmt.Sprintf(`(() => {
		%s
		window.__recorder.record(Object.assign({}, %s, {
			emit: (event) => { window.%s(JSON.stringify(event)); }
		}));
	})()`, bundleJS, string(optsJSON), BridgeName)

	if _, err := b.session.Evaluate(ctx, script); err != nil {
		return fmt.Errorf("recorder: inject: %w", err)
	}

	b.mu.Lock()
	b.lastEventAt = time.Time{}
	b.pingSeq++
	seq := b.pingSeq
	b.mu.Unlock()

	go b.armProgressPing(seq)

	return nil
}

func (b *Bridge) armProgressPing(seq int) {
	time.Sleep(progressPingWait)

	b.mu.Lock()
	stale := b.pingSeq == seq && b.lastEventAt.IsZero()
	b.mu.Unlock()

	if stale {
		b.onEvent(Event{Type: 0, Timestamp: time.Now().UnixMilli(), Raw: json.RawMessage(`{"type":0,"synthetic":"progress_ping"}`)})
	}
}

// handleRaw is invoked by C3's binding callback with the raw page-emitted
// payload string; it is parsed and forwarded, never transformed.
func (b *Bridge) handleRaw(payload string) {
	event, err := ParseEvent([]byte(payload))
	if err != nil {
		b.logger.Warn("recorder: failed to parse event", "error", err)
		return
	}

	b.mu.Lock()
	b.lastEventAt = time.Now()
	b.mu.Unlock()

	b.onEvent(event)
}
