// Package browsersession defines C3: the abstract handle the rest of the
// core uses to drive a controlled browser, with two concrete backends —
// a chromedp-driven in-process browser and a Kubernetes pod-per-session
// browser reached over the network.
package browsersession

import (
	"context"
	"time"

	"github.com/zk1tty/wf-backend/internal/storagestate"
)

// MouseButton enumerates the buttons C7 can report.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// EnvMetadata mirrors spec.md §4.3's env_metadata() capability.
type EnvMetadata struct {
	UserAgent        string   `json:"userAgent"`
	Timezone         string   `json:"timezone"`
	Viewport         Viewport `json:"viewport"`
	Languages        []string `json:"languages"`
	DevicePixelRatio float64  `json:"devicePixelRatio"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameNavigatedHandler is invoked with the newly-navigated URL.
type FrameNavigatedHandler func(url string)

// BindingHandler receives a raw page-emitted payload string. It is the
// shape expected by ExposeBridge for C4's sendRRWebEvent binding.
type BindingHandler func(payload string)

// Mouse is the capability surface spec.md §4.3 names for pointer input.
type Mouse interface {
	Move(ctx context.Context, x, y float64) error
	Down(ctx context.Context, button MouseButton) error
	Up(ctx context.Context, button MouseButton) error
	Click(ctx context.Context, x, y float64, button MouseButton) error
	DblClick(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error
}

// Keyboard is the capability surface spec.md §4.3 names for key input.
type Keyboard interface {
	Press(ctx context.Context, key string) error
	Down(ctx context.Context, key, code string) error
	Up(ctx context.Context, key string) error
}

// BrowserSession is the interface spec.md §4.3 names as "the capability set
// the core requires". C3 consumers (C4, C8, C9, C7) depend only on this —
// never on chromedp or Kubernetes directly.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	OnFrameNavigated(handler FrameNavigatedHandler)

	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	ExposeBridge(ctx context.Context, name string, handler BindingHandler) error

	Cookies(ctx context.Context) ([]storagestate.Cookie, error)
	ExtractLocalStorage(ctx context.Context) ([]storagestate.OriginStorage, error)
	ApplyStorageState(ctx context.Context, blob *storagestate.Blob) error
	EnvMetadata(ctx context.Context) (EnvMetadata, error)

	Mouse() Mouse
	Keyboard() Keyboard

	Healthy() bool
	Close(ctx context.Context) error
}

// Runner selects and constructs the variant per environment (spec.md
// §4.3: "selection by environment ... decision lives in a thin external
// collaborator"), grounded on the teacher's internal/runner.Runner
// pluggable-backend idiom.
type Runner interface {
	// Start provisions a new BrowserSession for sessionID and blocks until
	// it is ready to accept Navigate/Evaluate calls, or ctx is done.
	Start(ctx context.Context, sessionID string) (BrowserSession, error)
	Healthy(ctx context.Context) error
	Close() error
}

// DefaultStartTimeout bounds how long Start may take before the Session
// Manager gives up and transitions to FAILED.
const DefaultStartTimeout = 30 * time.Second
