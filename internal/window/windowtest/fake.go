// Package windowtest provides in-memory windows for tests.
package windowtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/paywindow/internal/window"
)

// Window is a fake window whose closure is driven by the test.
type Window struct {
	name string
	url  string

	closed     atomic.Bool
	forced     atomic.Bool
	closeCalls atomic.Int64
	checks     atomic.Int64
}

// NewWindow returns an open fake window.
func NewWindow(name, url string) *Window {
	return &Window{name: name, url: url}
}

func (w *Window) Name() string { return w.name }
func (w *Window) URL() string  { return w.url }

// Closed records a liveness check and reports whether the window is gone.
func (w *Window) Closed() bool {
	w.checks.Add(1)
	return w.closed.Load()
}

// Close force-closes the window.
func (w *Window) Close() error {
	w.closeCalls.Add(1)
	if w.closed.CompareAndSwap(false, true) {
		w.forced.Store(true)
	}
	return nil
}

// UserClose simulates the user closing the window.
func (w *Window) UserClose() { w.closed.Store(true) }

// ForceClosed reports whether Close (rather than the user) closed the window.
func (w *Window) ForceClosed() bool { return w.forced.Load() }

// Checks returns how many liveness checks were made.
func (w *Window) Checks() int64 { return w.checks.Load() }

// CloseCalls returns how many times Close was invoked.
func (w *Window) CloseCalls() int64 { return w.closeCalls.Load() }

// ErrBlocked is returned by a Launcher configured to refuse windows.
var ErrBlocked = errors.New("windowtest: blocked")

// Launcher records launches and hands out fake windows.
type Launcher struct {
	Block bool

	mu       sync.Mutex
	requests []window.LaunchRequest
	windows  []*Window
}

// Launch implements window.Launcher.
func (l *Launcher) Launch(_ context.Context, req window.LaunchRequest) (window.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.Block {
		return nil, ErrBlocked
	}
	w := NewWindow(req.Name, req.URL)
	l.windows = append(l.windows, w)
	return w, nil
}

// Requests returns a copy of the launch requests received so far.
func (l *Launcher) Requests() []window.LaunchRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]window.LaunchRequest(nil), l.requests...)
}

// Windows returns the windows launched so far.
func (l *Launcher) Windows() []*Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Window(nil), l.windows...)
}

// Last returns the most recently launched window.
func (l *Launcher) Last() *Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.windows) == 0 {
		return nil
	}
	return l.windows[len(l.windows)-1]
}
