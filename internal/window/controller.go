// Package window opens and tracks the external browser windows hosting payment pages.
package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paywindow/internal/apperr"
)

// DefaultName is the fixed slot every payment window is opened into.
const DefaultName = "paywindow"

// Handle is a live or closed window. Implementations must make Close idempotent.
type Handle interface {
	Name() string
	URL() string
	Close() error
	Closed() bool
}

// LaunchRequest describes a window the Launcher must open.
type LaunchRequest struct {
	URL       string
	Name      string
	Placement Placement
}

// Launcher opens a new top-level window. Returning an error means the window
// was refused and nothing is left running.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Handle, error)
}

// Controller opens payment windows into a single named slot. Opening while the
// slot is occupied loads the new page into the slot: every handle returned for
// the slot follows the window currently shown there, so earlier sessions stay
// live until the slot itself is closed.
type Controller struct {
	Launcher Launcher
	Screen   Screen
	Name     string
	Logger   zerolog.Logger

	mu   sync.Mutex
	slot *slot
}

// slot is the named window shared by every session opened into it.
type slot struct {
	name string

	mu      sync.Mutex
	current Handle
}

func (s *slot) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == nil || s.current.Closed()
}

func (s *slot) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Closed() {
		return nil
	}
	return s.current.Close()
}

// slotHandle is one session's view of the shared slot.
type slotHandle struct {
	slot *slot
	url  string
}

func (h *slotHandle) Name() string { return h.slot.name }

// URL is the page this handle was opened with, not necessarily the one shown now.
func (h *slotHandle) URL() string  { return h.url }
func (h *slotHandle) Closed() bool { return h.slot.closed() }
func (h *slotHandle) Close() error { return h.slot.close() }

// Open launches targetURL with the requested geometry. Launch failures are
// reported as apperr.ErrPopupBlocked.
func (c *Controller) Open(ctx context.Context, targetURL string, opts Options) (Handle, error) {
	if c == nil || c.Launcher == nil {
		return nil, apperr.New(apperr.ErrPopupBlocked, "window launcher not configured", nil)
	}
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return nil, apperr.New(apperr.ErrPopupBlocked, "window url is required", nil)
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = DefaultName
	}
	placement := Place(c.Screen, opts)

	sl := c.slotFor(name)
	// Holding the slot across the relaunch keeps watchers of earlier handles
	// from observing the gap between the old window and the new one.
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current != nil && !sl.current.Closed() {
		c.Logger.Debug().Str("window", name).Str("replaced_url", sl.current.URL()).Msg("window_slot_reused")
		if err := sl.current.Close(); err != nil {
			c.Logger.Warn().Err(err).Str("window", name).Msg("close previous page in slot")
		}
	}
	sl.current = nil

	handle, err := c.Launcher.Launch(ctx, LaunchRequest{URL: targetURL, Name: name, Placement: placement})
	if err != nil {
		return nil, &apperr.Error{
			Code:    apperr.Kind(apperr.ErrPopupBlocked),
			Message: fmt.Sprintf("payment window blocked: %v", err),
			Err:     errors.Join(apperr.ErrPopupBlocked, err),
			Details: map[string]any{"url": targetURL},
		}
	}
	if handle == nil {
		return nil, apperr.New(apperr.ErrPopupBlocked, "launcher returned no window", map[string]any{"url": targetURL})
	}
	sl.current = handle
	c.Logger.Debug().
		Str("window", name).
		Int("left", placement.Left).
		Int("top", placement.Top).
		Int("width", placement.Width).
		Int("height", placement.Height).
		Msg("window_opened")
	return &slotHandle{slot: sl, url: targetURL}, nil
}

func (c *Controller) slotFor(name string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil || c.slot.name != name {
		c.slot = &slot{name: name}
	}
	return c.slot
}

// Close closes h. Closing an already closed window is a no-op.
func (c *Controller) Close(h Handle) error {
	if h == nil || h.Closed() {
		return nil
	}
	return h.Close()
}

// IsClosed reports whether h is gone at this instant.
func (c *Controller) IsClosed(h Handle) bool {
	return h == nil || h.Closed()
}
