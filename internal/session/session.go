// Package session tracks in-flight payment sessions and settles each exactly once.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/paywindow/internal/window"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
)

// Session is one outstanding attempt to complete a payment in an external window.
type Session struct {
	ID        string
	TargetURL string
	CreatedAt time.Time
	Window    window.Handle

	seq  uint64
	cell cell

	hookMu sync.Mutex
	hooks  []func(Outcome)
	fired  bool
}

// Status reports whether the session is still pending.
func (s *Session) Status() Status {
	if _, ok := s.cell.get(); ok {
		return StatusSettled
	}
	return StatusPending
}

// Done is closed once the session settles.
func (s *Session) Done() <-chan struct{} {
	return s.cell.done
}

// Outcome returns the settled outcome, if any.
func (s *Session) Outcome() (Outcome, bool) {
	return s.cell.get()
}

// Wait blocks until the session settles or ctx is done. A settled outcome that
// does not succeed is returned together with its rejection error.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.cell.done:
		out, _ := s.cell.get()
		return out, out.Err()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// OnSettle registers fn to run once after settlement. When the session has
// already settled fn runs immediately.
func (s *Session) OnSettle(fn func(Outcome)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	if s.fired {
		s.hookMu.Unlock()
		out, _ := s.cell.get()
		fn(out)
		return
	}
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Session) fireHooks(out Outcome) {
	s.hookMu.Lock()
	if s.fired {
		s.hookMu.Unlock()
		return
	}
	s.fired = true
	hooks := s.hooks
	s.hooks = nil
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(out)
	}
}

// cell is a single-assignment outcome slot: pending until the first resolve.
type cell struct {
	mu      sync.Mutex
	settled bool
	outcome Outcome
	done    chan struct{}
}

func (c *cell) resolve(out Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return false
	}
	c.settled = true
	c.outcome = out
	close(c.done)
	return true
}

func (c *cell) get() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.settled
}
