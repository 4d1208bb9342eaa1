// Package watchdog detects manually closed payment windows and enforces
// per-session deadlines.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paywindow/internal/refstore"
	"github.com/noah-isme/paywindow/internal/session"
	"github.com/noah-isme/paywindow/internal/window"
)

const (
	DefaultPollInterval = time.Second
	DefaultTimeout      = 30 * time.Minute
)

// Liveness reports whether a window has been closed.
type Liveness interface {
	IsClosed(h window.Handle) bool
	Close(h window.Handle) error
}

// Watchdog runs a poll loop and a deadline timer for each watched session.
type Watchdog struct {
	Registry     *session.Registry
	Windows      Liveness
	References   refstore.Store
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       zerolog.Logger
	// Now overrides the clock used to compute deadlines.
	Now func() time.Time
}

// Watch starts supervising s and returns a function that stops both timers.
// The timers are also stopped as soon as s settles through any path.
func (w *Watchdog) Watch(s *session.Session) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(done) }) }
	s.OnSettle(func(session.Outcome) { stop() })

	poll := w.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	remaining := w.deadline(s).Sub(w.now())
	if remaining < 0 {
		remaining = 0
	}
	go w.run(s, poll, remaining, done, stop)
	return stop
}

func (w *Watchdog) run(s *session.Session, poll, remaining time.Duration, done <-chan struct{}, stop func()) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for {
		select {
		case <-done:
			return
		case <-deadline.C:
			stop()
			w.expire(s)
			return
		case <-ticker.C:
			select {
			case <-done:
				return
			default:
			}
			if !w.Windows.IsClosed(s.Window) {
				continue
			}
			stop()
			w.closedByUser(s)
			return
		}
	}
}

func (w *Watchdog) expire(s *session.Session) {
	if !w.Registry.IsPending(s.ID) {
		return
	}
	if err := w.Windows.Close(s.Window); err != nil {
		w.Logger.Warn().Err(err).Str("session_id", s.ID).Msg("force close window")
	}
	timeout := w.timeout()
	settled := w.Registry.Settle(s.ID, session.Outcome{
		Kind:   session.KindTimedOut,
		Detail: map[string]any{"timeout": timeout.String()},
	})
	if settled {
		w.Logger.Info().Str("session_id", s.ID).Dur("timeout", timeout).Msg("session_timed_out")
	}
}

// closedByUser settles a session whose window disappeared. A reference stashed
// by a notification that narrowly preceded the close upgrades the outcome.
func (w *Watchdog) closedByUser(s *session.Session) {
	if !w.Registry.IsPending(s.ID) {
		return
	}
	out := session.Outcome{Kind: session.KindClosedManually}
	if w.References != nil {
		ref, ok, err := w.References.Take(context.Background())
		if err != nil {
			w.Logger.Warn().Err(err).Str("session_id", s.ID).Msg("read stashed reference")
		} else if ok {
			out.Reference = ref
		}
	}
	if w.Registry.Settle(s.ID, out) {
		w.Logger.Info().
			Str("session_id", s.ID).
			Bool("recovered_reference", out.Reference != "").
			Msg("session_window_closed")
	}
}

func (w *Watchdog) deadline(s *session.Session) time.Time {
	created := s.CreatedAt
	if created.IsZero() {
		created = w.now()
	}
	return created.Add(w.timeout())
}

func (w *Watchdog) timeout() time.Duration {
	if w.Timeout <= 0 {
		return DefaultTimeout
	}
	return w.Timeout
}

func (w *Watchdog) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
