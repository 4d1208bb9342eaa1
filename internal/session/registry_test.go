package session_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/apperr"
	"github.com/noah-isme/paywindow/internal/session"
	"github.com/noah-isme/paywindow/internal/window/windowtest"
)

func newRegistry() *session.Registry {
	var n atomic.Int64
	return session.NewRegistry(session.Config{
		NewID: func() string { return fmt.Sprintf("s%d", n.Add(1)) },
	})
}

func TestCreateStoresPendingSession(t *testing.T) {
	reg := newRegistry()
	win := windowtest.NewWindow("paywindow", "https://pay.example/abc")
	s := reg.Create("https://pay.example/abc", win)

	require.Equal(t, "s1", s.ID)
	require.Equal(t, session.StatusPending, s.Status())
	require.True(t, reg.IsPending(s.ID))
	got, ok := reg.Get(s.ID)
	require.True(t, ok)
	require.Same(t, s, got)
	require.Same(t, win, got.Window.(*windowtest.Window))
	require.False(t, s.CreatedAt.IsZero())
}

func TestSettleIsIdempotent(t *testing.T) {
	reg := newRegistry()
	s := reg.Create("https://pay.example/abc", nil)
	var hooks atomic.Int64
	s.OnSettle(func(session.Outcome) { hooks.Add(1) })

	first := session.Outcome{Kind: session.KindCompleted, Reference: "R1"}
	require.True(t, reg.Settle(s.ID, first))
	require.False(t, reg.Settle(s.ID, session.Outcome{Kind: session.KindTimedOut}))

	out, ok := s.Outcome()
	require.True(t, ok)
	require.Equal(t, first, out)
	require.Equal(t, session.StatusSettled, s.Status())
	require.False(t, reg.IsPending(s.ID))
	require.Zero(t, reg.Len())
	require.EqualValues(t, 1, hooks.Load())

	late := make(chan session.Outcome, 1)
	s.OnSettle(func(o session.Outcome) { late <- o })
	require.Equal(t, first, <-late, "hooks registered after settlement run immediately")
}

func TestSettleUnknownIsNoop(t *testing.T) {
	reg := newRegistry()
	require.False(t, reg.Settle("missing", session.Outcome{Kind: session.KindCompleted}))
}

func TestConcurrentSettleHasSingleWinner(t *testing.T) {
	reg := newRegistry()
	s := reg.Create("https://pay.example/race", nil)

	var wins atomic.Int64
	var wg sync.WaitGroup
	kinds := []session.Kind{session.KindCompleted, session.KindClosedManually, session.KindTimedOut, session.KindRemoteError}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if reg.Settle(s.ID, session.Outcome{Kind: kinds[i%len(kinds)]}) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
	require.Zero(t, reg.Len())
}

func TestSettleAllOldestFirst(t *testing.T) {
	reg := newRegistry()
	a := reg.Create("https://pay.example/a", nil)
	b := reg.Create("https://pay.example/b", nil)
	c := reg.Create("https://pay.example/c", nil)
	require.True(t, reg.Settle(b.ID, session.Outcome{Kind: session.KindTimedOut}))
	require.Equal(t, []string{a.ID, c.ID}, reg.IDs())

	var seen []string
	n := reg.SettleAll(func(s *session.Session) session.Outcome {
		seen = append(seen, s.ID)
		return session.Outcome{Kind: session.KindCompleted, Reference: "R" + s.ID}
	})
	require.Equal(t, 2, n)
	require.Equal(t, []string{a.ID, c.ID}, seen)
	require.Zero(t, reg.Len())

	out, _ := c.Outcome()
	require.Equal(t, "R"+c.ID, out.Reference)
	out, _ = b.Outcome()
	require.Equal(t, session.KindTimedOut, out.Kind)
}

func TestSettleAllResolvesEveryCellBeforeHooks(t *testing.T) {
	reg := newRegistry()
	a := reg.Create("https://pay.example/a", nil)
	b := reg.Create("https://pay.example/b", nil)

	var siblingPending bool
	a.OnSettle(func(session.Outcome) {
		siblingPending = reg.IsPending(b.ID)
		require.False(t, reg.Settle(b.ID, session.Outcome{Kind: session.KindClosedManually}))
	})

	n := reg.SettleAll(func(*session.Session) session.Outcome {
		return session.Outcome{Kind: session.KindCompleted, Reference: "RX"}
	})
	require.Equal(t, 2, n)
	require.False(t, siblingPending)

	out, _ := b.Outcome()
	require.Equal(t, session.KindCompleted, out.Kind)
	require.Equal(t, "RX", out.Reference)
}

func TestWaitMapsOutcomes(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()

	cases := []struct {
		outcome session.Outcome
		err     error
	}{
		{session.Outcome{Kind: session.KindCompleted, Reference: "R1"}, nil},
		{session.Outcome{Kind: session.KindClosedManually, Reference: "R2"}, nil},
		{session.Outcome{Kind: session.KindClosedManually}, apperr.ErrUserClosed},
		{session.Outcome{Kind: session.KindTimedOut}, apperr.ErrRemoteTimeout},
		{session.Outcome{Kind: session.KindRemoteError, Detail: map[string]any{"error": "declined"}}, apperr.ErrRemoteReported},
		{session.Outcome{Kind: session.KindUserCancelled}, apperr.ErrUserCancelled},
	}
	for _, tc := range cases {
		s := reg.Create("https://pay.example", nil)
		require.True(t, reg.Settle(s.ID, tc.outcome))
		out, err := s.Wait(ctx)
		require.Equal(t, tc.outcome, out)
		if tc.err == nil {
			require.NoError(t, err)
			continue
		}
		require.ErrorIs(t, err, tc.err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	reg := newRegistry()
	s := reg.Create("https://pay.example", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, reg.IsPending(s.ID))
}

func TestObserversSeeLifecycle(t *testing.T) {
	var created, settled []string
	reg := session.NewRegistry(session.Config{
		OnCreated: func(s *session.Session) { created = append(created, s.ID) },
		OnSettled: func(s *session.Session, o session.Outcome) { settled = append(settled, string(o.Kind)) },
	})
	s := reg.Create("https://pay.example", nil)
	reg.Settle(s.ID, session.Outcome{Kind: session.KindUserCancelled})
	reg.Settle(s.ID, session.Outcome{Kind: session.KindCompleted})
	require.Equal(t, []string{s.ID}, created)
	require.Equal(t, []string{"userCancelled"}, settled)
}
