package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/paywindow/internal/window"
)

// Config customises a Registry. Zero values fall back to wall-clock time and uuid v4 identifiers.
type Config struct {
	Now       func() time.Time
	NewID     func() string
	OnCreated func(*Session)
	OnSettled func(*Session, Outcome)
}

// Registry is the in-memory table of pending sessions. Membership in the
// registry is equivalent to pending status: a session leaves the table in the
// same critical section in which its outcome is assigned.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seq      uint64

	now       func() time.Time
	newID     func() string
	onCreated func(*Session)
	onSettled func(*Session, Outcome)
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		now:       cfg.Now,
		newID:     cfg.NewID,
		onCreated: cfg.OnCreated,
		onSettled: cfg.OnSettled,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Create allocates a pending session for targetURL owning the supplied window.
func (r *Registry) Create(targetURL string, win window.Handle) *Session {
	r.mu.Lock()
	id := r.newID()
	if _, taken := r.sessions[id]; taken || strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	r.seq++
	s := &Session{
		ID:        id,
		TargetURL: targetURL,
		CreatedAt: r.now(),
		Window:    win,
		seq:       r.seq,
	}
	s.cell.done = make(chan struct{})
	r.sessions[id] = s
	r.mu.Unlock()

	if r.onCreated != nil {
		r.onCreated(s)
	}
	return s
}

// Settle assigns outcome to the session if it is still pending and removes it
// from the registry. Unknown or already settled ids are ignored and false is
// returned.
func (r *Registry) Settle(id string, outcome Outcome) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if !s.cell.resolve(outcome) {
		delete(r.sessions, id)
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.fireHooks(outcome)
	if r.onSettled != nil {
		r.onSettled(s, outcome)
	}
	return true
}

// SettleAll settles every currently pending session with the outcome built by
// factory, oldest first, and returns how many sessions it settled. Every cell is
// resolved in one critical section before any OnSettle hook runs, so a hook
// cannot cause a sibling to settle differently. factory runs under the registry
// lock and must not call back into the registry.
func (r *Registry) SettleAll(factory func(*Session) Outcome) int {
	if factory == nil {
		return 0
	}
	type settlement struct {
		s   *Session
		out Outcome
	}

	r.mu.Lock()
	pending := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		pending = append(pending, s)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	settled := make([]settlement, 0, len(pending))
	for _, s := range pending {
		out := factory(s)
		if s.cell.resolve(out) {
			settled = append(settled, settlement{s: s, out: out})
		}
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	for _, st := range settled {
		st.s.fireHooks(st.out)
		if r.onSettled != nil {
			r.onSettled(st.s, st.out)
		}
	}
	return len(settled)
}

// Get returns the pending session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// IsPending reports whether id names a session that has not settled yet.
func (r *Registry) IsPending(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len returns the number of pending sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs lists pending session ids in creation order.
func (r *Registry) IDs() []string {
	sessions := r.snapshot()
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
