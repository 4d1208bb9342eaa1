// Package refstore holds the single last-known payment reference slot shared
// between the notification path and the manual-close path.
package refstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a single-slot, consume-once reference holder.
type Store interface {
	// Stash overwrites the slot with ref.
	Stash(ctx context.Context, ref string) error
	// Take returns the stashed reference and clears the slot.
	Take(ctx context.Context) (string, bool, error)
	// Clear empties the slot.
	Clear(ctx context.Context) error
}

// DefaultKey is the Redis key used when none is configured.
const DefaultKey = "paywindow:last_reference"

// Redis keeps the slot in Redis so every process of the embedding application
// sees the same reference.
type Redis struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

// Stash stores ref with the configured TTL.
func (r Redis) Stash(ctx context.Context, ref string) error {
	if r.Client == nil {
		return errors.New("refstore: redis client not configured")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	return r.Client.Set(ctx, r.key(), ref, r.TTL).Err()
}

// Take atomically reads and deletes the slot.
func (r Redis) Take(ctx context.Context) (string, bool, error) {
	if r.Client == nil {
		return "", false, errors.New("refstore: redis client not configured")
	}
	ref, err := r.Client.GetDel(ctx, r.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return ref, ref != "", nil
}

// Clear deletes the slot.
func (r Redis) Clear(ctx context.Context) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.key()).Err()
}

func (r Redis) key() string {
	if k := strings.TrimSpace(r.Key); k != "" {
		return k
	}
	return DefaultKey
}

// Memory keeps the slot in process memory.
type Memory struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	ref      string
	storedAt time.Time
}

// NewMemory returns an empty in-memory slot whose entries expire after ttl (0 disables expiry).
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{TTL: ttl}
}

func (m *Memory) Stash(_ context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = ref
	m.storedAt = m.now()
	return nil
}

func (m *Memory) Take(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.ref
	expired := m.TTL > 0 && m.now().Sub(m.storedAt) > m.TTL
	m.ref = ""
	if ref == "" || expired {
		return "", false, nil
	}
	return ref, true, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = ""
	return nil
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
