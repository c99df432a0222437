// Package credential holds the bearer credential slot shared by every
// request the API client makes, plus change notification for observers.
package credential

import (
	"context"
	"sync"
)

// Store is the single persistent slot holding the current bearer credential.
// Load returns an empty string when no credential is stored.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	Subscribe(fn func(Change)) (unsubscribe func())
}

// Change describes a mutation of the slot.
type Change struct {
	Token string
	// Cleared is true when the slot was emptied.
	Cleared bool
	// External is true when the mutation was made by another process
	// sharing the same persistent slot.
	External bool
}

// Notifier is a subscriber registry shared by Store implementations.
// The zero value is ready to use.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// Subscribe registers fn and returns a function removing it.
func (n *Notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Change))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify calls every subscriber outside the lock, so subscribers may
// mutate the store or unsubscribe.
func (n *Notifier) Notify(c Change) {
	n.mu.Lock()
	fns := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	Notifier
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with token (which may be empty).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) Save(_ context.Context, token string) error {
	if token == "" {
		return ErrEmptyCredential
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.Notify(Change{Token: token})
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	s.Notify(Change{Cleared: true})
	return nil
}
