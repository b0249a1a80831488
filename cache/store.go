package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Listener receives the entry for a key after every mutation of that key.
// A cleared key is delivered as the zero Entry.
type Listener func(Entry)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp Entry.UpdatedAt.
// Default: time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store maps keys to entries.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Mutations are key-scoped merges: a write to one field never touches the
// other fields of that entry or any other key.
// - Reads after a write observe the write. There is no ordering guarantee
// across different keys.
// - Listeners are invoked synchronously after the write, outside the lock.
// - Every Clear advances the key's generation. Writes made through
// UpdateIfGeneration with an older generation are dropped.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	gens      map[string]uint64
	listeners map[string]map[uint64]Listener
	nextID    uint64
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:   make(map[string]*Entry),
		gens:      make(map[string]uint64),
		listeners: make(map[string]map[uint64]Listener),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns a snapshot of the entry for key. A missing key yields the zero
// Entry and false; the store is not modified.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Update applies fn to the entry for key under the store lock, inserting the
// entry if it does not exist.
func (s *Store) Update(key string, fn func(*Entry)) Entry {
	s.mu.Lock()
	return s.updateLocked(key, fn)
}

// UpdateIfGeneration applies fn like Update, but only while key is still at
// generation gen. It reports whether fn was applied.
func (s *Store) UpdateIfGeneration(key string, gen uint64, fn func(*Entry)) (Entry, bool) {
	s.mu.Lock()
	if s.gens[key] != gen {
		s.mu.Unlock()
		return Entry{}, false
	}
	return s.updateLocked(key, fn), true
}

// Generation returns how many times key has been cleared.
func (s *Store) Generation(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[key]
}

// updateLocked must be called with s.mu held; it releases the lock before
// notifying listeners.
func (s *Store) updateLocked(key string, fn func(*Entry)) Entry {
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{}
		s.entries[key] = e
	}
	fn(e)
	snapshot := *e
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return snapshot
}

// SetData stores the latest result for key.
func (s *Store) SetData(key string, data any) {
	s.Update(key, func(e *Entry) { e.Data = data })
}

// SetError stores the latest failure for key. A nil err clears it.
func (s *Store) SetError(key string, err error) {
	s.Update(key, func(e *Entry) { e.Err = err })
}

// SetLoading sets the loading flag for key and stamps UpdatedAt.
func (s *Store) SetLoading(key string, loading bool) {
	now := s.now()
	s.Update(key, func(e *Entry) {
		e.IsLoading = loading
		e.UpdatedAt = now
	})
}

// SetSuccess sets the success flag for key.
func (s *Store) SetSuccess(key string, success bool) {
	s.Update(key, func(e *Entry) { e.IsSuccess = success })
}

// SetFetchFn binds the producer used to refetch key.
func (s *Store) SetFetchFn(key string, fn Producer) {
	s.Update(key, func(e *Entry) { e.FetchFn = fn })
}

// Clear removes key entirely. It reports whether the key was present.
// Clear is idempotent.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.gens[key]++
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	if ok {
		for _, l := range listeners {
			l(Entry{})
		}
	}
	return ok
}

// Keys returns the present keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the present keys starting with prefix, sorted.
func (s *Store) KeysWithPrefix(prefix string) []string {
	all := s.Keys()
	keys := all[:0]
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of present keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers l for mutations of key and returns the current entry
// together with a function that removes the registration.
func (s *Store) Subscribe(key string, l Listener) (Entry, func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[uint64]Listener)
	}
	s.listeners[key][id] = l

	var current Entry
	if e, ok := s.entries[key]; ok {
		current = *e
	}
	s.mu.Unlock()

	var once sync.Once
	return current, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[key], id)
			if len(s.listeners[key]) == 0 {
				delete(s.listeners, key)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Store) listenersLocked(key string) []Listener {
	registered := s.listeners[key]
	if len(registered) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, registered[id])
	}
	return out
}
