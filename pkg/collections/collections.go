package collections

import (
	"context"
	"sync"
)

// Queue is a FIFO of string values.
type Queue interface {
	// Push appends a value to the tail.
	Push(ctx context.Context, val string) error
	// Pop removes and returns the head value. The second return is false
	// when the queue is empty.
	Pop(ctx context.Context) (string, bool, error)
	// Len returns the number of queued values.
	Len(ctx context.Context) (int, error)
}

// Set is a membership set of string values with test-and-set insertion.
type Set interface {
	// Add inserts member and reports whether it was newly added. The
	// check and the insert are a single atomic step on every backend.
	Add(ctx context.Context, member string) (bool, error)
	// Remove deletes member. Removing an absent member is not an error.
	Remove(ctx context.Context, member string) error
	// Contains reports membership.
	Contains(ctx context.Context, member string) (bool, error)
	// Len returns the number of members.
	Len(ctx context.Context) (int, error)
}

// Map is a string-keyed map of string values.
type Map interface {
	Set(ctx context.Context, key, val string) error
	// Get returns the value for key. The second return is false when the
	// key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Store hands out named collections. Two requests for the same name and
// kind observe the same data.
type Store interface {
	Queue(name string) Queue
	Set(name string) Set
	Map(name string) Map
	Close() error
}

// memoryStore keeps all collections in process memory. It is the default
// for single-worker deployments and for tests.
type memoryStore struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	sets   map[string]*memorySet
	maps   map[string]*memoryMap
}

// NewMemoryStore returns an in-process Store.
func NewMemoryStore() Store {
	return &memoryStore{
		queues: make(map[string]*memoryQueue),
		sets:   make(map[string]*memorySet),
		maps:   make(map[string]*memoryMap),
	}
}

func (s *memoryStore) Queue(name string) Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		q = &memoryQueue{}
		s.queues[name] = q
	}
	return q
}

func (s *memoryStore) Set(name string) Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[name]
	if !ok {
		set = &memorySet{members: make(map[string]struct{})}
		s.sets[name] = set
	}
	return set
}

func (s *memoryStore) Map(name string) Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		m = &memoryMap{entries: make(map[string]string)}
		s.maps[name] = m
	}
	return m
}

func (s *memoryStore) Close() error { return nil }

type memoryQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *memoryQueue) Push(_ context.Context, val string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, val)
	return nil
}

func (q *memoryQueue) Pop(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true, nil
}

func (q *memoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

type memorySet struct {
	mu      sync.Mutex
	members map[string]struct{}
}

func (s *memorySet) Add(_ context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[member]; ok {
		return false, nil
	}
	s.members[member] = struct{}{}
	return true, nil
}

func (s *memorySet) Remove(_ context.Context, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, member)
	return nil
}

func (s *memorySet) Contains(_ context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[member]
	return ok, nil
}

func (s *memorySet) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members), nil
}

type memoryMap struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryMap) Set(_ context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = val
	return nil
}

func (m *memoryMap) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.entries[key]
	return val, ok, nil
}

func (m *memoryMap) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryMap) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memoryMap) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}
