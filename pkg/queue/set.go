package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dts-project/dts/pkg/spool"
	"github.com/dts-project/dts/pkg/types"
)

// Set owns every queue manager on one node and exposes them to pkg/metrics
// via the QueueSource interface it implements.
type Set struct {
	store *spool.Store

	mu       sync.RWMutex
	managers map[string]*Manager
	cancel   map[string]context.CancelFunc
}

// NewSet returns an empty Set backed by store.
func NewSet(store *spool.Store) *Set {
	return &Set{
		store:    store,
		managers: make(map[string]*Manager),
		cancel:   make(map[string]context.CancelFunc),
	}
}

// Add registers q and starts its manager loop in the background. hop and
// ready are wired in by pkg/daemon (xrpc client + health checker).
func (s *Set) Add(ctx context.Context, q *types.Queue, hop HopFunc, ready Reachable) (*Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.managers[q.Name]; exists {
		return nil, fmt.Errorf("queue: %s already registered", q.Name)
	}

	m := NewManager(q, s.store, hop, ready)
	runCtx, cancel := context.WithCancel(ctx)
	s.managers[q.Name] = m
	s.cancel[q.Name] = cancel

	go m.Run(runCtx)

	return m, nil
}

// Remove stops and forgets the named queue's manager.
func (s *Set) Remove(name string) {
	s.mu.Lock()
	m, ok := s.managers[name]
	cancel := s.cancel[name]
	delete(s.managers, name)
	delete(s.cancel, name)
	s.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	m.Stop()
}

// Get returns the manager for name, or nil if not registered.
func (s *Set) Get(name string) *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.managers[name]
}

// StopAll stops every registered manager, used at daemon shutdown.
func (s *Set) StopAll() {
	s.mu.RLock()
	names := make([]string, 0, len(s.managers))
	for name := range s.managers {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.Remove(name)
	}
}

// Queues implements metrics.QueueSource.
func (s *Set) Queues() []*types.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Queue, 0, len(s.managers))
	for _, m := range s.managers {
		q := *m.queue
		q.State = m.State()
		out = append(out, &q)
	}
	return out
}

// Backlog implements metrics.QueueSource.
func (s *Set) Backlog(queueName string) (int64, error) {
	m := s.Get(queueName)
	if m == nil {
		return 0, fmt.Errorf("queue: %s not registered", queueName)
	}
	return m.Backlog()
}
