package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/foldfi/position-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	events    []model.Event
	holdings  map[string]model.Holding
	schedules map[string]model.DCASchedule
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings:  make(map[string]model.Holding),
		schedules: make(map[string]model.DCASchedule),
	}
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, len(s.events))
	copy(events, s.events)
	return events, nil
}

func (s *MemoryStore) GetEventsByDepositor(_ context.Context, depositor string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.Depositor == depositor {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Units.IsZero() {
		delete(s.holdings, h.Depositor)
		return nil
	}
	s.holdings[h.Depositor] = *h
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, depositor string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[depositor]
	if !ok {
		return nil, fmt.Errorf("holding for %s not found", depositor)
	}
	return &h, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := make([]model.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func (s *MemoryStore) SaveSchedule(_ context.Context, sched *model.DCASchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[sched.Depositor] = *sched
	return nil
}

func (s *MemoryStore) GetSchedule(_ context.Context, depositor string) (*model.DCASchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[depositor]
	if !ok {
		return nil, fmt.Errorf("schedule for %s not found", depositor)
	}
	return &sched, nil
}

func (s *MemoryStore) DeleteSchedule(_ context.Context, depositor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.schedules, depositor)
	return nil
}

func (s *MemoryStore) ListSchedules(_ context.Context) ([]model.DCASchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]model.DCASchedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		schedules = append(schedules, sched)
	}
	return schedules, nil
}
