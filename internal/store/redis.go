package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foldfi/position-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.InsertEvent(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventsKey(e.Depositor))
	return nil
}

func (s *CachedStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.SaveHolding(ctx, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingKey(h.Depositor))
	return nil
}

func (s *CachedStore) SaveSchedule(ctx context.Context, sched *model.DCASchedule) error {
	if err := s.primary.SaveSchedule(ctx, sched); err != nil {
		return err
	}
	s.rdb.Del(ctx, scheduleKey(sched.Depositor))
	return nil
}

func (s *CachedStore) DeleteSchedule(ctx context.Context, depositor string) error {
	if err := s.primary.DeleteSchedule(ctx, depositor); err != nil {
		return err
	}
	s.rdb.Del(ctx, scheduleKey(depositor))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetHolding(ctx context.Context, depositor string) (*model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingKey(depositor)).Bytes()
	if err == nil {
		var h model.Holding
		if json.Unmarshal(data, &h) == nil {
			return &h, nil
		}
	}

	h, err := s.primary.GetHolding(ctx, depositor)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(h); err == nil {
		s.rdb.Set(ctx, holdingKey(depositor), data, s.ttl)
	}
	return h, nil
}

func (s *CachedStore) GetSchedule(ctx context.Context, depositor string) (*model.DCASchedule, error) {
	data, err := s.rdb.Get(ctx, scheduleKey(depositor)).Bytes()
	if err == nil {
		var sched model.DCASchedule
		if json.Unmarshal(data, &sched) == nil {
			return &sched, nil
		}
	}

	sched, err := s.primary.GetSchedule(ctx, depositor)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sched); err == nil {
		s.rdb.Set(ctx, scheduleKey(depositor), data, s.ttl)
	}
	return sched, nil
}

func (s *CachedStore) GetEventsByDepositor(ctx context.Context, depositor string) ([]model.Event, error) {
	data, err := s.rdb.Get(ctx, eventsKey(depositor)).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.GetEventsByDepositor(ctx, depositor)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(depositor), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx)
}

func (s *CachedStore) ListSchedules(ctx context.Context) ([]model.DCASchedule, error) {
	return s.primary.ListSchedules(ctx)
}

// --- Cache keys ---

func holdingKey(depositor string) string  { return fmt.Sprintf("holding:%s", depositor) }
func scheduleKey(depositor string) string { return fmt.Sprintf("schedule:%s", depositor) }
func eventsKey(depositor string) string   { return fmt.Sprintf("events:%s", depositor) }
