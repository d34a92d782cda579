package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindcal/internal/model"
)

// Memory is a Store kept entirely in process memory. It is used when no
// database is configured and in tests.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	events    map[int64]model.Event
	reminders map[int64][]model.Reminder
}

func NewMemory() *Memory {
	return &Memory{
		nextID:    1,
		events:    make(map[int64]model.Event),
		reminders: make(map[int64][]model.Reminder),
	}
}

func (m *Memory) CreateEvent(_ context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.nextID
	m.nextID++
	m.events[ev.ID] = *ev
	return nil
}

func (m *Memory) UpdateEvent(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; !ok {
		return fmt.Errorf("event %d: %w", ev.ID, ErrNotFound)
	}
	m.events[ev.ID] = ev
	return nil
}

func (m *Memory) DeleteEvent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	delete(m.events, id)
	delete(m.reminders, id)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return ev, nil
}

func (m *Memory) AllEvents(_ context.Context) ([]model.Event, error) {
	return m.filter(func(model.Event) bool { return true }), nil
}

func (m *Memory) EventsInRange(_ context.Context, from, to time.Time) ([]model.Event, error) {
	return m.filter(func(ev model.Event) bool {
		return !ev.Start.Before(from) && !ev.Start.After(to)
	}), nil
}

func (m *Memory) EventsByType(_ context.Context, t model.EventType) ([]model.Event, error) {
	return m.filter(func(ev model.Event) bool { return ev.Type == t }), nil
}

func (m *Memory) FindEvents(_ context.Context, title string, start time.Time) ([]model.Event, error) {
	return m.filter(func(ev model.Event) bool {
		return ev.Title == title && ev.Start.Equal(start)
	}), nil
}

func (m *Memory) EventsBySubscription(_ context.Context, subscriptionID int64) ([]model.Event, error) {
	return m.filter(func(ev model.Event) bool { return ev.SubscriptionID == subscriptionID }), nil
}

func (m *Memory) DeleteEventsBySubscription(_ context.Context, subscriptionID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ev := range m.events {
		if ev.SubscriptionID != subscriptionID {
			continue
		}
		delete(m.events, id)
		delete(m.reminders, id)
		n++
	}
	return n, nil
}

// filter returns matching events ordered by start, then id.
func (m *Memory) filter(keep func(model.Event) bool) []model.Event {
	m.mu.RLock()
	out := make([]model.Event, 0, len(m.events))
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func (m *Memory) CreateReminder(_ context.Context, r *model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[r.EventID]; !ok {
		return fmt.Errorf("event %d: %w", r.EventID, ErrNotFound)
	}
	var maxID int64
	for _, existing := range m.reminders[r.EventID] {
		if existing.ID > maxID {
			maxID = existing.ID
		}
	}
	r.ID = maxID + 1
	m.reminders[r.EventID] = append(m.reminders[r.EventID], *r)
	return nil
}

func (m *Memory) UpdateReminder(_ context.Context, r model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reminders[r.EventID]
	for i := range list {
		if list[i].ID == r.ID {
			list[i] = r
			return nil
		}
	}
	return fmt.Errorf("reminder %d/%d: %w", r.EventID, r.ID, ErrNotFound)
}

func (m *Memory) DeleteReminder(_ context.Context, eventID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reminders[eventID]
	for i := range list {
		if list[i].ID == id {
			m.reminders[eventID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("reminder %d/%d: %w", eventID, id, ErrNotFound)
}

func (m *Memory) RemindersForEvent(_ context.Context, eventID int64) ([]model.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Reminder, len(m.reminders[eventID]))
	copy(out, m.reminders[eventID])
	return out, nil
}

func (m *Memory) DeleteRemindersForEvent(_ context.Context, eventID int64) error {
	m.mu.Lock()
	delete(m.reminders, eventID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() {}
