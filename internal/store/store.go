package store

import (
	"context"
	"errors"
	"time"

	"remindcal/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store persists events and their reminders.
//
// Event ids are assigned by CreateEvent. Reminder ids are numbered per
// event starting at 1; a reminder is identified by (EventID, ID).
// Deleting an event deletes its reminders.
type Store interface {
	CreateEvent(ctx context.Context, ev *model.Event) error
	UpdateEvent(ctx context.Context, ev model.Event) error
	DeleteEvent(ctx context.Context, id int64) error
	GetEvent(ctx context.Context, id int64) (model.Event, error)

	// AllEvents returns every event ordered by start.
	AllEvents(ctx context.Context) ([]model.Event, error)
	// EventsInRange returns events whose start lies within [from, to].
	EventsInRange(ctx context.Context, from, to time.Time) ([]model.Event, error)
	EventsByType(ctx context.Context, t model.EventType) ([]model.Event, error)
	// FindEvents returns events with exactly this title and start.
	FindEvents(ctx context.Context, title string, start time.Time) ([]model.Event, error)
	EventsBySubscription(ctx context.Context, subscriptionID int64) ([]model.Event, error)
	DeleteEventsBySubscription(ctx context.Context, subscriptionID int64) (int64, error)

	CreateReminder(ctx context.Context, r *model.Reminder) error
	UpdateReminder(ctx context.Context, r model.Reminder) error
	DeleteReminder(ctx context.Context, eventID, id int64) error
	RemindersForEvent(ctx context.Context, eventID int64) ([]model.Reminder, error)
	DeleteRemindersForEvent(ctx context.Context, eventID int64) error

	Close()
}
