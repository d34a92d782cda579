package model

import "time"

// EventType classifies where an event came from and how it is shown.
type EventType int

const (
	TypeWork         EventType = 0
	TypeLife         EventType = 1
	TypeHoliday      EventType = 2
	TypeSubscription EventType = 3
	TypeICSImported  EventType = 4
)

func (t EventType) String() string {
	switch t {
	case TypeWork:
		return "work"
	case TypeLife:
		return "life"
	case TypeHoliday:
		return "holiday"
	case TypeSubscription:
		return "subscription"
	case TypeICSImported:
		return "ics-imported"
	default:
		return "unknown"
	}
}

// Event represents a logical calendar event before recurrence expansion.
// ID is zero until the store persists the event.
//
// End >= Start is expected from callers and is not checked here.
type Event struct {
	ID int64 `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Type EventType `json:"type"`

	// RRule is the raw RRULE value, e.g. "FREQ=WEEKLY;BYDAY=MO".
	RRule string `json:"rrule,omitempty"`

	IsLunar   bool   `json:"is_lunar,omitempty"`
	LunarDate string `json:"lunar_date,omitempty"`

	// SubscriptionID links events imported from a subscription; zero otherwise.
	SubscriptionID int64 `json:"subscription_id,omitempty"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Reminder asks for a notification MinutesBefore an occurrence starts.
type Reminder struct {
	ID            int64 `json:"id"`
	EventID       int64 `json:"event_id"`
	MinutesBefore int   `json:"minutes_before"`
}

// Lead returns the reminder offset as a duration.
func (r Reminder) Lead() time.Duration {
	return time.Duration(r.MinutesBefore) * time.Minute
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion). It is never persisted and has no identity
// of its own.
type Occurrence struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Type      EventType `json:"type"`
	RRule     string    `json:"rrule,omitempty"`
	IsLunar   bool      `json:"is_lunar,omitempty"`
	LunarDate string    `json:"lunar_date,omitempty"`
}

// Subscription is a remote ICS feed whose events are mirrored locally.
type Subscription struct {
	ID   int64
	Name string
	URL  string
}
