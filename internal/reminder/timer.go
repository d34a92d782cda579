package reminder

import (
	"errors"
	"time"
)

// ErrNotRegistered is returned by Timer.Cancel for an unknown key. The
// scheduler treats it as success.
var ErrNotRegistered = errors.New("trigger key not registered")

// Payload travels with a registered trigger and comes back when it fires.
type Payload struct {
	EventID   int64
	Title     string
	StartTime time.Time
	Location  string
}

// Timer is a one-shot trigger facility.
//
// Implementations must fire each key at most once, at or after its
// instant; registering a key again before it fires replaces the earlier
// registration.
type Timer interface {
	Register(key int64, at time.Time, payload Payload) error
	Cancel(key int64) error
}

// Notifier shows a user-visible notification. A later notification with
// the same id replaces the earlier one.
type Notifier interface {
	Show(id int64, title, body string) error
}
