package reminder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/metrics"
	"remindcal/internal/model"
	"remindcal/internal/recurrence"
)

// HorizonDays is how far ahead recurring events are expanded when
// registering reminders.
const HorizonDays = 30

type SchedulerConfig struct {
	// Location is the default zone used for recurrence stepping.
	Location *time.Location
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Scheduler turns events and their reminders into timer registrations.
//
// Schedule and Cancel for the same event must not run concurrently; the
// calendar service serialises them per event. The registry itself is safe
// for concurrent use.
type Scheduler struct {
	timer Timer
	loc   *time.Location
	now   func() time.Time

	mu         sync.Mutex
	registered map[int64]map[int64]struct{}
	active     int
}

func NewScheduler(timer Timer, cfg SchedulerConfig) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		timer:      timer,
		loc:        loc,
		now:        now,
		registered: make(map[int64]map[int64]struct{}),
	}
}

// Schedule replaces every registration of ev with one trigger per
// (occurrence, reminder) pair whose instant is still in the future.
func (s *Scheduler) Schedule(ev model.Event, reminders []model.Reminder) error {
	var errs []error
	if err := s.Cancel(ev.ID); err != nil {
		errs = append(errs, err)
	}
	if len(reminders) == 0 {
		return errors.Join(errs...)
	}

	now := s.now()
	occurrences := recurrence.Instances(ev, HorizonDays, s.loc)

	registered := 0
	for i, occ := range occurrences {
		for _, r := range reminders {
			at := occ.Start.Add(-r.Lead())
			if !at.After(now) {
				metrics.TriggersSkipped.WithLabelValues("past").Inc()
				appLog.Debug("reminder trigger in the past; skipped",
					"event_id", ev.ID, "reminder_id", r.ID, "occurrence", i, "at", at.Format(time.RFC3339))
				continue
			}

			key, err := EncodeKey(ev.ID, r.ID, i)
			if err != nil {
				metrics.TriggersSkipped.WithLabelValues("key_range").Inc()
				appLog.Error("reminder trigger key out of range; skipped", err,
					"event_id", ev.ID, "reminder_id", r.ID, "occurrence", i)
				errs = append(errs, err)
				continue
			}

			payload := Payload{
				EventID:   ev.ID,
				Title:     occ.Title,
				StartTime: occ.Start,
				Location:  occ.Location,
			}
			// Tracked before Register so a trigger firing at once finds its key.
			s.track(ev.ID, key)
			if err := s.timer.Register(key, at, payload); err != nil {
				s.Fired(key)
				metrics.TriggersSkipped.WithLabelValues("register_failed").Inc()
				appLog.Error("timer register failed", err, "event_id", ev.ID, "key", key)
				errs = append(errs, fmt.Errorf("register key %d: %w", key, err))
				continue
			}
			registered++
			metrics.TriggersRegistered.Inc()
		}
	}

	appLog.Debug("event scheduled",
		"event_id", ev.ID, "occurrences", len(occurrences), "reminders", len(reminders), "triggers", registered)
	return errors.Join(errs...)
}

// Cancel withdraws every trigger Schedule registered for eventID. Keys the
// timer no longer knows (already fired) are not an error.
func (s *Scheduler) Cancel(eventID int64) error {
	s.mu.Lock()
	keys := s.registered[eventID]
	delete(s.registered, eventID)
	s.active -= len(keys)
	metrics.ActiveTriggers.Set(float64(s.active))
	s.mu.Unlock()

	var errs []error
	for key := range keys {
		err := s.timer.Cancel(key)
		switch {
		case err == nil:
			metrics.TriggersCancelled.Inc()
		case errors.Is(err, ErrNotRegistered):
		default:
			appLog.Error("timer cancel failed", err, "event_id", eventID, "key", key)
			errs = append(errs, fmt.Errorf("cancel key %d: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) track(eventID, key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.registered[eventID]
	if !ok {
		keys = make(map[int64]struct{})
		s.registered[eventID] = keys
	}
	if _, dup := keys[key]; dup {
		return
	}
	keys[key] = struct{}{}
	s.active++
	metrics.ActiveTriggers.Set(float64(s.active))
}

// Fired drops a key the timer has delivered.
func (s *Scheduler) Fired(key int64) {
	eventID, _, _ := DecodeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.registered[eventID]
	if !ok {
		return
	}
	if _, ok := keys[key]; !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.registered, eventID)
	}
	s.active--
	metrics.ActiveTriggers.Set(float64(s.active))
}

// Keys returns the keys currently registered for eventID, in no
// particular order.
func (s *Scheduler) Keys(eventID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.registered[eventID]))
	for k := range s.registered[eventID] {
		out = append(out, k)
	}
	return out
}

// Active is the number of tracked triggers across all events.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
