package calendar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"remindcal/internal/ics"
	appLog "remindcal/internal/log"
	"remindcal/internal/lunar"
	"remindcal/internal/metrics"
	"remindcal/internal/model"
	"remindcal/internal/recurrence"
	"remindcal/internal/store"
)

var ErrInvalidEvent = errors.New("invalid event")

// Scheduler is the part of reminder.Scheduler the service drives.
type Scheduler interface {
	Schedule(ev model.Event, reminders []model.Reminder) error
	Cancel(eventID int64) error
}

// Service keeps the store and the reminder registrations consistent.
// Every mutation of one event runs under that event's lock, so Schedule
// and Cancel for the same event never overlap.
type Service struct {
	store store.Store
	sched Scheduler
	loc   *time.Location
	locks *eventLocks
}

func NewService(st store.Store, sched Scheduler, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, sched: sched, loc: loc, locks: newEventLocks()}
}

// SaveEvent creates ev (ID zero) or replaces it, stores reminders as its
// complete reminder set and re-registers the triggers.
func (s *Service) SaveEvent(ctx context.Context, ev model.Event, reminders []model.Reminder) (model.Event, []model.Reminder, error) {
	if err := validate(ev, reminders); err != nil {
		return model.Event{}, nil, err
	}

	if ev.IsLunar {
		ev.LunarDate = s.lunarLabel(ev.Start)
	}

	created := ev.ID == 0
	if created {
		if err := s.store.CreateEvent(ctx, &ev); err != nil {
			return model.Event{}, nil, err
		}
	}
	unlock := s.locks.lock(ev.ID)
	defer unlock()

	if !created {
		if err := s.store.UpdateEvent(ctx, ev); err != nil {
			return model.Event{}, nil, err
		}
	}
	if err := s.store.DeleteRemindersForEvent(ctx, ev.ID); err != nil {
		return model.Event{}, nil, err
	}
	saved := make([]model.Reminder, 0, len(reminders))
	for _, r := range reminders {
		r.EventID = ev.ID
		if err := s.store.CreateReminder(ctx, &r); err != nil {
			return model.Event{}, nil, err
		}
		saved = append(saved, r)
	}

	s.schedule(ev, saved)
	return ev, saved, nil
}

func validate(ev model.Event, reminders []model.Reminder) error {
	switch {
	case ev.ID < 0:
		return fmt.Errorf("%w: negative id", ErrInvalidEvent)
	case ev.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	case ev.End.Before(ev.Start):
		return fmt.Errorf("%w: end before start", ErrInvalidEvent)
	}
	for _, r := range reminders {
		if r.MinutesBefore < 0 {
			return fmt.Errorf("%w: negative reminder offset %d", ErrInvalidEvent, r.MinutesBefore)
		}
	}
	return nil
}

// schedule logs registration problems; the event itself is already saved.
func (s *Service) schedule(ev model.Event, reminders []model.Reminder) {
	if err := s.sched.Schedule(ev, reminders); err != nil {
		appLog.Error("reminder scheduling incomplete", err, "event_id", ev.ID)
	}
}

// GetEvent returns the event with its reminders.
func (s *Service) GetEvent(ctx context.Context, id int64) (model.Event, []model.Reminder, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return model.Event{}, nil, err
	}
	rs, err := s.store.RemindersForEvent(ctx, id)
	if err != nil {
		return model.Event{}, nil, err
	}
	return ev, rs, nil
}

// DeleteEvent withdraws the event's triggers, then deletes it.
func (s *Service) DeleteEvent(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.sched.Cancel(id); err != nil {
		appLog.Error("reminder cancel incomplete", err, "event_id", id)
	}
	return s.store.DeleteEvent(ctx, id)
}

type ImportResult struct {
	Parsed     int `json:"parsed"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

// ImportICS stores every event of an ICS document as ics-imported. Events
// already present with the same title and start are skipped.
func (s *Service) ImportICS(ctx context.Context, text string) (ImportResult, error) {
	events := ics.Parse(text, s.loc)
	res := ImportResult{Parsed: len(events)}

	for _, ev := range events {
		dups, err := s.store.FindEvents(ctx, ev.Title, ev.Start)
		if err != nil {
			return res, err
		}
		if len(dups) > 0 {
			res.Duplicates++
			continue
		}
		ev.Type = model.TypeICSImported
		if err := s.store.CreateEvent(ctx, &ev); err != nil {
			return res, err
		}
		res.Imported++
	}

	metrics.EventsImported.WithLabelValues("file").Add(float64(res.Imported))
	appLog.Info("ics import finished", "parsed", res.Parsed, "imported", res.Imported, "duplicates", res.Duplicates)
	return res, nil
}

// ExportICS renders the events starting within [from, to]. With both
// bounds zero every event is exported.
func (s *Service) ExportICS(ctx context.Context, from, to time.Time) (string, error) {
	var (
		events []model.Event
		err    error
	)
	if from.IsZero() && to.IsZero() {
		events, err = s.store.AllEvents(ctx)
	} else {
		events, err = s.store.EventsInRange(ctx, from, to)
	}
	if err != nil {
		return "", err
	}
	return ics.Generate(events), nil
}

// RescheduleAll registers the reminders of every stored event. Run at
// startup; timer registrations do not outlive the process.
func (s *Service) RescheduleAll(ctx context.Context) (int, error) {
	events, err := s.store.AllEvents(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return scheduled, err
		}
		rs, err := s.store.RemindersForEvent(ctx, ev.ID)
		if err != nil {
			return scheduled, err
		}
		if len(rs) == 0 {
			continue
		}
		unlock := s.locks.lock(ev.ID)
		s.schedule(ev, rs)
		unlock()
		scheduled++
	}
	appLog.Info("reminders rescheduled", "events", len(events), "with_reminders", scheduled)
	return scheduled, nil
}

// ReplaceSubscriptionEvents swaps the stored copy of a subscription for
// events. Earlier copies are removed along with their triggers.
func (s *Service) ReplaceSubscriptionEvents(ctx context.Context, subscriptionID int64, events []model.Event) (int, error) {
	if subscriptionID <= 0 {
		return 0, fmt.Errorf("%w: subscription id %d", ErrInvalidEvent, subscriptionID)
	}

	old, err := s.store.EventsBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	for _, ev := range old {
		unlock := s.locks.lock(ev.ID)
		if err := s.sched.Cancel(ev.ID); err != nil {
			appLog.Error("reminder cancel incomplete", err, "event_id", ev.ID)
		}
		unlock()
	}
	removed, err := s.store.DeleteEventsBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, ev := range events {
		ev.ID = 0
		ev.Type = model.TypeSubscription
		ev.SubscriptionID = subscriptionID
		if err := s.store.CreateEvent(ctx, &ev); err != nil {
			return inserted, err
		}
		inserted++
	}

	metrics.EventsImported.WithLabelValues("subscription").Add(float64(inserted))
	appLog.Info("subscription events replaced", "subscription_id", subscriptionID, "removed", removed, "inserted", inserted)
	return inserted, nil
}

// AgendaItem is one occurrence together with the event it came from.
type AgendaItem struct {
	EventID int64 `json:"event_id"`
	model.Occurrence
}

// MaxAgendaDays bounds the window of a single Agenda call.
const MaxAgendaDays = 366

// Agenda lists the occurrences overlapping [from, to), ordered by start.
// Windows longer than MaxAgendaDays are cut at from + MaxAgendaDays.
func (s *Service) Agenda(ctx context.Context, from, to time.Time) ([]AgendaItem, error) {
	if !to.After(from) {
		return []AgendaItem{}, nil
	}
	if limit := from.AddDate(0, 0, MaxAgendaDays); to.After(limit) {
		to = limit
	}
	events, err := s.store.AllEvents(ctx)
	if err != nil {
		return nil, err
	}

	out := []AgendaItem{}
	for _, ev := range events {
		if !ev.Start.Before(to) {
			// AllEvents is ordered by start.
			break
		}
		horizon := int(math.Ceil(to.Sub(ev.Start).Hours()/24)) + 1
		for _, occ := range recurrence.Instances(ev, horizon, s.loc) {
			if occ.Start.Before(to) && (occ.End.After(from) || occ.Start.Equal(from)) {
				if occ.IsLunar {
					occ.LunarDate = s.lunarLabel(occ.Start)
				}
				out = append(out, AgendaItem{EventID: ev.ID, Occurrence: occ})
			}
		}
	}
	sortAgenda(out)
	return out, nil
}

// lunarLabel is the lunar month and day of t's date in the service zone,
// or "" outside the supported years.
func (s *Service) lunarLabel(t time.Time) string {
	ld, err := lunar.FromSolar(t.In(s.loc))
	if err != nil {
		appLog.Debug("no lunar date", "date", t.Format(time.DateOnly), "err", err)
		return ""
	}
	return ld.String()
}

func sortAgenda(items []AgendaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Start.Before(items[j].Start)
	})
}
