package calendar

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindcal/internal/model"
	"remindcal/internal/store"
)

type scheduleCall struct {
	eventID   int64
	reminders int
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []scheduleCall
	cancelled []int64
}

func (r *recordingScheduler) Schedule(ev model.Event, reminders []model.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, scheduleCall{ev.ID, len(reminders)})
	return nil
}

func (r *recordingScheduler) Cancel(eventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, eventID)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Memory, *recordingScheduler) {
	t.Helper()
	st := store.NewMemory()
	sched := &recordingScheduler{}
	return NewService(st, sched, time.UTC), st, sched
}

var day1 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestSaveEventCreatesAndSchedules(t *testing.T) {
	ctx := context.Background()
	svc, st, sched := newTestService(t)

	ev, rs, err := svc.SaveEvent(ctx,
		model.Event{Title: "Dentist", Start: day1, End: day1.Add(time.Hour), Type: model.TypeLife},
		[]model.Reminder{{MinutesBefore: 10}, {MinutesBefore: 60, ID: 77}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.ID)
	require.Len(t, rs, 2)
	assert.Equal(t, model.Reminder{ID: 1, EventID: 1, MinutesBefore: 10}, rs[0])
	assert.Equal(t, model.Reminder{ID: 2, EventID: 1, MinutesBefore: 60}, rs[1], "client ids are ignored")

	stored, err := st.RemindersForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, rs, stored)
	assert.Equal(t, []scheduleCall{{1, 2}}, sched.scheduled)
}

func TestSaveEventUpdateReplacesReminders(t *testing.T) {
	ctx := context.Background()
	svc, st, sched := newTestService(t)

	ev, _, err := svc.SaveEvent(ctx, model.Event{Title: "A", Start: day1, End: day1}, []model.Reminder{{MinutesBefore: 5}, {MinutesBefore: 15}})
	require.NoError(t, err)

	ev.Title = "A2"
	_, rs, err := svc.SaveEvent(ctx, ev, []model.Reminder{{MinutesBefore: 30}})
	require.NoError(t, err)
	assert.Equal(t, []model.Reminder{{ID: 1, EventID: ev.ID, MinutesBefore: 30}}, rs)

	got, _ := st.GetEvent(ctx, ev.ID)
	assert.Equal(t, "A2", got.Title)
	assert.Equal(t, []scheduleCall{{ev.ID, 2}, {ev.ID, 1}}, sched.scheduled)

	_, _, err = svc.SaveEvent(ctx, model.Event{ID: 999, Start: day1, End: day1}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveEventValidates(t *testing.T) {
	svc, _, sched := newTestService(t)
	ctx := context.Background()

	var tests = []struct {
		name string
		ev   model.Event
		rs   []model.Reminder
	}{
		{"no start", model.Event{Title: "x"}, nil},
		{"end before start", model.Event{Start: day1, End: day1.Add(-time.Minute)}, nil},
		{"negative id", model.Event{ID: -2, Start: day1, End: day1}, nil},
		{"negative reminder", model.Event{Start: day1, End: day1}, []model.Reminder{{MinutesBefore: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SaveEvent(ctx, tt.ev, tt.rs)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
	assert.Empty(t, sched.scheduled)
}

func TestDeleteEventCancelsFirst(t *testing.T) {
	ctx := context.Background()
	svc, st, sched := newTestService(t)
	ev, _, err := svc.SaveEvent(ctx, model.Event{Title: "x", Start: day1, End: day1}, []model.Reminder{{}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEvent(ctx, ev.ID))
	assert.Equal(t, []int64{ev.ID}, sched.cancelled)
	_, err = st.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteEvent(ctx, ev.ID), store.ErrNotFound)
}

const importDoc = `BEGIN:VCALENDAR
BEGIN:VEVENT
SUMMARY:Launch
DTSTART:20250601T090000Z
DTEND:20250601T100000Z
END:VEVENT
BEGIN:VEVENT
SUMMARY:Retro
DTSTART:20250602T090000Z
RRULE:FREQ=WEEKLY
END:VEVENT
END:VCALENDAR`

func TestImportICSSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)

	res, err := svc.ImportICS(ctx, importDoc)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Parsed: 2, Imported: 2}, res)

	res, err = svc.ImportICS(ctx, importDoc)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Parsed: 2, Duplicates: 2}, res)

	all, _ := st.AllEvents(ctx)
	require.Len(t, all, 2)
	for _, ev := range all {
		assert.Equal(t, model.TypeICSImported, ev.Type)
	}
	assert.Equal(t, "FREQ=WEEKLY", all[1].RRule)
}

func TestExportICS(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, err := svc.ImportICS(ctx, importDoc)
	require.NoError(t, err)

	all, err := svc.ExportICS(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(all, "BEGIN:VEVENT"))

	first, err := svc.ExportICS(ctx, day1, day1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(first, "BEGIN:VEVENT"))
	assert.Contains(t, first, "SUMMARY:Launch")
}

func TestRescheduleAllOnlyEventsWithReminders(t *testing.T) {
	ctx := context.Background()
	svc, _, sched := newTestService(t)
	a, _, _ := svc.SaveEvent(ctx, model.Event{Title: "a", Start: day1, End: day1}, []model.Reminder{{}})
	_, _, _ = svc.SaveEvent(ctx, model.Event{Title: "b", Start: day1, End: day1}, nil)
	sched.scheduled = nil

	n, err := svc.RescheduleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []scheduleCall{{a.ID, 1}}, sched.scheduled)
}

func TestReplaceSubscriptionEvents(t *testing.T) {
	ctx := context.Background()
	svc, st, sched := newTestService(t)
	mine, _, _ := svc.SaveEvent(ctx, model.Event{Title: "mine", Start: day1, End: day1}, nil)

	feed := []model.Event{
		{Title: "Holiday", Start: day1, End: day1.Add(24 * time.Hour)},
		{Title: "Offsite", Start: day1.Add(48 * time.Hour), End: day1.Add(50 * time.Hour), Type: model.TypeWork},
	}
	n, err := svc.ReplaceSubscriptionEvents(ctx, 5, feed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A second sync replaces rather than duplicates.
	n, err = svc.ReplaceSubscriptionEvents(ctx, 5, feed[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	subs, _ := st.EventsBySubscription(ctx, 5)
	require.Len(t, subs, 1)
	assert.Equal(t, model.TypeSubscription, subs[0].Type)
	assert.Equal(t, int64(5), subs[0].SubscriptionID)

	_, err = st.GetEvent(ctx, mine.ID)
	assert.NoError(t, err, "local events are untouched")
	assert.Len(t, sched.cancelled, 2, "old subscription copies are cancelled")

	_, err = svc.ReplaceSubscriptionEvents(ctx, 0, feed)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAgendaExpandsRecurringEvents(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	daily := model.Event{Title: "standup", Start: day1.Add(-48 * time.Hour), End: day1.Add(-48*time.Hour + 15*time.Minute), RRule: "FREQ=DAILY"}
	once := model.Event{Title: "launch", Start: day1.Add(26 * time.Hour), End: day1.Add(27 * time.Hour)}
	later := model.Event{Title: "later", Start: day1.Add(10 * 24 * time.Hour), End: day1.Add(10*24*time.Hour + time.Hour)}
	for _, ev := range []model.Event{daily, once, later} {
		_, _, err := svc.SaveEvent(ctx, ev, nil)
		require.NoError(t, err)
	}

	items, err := svc.Agenda(ctx, day1, day1.Add(72*time.Hour))
	require.NoError(t, err)

	var got []string
	for _, it := range items {
		got = append(got, it.Title+"@"+it.Start.Format("01-02T15"))
	}
	want := []string{
		"standup@06-01T09",
		"standup@06-02T09",
		"launch@06-02T11",
		"standup@06-03T09",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("agenda mismatch (-want +got):\n%s", diff)
	}

	empty, err := svc.Agenda(ctx, day1, day1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAgendaCapsWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	daily := model.Event{Title: "pills", Start: day1, End: day1.Add(5 * time.Minute), RRule: "FREQ=DAILY"}
	_, _, err := svc.SaveEvent(ctx, daily, nil)
	require.NoError(t, err)

	items, err := svc.Agenda(ctx, day1, day1.AddDate(0, 0, 1_000_000))
	require.NoError(t, err)
	assert.Len(t, items, MaxAgendaDays)
	last := items[len(items)-1].Start
	assert.True(t, last.Before(day1.AddDate(0, 0, MaxAgendaDays)), "last=%v", last)
}

func TestLunarEventsCarryLunarDate(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)

	start := time.Date(2025, 1, 29, 10, 0, 0, 0, time.UTC)
	ev, _, err := svc.SaveEvent(ctx, model.Event{
		Title: "family dinner", Start: start, End: start.Add(2 * time.Hour),
		RRule: "FREQ=DAILY", IsLunar: true, LunarDate: "stale",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "正月初一", ev.LunarDate)

	stored, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "正月初一", stored.LunarDate)

	items, err := svc.Agenda(ctx, start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "正月初一", items[0].LunarDate)
	assert.Equal(t, "正月初二", items[1].LunarDate)

	plain, _, err := svc.SaveEvent(ctx, model.Event{Title: "plain", Start: start, End: start}, nil)
	require.NoError(t, err)
	assert.Empty(t, plain.LunarDate)
}

func TestEventLocksSerialiseSameID(t *testing.T) {
	l := newEventLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock(42)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks, "idle locks are released")
}
