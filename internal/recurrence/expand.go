package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// Instances projects ev onto concrete occurrences for a horizon of
// horizonDays:
//
//	DAILY    horizonDays occurrences, one calendar day apart
//	WEEKLY   ceil(horizonDays/7) occurrences, one week apart
//	MONTHLY  horizonDays/30 + 1 occurrences, same day of month
//	YEARLY   horizonDays/365 + 1 occurrences, same month and day
//
// Calendar steps are taken on the wall clock in loc (time.Local when nil),
// so a 09:00 event stays at 09:00 across DST changes. Days that do not
// exist in a target month (the 31st, Feb 29) clamp to the month's last day.
//
// A non-repeating or unsupported rule yields the event itself as the only
// occurrence. Every occurrence keeps the event's duration.
func Instances(ev model.Event, horizonDays int, loc *time.Location) []model.Occurrence {
	rule := ParseRule(ev.RRule)
	if !rule.Repeats() {
		return []model.Occurrence{occurrenceOf(ev, ev.Start, ev.End)}
	}
	if loc == nil {
		loc = time.Local
	}

	count := occurrenceCount(rule.Kind, horizonDays)
	if count <= 0 {
		return []model.Occurrence{}
	}

	starts, err := stepStarts(rule.Kind, ev.Start.In(loc), count)
	if err != nil {
		appLog.Error("recurrence expansion failed; using single occurrence", err,
			"event_id", ev.ID, "rrule", ev.RRule)
		return []model.Occurrence{occurrenceOf(ev, ev.Start, ev.End)}
	}

	dur := ev.Duration()
	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrenceOf(ev, s, s.Add(dur)))
	}
	return out
}

func occurrenceCount(k Kind, horizonDays int) int {
	switch k {
	case Daily:
		return horizonDays
	case Weekly:
		if horizonDays <= 0 {
			return 0
		}
		return (horizonDays + 6) / 7
	case Monthly:
		return horizonDays/30 + 1
	case Yearly:
		return horizonDays/365 + 1
	default:
		return 1
	}
}

// stepStarts generates count start times beginning at start.
func stepStarts(k Kind, start time.Time, count int) ([]time.Time, error) {
	// rrule works at second precision; carry the remainder over by hand.
	whole := start.Truncate(time.Second)
	frac := start.Sub(whole)

	opt := rrule.ROption{
		Dtstart: whole,
		Count:   count,
	}
	switch k {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			// Last existing day out of 28..day, e.g. the 31st falls back to
			// the 30th or Feb 28/29.
			opt.Bymonthday = daysFrom(28, day)
			opt.Bysetpos = []int{-1}
		}
	case Yearly:
		opt.Freq = rrule.YEARLY
		if start.Month() == time.February && start.Day() == 29 {
			opt.Bymonth = []int{2}
			opt.Bymonthday = []int{28, 29}
			opt.Bysetpos = []int{-1}
		}
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}
	times := r.All()
	if frac != 0 {
		for i := range times {
			times[i] = times[i].Add(frac)
		}
	}
	return times, nil
}

func daysFrom(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for d := from; d <= to; d++ {
		out = append(out, d)
	}
	return out
}

// occurrenceOf copies the descriptive fields of ev; identity fields stay
// behind.
func occurrenceOf(ev model.Event, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		Type:        ev.Type,
		RRule:       ev.RRule,
		IsLunar:     ev.IsLunar,
		LunarDate:   ev.LunarDate,
	}
}
