package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// defaultEventLength is applied to events that carry no DTEND.
const defaultEventLength = 24 * time.Hour

const (
	layoutDate     = "20060102"
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
)

// Parse reads VEVENT blocks out of an ICS document.
//
// The parser is deliberately forgiving:
//   - a VCALENDAR wrapper is not required;
//   - malformed or unknown lines are skipped;
//   - a DTSTART/DTEND that fails to parse leaves that field zero;
//   - a block without a usable DTSTART is dropped;
//   - a block without DTEND lasts one day.
//
// Floating times and VALUE=DATE values are interpreted in loc
// (time.Local when nil).
func Parse(text string, loc *time.Location) []model.Event {
	return ParseReader(strings.NewReader(text), loc)
}

// ParseReader is Parse over a stream. Line folding (RFC 5545 section 3.1)
// is undone before lines are dispatched.
func ParseReader(r io.Reader, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}

	events := make([]model.Event, 0)
	var cur *model.Event

	cs := ical.NewCalendarStream(r)
	for {
		cl, err := cs.ReadLine()
		if cl != nil {
			// Trailing blanks may belong to a text value; keep them.
			line := strings.TrimLeft(strings.TrimRight(string(*cl), "\r\n"), " \t")
			marker := strings.TrimSpace(line)
			switch {
			case strings.EqualFold(marker, "BEGIN:VEVENT"):
				cur = &model.Event{}
			case strings.EqualFold(marker, "END:VEVENT"):
				if cur != nil && !cur.Start.IsZero() {
					if cur.End.IsZero() {
						cur.End = cur.Start.Add(defaultEventLength)
					}
					events = append(events, *cur)
				}
				cur = nil
			case cur != nil:
				applyProperty(cur, line, loc)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				appLog.Error("ics read failed; returning events parsed so far", err, "event_count", len(events))
			}
			break
		}
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events
}

// applyProperty folds one content line into ev.
func applyProperty(ev *model.Event, line string, loc *time.Location) {
	prop, err := parseContentLine(line)
	if err != nil || prop == nil {
		if err != nil {
			appLog.Debug("ics skipping malformed line", "err", err, "line", line)
		}
		return
	}

	// ParseProperty has already unescaped TEXT values.
	switch ical.ComponentProperty(strings.ToUpper(prop.IANAToken)) {
	case ical.ComponentPropertySummary:
		ev.Title = prop.Value
	case ical.ComponentPropertyDescription:
		ev.Description = prop.Value
	case ical.ComponentPropertyLocation:
		ev.Location = prop.Value
	case ical.ComponentPropertyDtStart:
		ev.Start = parseDateField(prop, loc)
	case ical.ComponentPropertyDtEnd:
		ev.End = parseDateField(prop, loc)
	case ical.ComponentPropertyRrule:
		ev.RRule = strings.TrimSpace(prop.Value)
	}
}

// parseContentLine wraps ical.ParseProperty. Lines without a value
// separator never reach the library, and an index panic on truncated
// parameter lists is turned into an error.
func parseContentLine(line string) (prop *ical.BaseProperty, err error) {
	if !strings.Contains(line, ":") {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			prop, err = nil, fmt.Errorf("malformed content line: %v", r)
		}
	}()
	return ical.ParseProperty(ical.ContentLine(line))
}

func parseDateField(prop *ical.BaseProperty, loc *time.Location) time.Time {
	t, err := ParseDateTime(strings.TrimSpace(prop.Value), isDateValue(prop), loc)
	if err != nil {
		appLog.Error("ics date parse failed", err, "property", prop.IANAToken, "value", prop.Value)
		return time.Time{}
	}
	return t
}

func isDateValue(prop *ical.BaseProperty) bool {
	for k, vs := range prop.ICalParameters {
		if !strings.EqualFold(k, string(ical.ParameterValue)) {
			continue
		}
		for _, v := range vs {
			if strings.EqualFold(v, string(ical.ValueDataTypeDate)) {
				return true
			}
		}
	}
	return false
}

// ParseDateTime parses one of the three supported value forms:
//
//	20250601          all-day, midnight in loc (dateOnly or 8 digits)
//	20250601T090000Z  UTC instant
//	20250601T090000   floating, wall clock in loc
func ParseDateTime(v string, dateOnly bool, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	switch {
	case dateOnly || (len(v) == len(layoutDate) && !strings.ContainsAny(v, "TZ")):
		return time.ParseInLocation(layoutDate, v, loc)
	case strings.HasSuffix(v, "Z"):
		return time.Parse(layoutUTC, v)
	default:
		return time.ParseInLocation(layoutFloating, v, loc)
	}
}
