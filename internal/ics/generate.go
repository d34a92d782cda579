package ics

import (
	"strconv"

	ical "github.com/arran4/golang-ical"

	"remindcal/internal/model"
)

const (
	// ProductTag is the domain part of every generated UID.
	ProductTag = "remindcal"
	// ProductID is the fixed PRODID of generated calendars.
	ProductID = "-//RemindCal//Calendar Engine//EN"
)

// Generate serializes events into a VCALENDAR document.
//
// DTSTART/DTEND are always written as UTC instants. All-day and floating
// events therefore come back from Parse as plain instants; the original
// form is not preserved. Empty text fields are omitted. Lines end in CRLF.
func Generate(events []model.Event) string {
	cal := ical.NewCalendarFor(ProductTag)
	cal.SetProductId(ProductID)

	for _, ev := range events {
		ve := cal.AddEvent(EventUID(ev.ID))

		if ev.Title != "" {
			ve.SetSummary(ev.Title)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if !ev.Start.IsZero() {
			ve.SetStartAt(ev.Start)
		}
		if !ev.End.IsZero() {
			ve.SetEndAt(ev.End)
		}
		if ev.RRule != "" {
			ve.AddRrule(ev.RRule)
		}
	}

	return cal.Serialize(ical.WithNewLine("\r\n"))
}

// EventUID returns the synthesized UID for a stored event.
func EventUID(id int64) string {
	return strconv.FormatInt(id, 10) + "@" + ProductTag
}
