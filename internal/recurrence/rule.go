package recurrence

import (
	"strings"
)

// Kind is the closed set of recurrence shapes the expander understands.
type Kind int

const (
	// None means the event does not repeat.
	None Kind = iota
	Daily
	Weekly
	Monthly
	Yearly
	// Unsupported is a non-empty RRULE without a FREQ this package expands.
	// The event is treated as a single occurrence.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unsupported"
	}
}

// Rule is a parsed RRULE. Raw always holds the original text so it can be
// written back unchanged; COUNT, UNTIL, BYDAY, INTERVAL and friends are
// kept there but not interpreted.
type Rule struct {
	Kind Kind
	Raw  string
}

// Repeats reports whether the rule yields more than the original instance.
func (r Rule) Repeats() bool {
	return r.Kind != None && r.Kind != Unsupported
}

// ParseRule classifies a raw RRULE value such as "FREQ=WEEKLY;BYDAY=MO".
// An optional "RRULE:" prefix is tolerated.
func ParseRule(raw string) Rule {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Rule{Kind: None, Raw: raw}
	}
	body := trimmed
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}

	for _, part := range strings.Split(body, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(key, "FREQ") {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "DAILY":
			return Rule{Kind: Daily, Raw: raw}
		case "WEEKLY":
			return Rule{Kind: Weekly, Raw: raw}
		case "MONTHLY":
			return Rule{Kind: Monthly, Raw: raw}
		case "YEARLY":
			return Rule{Kind: Yearly, Raw: raw}
		}
		break
	}
	return Rule{Kind: Unsupported, Raw: raw}
}
