package reminder

import (
	"sort"
	"sync"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/metrics"
)

const (
	titlePrefix   = "Reminder: "
	untitled      = "(untitled)"
	bodyLayout    = "Jan 2 15:04"
	locationJoint = " at "
)

// Dispatcher turns a fired trigger into a notification.
type Dispatcher struct {
	notifier Notifier
	loc      *time.Location
}

func NewDispatcher(n Notifier, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{notifier: n, loc: loc}
}

// Fire shows the notification for p. The notification id is the event id,
// so later reminders for the same event replace earlier ones.
func (d *Dispatcher) Fire(p Payload) error {
	if p.EventID < 0 {
		metrics.RemindersFired.WithLabelValues("dropped").Inc()
		appLog.Warn("reminder payload without event id; dropped", "title", p.Title)
		return nil
	}

	title, body := Format(p, d.loc)
	if err := d.notifier.Show(p.EventID, title, body); err != nil {
		metrics.RemindersFired.WithLabelValues("error").Inc()
		appLog.Error("show notification failed", err, "event_id", p.EventID)
		return err
	}
	metrics.RemindersFired.WithLabelValues("shown").Inc()
	return nil
}

// Format renders the notification title and body for p in loc.
func Format(p Payload, loc *time.Location) (title, body string) {
	name := p.Title
	if name == "" {
		name = untitled
	}
	title = titlePrefix + name

	body = p.StartTime.In(loc).Format(bodyLayout)
	if p.Location != "" {
		body += locationJoint + p.Location
	}
	return title, body
}

type Notification struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	ShownAt time.Time `json:"shown_at"`
}

// Inbox is the in-process Notifier: it logs every notification and keeps
// the latest one per id.
type Inbox struct {
	now func() time.Time

	mu    sync.Mutex
	items map[int64]Notification
}

func NewInbox() *Inbox {
	return &Inbox{now: time.Now, items: make(map[int64]Notification)}
}

func (b *Inbox) Show(id int64, title, body string) error {
	n := Notification{ID: id, Title: title, Body: body, ShownAt: b.now()}

	b.mu.Lock()
	b.items[id] = n
	b.mu.Unlock()

	appLog.Info("notification", "id", id, "title", title, "body", body)
	return nil
}

// List returns the current notifications, newest first.
func (b *Inbox) List() []Notification {
	b.mu.Lock()
	out := make([]Notification, 0, len(b.items))
	for _, n := range b.items {
		out = append(out, n)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(out[j].ShownAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ShownAt.After(out[j].ShownAt)
	})
	return out
}

// Dismiss removes the notification with id, if any.
func (b *Inbox) Dismiss(id int64) {
	b.mu.Lock()
	delete(b.items, id)
	b.mu.Unlock()
}
