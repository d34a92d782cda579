package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"remindcal/internal/model"
	"remindcal/internal/store"
)

const foreignKeyViolation = "23503"

const eventColumns = "id, title, description, location, start_at, end_at, type, rrule, is_lunar, lunar_date, subscription_id"

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *DB) *Store { return &Store{db: db} }

func (s *Store) Close() { s.db.Close() }

func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	const q = `INSERT INTO events (title, description, location, start_at, end_at, type, rrule, is_lunar, lunar_date, subscription_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`
	err := s.db.Pool.QueryRow(ctx, q,
		ev.Title, ev.Description, ev.Location, ev.Start, ev.End,
		int(ev.Type), ev.RRule, ev.IsLunar, ev.LunarDate, ev.SubscriptionID,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev model.Event) error {
	const q = `UPDATE events SET title=$2, description=$3, location=$4, start_at=$5, end_at=$6,
type=$7, rrule=$8, is_lunar=$9, lunar_date=$10, subscription_id=$11
WHERE id=$1`
	ct, err := s.db.Pool.Exec(ctx, q,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.Start, ev.End,
		int(ev.Type), ev.RRule, ev.IsLunar, ev.LunarDate, ev.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("update event %d: %w", ev.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", ev.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	ct, err := s.db.Pool.Exec(ctx, "DELETE FROM events WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	row := s.db.Pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id=$1", id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

func (s *Store) AllEvents(ctx context.Context) ([]model.Event, error) {
	return s.queryEvents(ctx, "")
}

func (s *Store) EventsInRange(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx, "WHERE start_at >= $1 AND start_at <= $2", from, to)
}

func (s *Store) EventsByType(ctx context.Context, t model.EventType) ([]model.Event, error) {
	return s.queryEvents(ctx, "WHERE type = $1", int(t))
}

func (s *Store) FindEvents(ctx context.Context, title string, start time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx, "WHERE title = $1 AND start_at = $2", title, start)
}

func (s *Store) EventsBySubscription(ctx context.Context, subscriptionID int64) ([]model.Event, error) {
	return s.queryEvents(ctx, "WHERE subscription_id = $1", subscriptionID)
}

func (s *Store) DeleteEventsBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	ct, err := s.db.Pool.Exec(ctx, "DELETE FROM events WHERE subscription_id=$1", subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("delete subscription %d events: %w", subscriptionID, err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) queryEvents(ctx context.Context, cond string, args ...any) ([]model.Event, error) {
	sql := "SELECT " + eventColumns + " FROM events " + cond + " ORDER BY start_at ASC, id ASC"
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		ev  model.Event
		typ int
	)
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location, &ev.Start, &ev.End,
		&typ, &ev.RRule, &ev.IsLunar, &ev.LunarDate, &ev.SubscriptionID)
	ev.Type = model.EventType(typ)
	return ev, err
}

func (s *Store) CreateReminder(ctx context.Context, r *model.Reminder) error {
	const q = `INSERT INTO reminders (event_id, id, minutes_before)
SELECT $1, COALESCE(MAX(id), 0) + 1, $2 FROM reminders WHERE event_id = $1
RETURNING id`
	if err := s.db.Pool.QueryRow(ctx, q, r.EventID, r.MinutesBefore).Scan(&r.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("event %d: %w", r.EventID, store.ErrNotFound)
		}
		return fmt.Errorf("insert reminder for event %d: %w", r.EventID, err)
	}
	return nil
}

func (s *Store) UpdateReminder(ctx context.Context, r model.Reminder) error {
	ct, err := s.db.Pool.Exec(ctx,
		"UPDATE reminders SET minutes_before=$3 WHERE event_id=$1 AND id=$2",
		r.EventID, r.ID, r.MinutesBefore)
	if err != nil {
		return fmt.Errorf("update reminder %d/%d: %w", r.EventID, r.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("reminder %d/%d: %w", r.EventID, r.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, eventID, id int64) error {
	ct, err := s.db.Pool.Exec(ctx, "DELETE FROM reminders WHERE event_id=$1 AND id=$2", eventID, id)
	if err != nil {
		return fmt.Errorf("delete reminder %d/%d: %w", eventID, id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("reminder %d/%d: %w", eventID, id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) RemindersForEvent(ctx context.Context, eventID int64) ([]model.Reminder, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT event_id, id, minutes_before FROM reminders WHERE event_id=$1 ORDER BY id", eventID)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	out := []model.Reminder{}
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.EventID, &r.ID, &r.MinutesBefore); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRemindersForEvent(ctx context.Context, eventID int64) error {
	if _, err := s.db.Pool.Exec(ctx, "DELETE FROM reminders WHERE event_id=$1", eventID); err != nil {
		return fmt.Errorf("delete reminders for event %d: %w", eventID, err)
	}
	return nil
}
