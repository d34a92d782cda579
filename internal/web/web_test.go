package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindcal/internal/calendar"
	"remindcal/internal/config"
	"remindcal/internal/model"
	"remindcal/internal/reminder"
	"remindcal/internal/store"
	"remindcal/internal/subscription"
)

type nopScheduler struct{}

func (nopScheduler) Schedule(model.Event, []model.Reminder) error { return nil }
func (nopScheduler) Cancel(int64) error                          { return nil }

type stubSyncer struct{ calls int }

func (s *stubSyncer) SyncAll(context.Context) ([]subscription.Result, error) {
	s.calls++
	return []subscription.Result{{SubscriptionID: 1, Name: "holidays", Events: 3}}, nil
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *stubSyncer, *reminder.Inbox) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	svc := calendar.NewService(store.NewMemory(), nopScheduler{}, time.UTC)
	syncer := &stubSyncer{}
	inbox := reminder.NewInbox()
	s := NewServer(cfg, svc, syncer, inbox)
	s.now = func() time.Time { return now }
	return s, syncer, inbox
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEventLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/events", `{
		"title": "Dentist",
		"location": "Clinic",
		"start": "2025-06-02T09:00:00Z",
		"end": "2025-06-02T10:00:00Z",
		"type": 1,
		"reminders": [10, 60]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, model.TypeLife, created.Type)
	require.Len(t, created.Reminders, 2)
	assert.Equal(t, 60, created.Reminders[1].MinutesBefore)

	rec = do(t, h, http.MethodGet, "/api/events?days=3&backfill=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Occurrences, 1)
	assert.Equal(t, "Dentist", list.Occurrences[0].Title)
	assert.Equal(t, int64(1), list.Occurrences[0].EventID)
	assert.Equal(t, "UTC", list.DisplayTimeZone)

	rec = do(t, h, http.MethodPut, "/api/events/1", `{"title":"Dentist (moved)","start":"2025-06-03T09:00:00Z","end":"2025-06-03T10:00:00Z","reminders":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/events/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Dentist (moved)", got.Title)
	assert.Empty(t, got.Reminders)

	rec = do(t, h, http.MethodDelete, "/api/events/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/events/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsClampsWindow(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/events", `{"title":"Pills","start":"2025-06-01T08:00:00Z","end":"2025-06-01T08:05:00Z","rrule":"FREQ=DAILY"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/events?days=1000000&backfill=1000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))

	assert.True(t, now.AddDate(0, 0, calendar.MaxAgendaDays).Equal(list.RangeEnd), "end=%v", list.RangeEnd)
	assert.True(t, now.AddDate(0, 0, -calendar.MaxAgendaDays).Equal(list.RangeStart), "start=%v", list.RangeStart)
	assert.LessOrEqual(t, len(list.Occurrences), calendar.MaxAgendaDays+1)
	assert.NotEmpty(t, list.Occurrences)
}

func TestEventValidationErrors(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	var tests = []struct {
		name, method, target, body string
		want                       int
	}{
		{"bad json", http.MethodPost, "/api/events", `{`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/events", `{"titel":"x"}`, http.StatusBadRequest},
		{"missing start", http.MethodPost, "/api/events", `{"title":"x"}`, http.StatusBadRequest},
		{"negative reminder", http.MethodPost, "/api/events", `{"start":"2025-06-02T09:00:00Z","end":"2025-06-02T09:00:00Z","reminders":[-5]}`, http.StatusBadRequest},
		{"bad id", http.MethodDelete, "/api/events/abc", "", http.StatusBadRequest},
		{"missing", http.MethodPut, "/api/events/42", `{"start":"2025-06-02T09:00:00Z","end":"2025-06-02T09:00:00Z"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestImportThenExport(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	doc := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nSUMMARY:Launch\r\nDTSTART:20250605T090000Z\r\nDTEND:20250605T100000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	rec := do(t, h, http.MethodPost, "/api/import", doc)
	require.Equal(t, http.StatusOK, rec.Code)
	var res calendar.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, calendar.ImportResult{Parsed: 1, Imported: 1}, res)

	rec = do(t, h, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "SUMMARY:Launch")

	rec = do(t, h, http.MethodGet, "/api/export?from=2025-07-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")

	rec = do(t, h, http.MethodGet, "/api/export?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncAndNotifications(t *testing.T) {
	s, syncer, inbox := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.calls)
	assert.Contains(t, rec.Body.String(), `"name":"holidays"`)

	require.NoError(t, inbox.Show(7, "Reminder: Dentist", "Jun 2 09:00"))
	rec = do(t, h, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []reminder.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, int64(7), body.Notifications[0].ID)
}

func TestLunarDay(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/lunar?date=2025-01-29", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got lunarResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, lunarResponse{Date: "2025-01-29", LunarDate: "正月初一", Display: "春节", Holiday: true, Zodiac: "蛇"}, got)

	rec = do(t, h, http.MethodGet, "/api/lunar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2025-06-01", got.Date)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/lunar?date=1850-01-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/lunar?date=soon", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remindcal_active_triggers")
}

func TestBasicAuth(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "pw")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}
