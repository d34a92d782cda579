package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindcal/internal/calendar"
	"remindcal/internal/config"
	appLog "remindcal/internal/log"
	"remindcal/internal/lunar"
	"remindcal/internal/model"
	"remindcal/internal/reminder"
	"remindcal/internal/store"
	"remindcal/internal/subscription"
)

// maxImportBytes caps an uploaded ICS document.
const maxImportBytes = 16 << 20

// Calendar is the calendar service as seen by the HTTP layer.
type Calendar interface {
	SaveEvent(ctx context.Context, ev model.Event, reminders []model.Reminder) (model.Event, []model.Reminder, error)
	GetEvent(ctx context.Context, id int64) (model.Event, []model.Reminder, error)
	DeleteEvent(ctx context.Context, id int64) error
	ImportICS(ctx context.Context, text string) (calendar.ImportResult, error)
	ExportICS(ctx context.Context, from, to time.Time) (string, error)
	Agenda(ctx context.Context, from, to time.Time) ([]calendar.AgendaItem, error)
}

type Syncer interface {
	SyncAll(ctx context.Context) ([]subscription.Result, error)
}

type Notifications interface {
	List() []reminder.Notification
}

// Server provides the HTTP API.
type Server struct {
	cfg    *config.Config
	loc    *time.Location
	cal    Calendar
	syncer Syncer
	inbox  Notifications
	mux    *http.ServeMux
	now    func() time.Time
}

// NewServer constructs a new Server. syncer and inbox may be nil; their
// routes then answer 503.
func NewServer(cfg *config.Config, cal Calendar, syncer Syncer, inbox Notifications) *Server {
	s := &Server{
		cfg:    cfg,
		loc:    cfg.Location(),
		cal:    cal,
		syncer: syncer,
		inbox:  inbox,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="RemindCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	s.mux.HandleFunc("GET /api/lunar", s.handleLunar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Occurrences     []calendar.AgendaItem `json:"occurrences"`
	RangeStart      time.Time             `json:"range_start"`
	RangeEnd        time.Time             `json:"range_end"`
	DisplayTimeZone string                `json:"display_timezone"`
}

// handleListEvents returns expanded occurrences within a window around now.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead (default 7)
//   - backfill: how many past days to include (default 1)
//
// Both are capped at calendar.MaxAgendaDays.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	days = min(days, calendar.MaxAgendaDays)
	backfill := parseIntDefault(q.Get("backfill"), 1)
	backfill = max(0, min(backfill, calendar.MaxAgendaDays))

	now := s.now().In(s.loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	items, err := s.cal.Agenda(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		s.writeServiceError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:     items,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	})
}

// eventRequest is the body of POST/PUT /api/events. Reminders are
// minute offsets before each occurrence.
type eventRequest struct {
	model.Event
	Reminders []int `json:"reminders"`
}

type eventResponse struct {
	model.Event
	Reminders []model.Reminder `json:"reminders"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	req.Event.ID = 0
	s.saveEvent(w, r, req, http.StatusCreated)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	req.Event.ID = id
	s.saveEvent(w, r, req, http.StatusOK)
}

func (s *Server) saveEvent(w http.ResponseWriter, r *http.Request, req eventRequest, status int) {
	reminders := make([]model.Reminder, 0, len(req.Reminders))
	for _, m := range req.Reminders {
		reminders = append(reminders, model.Reminder{MinutesBefore: m})
	}
	ev, saved, err := s.cal.SaveEvent(r.Context(), req.Event, reminders)
	if err != nil {
		s.writeServiceError(w, "save event", err)
		return
	}
	writeJSON(w, status, eventResponse{Event: ev, Reminders: saved})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ev, rs, err := s.cal.GetEvent(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, Reminders: rs})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cal.DeleteEvent(r.Context(), id); err != nil {
		s.writeServiceError(w, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "could not read ICS body")
		return
	}
	res, err := s.cal.ImportICS(r.Context(), string(body))
	if err != nil {
		s.writeServiceError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExport renders events as text/calendar.
//
// GET /api/export?from=2025-06-01&to=2025-06-30
// Both bounds are optional; RFC 3339 timestamps are accepted too.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := s.parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	if !from.IsZero() && to.IsZero() {
		to = from.AddDate(100, 0, 0)
	}

	text, err := s.cal.ExportICS(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="remindcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "subscription sync not configured")
		return
	}
	results, err := s.syncer.SyncAll(r.Context())
	if err != nil {
		s.writeServiceError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	if s.inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.inbox.List()})
}

type lunarResponse struct {
	Date      string `json:"date"`
	LunarDate string `json:"lunar_date"`
	Display   string `json:"display"`
	Holiday   bool   `json:"holiday"`
	Zodiac    string `json:"zodiac"`
}

// handleLunar labels one day, GET /api/lunar?date=2025-01-29 (default today).
func (s *Server) handleLunar(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseTimeParam(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if day.IsZero() {
		day = s.now()
	}
	day = day.In(s.loc)

	ld, err := lunar.FromSolar(day)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	display, _ := lunar.DisplayText(day)
	writeJSON(w, http.StatusOK, lunarResponse{
		Date:      day.Format(time.DateOnly),
		LunarDate: ld.String(),
		Display:   display,
		Holiday:   lunar.SolarHoliday(day) != "" || lunar.Holiday(ld) != "",
		Zodiac:    ld.Zodiac(),
	})
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event JSON: "+err.Error())
		return eventRequest{}, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return 0, false
	}
	return id, true
}

func (s *Server) parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, s.loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, calendar.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
