package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"remindcal/internal/ics"
	appLog "remindcal/internal/log"
	"remindcal/internal/metrics"
	"remindcal/internal/model"
)

// maxParallelFetches bounds concurrent downloads during one sync run.
const maxParallelFetches = 4

// Fetcher downloads a subscription body.
type Fetcher interface {
	Fetch(ctx context.Context, sub model.Subscription) (ics.FetchResult, error)
}

// Replacer stores the freshly parsed events of one subscription.
type Replacer interface {
	ReplaceSubscriptionEvents(ctx context.Context, subscriptionID int64, events []model.Event) (int, error)
}

// Result reports one subscription of a sync run.
type Result struct {
	SubscriptionID int64  `json:"subscription_id"`
	Name           string `json:"name"`
	Events         int    `json:"events"`
	FromCache      bool   `json:"from_cache"`
	Error          string `json:"error,omitempty"`
}

// Syncer mirrors remote ICS subscriptions into the calendar.
type Syncer struct {
	fetcher Fetcher
	target  Replacer
	loc     *time.Location

	mu   sync.RWMutex
	subs []model.Subscription

	// runMu keeps manual and scheduled runs from overlapping.
	runMu sync.Mutex
	cron  *cron.Cron
}

func NewSyncer(f Fetcher, target Replacer, loc *time.Location) *Syncer {
	if loc == nil {
		loc = time.Local
	}
	return &Syncer{fetcher: f, target: target, loc: loc}
}

// SetSubscriptions replaces the configured list; the next run uses it.
func (s *Syncer) SetSubscriptions(subs []model.Subscription) {
	cp := make([]model.Subscription, len(subs))
	copy(cp, subs)
	s.mu.Lock()
	s.subs = cp
	s.mu.Unlock()
}

func (s *Syncer) Subscriptions() []model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]model.Subscription, len(s.subs))
	copy(cp, s.subs)
	return cp
}

// SyncAll fetches every subscription and replaces its stored events. A
// failing subscription keeps its previous events and does not stop the
// others; the returned error is non-nil only when ctx ends the run.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.New().String()
	subs := s.Subscriptions()
	appLog.Info("subscription sync start", "run_id", runID, "subscriptions", len(subs))

	results := make([]Result, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = s.syncOne(gctx, runID, sub)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	appLog.Info("subscription sync done", "run_id", runID, "subscriptions", len(subs), "failed", failed)
	return results, ctx.Err()
}

func (s *Syncer) syncOne(ctx context.Context, runID string, sub model.Subscription) Result {
	start := time.Now()
	res := Result{SubscriptionID: sub.ID, Name: sub.Name}
	defer func() {
		metrics.SubscriptionSyncDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	fail := func(err error) Result {
		metrics.SubscriptionSyncs.WithLabelValues("error").Inc()
		appLog.Error("subscription sync failed", err, "run_id", runID, "subscription_id", sub.ID, "name", sub.Name)
		res.Error = err.Error()
		return res
	}

	fetched, err := s.fetcher.Fetch(ctx, sub)
	if err != nil {
		return fail(fmt.Errorf("fetch: %w", err))
	}
	res.FromCache = fetched.FromCache

	events := ics.Parse(string(fetched.Body), s.loc)
	n, err := s.target.ReplaceSubscriptionEvents(ctx, sub.ID, events)
	if err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	res.Events = n

	metrics.SubscriptionSyncs.WithLabelValues("ok").Inc()
	appLog.Info("subscription synced",
		"run_id", runID, "subscription_id", sub.ID, "name", sub.Name,
		"events", n, "from_cache", fetched.FromCache)
	return res
}

// Start runs SyncAll on the cron schedule spec, evaluated in the syncer's
// location.
func (s *Syncer) Start(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.SyncAll(ctx); err != nil {
			appLog.Warn("scheduled subscription sync interrupted", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("sync schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	appLog.Info("subscription sync scheduled", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for a running sync to finish or ctx
// to expire.
func (s *Syncer) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's own messages to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
