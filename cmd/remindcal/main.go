package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remindcal/internal/calendar"
	"remindcal/internal/config"
	"remindcal/internal/ics"
	appLog "remindcal/internal/log"
	"remindcal/internal/model"
	"remindcal/internal/reminder"
	"remindcal/internal/store"
	"remindcal/internal/store/postgres"
	"remindcal/internal/subscription"
	"remindcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("remindcal starting", "version", version)

	loader, err := config.NewLoader(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf := loader.Config()
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}
	loc := conf.Location()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"subscriptions", len(conf.Subscriptions),
		"persistent", conf.DatabaseDSN != "",
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, conf.DatabaseDSN)
	if err != nil {
		appLog.Error("failed to open store", err)
		os.Exit(1)
	}
	defer st.Close()

	inbox := reminder.NewInbox()
	dispatcher := reminder.NewDispatcher(inbox, loc)
	var sched *reminder.Scheduler
	timer := reminder.NewLocalTimer(func(key int64, p reminder.Payload) {
		sched.Fired(key)
		_ = dispatcher.Fire(p)
	})
	defer timer.Stop()
	sched = reminder.NewScheduler(timer, reminder.SchedulerConfig{Location: loc})

	svc := calendar.NewService(st, sched, loc)
	syncer := subscription.NewSyncer(ics.NewFetcher(conf.CacheDir, nil), svc, loc)
	syncer.SetSubscriptions(subscriptions(conf))

	if flags.once {
		results, err := syncer.SyncAll(ctx)
		for _, r := range results {
			appLog.Info("sync result", "subscription_id", r.SubscriptionID, "name", r.Name, "events", r.Events, "error", r.Error)
		}
		if err != nil {
			appLog.Error("sync interrupted", err)
			os.Exit(1)
		}
		return
	}

	if _, err := svc.RescheduleAll(ctx); err != nil {
		appLog.Error("failed to reschedule reminders", err)
	}

	loader.OnChange(func(c *config.Config) {
		if !flags.debug {
			appLog.SetLevel(appLog.ParseLevel(c.LogLevel))
		}
		syncer.SetSubscriptions(subscriptions(c))
		appLog.Info("subscriptions updated from config", "count", len(c.ActiveSubscriptions()))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		appLog.Error("config watch unavailable; changes need a restart", err)
	} else {
		defer stopWatch()
	}

	if err := syncer.Start(ctx, conf.RefreshCron); err != nil {
		appLog.Error("failed to schedule subscription sync", err)
		os.Exit(1)
	}
	go func() {
		if _, err := syncer.SyncAll(ctx); err != nil {
			appLog.Warn("initial subscription sync interrupted", "err", err)
		}
	}()

	srv := web.NewServer(conf, svc, syncer, inbox)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("HTTP server failed", err)
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	syncer.Stop(stopCtx)
	appLog.Info("remindcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/remindcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Sync all subscriptions once and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func openStore(ctx context.Context, dsn string) (store.Store, error) {
	if dsn == "" {
		appLog.Info("no database configured; events are kept in memory")
		return store.NewMemory(), nil
	}
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ready(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return postgres.NewStore(db), nil
}

func subscriptions(c *config.Config) []model.Subscription {
	active := c.ActiveSubscriptions()
	out := make([]model.Subscription, 0, len(active))
	for _, s := range active {
		out = append(out, model.Subscription{ID: s.ID, Name: s.Name, URL: s.URL})
	}
	return out
}
