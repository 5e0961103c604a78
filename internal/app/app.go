package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"keywatch/internal/config"
	"keywatch/internal/eventbus"
	"keywatch/internal/highlight"
	"keywatch/internal/metrics"
	"keywatch/internal/observability/pprof"
	"keywatch/internal/reporting"
	"keywatch/internal/runtime/supervisor"
	"keywatch/internal/storage"
	"keywatch/internal/transport"
	"keywatch/internal/transport/discord"
	logx "keywatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	// lastCfg is the config currently in effect, updated only from the
	// reload goroutine. Used to detect changes that need a restart.
	lastCfg *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	gateway  *discord.Adapter
	engine   *highlight.Engine
	reporter *reporting.Reporter
	backups  *cron.Cron

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The reporter is one of the root logger's sinks, so it starts with a
	// plain console logger and gets the real one once the root exists.
	bootLog := logx.NewConsole("INFO")
	reporter := reporting.New(reporting.Config{
		WebhookURL: cfg.Logging.Webhook.URL,
		MinLevel:   cfg.Logging.Webhook.MinLevel,
		RatePerSec: cfg.Logging.Webhook.RatePerSec,
	}, bootLog)

	logSvc, log := logx.New(mapLogConfig(cfg), reporter)
	log = log.With(logx.String("comp", "app"))
	reporter.SetLogger(log.With(logx.String("comp", "reporting")))

	busyTimeout, err := config.ParseDurationOrDefault("database.busy_timeout", cfg.Database.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Database.ResolvedPath(),
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	gw, err := discord.New(discord.Config{Token: cfg.Bot.Token}, log.With(logx.String("comp", "discord")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("discord session: %w", err)
	}

	matcher := highlight.NewMatcher(store, gw.CanRead, log.With(logx.String("comp", "matcher")))

	// New watches read patience from the live config, so a hot reload
	// affects them without touching watches already in flight.
	patience := func() time.Duration {
		d, err := cfgm.Get().Behavior.PatienceDuration()
		if err != nil {
			return config.DefaultPatience
		}
		return d
	}
	bus := eventbus.New()
	eng := highlight.NewEngine(gw, store, matcher, reporter, patience, log.With(logx.String("comp", "engine")), bus)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		lastCfg:  cfg,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		gateway:  gw,
		engine:   eng,
		reporter: reporter,
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	a.reporter.Start(a.sup.Context())

	if err := a.gateway.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	cfg := a.cfgm.Get()
	metrics.Serve(a.sup.Context(), cfg.Metrics.Addr, a.log.With(logx.String("comp", "metrics")))
	pprof.Serve(a.sup.Context(), cfg.Metrics.PprofAddr, a.log.With(logx.String("comp", "pprof")))
	a.startBackups(cfg)

	a.sup.Go0("gateway.dispatch", func(c context.Context) {
		a.dispatchLoop(c)
	})

	// Keep this debug-level to avoid noise on busy guilds.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			a.dispatch(ctx, up)
		}
	}
}

func (a *App) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessageCreated:
		if up.Message != nil {
			a.engine.HandleMessage(ctx, *up.Message)
		}
	case transport.UpdateMessageEdited:
		if up.Message != nil {
			if err := a.engine.HandleEdit(ctx, *up.Message); err != nil {
				a.log.Warn("edit retraction failed",
					logx.Int64("message_id", up.Message.ID), logx.Err(err))
			}
		}
	case transport.UpdateMessageDeleted:
		if up.Deleted == nil {
			return
		}
		// A deletion in a DM can only be one of our own notifications;
		// a deletion in a guild channel may be a highlighted source.
		if up.Deleted.GuildID == 0 {
			if err := a.engine.ForgetNotification(ctx, up.Deleted.ID); err != nil {
				a.log.Warn("notification forget failed",
					logx.Int64("message_id", up.Deleted.ID), logx.Err(err))
			}
			return
		}
		if err := a.engine.RetractMessage(ctx, up.Deleted.ID); err != nil {
			a.log.Warn("retraction failed",
				logx.Int64("message_id", up.Deleted.ID), logx.Err(err))
		}
	case transport.UpdateChannelDeleted:
		if up.Channel != nil {
			a.engine.HandleChannelDeleted(up.Channel.ID)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(newCfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	prev := a.lastCfg
	if prev != nil {
		if cfg.Logging.Webhook.URL != prev.Logging.Webhook.URL {
			a.log.Warn("logging.webhook.url changed; restart required for changes to take effect")
		}
		if cfg.Database.ResolvedPath() != prev.Database.ResolvedPath() {
			a.log.Warn("database.path changed; restart required for changes to take effect")
		}
		if cfg.Bot.Token != prev.Bot.Token {
			a.log.Warn("bot.token changed; restart required for changes to take effect")
		}
	}
	a.lastCfg = cfg

	a.log.Info("config reloaded")
}

func (a *App) startBackups(cfg *config.Config) {
	if !cfg.Database.Backup.Enabled {
		return
	}
	dir := cfg.Database.Backup.ResolvedDir(cfg.Database.ResolvedPath())
	schedule := cfg.Database.Backup.ResolvedSchedule()
	log := a.log.With(logx.String("comp", "backup"))

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.store.Backup(ctx, dir); err != nil {
			log.Error("database backup failed", logx.String("dir", dir), logx.Err(err))
			return
		}
		log.Info("database backup written", logx.String("dir", dir))
	})
	if err != nil {
		// Validate() checks the schedule, so this only fires on a code bug.
		log.Error("backup schedule rejected", logx.String("schedule", schedule), logx.Err(err))
		return
	}
	c.Start()
	a.backups = c
	log.Info("database backups scheduled", logx.String("schedule", schedule), logx.String("dir", dir))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	if a.backups != nil {
		a.backups.Stop()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- fn(stepCtx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("gateway", 3*time.Second, func(c context.Context) error { return a.gateway.Stop(c) })
	step("watches", 5*time.Second, func(context.Context) error { a.engine.Wait(); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("reporter", 2*time.Second, func(context.Context) error { a.reporter.Close(); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
