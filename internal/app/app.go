package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fsubbot/internal/broadcast"
	"fsubbot/internal/config"
	"fsubbot/internal/eventbus"
	"fsubbot/internal/fsub/gate"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/fsub/token"
	"fsubbot/internal/observability/metrics"
	rtsup "fsubbot/internal/runtime/supervisor"
	"fsubbot/internal/storage"
	"fsubbot/internal/task/scheduler"
	kit "fsubbot/internal/transport"
	telegram "fsubbot/internal/transport/telegram/adapter"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/systemd"
	"fsubbot/plugins/admin"
	bcplugin "fsubbot/plugins/broadcast"
	"fsubbot/plugins/share"
)

const refreshJob = "membership.refresh"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	m     *metrics.Metrics

	adapter *telegram.Adapter
	codec   *token.Codec
	cache   *membership.Cache
	gate    *gate.Gate

	engine  *broadcast.Engine
	share   *share.Plugin
	router  *router.Router
	sched   *scheduler.Service
	metrics *metrics.Server
	notify  *systemd.Notifier

	started time.Time
	updates chan kit.Update
	restart chan struct{}
}

// NewApp loads configuration and builds every component that does not need
// a running context. envFiles are loaded into the environment first.
func NewApp(cfgPath string, envFiles ...string) (*App, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; enabling Telegram output before the
	// target is set would warn, so bootstrap with it off.
	baseLogCfg := cfg.Logging.Logx()
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	if id := cfg.Telegram.GroupLogID(); id != 0 {
		logSvc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	codec, err := token.New(cfg.Telegram.DatabaseChatID)
	if err != nil {
		return nil, err
	}

	sc := cfg.Storage.Store()
	store, err := storage.Open(sc, ad.BotID(), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	m := metrics.New()
	cache := membership.New(cfg.Telegram.OwnerID, store, ad, m, log.With(logx.String("comp", "membership")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		m:       m,
		adapter: ad,
		codec:   codec,
		cache:   cache,
		gate:    gate.New(cache, m),
		sched:   scheduler.New(scheduler.Config{Timezone: cfg.Membership.Timezone}, log.With(logx.String("comp", "scheduler"))),
		metrics: metrics.NewServer(cfg.Metrics.Server(), m, log.With(logx.String("comp", "metrics"))),
		notify:  systemd.New(log.With(logx.String("comp", "systemd"))),
		started: time.Now(),
		updates: make(chan kit.Update, 256),
		restart: make(chan struct{}, 1),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// RequestRestart asks main to stop the app and re-exec the binary. It never
// blocks; repeated requests collapse into one.
func (a *App) RequestRestart() {
	select {
	case a.restart <- struct{}{}:
	default:
	}
}

// Restarting receives once a restart has been requested.
func (a *App) Restarting() <-chan struct{} { return a.restart }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
		rtsup.WithPanicHook(a.m.Panic),
	)

	if err := a.cache.Refresh(a.sup.Context()); err != nil {
		return fmt.Errorf("membership refresh: %w", err)
	}

	a.engine = broadcast.New(broadcast.Config{
		RatePerSec: cfg.Broadcast.RatePerSec,
		Markup:     bcplugin.Markup(),
	}, a.adapter, a.store, a.cache, a.sup, a.bus, a.m, a.log.With(logx.String("comp", "broadcast")))
	if recovered, err := a.engine.RecoverInterrupted(a.sup.Context()); err != nil {
		a.log.Warn("broadcast recovery failed", logx.Err(err))
	} else if recovered {
		a.log.Info("interrupted broadcast reported")
	}

	a.share = share.New(share.Deps{
		DatabaseChatID: cfg.Telegram.DatabaseChatID,
		Codec:          a.codec,
		Gate:           a.gate,
		Settings:       a.cache,
		Users:          a.store,
		Sup:            a.sup,
		Logger:         a.log,
	}, shareLimits(cfg))
	bc := bcplugin.New(a.engine, a.cache)
	adm := admin.New(admin.Deps{
		Members: a.cache,
		Store:   a.store,
		Bus:     a.bus,
		Logger:  a.log,
		Started: a.started,

		LogFile:       a.logs.FilePath,
		Restart:       a.RequestRestart,
		OwnerUsername: cfg.Telegram.OwnerUsername,
	})
	a.sup.Go0("admin.announce", func(c context.Context) {
		adm.AnnounceStartup(c, a.adapter)
	})

	a.router = router.New(a.adapter, a.cache, a.m, a.log.With(logx.String("comp", "router")), router.Options{
		Workers:        cfg.Router.WorkersOrDefault(),
		HandlerTimeout: cfg.Router.Timeout(),
	})
	a.router.SetMenuSupervisor(a.sup)
	a.router.SetFallback("generate", router.AccessAdmin, a.share.Fallback())

	var (
		cmds []router.Command
		cbs  []router.CallbackRoute
	)
	cmds = append(cmds, a.share.Commands()...)
	cmds = append(cmds, bc.Commands()...)
	cmds = append(cmds, adm.Commands()...)
	cbs = append(cbs, bc.Callbacks()...)
	cbs = append(cbs, adm.Callbacks()...)
	a.router.SetRegistry(cmds, cbs)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.metrics.Start(a.sup.Context())
	if err := a.scheduleRefresh(cfg); err != nil {
		a.log.Warn("membership refresh not scheduled", logx.Err(err))
	}
	a.sched.Start(a.sup.Context())

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
				// Broadcast progress is frequent; keep it at debug.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.notify.Reloading()
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
				a.notify.Ready()
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify.Ready()
	a.notify.Status("serving @" + a.adapter.Username())
	a.sup.Go0("systemd.watchdog", a.notify.Watchdog)

	a.log.Info("app started", logx.String("bot", a.adapter.Username()), logx.Int("gated", len(a.cache.GatedChats())))
	return nil
}

func shareLimits(cfg *config.Config) share.Limits {
	return share.Limits{
		MaxBatch:   cfg.Broadcast.MaxBatchOrDefault(),
		AutoDelete: cfg.Broadcast.AutoDeleteDuration(),
	}
}

// scheduleRefresh (re)registers the periodic gated-chat refresh, or removes
// it when no schedule is configured.
func (a *App) scheduleRefresh(cfg *config.Config) error {
	spec := strings.TrimSpace(cfg.Membership.RefreshSchedule)
	if spec == "" {
		a.sched.Remove(refreshJob)
		return nil
	}
	return a.sched.Add(refreshJob, spec, 2*time.Minute, func(ctx context.Context) error {
		chats, err := a.cache.RefreshGated(ctx)
		if err != nil {
			return err
		}
		a.bus.Publish(eventbus.Event{Type: eventbus.GateRefreshed, Data: len(chats)})
		return nil
	})
}

// applyConfig pushes the hot-reloadable parts of newCfg into live
// components. Identity, token and storage changes need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.resyncStore(ctx)
	sections, attrs := config.Changes(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	// Target first so Apply doesn't warn when Telegram logging is enabled.
	a.logs.SetTelegramTarget(newCfg.Telegram.GroupLogID(), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(newCfg.Logging.Logx())

	a.engine.SetRate(newCfg.Broadcast.RatePerSec)
	a.share.Apply(shareLimits(newCfg))

	a.sched.Apply(scheduler.Config{Timezone: newCfg.Membership.Timezone})
	if err := a.scheduleRefresh(newCfg); err != nil {
		a.log.Warn("invalid membership schedule; keeping previous", logx.Err(err))
	}

	a.metrics.Reconfigure(ctx, newCfg.Metrics.Server())

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

// resyncStore reloads admins and display settings from the store; a reload
// is also how operators pick up edits made outside this process.
func (a *App) resyncStore(ctx context.Context) {
	if _, err := a.cache.RefreshAdmins(ctx); err != nil {
		a.log.Warn("admin resync failed", logx.Err(err))
	}
	if _, err := a.cache.RefreshSettings(ctx); err != nil {
		a.log.Warn("settings resync failed", logx.Err(err))
	}
}

// Stop keeps any in-flight broadcast pointer so the next start can report
// the interrupted run.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if reason == StopRestart {
		// The re-executed binary keeps the PID and reports Ready itself.
		a.notify.Reloading()
	} else {
		a.notify.Stopping()
	}

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so a stuck component
	// can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("metrics", 1*time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Supervised goroutines (router, broadcast run, auto-delete timers,
	// config watch) must be gone before the store closes.
	step("supervisor", 4*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
