// Package app wires the bot together: config, logging, storage, the
// delegated-session transport, the session registry, the broadcast manager,
// the dispatcher and the chat UI router.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"adsbot/internal/ads"
	"adsbot/internal/config"
	"adsbot/internal/dispatch"
	"adsbot/internal/eventbus"
	obspprof "adsbot/internal/observability/pprof"
	"adsbot/internal/session"
	"adsbot/internal/storage"
	"adsbot/internal/transport/mtproto"
	telegram "adsbot/internal/transport/telegram"
	"adsbot/internal/transport/telegram/router"
	logx "adsbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store    storage.Store
	cfgStore *ads.ConfigStore

	adapter  *telegram.Adapter
	mt       *mtproto.Transport
	registry *session.Registry
	manager  *ads.Manager
	disp     *dispatch.Dispatcher
	router   *router.Router

	cron  *cron.Cron
	pprof *obspprof.Service

	runCancel context.CancelFunc
	wg        sync.WaitGroup
	unsubs    []func()
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg), adapter)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mt, err := mtproto.New(mtproto.Config{
		APIID:      cfg.MTProto.APIID,
		APIHash:    cfg.MTProto.APIHash,
		SessionDir: cfg.MTProto.SessionDir,
	}, logs.Logger().With(logx.String("comp", "mtproto")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		store:   store,
		adapter: adapter,
		mt:      mt,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	cfgStore, err := ads.NewConfigStore(ctx, a.store, a.log.With(logx.String("comp", "confstore")))
	if err != nil {
		return fmt.Errorf("load user configs: %w", err)
	}
	a.cfgStore = cfgStore

	a.registry = session.NewRegistry(a.mt, a.logs.Logger().With(logx.String("comp", "session")))
	a.manager = ads.NewManager(ads.Config{}, cfgStore, a.registry, a.bus, a.logs.Logger().With(logx.String("comp", "ads")))
	a.disp = dispatch.New(cfgStore, a.registry, a.manager, a.bus, cfg.AdminSet(), a.logs.Logger().With(logx.String("comp", "dispatch")))
	a.router = router.New(a.adapter, a.disp, a.logs.Logger().With(logx.String("comp", "router")))

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	if err := a.router.Start(ctx); err != nil {
		cancel()
		return err
	}

	a.pprof = obspprof.New(a.logs.Logger().With(logx.String("comp", "pprof")))
	a.pprof.Apply(ctx, mapPprofConfig(cfg))

	a.startAuditWriter(runCtx)
	a.startConfigWatch(runCtx)
	if err := a.startMaintenance(cfg); err != nil {
		a.log.Warn("maintenance disabled", logx.Err(err))
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("started", logx.Int("admins", len(cfg.Admins)))
	return nil
}

// startAuditWriter persists admin actions and broadcast outcomes.
func (a *App) startAuditWriter(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	a.unsubs = append(a.unsubs, unsub)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if e, persist := auditFromEvent(ev); persist {
					if err := a.store.AppendAudit(ctx, e); err != nil {
						a.log.Warn("audit append failed", logx.Err(err))
					}
				}
			}
		}
	}()
}

func auditFromEvent(ev eventbus.Event) (storage.AuditEntry, bool) {
	switch data := ev.Data.(type) {
	case dispatch.AdminEvent:
		return storage.AuditEntry{
			At:      ev.Time,
			ActorID: data.ActorID,
			Action:  data.Action,
			Target:  data.Target,
		}, true
	case ads.StateEvent:
		return storage.AuditEntry{At: ev.Time, ActorID: data.UserID, Action: ev.Type}, true
	case ads.CycleEvent:
		// Clean cycles are routine; only failures are worth keeping.
		if data.Failed == 0 {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:      ev.Time,
			ActorID: data.UserID,
			Action:  ev.Type,
			Detail:  fmt.Sprintf("sent=%d failed=%d", data.Sent, data.Failed),
		}, true
	default:
		return storage.AuditEntry{}, false
	}
}

// startConfigWatch hot-reloads the admin allow-list and logging config.
func (a *App) startConfigWatch(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.disp.SetAdmins(cfg.AdminSet())
				a.logs.Apply(mapLogConfig(cfg))
				a.pprof.Apply(ctx, mapPprofConfig(cfg))
				a.log.Info("applied config update", logx.Int("admins", len(cfg.Admins)))
			}
		}
	}()
}

func (a *App) startMaintenance(cfg *config.Config) error {
	if cfg.Maintenance == nil || cfg.Maintenance.Schedule == "" {
		return nil
	}
	retention, err := config.ParseDurationOrDefault("maintenance.audit_retention", cfg.Maintenance.AuditRetention, 720*time.Hour)
	if err != nil {
		return err
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Maintenance.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.store.PruneAudit(ctx, time.Now().Add(-retention))
		if err != nil {
			a.log.Warn("audit prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("audit pruned", logx.Int("dropped", n))
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance.schedule: %w", err)
	}
	c.Start()
	a.cron = c
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.pprof != nil {
		a.pprof.Stop(ctx)
	}
	if a.router != nil {
		_ = a.router.Stop(ctx)
	}
	if a.manager != nil {
		_ = a.manager.Shutdown(ctx)
	}
	a.mt.Close()

	if a.runCancel != nil {
		a.runCancel()
	}
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func mapPprofConfig(cfg *config.Config) obspprof.Config {
	if cfg.Pprof == nil {
		return obspprof.Config{}
	}
	return obspprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	out := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if op := cfg.Logging.Operator; op != nil {
		out.Operator = logx.OperatorConfig{
			Enabled:    op.Enabled,
			ChatID:     op.ChatID,
			MinLevel:   op.MinLevel,
			RatePerSec: op.RatePerSec,
		}
	}
	return out
}
