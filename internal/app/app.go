package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/afero"

	"orangeclock/internal/alarm"
	"orangeclock/internal/audio"
	"orangeclock/internal/config"
	"orangeclock/internal/control"
	"orangeclock/internal/eventbus"
	"orangeclock/internal/httpapi"
	"orangeclock/internal/notifier"
	rtsup "orangeclock/internal/runtime/supervisor"
	"orangeclock/internal/scheduler"
	"orangeclock/internal/store"
	"orangeclock/pkg/logx"
)

// App wires the alarm engine together: config, store, clip library,
// scheduler, notifier, and the HTTP API.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	st     store.Store
	clips  *audio.Repo
	player audio.Player
	sched  *scheduler.Service
	ctl    *control.Service
	notif  *notifier.Service
	api    *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clips, err := audio.NewRepo(afero.NewOsFs(), cfg.Audio.Dir, log.With(logx.String("comp", "audio")))
	if err != nil {
		return nil, err
	}

	var player audio.Player
	if cfg.Audio.DisablePlayback {
		player = audio.NewNopPlayer(log.With(logx.String("comp", "player")))
	} else {
		player = audio.NewExecPlayer(cfg.Audio.PlayerCommand, log.With(logx.String("comp", "player")))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	clock := alarm.RealClock{}
	schedSvc := scheduler.New(schedCfg, clock, playAction(clips, player), bus,
		log.With(logx.String("comp", "scheduler")))

	ctlCfg, err := mapControlConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctl := control.New(ctlCfg, st, schedSvc, clips, clock,
		log.With(logx.String("comp", "control")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, log.With(logx.String("comp", "notifier")))

	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(apiCfg, ctl, clips, schedSvc.Snapshot,
		log.With(logx.String("comp", "http")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		clips:   clips,
		player:  player,
		sched:   schedSvc,
		ctl:     ctl,
		notif:   notif,
		api:     api,
	}, nil
}

// playAction resolves the alarm's clip and plays it.
func playAction(clips *audio.Repo, player audio.Player) scheduler.Action {
	return func(ctx context.Context, a alarm.Alarm) error {
		path, err := clips.Path(a.AudioRef)
		if err != nil {
			return err
		}
		return player.Play(ctx, path)
	}
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	// Arm every stored alarm, then start dispatching.
	if a.sched.Enabled() {
		armed, skipped, err := a.ctl.ReloadAll(a.sup.Context())
		if err != nil {
			return fmt.Errorf("arm stored alarms: %w", err)
		}
		a.log.Info("alarms armed", logx.Int("armed", armed), logx.Int("skipped", skipped))
		a.sched.Start(a.sup.Context())
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context(), a.bus)
	}

	a.sup.Go("http.serve", func(c context.Context) error {
		return a.api.Start(c)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	// Watch returns an error when the fsnotify watcher breaks; the
	// supervisor recreates it with backoff.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// reloadLoop applies config updates that are safe to change live. Server,
// storage, and audio paths need a restart; those get a warning instead.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
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
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				switch s {
				case "server", "storage", "audio":
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			// scheduler updates (live)
			prevEnabled := a.sched.Enabled()
			if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				a.sched.Apply(schedCfg)
				if prevEnabled && !schedCfg.Enabled {
					a.log.Info("scheduler disabled via config")
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					a.sched.Stop(stopCtx)
					cancel()
				} else if !prevEnabled && schedCfg.Enabled {
					a.log.Info("scheduler enabled via config")
					if _, _, err := a.ctl.ReloadAll(ctx); err != nil {
						a.log.Warn("re-arm after enable failed", logx.Err(err))
					}
					a.sched.Start(ctx)
				}
			}

			// notifier updates (live)
			prevNotif := a.notif.Enabled()
			if ncfg, err := mapNotifierConfig(newCfg); err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			} else {
				a.notif.Apply(ncfg)
				if prevNotif && !ncfg.Enabled {
					a.log.Info("notifier disabled via config")
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					a.notif.Stop(stopCtx)
					cancel()
				} else if !prevNotif && ncfg.Enabled {
					a.log.Info("notifier enabled via config")
					a.notif.Start(ctx, a.bus)
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { return a.api.Shutdown(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("store", 1*time.Second, func(context.Context) error { return a.st.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
