package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rafflebot/internal/accounts"
	"rafflebot/internal/config"
	"rafflebot/internal/dispatch"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/fetch"
	"rafflebot/internal/join"
	"rafflebot/internal/ledger"
	"rafflebot/internal/livestream"
	"rafflebot/internal/notify"
	"rafflebot/internal/ops"
	"rafflebot/internal/proxy"
	"rafflebot/internal/task/engine"
	"rafflebot/internal/telemetry"
	logx "rafflebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	tp   *telemetry.Provider

	dir       *accounts.Directory
	refresher *accounts.Refresher
	engine    *engine.Service
	orch      *join.Orchestrator
	table     *dispatch.Table
	stream    *livestream.Client
	ops       *ops.Server
	tally     *ops.Tally
}

// New loads the config and builds every component. The initial account
// directory load happens here; a process that cannot load it never starts.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Stream.URL) == "" {
		return nil, errors.New("stream.url is required")
	}

	// Alerts go through an offline Telegram bot when configured.
	var sender logx.Sender
	if tc := cfg.Logging.Telegram; tc.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID})
		if err != nil {
			return nil, fmt.Errorf("logging.telegram: %w", err)
		}
		sender = tg
	}
	logSvc, root := logx.New(mapLogConfig(cfg), sender)
	log := root.With(logx.String("comp", "app"))

	tp, err := telemetry.Init(cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, os.Stderr, root.With(logx.String("comp", "telemetry")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	fopts, err := mapFetchOptions(cfg)
	if err != nil {
		return nil, err
	}
	clients := fetch.NewHTTPClient(cfg.Telemetry.Enabled)
	pp := cfg.ProxyPool
	if pp == nil {
		pp = &config.ProxyPoolConfig{}
	}
	resolver := proxy.NewResolver(pp.Host, pp.Port, pp.Path, clients.Direct(), fopts.GetTimeout, root.With(logx.String("comp", "proxy")))
	fetcher := fetch.New(clients, resolver, fopts, root.With(logx.String("comp", "fetch")))

	ledgerBase := ledger.BaseURL(cfg.Ledger.Host, cfg.Ledger.Port)
	reporter := ledger.NewReporter(ledgerBase, ledger.Method(cfg.Ledger.Method), fetcher)

	loader := accounts.NewLoader(ledgerBase, fetcher, accounts.LoaderOptions{
		PageSize: cfg.Accounts.PageSize,
		Offset:   cfg.Accounts.Offset,
		Limit:    cfg.Accounts.Limit,
	}, root.With(logx.String("comp", "accounts")))
	dir, err := accounts.NewDirectory(ctx, loader, bus, root.With(logx.String("comp", "accounts")))
	if err != nil {
		return nil, fmt.Errorf("load account directory: %w", err)
	}
	refresher, err := accounts.NewRefresher(dir, cfg.Accounts.Refresh, 0, root.With(logx.String("comp", "accounts.refresh")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)

	orch := join.New(fetcher, reporter, dir, bus, join.Options{
		Endpoints: join.Endpoints{
			RaffleCheck: cfg.Endpoints.RaffleCheck,
			RaffleJoin:  cfg.Endpoints.RaffleJoin,
			SmallTVJoin: cfg.Endpoints.SmallTVJoin,
		},
		ProxyAttempts: cfg.ProxyAttempts(),
		Concurrency:   cfg.Join.Concurrency,
		Tracer:        tp.Tracer("rafflebot/internal/join"),
	}, root.With(logx.String("comp", "join")))

	table := dispatch.NewTable(orch, engineSvc, dispatch.Options{
		Unbounded: cfg.Dispatch.Unbounded,
		Timeout:   engCfg.DefaultTimeout,
	}, root.With(logx.String("comp", "dispatch")))

	sopts, err := mapStreamOptions(cfg)
	if err != nil {
		return nil, err
	}
	stream := livestream.New(sopts, root.With(logx.String("comp", "stream")))

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		tp:        tp,
		dir:       dir,
		refresher: refresher,
		engine:    engineSvc,
		orch:      orch,
		table:     table,
		stream:    stream,
		tally:     &ops.Tally{},
	}
	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg), ops.Probes{Ready: a.ready, Status: a.status}, root.With(logx.String("comp", "ops")))
	}
	return a, nil
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

func (a *App) ready() bool {
	return a.dir.Current() != nil && a.stream.Connected()
}

type status struct {
	RoomID   int64             `json:"room_id"`
	Accounts int               `json:"accounts"`
	LoadedAt time.Time         `json:"loaded_at"`
	Stream   livestream.Stats  `json:"stream"`
	Engine   engine.Snapshot   `json:"engine"`
	Tally    ops.TallySnapshot `json:"tally"`
	BusDrops uint64            `json:"bus_dropped"`
}

func (a *App) status() any {
	snap := a.dir.Current()
	return status{
		RoomID:   a.cfgm.Get().RoomID,
		Accounts: snap.Len(),
		LoadedAt: snap.LoadedAt(),
		Stream:   a.stream.Stats(),
		Engine:   a.engine.Snapshot(),
		Tally:    a.tally.Snapshot(),
		BusDrops: eventbus.Dropped(a.bus),
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.engine.Start(a.sup.Context())
	a.refresher.Start()
	if a.ops != nil {
		a.ops.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.tally", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.tally.Observe(e)
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
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
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("stream", func(c context.Context) error {
		return a.stream.Run(c, a.table.Deliver)
	})

	cfg := a.cfgm.Get()
	n := a.dir.Current().Len()
	state := fmt.Sprintf("%s\nSTATUS=room %d, %d accounts", daemon.SdNotifyReady, cfg.RoomID, n)
	if ok, err := daemon.SdNotify(false, state); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Int64("room_id", cfg.RoomID),
		logx.Int("accounts", n),
		logx.Bool("unbounded", cfg.Dispatch.Unbounded),
	)
	return nil
}

// applyConfig applies live sections and flags the rest as restart-only.
func (a *App) applyConfig(prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	var pending []string
	for _, s := range sections {
		if !LiveSections[s] {
			pending = append(pending, s)
		}
	}
	a.logs.Apply(mapLogConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so the stream read loop stops producing work.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
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

	step("refresher", 2*time.Second, func(c context.Context) error { a.refresher.Stop(c); return nil })
	step("dispatch", 5*time.Second, func(c context.Context) error { return a.table.Wait(c) })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("ops", 1*time.Second, func(c context.Context) error {
		if a.ops != nil {
			a.ops.Stop(c)
		}
		return nil
	})

	// Finally, wait for supervised goroutines (stream, config watch/reload, tally).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("telemetry", 2*time.Second, func(c context.Context) error { return a.tp.Shutdown(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
