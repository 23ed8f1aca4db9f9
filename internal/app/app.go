package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"zwboot/internal/boot"
	"zwboot/internal/config"
	"zwboot/internal/eventbus"
	"zwboot/internal/retention"
	"zwboot/internal/rtos"
	"zwboot/internal/runtime/supervisor"
	"zwboot/internal/wake"
	logx "zwboot/pkg/logx"
)

// App wires the boot sequence: registration of the application task,
// task creation and attach, scheduler start, and the sleep/wake machinery.
type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   retention.Store
	clock   wake.Clock
	tracker *wake.Tracker

	started boot.StartedFlag
	reg     *boot.Registrar
	sched   *rtos.Scheduler
	sleeper *SleepCycler

	entry   boot.TaskEntry
	notify  Notifier
	sink    logx.Sink
	ownSink io.Closer
}

type Option func(*App)

// WithEntry replaces the default application task.
func WithEntry(e boot.TaskEntry) Option { return func(a *App) { a.entry = e } }

// WithClock replaces the host tick counter.
func WithClock(c wake.Clock) Option { return func(a *App) { a.clock = c } }

// WithNotifier replaces sd_notify (tests, non-systemd supervisors).
func WithNotifier(n Notifier) Option { return func(a *App) { a.notify = n } }

// WithUplink attaches the sink for uplink logging.
func WithUplink(s logx.Sink) Option { return func(a *App) { a.sink = s } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a := &App{cfgm: cfgm, cfg: cfg, notify: systemdNotifier}
	for _, o := range opts {
		o(a)
	}

	if a.sink == nil && cfg.Logging.Uplink.Enabled {
		fs, err := logx.OpenFileSink(cfg.Logging.Uplink.Path)
		if err != nil {
			return nil, fmt.Errorf("logging.uplink: %w", err)
		}
		a.sink, a.ownSink = fs, fs
	}
	logSvc, log := logx.New(cfg.Logging.LogxConfig(), a.sink)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	rc, err := cfg.Retention.Resolve()
	if err != nil {
		return nil, a.abort(err)
	}
	a.store, err = retention.Open(rc, log.With(logx.String("comp", "retention")))
	if err != nil {
		return nil, a.abort(err)
	}
	if a.clock == nil {
		a.clock = wake.NewHostClock(cfg.Clock.TickHz, cfg.Clock.StartTick)
	}
	a.tracker, err = wake.New(context.Background(), a.store, a.clock,
		wake.WithLogger(log.With(logx.String("comp", "wake"))), wake.WithBus(a.bus))
	if err != nil {
		return nil, a.abort(err)
	}
	if _, err := a.tracker.ResumeInterrupted(context.Background()); err != nil {
		a.log.Warn("completing interrupted sleep cycle failed", logx.Err(err))
	}

	a.sched = rtos.New(rtos.Config{
		NotifyBitWidth: cfg.Scheduler.BitWidth(),
		ReservedBits:   cfg.Scheduler.Reserved(),
	}, &a.started, log.With(logx.String("comp", "rtos")), a.bus)
	a.reg = boot.NewRegistrar(a.sched,
		boot.WithLogger(log.With(logx.String("comp", "boot"))), boot.WithBus(a.bus))

	if cfg.Sleep.Enabled {
		a.sleeper, err = NewSleepCycler(cfg.Sleep.Schedule, cfg.Sleep.RtccTimeoutOrDefault(), a.tracker,
			log.With(logx.String("comp", "sleep")))
		if err != nil {
			return nil, a.abort(err)
		}
	}
	if a.entry == nil {
		a.entry = DefaultTask(log.With(logx.String("comp", "task"), logx.String("task", cfg.App.TaskName)))
	}

	if rep := a.tracker.Report(); rep.Completed {
		a.log.Info("retained sleep cycle",
			logx.Uint32("slept_ms", rep.SleptMs),
			logx.Bool("woken_by_rtcc", rep.WokenByRtcc),
			logx.Uint32("cycles", rep.Cycles),
		)
	}
	return a, nil
}

func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	a.closeLogs()
	return err
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if a.ownSink != nil {
		_ = a.ownSink.Close()
	}
}

func (a *App) Registrar() *boot.Registrar { return a.reg }
func (a *App) Tracker() *wake.Tracker     { return a.tracker }
func (a *App) Scheduler() *rtos.Scheduler { return a.sched }
func (a *App) Bus() eventbus.Bus          { return a.bus }

// SleepCycler is nil unless sleep is enabled.
func (a *App) SleepCycler() *SleepCycler { return a.sleeper }

// Done is closed when the app context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the boot sequence. Any registration failure is fatal and
// returned as is; nothing is retried.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Sleep.Enabled {
			return ValidateSleepSchedule(cfg.Sleep.Schedule)
		}
		return nil
	})

	// Subscribe before boot so no lifecycle event is missed.
	logEvents, unsubLog := a.bus.Subscribe(64)
	wakeEvents, unsubWake := a.bus.Subscribe(16)

	if err := a.boot(); err != nil {
		unsubLog()
		unsubWake()
		a.sup.Cancel()
		return err
	}

	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubLog()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-logEvents:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
	a.sup.Go0("protocol.wake_reports", func(c context.Context) {
		defer unsubWake()
		forwardWakeReports(c, wakeEvents, a.reg.Registry(), a.log.With(logx.String("comp", "protocol")))
	})
	a.sup.Go("scheduler.watch", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.sched.Done():
			if err := a.sched.Err(); err != nil {
				return err
			}
			return nil
		}
	})

	if a.sleeper != nil {
		pc, _ := a.reg.ProtocolConfig()
		if pc.Role.Sleeps() {
			a.sleeper.Start(a.sup.Context())
		} else {
			a.log.Warn("sleep enabled but node role never sleeps; cycler not started", logx.String("role", string(pc.Role)))
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyState(a.notify, stateReady, a.log)
	a.log.Info("app started")
	return nil
}

// boot is the startup order the rest of the system relies on: the
// application registers, its task is created and attached, and only then
// is the scheduler started.
func (a *App) boot() error {
	pc, err := a.cfg.Protocol.Resolve()
	if err != nil {
		return err
	}
	if err := a.reg.SetEventNotificationBitNumbers(uint8(a.cfg.App.RxBit), uint8(a.cfg.App.StatusBit), pc); err != nil {
		return fmt.Errorf("stage notification bits: %w", err)
	}
	if err := a.reg.RegisterStaged(a.entry); err != nil {
		return fmt.Errorf("register application: %w", err)
	}
	entry, handles := a.reg.Entry(), a.reg.SharedHandles()
	task, err := a.sched.CreateTask(a.cfg.App.TaskName, func(c context.Context) error {
		return entry.Run(c, handles)
	})
	if err != nil {
		return fmt.Errorf("create application task: %w", err)
	}
	if err := a.reg.AttachTaskHandle(task); err != nil {
		return fmt.Errorf("attach application task: %w", err)
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// coalesce a burst of reloads into the newest one
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

		sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		a.logs.Apply(newCfg.Logging.LogxConfig())
		if pending := config.RestartRequired(sections); len(pending) > 0 {
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

// Status is a point-in-time view for logs and diagnostics.
type Status struct {
	BootID           string              `json:"boot_id,omitempty"`
	Registered       bool                `json:"registered"`
	TaskAttached     bool                `json:"task_attached"`
	SchedulerStarted bool                `json:"scheduler_started"`
	Wake             wake.Report         `json:"wake"`
	Tasks            supervisor.Snapshot `json:"tasks"`
}

func (a *App) Status() Status {
	st := Status{
		Registered:       a.reg.Registered(),
		TaskAttached:     a.reg.TaskHandle() != nil,
		SchedulerStarted: a.started.IsStarted(),
		Wake:             a.tracker.Report(),
		Tasks:            a.sched.Snapshot(),
	}
	if h := a.reg.Registry().AppHandles(); h != nil && h.BootID != uuid.Nil {
		st.BootID = h.BootID.String()
	}
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.abort(nil)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyState(a.notify, stateStopping, a.log)
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.sleeper != nil {
		step("sleep", 2*time.Second, a.sleeper.Stop)
	}
	step("scheduler", 2*time.Second, func(c context.Context) error {
		if err := a.sched.Stop(c); err != nil && !errors.Is(err, rtos.ErrNotRunning) {
			return err
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	st := a.Status()
	a.log.Info("stopped",
		logx.Bool("scheduler_started", st.SchedulerStarted),
		logx.Uint32("sleep_cycles", st.Wake.Cycles),
	)
	step("retention", time.Second, func(context.Context) error { return a.store.Close() })
	a.closeLogs()
	return errors.Join(errs...)
}
