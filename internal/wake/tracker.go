// Package wake reconstructs the last deep-sleep cycle from the retention
// record: how long the device slept and whether the RTCC woke it.
//
// Readers get an immutable snapshot through an atomic pointer; the only
// writer is the sleep-transition path (EnterSleep/Wake), which the system
// never runs twice at once.
package wake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"zwboot/internal/eventbus"
	"zwboot/internal/retention"
	logx "zwboot/pkg/logx"
)

var ErrTransitionOrder = errors.New("wake: sleep transition out of order")

// Cause is what ended a deep-sleep period.
type Cause string

const (
	CauseRtcc  Cause = "rtcc"  // RTCC compare match (timed wake-up)
	CausePin   Cause = "pin"   // external wake pin
	CauseReset Cause = "reset" // reset pin / watchdog
)

// Report is a point-in-time view of the last sleep cycle.
type Report struct {
	Completed       bool   `json:"completed"`
	WokenByRtcc     bool   `json:"woken_by_rtcc"`
	TickBeforeSleep uint32 `json:"tick_before_sleep"`
	TickAtWakeup    uint32 `json:"tick_at_wakeup"`
	SleptTicks      uint32 `json:"slept_ticks"`
	SleptMs         uint32 `json:"slept_ms"`
	Cycles          uint32 `json:"cycles"`
	TickHz          uint32 `json:"tick_hz"`

	// Asleep is set between EnterSleep and Wake; SleepingSince is the
	// pre-sleep tick of that pending cycle.
	Asleep        bool   `json:"asleep"`
	SleepingSince uint32 `json:"sleeping_since,omitempty"`
}

// Tracker serves wake queries and owns the sleep-transition write path.
type Tracker struct {
	clock Clock
	store retention.Store
	log   logx.Logger
	bus   eventbus.Bus

	snap atomic.Pointer[retention.Record]

	// mu serializes transitions; readers never take it.
	mu sync.Mutex
}

type Option func(*Tracker)

func WithLogger(log logx.Logger) Option { return func(t *Tracker) { t.log = log } }

func WithBus(b eventbus.Bus) Option { return func(t *Tracker) { t.bus = b } }

// New loads the retained record from store and returns a tracker serving it.
// A record saved mid-sleep comes back asleep; see ResumeInterrupted.
func New(ctx context.Context, store retention.Store, clock Clock, opts ...Option) (*Tracker, error) {
	if store == nil || clock == nil {
		return nil, errors.New("wake: store and clock are required")
	}
	t := &Tracker{clock: clock, store: store}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	rec, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("wake: load retention: %w", err)
	}
	t.snap.Store(&rec)
	return t, nil
}

func (t *Tracker) record() retention.Record { return *t.snap.Load() }

// WasWokenByRtccTimeout reports the cause of the last wake; false before any cycle.
func (t *Tracker) WasWokenByRtccTimeout() bool { return t.record().WakeupCausedByRtcc }

// HasCompletedCycle reports whether at least one sleep/wake cycle is recorded.
func (t *Tracker) HasCompletedCycle() bool { return t.record().Cycles > 0 }

// CompletedSleepDurationMs is the length of the last sleep in milliseconds,
// or 0 before any cycle. The tick difference is taken modulo 2^32, so one
// counter wrap during sleep is handled.
func (t *Tracker) CompletedSleepDurationMs() uint32 {
	rec := t.record()
	if rec.Cycles == 0 {
		return 0
	}
	return TicksToMs(rec.TickAtWakeup-rec.TickBeforeSleep, t.clock.Hz())
}

// EM4WakeupTick is the raw tick captured right after the last wake.
func (t *Tracker) EM4WakeupTick() uint32 { return t.record().TickAtWakeup }

// LastTickBeforeEM4 is the raw tick captured right before the last sleep.
func (t *Tracker) LastTickBeforeEM4() uint32 { return t.record().TickBeforeSleep }

// Report returns all wake values from one consistent snapshot.
func (t *Tracker) Report() Report {
	rec := t.record()
	rep := Report{
		Completed:       rec.Cycles > 0,
		WokenByRtcc:     rec.WakeupCausedByRtcc,
		TickBeforeSleep: rec.TickBeforeSleep,
		TickAtWakeup:    rec.TickAtWakeup,
		Cycles:          rec.Cycles,
		TickHz:          t.clock.Hz(),
		Asleep:          rec.Sleeping,
	}
	if rec.Sleeping {
		rep.SleepingSince = rec.PendingTickBeforeSleep
	}
	if rep.Completed {
		rep.SleptTicks = rec.TickAtWakeup - rec.TickBeforeSleep
		rep.SleptMs = TicksToMs(rep.SleptTicks, rep.TickHz)
	}
	return rep
}

// Asleep reports whether EnterSleep has run without a matching Wake.
func (t *Tracker) Asleep() bool { return t.record().Sleeping }

// EnterSleep records the current tick as the pending pre-sleep tick and
// persists it. The completed cycle is left as is, so readers keep seeing
// it until Wake.
func (t *Tracker) EnterSleep(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record()
	if rec.Sleeping {
		return fmt.Errorf("%w: already asleep", ErrTransitionOrder)
	}

	rec.Sleeping = true
	rec.PendingTickBeforeSleep = t.clock.Now()
	if err := t.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("wake: persist pre-sleep tick: %w", err)
	}
	t.snap.Store(&rec)

	t.log.Debug("entering deep sleep", logx.Uint32("tick", rec.PendingTickBeforeSleep))
	eventbus.Publish(t.bus, eventbus.TypeSleepEnter, rec.PendingTickBeforeSleep)
	return nil
}

// Wake records the wake tick and cause, persists them and publishes the
// completed cycle to readers.
func (t *Tracker) Wake(ctx context.Context, cause Cause) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakeLocked(ctx, cause)
}

// ResumeInterrupted completes a cycle whose process ended while asleep.
// Deep sleep ends in a reset, so the wake tick is taken now and the cause
// is CauseReset. It reports whether a cycle was completed.
func (t *Tracker) ResumeInterrupted(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.record().Sleeping {
		return false, nil
	}
	t.log.Info("retention record left mid-sleep; completing cycle as reset")
	return true, t.wakeLocked(ctx, CauseReset)
}

func (t *Tracker) wakeLocked(ctx context.Context, cause Cause) error {
	rec := t.record()
	if !rec.Sleeping {
		return fmt.Errorf("%w: not asleep", ErrTransitionOrder)
	}

	rec.TickBeforeSleep = rec.PendingTickBeforeSleep
	rec.TickAtWakeup = t.clock.Now()
	rec.WakeupCausedByRtcc = cause == CauseRtcc
	rec.Cycles++
	rec.Sleeping = false
	rec.PendingTickBeforeSleep = 0

	// The in-memory view is authoritative once awake, even if the
	// retention write fails; the stored image then still holds the
	// pending cycle and is completed again on the next start.
	t.snap.Store(&rec)
	saveErr := t.store.Save(ctx, rec)

	rep := t.Report()
	t.log.Info("woke from deep sleep",
		logx.String("cause", string(cause)),
		logx.Uint32("slept_ms", rep.SleptMs),
		logx.Uint32("cycles", rec.Cycles),
	)
	eventbus.Publish(t.bus, eventbus.TypeSleepWake, rep)

	if saveErr != nil {
		t.log.Warn("retention write after wake failed", logx.Err(saveErr))
		return fmt.Errorf("wake: persist wake record: %w", saveErr)
	}
	return nil
}
