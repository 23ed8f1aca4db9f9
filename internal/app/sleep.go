package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"zwboot/internal/wake"
	logx "zwboot/pkg/logx"
)

var sleepParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSleepSchedule reports whether spec is a cron spec the cycler accepts.
func ValidateSleepSchedule(spec string) error {
	if _, err := sleepParser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("sleep.schedule: %w", err)
	}
	return nil
}

// SleepCycler simulates deep-sleep periods on the host: on each tick of its
// cron schedule it enters sleep, holds for the RTCC timeout (or until an
// early pin wake), then wakes the tracker.
type SleepCycler struct {
	tracker *wake.Tracker
	timeout time.Duration
	log     logx.Logger

	c   *cron.Cron
	pin chan struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSleepCycler(schedule string, timeout time.Duration, tracker *wake.Tracker, log logx.Logger) (*SleepCycler, error) {
	if tracker == nil {
		return nil, errors.New("sleep: tracker is required")
	}
	if timeout <= 0 {
		return nil, errors.New("sleep: rtcc timeout must be > 0")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &SleepCycler{tracker: tracker, timeout: timeout, log: log, pin: make(chan struct{}, 1)}
	s.c = cron.New(
		cron.WithParser(sleepParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})),
		cron.WithLogger(cronLogger{log: log}),
	)
	if strings.TrimSpace(schedule) != "" {
		if _, err := s.c.AddFunc(strings.TrimSpace(schedule), s.tick); err != nil {
			return nil, fmt.Errorf("sleep.schedule: %w", err)
		}
	}
	return s, nil
}

func (s *SleepCycler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.c.Start()
	s.log.Info("sleep cycler started",
		logx.Duration("rtcc_timeout", s.timeout),
		logx.Uint32("rtcc_ticks", wake.DurationToTicks(s.timeout, s.tracker.Report().TickHz)),
	)
}

// Stop halts the schedule and waits for a running cycle within ctx.
func (s *SleepCycler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WakePin ends the current sleep early, as the external wake pin would.
// It is a no-op when nothing is asleep.
func (s *SleepCycler) WakePin() {
	if !s.tracker.Asleep() {
		return
	}
	select {
	case s.pin <- struct{}{}:
	default:
	}
}

func (s *SleepCycler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.Cycle(ctx); err != nil {
		s.log.Warn("sleep cycle failed", logx.Err(err))
	}
}

// Cycle runs one enter-sleep / wake transition and returns the new report.
// Cancelling ctx while asleep wakes the device with CauseReset.
func (s *SleepCycler) Cycle(ctx context.Context) (wake.Report, error) {
	// drop a stale pin wake from before this sleep
	select {
	case <-s.pin:
	default:
	}
	if err := s.tracker.EnterSleep(ctx); err != nil {
		return wake.Report{}, err
	}

	cause := wake.CauseRtcc
	t := time.NewTimer(s.timeout)
	select {
	case <-t.C:
	case <-s.pin:
		cause = wake.CausePin
	case <-ctx.Done():
		cause = wake.CauseReset
	}
	t.Stop()

	if err := s.tracker.Wake(context.WithoutCancel(ctx), cause); err != nil {
		return s.tracker.Report(), err
	}
	return s.tracker.Report(), nil
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
