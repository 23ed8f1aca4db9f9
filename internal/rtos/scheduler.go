// Package rtos is a host stand-in for the device's real-time scheduler:
// named tasks with a 32-bit notification word each, started together by
// Start. It implements only what the boot sequence calls into.
package rtos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"zwboot/internal/boot"
	"zwboot/internal/eventbus"
	"zwboot/internal/runtime/supervisor"
	logx "zwboot/pkg/logx"
)

var (
	ErrNotRunning    = errors.New("rtos: scheduler not running")
	ErrBitOutOfRange = errors.New("rtos: notification bit out of range")
	ErrDuplicateTask = errors.New("rtos: duplicate task name")
)

// MaxNotifyBits is the notification word width.
const MaxNotifyBits = 32

// Config describes the scheduler's notification-bit contract.
type Config struct {
	// NotifyBitWidth is the usable width of a notification word (1..32, default 32).
	NotifyBitWidth uint8
	// ReservedBits are bits the scheduler keeps for itself.
	ReservedBits []uint8
}

// TaskFunc is a task body. It runs until ctx ends.
type TaskFunc func(ctx context.Context) error

type Scheduler struct {
	cfg     Config
	flag    *boot.StartedFlag
	log     logx.Logger
	bus     eventbus.Bus
	reserve map[uint8]bool

	mu    sync.Mutex
	tasks []*Task
	names map[string]struct{}
	sup   *supervisor.Supervisor
}

// New returns a stopped scheduler. flag is marked once Start runs.
func New(cfg Config, flag *boot.StartedFlag, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if cfg.NotifyBitWidth == 0 || cfg.NotifyBitWidth > MaxNotifyBits {
		cfg.NotifyBitWidth = MaxNotifyBits
	}
	if flag == nil {
		flag = &boot.StartedFlag{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	res := make(map[uint8]bool, len(cfg.ReservedBits))
	for _, b := range cfg.ReservedBits {
		res[b] = true
	}
	return &Scheduler{cfg: cfg, flag: flag, log: log, bus: bus, reserve: res, names: map[string]struct{}{}}
}

func (s *Scheduler) NotifyBitWidth() uint8 { return s.cfg.NotifyBitWidth }

func (s *Scheduler) NotifyBitReserved(bit uint8) bool { return s.reserve[bit] }

// Started reports whether Start has run.
func (s *Scheduler) Started() bool { return s.flag.IsStarted() }

// CreateTask creates a task. Tasks created before Start begin running at
// Start; tasks created afterwards begin immediately.
func (s *Scheduler) CreateTask(name string, fn TaskFunc) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return nil, errors.New("rtos: task name and body are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, name)
	}
	t := newTask(name, s.cfg.NotifyBitWidth, fn)
	s.names[name] = struct{}{}
	s.tasks = append(s.tasks, t)
	if s.sup != nil {
		s.runLocked(t)
	}
	s.log.Debug("task created", logx.String("task", name))
	return t, nil
}

func (s *Scheduler) runLocked(t *Task) {
	s.sup.Go("task."+t.name, func(ctx context.Context) error {
		return t.fn(withTask(ctx, t))
	})
}

// Start begins running every created task and marks the scheduler started.
// It can only succeed once per process.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flag.MarkStarted(); err != nil {
		return err
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(true))
	for _, t := range s.tasks {
		s.runLocked(t)
	}
	s.log.Info("scheduler started", logx.Int("tasks", len(s.tasks)))
	eventbus.Publish(s.bus, eventbus.TypeSchedulerStarted, len(s.tasks))
	return nil
}

// Done is closed when the running tasks' context ends (Stop or a task failure).
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Context().Done()
}

// Err is the first task failure, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Stop cancels every task and waits for them within ctx.
// There is no restart: the started flag stays set.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return ErrNotRunning
	}
	return sup.Stop(ctx)
}

// Snapshot exposes task runtime stats.
func (s *Scheduler) Snapshot() supervisor.Snapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return supervisor.Snapshot{}
	}
	return sup.Snapshot()
}
