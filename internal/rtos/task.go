package rtos

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Task is a scheduler task. It satisfies boot.TaskHandle.
type Task struct {
	name  string
	width uint8
	fn    TaskFunc

	word   atomic.Uint32
	signal chan struct{}
}

func newTask(name string, width uint8, fn TaskFunc) *Task {
	return &Task{name: name, width: width, fn: fn, signal: make(chan struct{}, 1)}
}

func (t *Task) Name() string { return t.name }

// Notify sets bit in the task's notification word and wakes the task.
// It never blocks and may be called from any goroutine.
func (t *Task) Notify(bit uint8) error {
	if bit >= t.width {
		return fmt.Errorf("%w: %d (width %d)", ErrBitOutOfRange, bit, t.width)
	}
	t.word.Or(1 << bit)
	select {
	case t.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the notification word without clearing it.
func (t *Task) Pending() uint32 { return t.word.Load() }

// Wait blocks until any bit in mask is set, then clears and returns those bits.
// Only the task itself should wait on its word.
func (t *Task) Wait(ctx context.Context, mask uint32) (uint32, error) {
	for {
		if got := t.word.And(^mask) & mask; got != 0 {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.signal:
		}
	}
}

type taskKey struct{}

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// CurrentTask returns the task whose body received ctx, or nil.
func CurrentTask(ctx context.Context) *Task {
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}
