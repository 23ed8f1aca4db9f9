package rtos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwboot/internal/boot"
	"zwboot/internal/eventbus"
	logx "zwboot/pkg/logx"
)

func TestSchedulerBitPolicy(t *testing.T) {
	s := New(Config{NotifyBitWidth: 24, ReservedBits: []uint8{0}}, nil, logx.Nop(), nil)
	assert.Equal(t, uint8(24), s.NotifyBitWidth())
	assert.True(t, s.NotifyBitReserved(0))
	assert.False(t, s.NotifyBitReserved(1))

	def := New(Config{}, nil, logx.Nop(), nil)
	assert.Equal(t, uint8(MaxNotifyBits), def.NotifyBitWidth())

	var _ boot.BitPolicy = s
	var _ boot.TaskHandle = &Task{}
}

func TestTaskNotifyAndWait(t *testing.T) {
	task := newTask("app", 32, nil)
	require.NoError(t, task.Notify(3))
	require.NoError(t, task.Notify(5))
	require.ErrorIs(t, task.Notify(32), ErrBitOutOfRange)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := task.Wait(ctx, 1<<3)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<3), got)
	assert.Equal(t, uint32(1<<5), task.Pending(), "bits outside the mask stay set")

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = task.Wait(short, 1<<3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskWaitWakesOnLateNotify(t *testing.T) {
	task := newTask("app", 32, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = task.Notify(7)
	}()
	got, err := task.Wait(ctx, 1<<7|1<<8)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<7), got)
}

func TestStartRunsTasksAndMarksFlag(t *testing.T) {
	var flag boot.StartedFlag
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, &flag, logx.Nop(), bus)
	ran := make(chan *Task, 2)
	body := func(ctx context.Context) error {
		ran <- CurrentTask(ctx)
		<-ctx.Done()
		return ctx.Err()
	}
	first, err := s.CreateTask("first", body)
	require.NoError(t, err)
	_, err = s.CreateTask("first", body)
	require.ErrorIs(t, err, ErrDuplicateTask)

	assert.False(t, s.Started())
	require.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, flag.IsStarted())
	assert.Equal(t, eventbus.TypeSchedulerStarted, (<-events).Type)
	assert.Same(t, first, <-ran)

	late, err := s.CreateTask("late", body)
	require.NoError(t, err)
	assert.Same(t, late, <-ran, "tasks created after start run immediately")

	require.ErrorIs(t, s.Start(ctx), boot.ErrAlreadyStarted)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.True(t, flag.IsStarted(), "no restart after stop")
	assert.Len(t, s.Snapshot().Tasks, 2)
}

func TestTaskFailureStopsScheduler(t *testing.T) {
	s := New(Config{}, nil, logx.Nop(), nil)
	boom := errors.New("radio fault")
	_, err := s.CreateTask("radio", func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	_, err = s.CreateTask("app", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after task failure")
	}
	require.ErrorIs(t, s.Err(), boom)
}
