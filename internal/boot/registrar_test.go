package boot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwboot/internal/eventbus"
)

type testPolicy struct {
	width    uint8
	reserved map[uint8]bool
}

func (p testPolicy) NotifyBitWidth() uint8            { return p.width }
func (p testPolicy) NotifyBitReserved(bit uint8) bool { return p.reserved[bit] }

type fakeTask struct {
	name string

	mu   sync.Mutex
	bits []uint8
}

func (t *fakeTask) Name() string { return t.name }
func (t *fakeTask) Notify(bit uint8) error {
	t.mu.Lock()
	t.bits = append(t.bits, bit)
	t.mu.Unlock()
	return nil
}

func (t *fakeTask) notified() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint8(nil), t.bits...)
}

func noopEntry() TaskEntry {
	return TaskFunc(func(ctx context.Context, h *SharedHandles) error { return nil })
}

func euConfig() ProtocolConfig {
	return ProtocolConfig{Region: RegionEU, Role: RoleAlwaysOn}
}

func newTestRegistrar() *Registrar {
	return NewRegistrar(testPolicy{width: 32, reserved: map[uint8]bool{31: true}})
}

func TestRegisterOnce(t *testing.T) {
	r := newTestRegistrar()
	assert.Nil(t, r.Registry().AppHandles())
	assert.False(t, r.Registered())

	require.NoError(t, r.Register(noopEntry(), 3, 4, euConfig()))
	first := r.Registry().AppHandles()
	require.NotNil(t, first)
	assert.Equal(t, NotifyBits{Rx: 3, Status: 4}, first.Bits)

	cfg2 := ProtocolConfig{Region: RegionUS, Role: RoleListeningSleeping}
	err := r.Register(noopEntry(), 5, 6, cfg2)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Same(t, first, r.Registry().AppHandles())
	bits, ok := r.NotificationBits()
	require.True(t, ok)
	assert.Equal(t, NotifyBits{Rx: 3, Status: 4}, bits)
	cfg, ok := r.ProtocolConfig()
	require.True(t, ok)
	assert.Equal(t, RegionEU, cfg.Region)
}

func TestRegisterRejectsEqualBits(t *testing.T) {
	for bit := uint8(0); bit < 31; bit++ {
		r := newTestRegistrar()
		err := r.Register(noopEntry(), bit, bit, euConfig())
		require.ErrorIs(t, err, ErrInvalidNotificationBits, "bit %d", bit)
		assert.Nil(t, r.SharedHandles())
	}
}

func TestRegisterRejectsOutOfRangeAndReservedBits(t *testing.T) {
	r := newTestRegistrar()
	require.ErrorIs(t, r.Register(noopEntry(), 32, 1, euConfig()), ErrInvalidNotificationBits)
	require.ErrorIs(t, r.Register(noopEntry(), 1, 31, euConfig()), ErrInvalidNotificationBits)

	narrow := NewRegistrar(testPolicy{width: 8})
	require.ErrorIs(t, narrow.Register(noopEntry(), 2, 8, euConfig()), ErrInvalidNotificationBits)
	require.NoError(t, narrow.Register(noopEntry(), 2, 7, euConfig()))
}

func TestRegisterRejectsNilEntryAndBadConfig(t *testing.T) {
	r := newTestRegistrar()
	require.ErrorIs(t, r.Register(nil, 1, 2, euConfig()), ErrInvalidEntry)
	var fn TaskFunc
	require.ErrorIs(t, r.Register(fn, 1, 2, euConfig()), ErrInvalidEntry)
	var loop *loopEntry
	require.ErrorIs(t, r.Register(loop, 1, 2, euConfig()), ErrInvalidEntry)
	require.ErrorIs(t, r.Register(&loopEntry{}, 1, 2, ProtocolConfig{}), ErrInvalidConfig, "non-nil pointer entry passes the entry check")
	require.ErrorIs(t, r.Register(noopEntry(), 1, 2, ProtocolConfig{Region: "XX", Role: RoleAlwaysOn}), ErrInvalidConfig)
	require.ErrorIs(t, r.Register(noopEntry(), 1, 2, ProtocolConfig{Region: RegionEU, Role: RoleReportingSleeping}), ErrInvalidConfig)

	// Failed attempts leave the registrar usable.
	require.NoError(t, r.Register(noopEntry(), 1, 2, euConfig()))
}

type loopEntry struct{ runs int }

func (e *loopEntry) Run(ctx context.Context, h *SharedHandles) error {
	e.runs++
	<-ctx.Done()
	return nil
}

func TestRegisterCopiesConfig(t *testing.T) {
	r := newTestRegistrar()
	cfg := euConfig()
	require.NoError(t, r.Register(noopEntry(), 1, 2, cfg))
	cfg.Region = RegionJP

	got, _ := r.ProtocolConfig()
	assert.Equal(t, RegionEU, got.Region)
	assert.Equal(t, defaultRxQueueDepth, got.RxQueueDepth)
	assert.Equal(t, defaultStatusQueueDepth, cap(r.SharedHandles().StatusQueue))
}

func TestStagedRegistration(t *testing.T) {
	r := newTestRegistrar()
	require.ErrorIs(t, r.RegisterStaged(noopEntry()), ErrInvalidState)
	require.ErrorIs(t, r.SetEventNotificationBitNumbers(9, 9, euConfig()), ErrInvalidNotificationBits)

	require.NoError(t, r.SetEventNotificationBitNumbers(10, 11, euConfig()))
	require.NoError(t, r.RegisterStaged(noopEntry()))

	bits, _ := r.NotificationBits()
	assert.Equal(t, NotifyBits{Rx: 10, Status: 11}, bits)
	require.ErrorIs(t, r.SetEventNotificationBitNumbers(1, 2, euConfig()), ErrAlreadyRegistered)
}

func TestAttachTaskHandle(t *testing.T) {
	r := newTestRegistrar()
	task := &fakeTask{name: "app"}

	err := r.AttachTaskHandle(task)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, r.Register(noopEntry(), 3, 4, euConfig()))
	require.ErrorIs(t, r.AttachTaskHandle(nil), ErrInvalidState)
	require.NoError(t, r.AttachTaskHandle(task))
	require.ErrorIs(t, r.AttachTaskHandle(&fakeTask{name: "other"}), ErrInvalidState)

	assert.Equal(t, task, r.TaskHandle())
	assert.Equal(t, task, r.SharedHandles().Task())
}

func TestPostSignalsAttachedTask(t *testing.T) {
	r := newTestRegistrar()
	require.NoError(t, r.Register(noopEntry(), 3, 4, ProtocolConfig{Region: RegionEU, Role: RoleAlwaysOn, RxQueueDepth: 1}))
	h := r.SharedHandles()

	// Before attach frames queue without a notification.
	require.True(t, h.PostRx(RxFrame{SourceNode: 1}))
	assert.False(t, h.PostRx(RxFrame{SourceNode: 2}), "queue depth is 1")

	task := &fakeTask{name: "app"}
	require.NoError(t, r.AttachTaskHandle(task))
	require.True(t, h.PostStatus(StatusReport{Kind: StatusWake}))
	assert.Equal(t, []uint8{4}, task.notified())

	st := <-h.StatusQueue
	assert.False(t, st.At.IsZero())
}

func TestRegisterPublishesEvent(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := NewRegistrar(nil, WithBus(bus))
	require.NoError(t, r.Register(noopEntry(), 0, 1, euConfig()))
	require.NoError(t, r.AttachTaskHandle(&fakeTask{name: "app"}))

	assert.Equal(t, eventbus.TypeRegistered, (<-ch).Type)
	assert.Equal(t, eventbus.TypeTaskAttached, (<-ch).Type)
}

func TestConcurrentReadersSeeNilOrComplete(t *testing.T) {
	r := newTestRegistrar()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan string, 1)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := r.Registry().AppHandles()
				if h == nil {
					continue
				}
				if h.RxQueue == nil || h.StatusQueue == nil || h.Bits != (NotifyBits{Rx: 3, Status: 4}) {
					select {
					case bad <- "partially initialized handles observed":
					default:
					}
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Register(noopEntry(), 3, 4, euConfig()))
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	select {
	case msg := <-bad:
		t.Fatal(msg)
	default:
	}
}

func TestConcurrentRegisterHasSingleWinner(t *testing.T) {
	r := newTestRegistrar()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Register(noopEntry(), uint8(i), uint8(i+10), euConfig())
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrAlreadyRegistered))
	}
	assert.Equal(t, 1, wins)
}
