package boot

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"zwboot/internal/eventbus"
	logx "zwboot/pkg/logx"
)

// registration is the immutable record published by Register.
type registration struct {
	entry   TaskEntry
	bits    NotifyBits
	cfg     ProtocolConfig
	handles *SharedHandles
}

type staged struct {
	bits NotifyBits
	cfg  ProtocolConfig
}

// Registrar performs the one-time registration of the application task.
//
// Register and AttachTaskHandle are boot-time calls; the read accessors are
// safe from any goroutine at any time.
type Registrar struct {
	policy BitPolicy
	log    logx.Logger
	bus    eventbus.Bus

	// mu serializes writers only. Readers never take it.
	mu sync.Mutex

	staged atomic.Pointer[staged]
	reg    atomic.Pointer[registration]
	task   atomic.Pointer[taskRef]
}

type RegistrarOption func(*Registrar)

func WithLogger(log logx.Logger) RegistrarOption {
	return func(r *Registrar) { r.log = log }
}

func WithBus(b eventbus.Bus) RegistrarOption {
	return func(r *Registrar) { r.bus = b }
}

// NewRegistrar creates an unregistered registrar. policy may be nil, in which
// case bits are only checked against a 32-bit notification word.
func NewRegistrar(policy BitPolicy, opts ...RegistrarOption) *Registrar {
	r := &Registrar{policy: policy}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// SetEventNotificationBitNumbers validates and stages the notification bits
// and protocol config ahead of RegisterStaged.
func (r *Registrar) SetEventNotificationBitNumbers(rxBit, statusBit uint8, cfg ProtocolConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg.Load() != nil {
		return ErrAlreadyRegistered
	}
	bits := NotifyBits{Rx: rxBit, Status: statusBit}
	if err := bits.validate(r.policy); err != nil {
		return err
	}
	vcfg, err := cfg.Validate()
	if err != nil {
		return err
	}
	r.staged.Store(&staged{bits: bits, cfg: vcfg})
	r.log.Debug("notification bits staged", logx.Uint8("rx_bit", rxBit), logx.Uint8("status_bit", statusBit))
	return nil
}

// RegisterStaged registers entry with the values staged by SetEventNotificationBitNumbers.
func (r *Registrar) RegisterStaged(entry TaskEntry) error {
	st := r.staged.Load()
	if st == nil {
		return fmt.Errorf("%w: no notification bits staged", ErrInvalidState)
	}
	return r.Register(entry, st.bits.Rx, st.bits.Status, st.cfg)
}

// Register records the application task, its notification bits and a copy of
// cfg, then publishes the shared handles. It succeeds exactly once; every later
// call returns ErrAlreadyRegistered and changes nothing.
func (r *Registrar) Register(entry TaskEntry, rxBit, statusBit uint8, cfg ProtocolConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reg.Load() != nil {
		r.log.Warn("duplicate application task registration rejected")
		return ErrAlreadyRegistered
	}
	if isNilEntry(entry) {
		return ErrInvalidEntry
	}
	bits := NotifyBits{Rx: rxBit, Status: statusBit}
	if err := bits.validate(r.policy); err != nil {
		return err
	}
	vcfg, err := cfg.Validate()
	if err != nil {
		return err
	}

	// Everything is built before the single publishing store below.
	rec := &registration{
		entry:   entry,
		bits:    bits,
		cfg:     vcfg,
		handles: newSharedHandles(vcfg, bits, &r.task),
	}
	r.reg.Store(rec)
	r.staged.Store(nil)

	r.log.Info("application task registered",
		logx.String("boot_id", rec.handles.BootID.String()),
		logx.Uint8("rx_bit", rxBit),
		logx.Uint8("status_bit", statusBit),
		logx.String("region", string(vcfg.Region)),
		logx.String("role", string(vcfg.Role)),
	)
	eventbus.Publish(r.bus, eventbus.TypeRegistered, rec.handles.BootID.String())
	return nil
}

// isNilEntry catches a nil interface as well as a typed nil (nil *T, nil
// TaskFunc) hidden behind it.
func isNilEntry(entry TaskEntry) bool {
	if entry == nil {
		return true
	}
	switch v := reflect.ValueOf(entry); v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// AttachTaskHandle stores the scheduler task created for the registered entry.
// It fails with ErrInvalidState before registration, for a nil handle, or when
// a handle is already attached.
func (r *Registrar) AttachTaskHandle(h TaskHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reg.Load() == nil {
		return fmt.Errorf("%w: attach before registration", ErrInvalidState)
	}
	if h == nil {
		return fmt.Errorf("%w: nil task handle", ErrInvalidState)
	}
	if !r.task.CompareAndSwap(nil, &taskRef{h: h}) {
		return fmt.Errorf("%w: task handle already attached", ErrInvalidState)
	}
	r.log.Info("application task attached", logx.String("task", h.Name()))
	eventbus.Publish(r.bus, eventbus.TypeTaskAttached, h.Name())
	return nil
}

// Registered reports whether Register has succeeded.
func (r *Registrar) Registered() bool { return r.reg.Load() != nil }

// SharedHandles returns the published handles, or nil before registration.
func (r *Registrar) SharedHandles() *SharedHandles {
	if rec := r.reg.Load(); rec != nil {
		return rec.handles
	}
	return nil
}

// Registry returns the read-only handles view.
func (r *Registrar) Registry() HandlesRegistry { return HandlesRegistry{r: r} }

// Entry returns the registered task entry, or nil.
func (r *Registrar) Entry() TaskEntry {
	if rec := r.reg.Load(); rec != nil {
		return rec.entry
	}
	return nil
}

// NotificationBits returns the registered bits; ok is false before registration.
func (r *Registrar) NotificationBits() (bits NotifyBits, ok bool) {
	if rec := r.reg.Load(); rec != nil {
		return rec.bits, true
	}
	return NotifyBits{}, false
}

// ProtocolConfig returns the registrar's copy of the protocol config.
func (r *Registrar) ProtocolConfig() (cfg ProtocolConfig, ok bool) {
	if rec := r.reg.Load(); rec != nil {
		return rec.cfg, true
	}
	return ProtocolConfig{}, false
}

// TaskHandle returns the attached task, or nil.
func (r *Registrar) TaskHandle() TaskHandle {
	if ref := r.task.Load(); ref != nil {
		return ref.h
	}
	return nil
}
