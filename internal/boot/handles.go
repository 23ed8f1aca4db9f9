package boot

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RxFrame is a frame delivered by the protocol stack to the application.
type RxFrame struct {
	SourceNode uint16
	Payload    []byte
	RSSI       int8
}

// StatusKind classifies command-status reports.
type StatusKind string

const (
	StatusWake     StatusKind = "wake"
	StatusTxDone   StatusKind = "tx_done"
	StatusTxFailed StatusKind = "tx_failed"
)

// StatusReport is a command-status message for the application.
type StatusReport struct {
	Kind   StatusKind
	At     time.Time
	Detail string
}

// SharedHandles is the structure shared between the bootstrap, the protocol
// stack and the application task. It is built once by Register and never
// replaced; its queues are the protocol stack's to use.
type SharedHandles struct {
	BootID uuid.UUID
	Config ProtocolConfig
	Bits   NotifyBits

	RxQueue     chan RxFrame
	StatusQueue chan StatusReport

	task *atomic.Pointer[taskRef]
}

type taskRef struct{ h TaskHandle }

func newSharedHandles(cfg ProtocolConfig, bits NotifyBits, task *atomic.Pointer[taskRef]) *SharedHandles {
	return &SharedHandles{
		BootID:      uuid.New(),
		Config:      cfg,
		Bits:        bits,
		RxQueue:     make(chan RxFrame, cfg.RxQueueDepth),
		StatusQueue: make(chan StatusReport, cfg.StatusQueueDepth),
		task:        task,
	}
}

// Task returns the attached application task, or nil before attach.
func (h *SharedHandles) Task() TaskHandle {
	if h == nil || h.task == nil {
		return nil
	}
	if ref := h.task.Load(); ref != nil {
		return ref.h
	}
	return nil
}

// PostRx enqueues a frame without blocking and signals the RX bit.
// It reports false when the queue is full.
func (h *SharedHandles) PostRx(f RxFrame) bool {
	select {
	case h.RxQueue <- f:
	default:
		return false
	}
	h.notify(h.Bits.Rx)
	return true
}

// PostStatus enqueues a status report without blocking and signals the status bit.
func (h *SharedHandles) PostStatus(s StatusReport) bool {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	select {
	case h.StatusQueue <- s:
	default:
		return false
	}
	h.notify(h.Bits.Status)
	return true
}

// Frames posted before the task exists stay queued; the task drains them on start.
func (h *SharedHandles) notify(bit uint8) {
	if t := h.Task(); t != nil {
		_ = t.Notify(bit)
	}
}

// AppHandles is the read-only view over the published shared handles.
type AppHandles interface {
	AppHandles() *SharedHandles
}

// HandlesRegistry exposes the published handles without the registration API.
type HandlesRegistry struct {
	r *Registrar
}

// AppHandles returns the published handles, or nil before registration.
func (v HandlesRegistry) AppHandles() *SharedHandles {
	if v.r == nil {
		return nil
	}
	return v.r.SharedHandles()
}
