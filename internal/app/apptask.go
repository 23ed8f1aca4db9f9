package app

import (
	"context"
	"errors"
	"fmt"

	"zwboot/internal/boot"
	"zwboot/internal/eventbus"
	"zwboot/internal/rtos"
	"zwboot/internal/wake"
	logx "zwboot/pkg/logx"
)

// DefaultTask is the application main loop used when none is supplied. It
// waits on its two notification bits and drains the matching queue.
func DefaultTask(log logx.Logger) boot.TaskEntry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return boot.TaskFunc(func(ctx context.Context, h *boot.SharedHandles) error {
		self := rtos.CurrentTask(ctx)
		if self == nil {
			return errors.New("app task: not running under the scheduler")
		}
		log.Info("application task running",
			logx.String("boot_id", h.BootID.String()),
			logx.String("region", string(h.Config.Region)),
			logx.String("role", string(h.Config.Role)),
			logx.Uint8("rx_bit", h.Bits.Rx),
			logx.Uint8("status_bit", h.Bits.Status),
		)
		// anything posted before the task handle was attached
		drainRx(h, log)
		drainStatus(h, log)

		rx, status := uint32(1)<<h.Bits.Rx, uint32(1)<<h.Bits.Status
		for {
			bits, err := self.Wait(ctx, h.Bits.Mask())
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if bits&rx != 0 {
				drainRx(h, log)
			}
			if bits&status != 0 {
				drainStatus(h, log)
			}
		}
	})
}

func drainRx(h *boot.SharedHandles, log logx.Logger) {
	for {
		select {
		case f := <-h.RxQueue:
			log.Debug("rx frame", logx.Int("src", int(f.SourceNode)), logx.Int("len", len(f.Payload)), logx.Int("rssi", int(f.RSSI)))
		default:
			return
		}
	}
}

func drainStatus(h *boot.SharedHandles, log logx.Logger) {
	for {
		select {
		case s := <-h.StatusQueue:
			log.Info("status", logx.String("kind", string(s.Kind)), logx.String("detail", s.Detail))
		default:
			return
		}
	}
}

// forwardWakeReports plays the protocol stack's part after a wake: every
// sleep.wake event becomes a status report for the application.
func forwardWakeReports(ctx context.Context, events <-chan eventbus.Event, reg boot.AppHandles, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeSleepWake {
				continue
			}
			rep, ok := e.Data.(wake.Report)
			h := reg.AppHandles()
			if !ok || h == nil {
				continue
			}
			if !h.PostStatus(boot.StatusReport{Kind: boot.StatusWake, At: e.Time, Detail: wakeDetail(rep)}) {
				log.Warn("status queue full; wake report dropped", logx.Uint32("cycle", rep.Cycles))
			}
		}
	}
}

func wakeDetail(r wake.Report) string {
	cause := "other"
	if r.WokenByRtcc {
		cause = "rtcc"
	}
	return fmt.Sprintf("slept %dms, woken by %s", r.SleptMs, cause)
}
