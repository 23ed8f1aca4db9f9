package wake

import (
	"sync/atomic"
	"time"
)

// DefaultTickHz is the usual low-frequency RTCC crystal.
const DefaultTickHz = 32768

// Clock is the real-time clock collaborator: a free-running 32-bit tick
// counter that keeps counting in deep sleep and wraps at 2^32.
type Clock interface {
	Now() uint32
	Hz() uint32
}

// HostClock derives RTCC ticks from the host's monotonic clock.
type HostClock struct {
	hz     uint32
	origin time.Time
	offset uint32
}

// NewHostClock returns a clock at hz ticks per second (DefaultTickHz if 0)
// whose counter starts at offset. A large offset exercises wraparound early.
func NewHostClock(hz, offset uint32) *HostClock {
	if hz == 0 {
		hz = DefaultTickHz
	}
	return &HostClock{hz: hz, origin: time.Now(), offset: offset}
}

func (c *HostClock) Hz() uint32 { return c.hz }

func (c *HostClock) Now() uint32 {
	el := uint64(time.Since(c.origin))
	ticks := el / uint64(time.Second) * uint64(c.hz)
	ticks += el % uint64(time.Second) * uint64(c.hz) / uint64(time.Second)
	return c.offset + uint32(ticks)
}

// ManualClock is a Clock moved by hand. Tests and simulations use it.
type ManualClock struct {
	hz  uint32
	now atomic.Uint32
}

func NewManualClock(hz, start uint32) *ManualClock {
	if hz == 0 {
		hz = DefaultTickHz
	}
	c := &ManualClock{hz: hz}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Hz() uint32           { return c.hz }
func (c *ManualClock) Now() uint32          { return c.now.Load() }
func (c *ManualClock) Set(tick uint32)      { c.now.Store(tick) }
func (c *ManualClock) Advance(ticks uint32) { c.now.Add(ticks) }

// TicksToMs converts a tick count to whole milliseconds, rounding down.
func TicksToMs(ticks, hz uint32) uint32 {
	if hz == 0 {
		return 0
	}
	return uint32(uint64(ticks) * 1000 / uint64(hz))
}

// DurationToTicks converts d to ticks at hz, saturating at the counter width.
func DurationToTicks(d time.Duration, hz uint32) uint32 {
	if d <= 0 {
		return 0
	}
	t := uint64(d) / uint64(time.Millisecond) * uint64(hz) / 1000
	if t > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(t)
}
