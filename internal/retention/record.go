// Package retention stores the small record that survives deep sleep (EM4).
//
// On the device this is a few words of retention RAM; here a Store driver
// stands in for it. The record is owned by the sleep-transition path in
// package wake and is not versioned.
package retention

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the size of the binary retention image.
const RecordSize = 17

const (
	flagRtcc     = 1 << 0
	flagSleeping = 1 << 1
)

var ErrBadImage = errors.New("retention: bad record image")

// Record is the retained state of the most recent sleep cycle.
//
// TickBeforeSleep, TickAtWakeup and WakeupCausedByRtcc always describe the
// same completed cycle and are only meaningful once Cycles > 0. A sleep in
// progress is carried separately in Sleeping and PendingTickBeforeSleep and
// never touches the completed cycle.
type Record struct {
	WakeupCausedByRtcc bool
	TickBeforeSleep    uint32
	TickAtWakeup       uint32

	// Cycles counts completed sleep/wake cycles since the retention
	// image was last cleared (power-on reset).
	Cycles uint32

	Sleeping               bool
	PendingTickBeforeSleep uint32
}

// MarshalBinary encodes the record as a fixed little-endian image:
// flags(1) | tickBeforeSleep(4) | tickAtWakeup(4) | cycles(4) | pendingTick(4).
// Flag bit 0 is the RTCC wake cause, bit 1 marks a sleep in progress.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	if r.WakeupCausedByRtcc {
		b[0] |= flagRtcc
	}
	if r.Sleeping {
		b[0] |= flagSleeping
	}
	binary.LittleEndian.PutUint32(b[1:5], r.TickBeforeSleep)
	binary.LittleEndian.PutUint32(b[5:9], r.TickAtWakeup)
	binary.LittleEndian.PutUint32(b[9:13], r.Cycles)
	binary.LittleEndian.PutUint32(b[13:17], r.PendingTickBeforeSleep)
	return b, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("%w: size %d, want %d", ErrBadImage, len(b), RecordSize)
	}
	if b[0]&^(flagRtcc|flagSleeping) != 0 {
		return fmt.Errorf("%w: flags 0x%02x", ErrBadImage, b[0])
	}
	r.WakeupCausedByRtcc = b[0]&flagRtcc != 0
	r.Sleeping = b[0]&flagSleeping != 0
	r.TickBeforeSleep = binary.LittleEndian.Uint32(b[1:5])
	r.TickAtWakeup = binary.LittleEndian.Uint32(b[5:9])
	r.Cycles = binary.LittleEndian.Uint32(b[9:13])
	r.PendingTickBeforeSleep = binary.LittleEndian.Uint32(b[13:17])
	return nil
}
