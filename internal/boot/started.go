package boot

import "sync/atomic"

// StartedFlag records that the scheduler has begun running tasks.
// It moves false→true once and never back. The zero value is ready to use.
type StartedFlag struct {
	v atomic.Bool
}

// MarkStarted sets the flag. A second call returns ErrAlreadyStarted.
func (f *StartedFlag) MarkStarted() error {
	if !f.v.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return nil
}

// IsStarted is safe from any goroutine.
func (f *StartedFlag) IsStarted() bool { return f.v.Load() }
