// Package boot holds the process-wide startup state of the device:
// the one-time application task registration, the published shared
// handles, and the write-once "scheduler started" flag.
//
// All writers run during boot, before the scheduler starts tasks. Every
// reader is lock-free: published values are immutable pointers swapped
// in with a single atomic store, so a reader sees either nothing or a
// fully initialized value.
package boot
