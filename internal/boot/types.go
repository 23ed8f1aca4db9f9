package boot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Region is the RF region the protocol stack operates in.
type Region string

const (
	RegionEU   Region = "EU"
	RegionUS   Region = "US"
	RegionANZ  Region = "ANZ"
	RegionHK   Region = "HK"
	RegionIN   Region = "IN"
	RegionIL   Region = "IL"
	RegionRU   Region = "RU"
	RegionCN   Region = "CN"
	RegionJP   Region = "JP"
	RegionKR   Region = "KR"
	RegionUSLR Region = "US_LR"
	RegionEULR Region = "EU_LR"
)

var knownRegions = map[Region]struct{}{
	RegionEU: {}, RegionUS: {}, RegionANZ: {}, RegionHK: {}, RegionIN: {}, RegionIL: {},
	RegionRU: {}, RegionCN: {}, RegionJP: {}, RegionKR: {}, RegionUSLR: {}, RegionEULR: {},
}

// ParseRegion normalizes a region name ("eu", "us-lr", ...).
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if _, ok := knownRegions[r]; !ok {
		return "", fmt.Errorf("%w: unknown region %q", ErrInvalidConfig, s)
	}
	return r, nil
}

// Role is the node's listening behaviour.
type Role string

const (
	RoleAlwaysOn          Role = "always_on"
	RoleListeningSleeping Role = "listening_sleeping"
	RoleReportingSleeping Role = "reporting_sleeping"
)

// Sleeps reports whether nodes of this role enter deep sleep.
func (r Role) Sleeps() bool { return r == RoleListeningSleeping || r == RoleReportingSleeping }

// ProtocolConfig is the application's requested protocol configuration.
// It is a plain value; the registrar keeps its own copy.
type ProtocolConfig struct {
	Region         Region
	Role           Role
	WakeUpInterval time.Duration

	RxQueueDepth     int
	StatusQueueDepth int
}

const (
	defaultRxQueueDepth     = 8
	defaultStatusQueueDepth = 4
)

// Validate checks the config and fills zero queue depths with defaults.
func (c ProtocolConfig) Validate() (ProtocolConfig, error) {
	if _, ok := knownRegions[c.Region]; !ok {
		return c, fmt.Errorf("%w: unknown region %q", ErrInvalidConfig, c.Region)
	}
	switch c.Role {
	case RoleAlwaysOn, RoleListeningSleeping, RoleReportingSleeping:
	default:
		return c, fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}
	if c.WakeUpInterval < 0 {
		return c, fmt.Errorf("%w: wake-up interval must be >= 0", ErrInvalidConfig)
	}
	if c.Role == RoleReportingSleeping && c.WakeUpInterval == 0 {
		return c, fmt.Errorf("%w: reporting_sleeping requires a wake-up interval", ErrInvalidConfig)
	}
	if c.RxQueueDepth < 0 || c.StatusQueueDepth < 0 {
		return c, fmt.Errorf("%w: queue depths must be >= 0", ErrInvalidConfig)
	}
	if c.RxQueueDepth == 0 {
		c.RxQueueDepth = defaultRxQueueDepth
	}
	if c.StatusQueueDepth == 0 {
		c.StatusQueueDepth = defaultStatusQueueDepth
	}
	return c, nil
}

// NotifyBits is the pair of task notification bits the application waits on.
type NotifyBits struct {
	Rx     uint8 // RX queue has data
	Status uint8 // command-status queue has data
}

// Mask returns both bits as a notification word mask.
func (b NotifyBits) Mask() uint32 { return 1<<b.Rx | 1<<b.Status }

// BitPolicy is the scheduler's notification-bit contract.
type BitPolicy interface {
	// NotifyBitWidth is the number of bits in a task notification word.
	NotifyBitWidth() uint8
	// NotifyBitReserved reports whether the scheduler uses bit for itself.
	NotifyBitReserved(bit uint8) bool
}

func (b NotifyBits) validate(p BitPolicy) error {
	if b.Rx == b.Status {
		return fmt.Errorf("%w: rx and status bit are both %d", ErrInvalidNotificationBits, b.Rx)
	}
	width := uint8(32)
	if p != nil {
		width = p.NotifyBitWidth()
	}
	for _, bit := range []uint8{b.Rx, b.Status} {
		if bit >= width {
			return fmt.Errorf("%w: bit %d outside 0..%d", ErrInvalidNotificationBits, bit, width-1)
		}
		if p != nil && p.NotifyBitReserved(bit) {
			return fmt.Errorf("%w: bit %d is reserved by the scheduler", ErrInvalidNotificationBits, bit)
		}
	}
	return nil
}

// TaskEntry is the application's main loop.
type TaskEntry interface {
	Run(ctx context.Context, h *SharedHandles) error
}

// TaskFunc adapts a function to TaskEntry.
type TaskFunc func(ctx context.Context, h *SharedHandles) error

func (f TaskFunc) Run(ctx context.Context, h *SharedHandles) error { return f(ctx, h) }

// TaskHandle is the scheduler-level task object, attached once the task exists.
type TaskHandle interface {
	Name() string
	Notify(bit uint8) error
}
