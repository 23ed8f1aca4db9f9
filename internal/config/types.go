package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"zwboot/internal/boot"
	"zwboot/internal/retention"
	logx "zwboot/pkg/logx"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "15m"). Fields omitted
// from the file keep the values from Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Clock     ClockConfig     `json:"clock"`
	Scheduler SchedulerConfig `json:"scheduler"`
	App       AppConfig       `json:"app"`
	Protocol  ProtocolConfig  `json:"protocol"`
	Retention RetentionConfig `json:"retention"`
	Sleep     SleepConfig     `json:"sleep"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Uplink  LoggingUplink `json:"uplink"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingUplink forwards WARN+ lines to the diagnostic uplink.
// Path is the link endpoint (tty, FIFO or file); lines are appended to it.
type LoggingUplink struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ClockConfig describes the low-frequency tick counter.
type ClockConfig struct {
	TickHz    uint32 `json:"tick_hz,omitempty"`    // default 32768
	StartTick uint32 `json:"start_tick,omitempty"` // counter value at process start
}

// SchedulerConfig is the notification-bit contract of the task scheduler.
type SchedulerConfig struct {
	NotifyBitWidth int   `json:"notify_bit_width,omitempty"` // 1..32
	ReservedBits   []int `json:"reserved_bits,omitempty"`
}

// AppConfig configures the application task registered at boot.
type AppConfig struct {
	TaskName  string `json:"task_name,omitempty"`
	RxBit     int    `json:"rx_bit"`
	StatusBit int    `json:"status_bit"`
}

type ProtocolConfig struct {
	Region           string `json:"region"`
	Role             string `json:"role"`
	WakeUpInterval   string `json:"wake_up_interval,omitempty"`
	RxQueueDepth     int    `json:"rx_queue_depth,omitempty"`
	StatusQueueDepth int    `json:"status_queue_depth,omitempty"`
}

// RetentionConfig selects where the sleep-cycle record survives restarts.
//
// Example:
//
//	"retention": { "driver": "file", "path": "./zwboot.ret" }
type RetentionConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SleepConfig drives simulated deep-sleep cycles.
type SleepConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec ("@every 30s", "*/5 * * * *").
	Schedule string `json:"schedule,omitempty"`
	// RtccTimeout is how long the RTCC timer keeps the device asleep.
	RtccTimeout string `json:"rtcc_timeout,omitempty"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{NotifyBitWidth: 32},
		App:       AppConfig{TaskName: "app", RxBit: 0, StatusBit: 1},
		Protocol:  ProtocolConfig{Region: string(boot.RegionEU), Role: string(boot.RoleAlwaysOn)},
		Retention: RetentionConfig{Driver: "memory"},
		Sleep:     SleepConfig{Schedule: "@every 30s", RtccTimeout: "5s"},
	}
}

// Validate checks every section. Notification bits are only range-checked
// here; the registrar owns the scheduler-specific rules.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	if c.Logging.Uplink.MinLevel != "" && !logx.ValidLevel(c.Logging.Uplink.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.uplink.min_level: unknown level %q", c.Logging.Uplink.MinLevel))
	}
	if c.Logging.Uplink.Enabled && strings.TrimSpace(c.Logging.Uplink.Path) == "" {
		errs = append(errs, errors.New("logging.uplink.path: required when uplink logging is enabled"))
	}
	if c.Logging.Uplink.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.uplink.rate_per_sec: must be >= 0"))
	}

	if w := c.Scheduler.NotifyBitWidth; w < 0 || w > 32 {
		errs = append(errs, fmt.Errorf("scheduler.notify_bit_width: %d outside 1..32", w))
	}
	for _, b := range c.Scheduler.ReservedBits {
		if b < 0 || b > 31 {
			errs = append(errs, fmt.Errorf("scheduler.reserved_bits: %d outside 0..31", b))
		}
	}
	for name, b := range map[string]int{"app.rx_bit": c.App.RxBit, "app.status_bit": c.App.StatusBit} {
		if b < 0 || b > 255 {
			errs = append(errs, fmt.Errorf("%s: %d is not a bit number", name, b))
		}
	}

	if _, err := c.Protocol.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Retention.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("sleep.rtcc_timeout", c.Sleep.RtccTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Sleep.Enabled && strings.TrimSpace(c.Sleep.Schedule) == "" {
		errs = append(errs, errors.New("sleep.schedule: required when sleep is enabled"))
	}
	return errors.Join(errs...)
}

// Resolve converts the section to the registrar's protocol config.
func (p ProtocolConfig) Resolve() (boot.ProtocolConfig, error) {
	region, err := boot.ParseRegion(p.Region)
	if err != nil {
		return boot.ProtocolConfig{}, fmt.Errorf("protocol.region: %w", err)
	}
	interval, err := ParseDurationField("protocol.wake_up_interval", p.WakeUpInterval)
	if err != nil {
		return boot.ProtocolConfig{}, err
	}
	out, err := boot.ProtocolConfig{
		Region:           region,
		Role:             boot.Role(strings.ToLower(strings.TrimSpace(p.Role))),
		WakeUpInterval:   interval,
		RxQueueDepth:     p.RxQueueDepth,
		StatusQueueDepth: p.StatusQueueDepth,
	}.Validate()
	if err != nil {
		return boot.ProtocolConfig{}, fmt.Errorf("protocol: %w", err)
	}
	return out, nil
}

// Resolve converts the section to the retention store config.
func (r RetentionConfig) Resolve() (retention.Config, error) {
	switch strings.ToLower(strings.TrimSpace(r.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(r.Path) == "" {
			return retention.Config{}, fmt.Errorf("retention.path: required for driver %q", r.Driver)
		}
	default:
		return retention.Config{}, fmt.Errorf("retention.driver: unknown driver %q", r.Driver)
	}
	busy, err := ParseDurationField("retention.busy_timeout", r.BusyTimeout)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{Driver: r.Driver, Path: r.Path, BusyTimeout: busy}, nil
}

// BitWidth returns the notify bit width with the default applied.
func (s SchedulerConfig) BitWidth() uint8 {
	if s.NotifyBitWidth <= 0 || s.NotifyBitWidth > 32 {
		return 32
	}
	return uint8(s.NotifyBitWidth)
}

// Reserved returns the reserved bits that fit a notification word.
func (s SchedulerConfig) Reserved() []uint8 {
	out := make([]uint8, 0, len(s.ReservedBits))
	for _, b := range s.ReservedBits {
		if b >= 0 && b < 32 {
			out = append(out, uint8(b))
		}
	}
	return out
}

// RtccTimeoutOrDefault returns the sleep length, defaulting to 5s.
func (s SleepConfig) RtccTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("sleep.rtcc_timeout", s.RtccTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// LogxConfig maps the logging section onto the logging service config.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Uplink: logx.UplinkConfig{
			Enabled:    l.Uplink.Enabled,
			MinLevel:   l.Uplink.MinLevel,
			RatePerSec: l.Uplink.RatePerSec,
		},
	}
}
