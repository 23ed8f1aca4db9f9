package config

import (
	"reflect"

	logx "zwboot/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections (in file
// order) and compact log attrs describing the new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.uplink", newCfg.Logging.Uplink.Enabled),
		)
	}
	if oldCfg.Clock != newCfg.Clock {
		changed = append(changed, "clock")
		attrs = append(attrs, logx.Uint32("clock.tick_hz", newCfg.Clock.TickHz))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Int("scheduler.notify_bit_width", newCfg.Scheduler.NotifyBitWidth))
	}
	if oldCfg.App != newCfg.App {
		changed = append(changed, "app")
		attrs = append(attrs, logx.Int("app.rx_bit", newCfg.App.RxBit), logx.Int("app.status_bit", newCfg.App.StatusBit))
	}
	if oldCfg.Protocol != newCfg.Protocol {
		changed = append(changed, "protocol")
		attrs = append(attrs, logx.String("protocol.region", newCfg.Protocol.Region), logx.String("protocol.role", newCfg.Protocol.Role))
	}
	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
		attrs = append(attrs, logx.String("retention.driver", newCfg.Retention.Driver))
	}
	if oldCfg.Sleep != newCfg.Sleep {
		changed = append(changed, "sleep")
		attrs = append(attrs, logx.Bool("sleep.enabled", newCfg.Sleep.Enabled), logx.String("sleep.schedule", newCfg.Sleep.Schedule))
	}
	return changed, attrs
}

// RestartRequired filters changed down to sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
