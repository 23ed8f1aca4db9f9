package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "zwboot/pkg/logx"
)

// Notifier sends a service state to the supervisor process manager.
// sent is false when no manager is listening.
type Notifier func(state string) (sent bool, err error)

func systemdNotifier(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

func notifyState(n Notifier, state string, log logx.Logger) {
	if n == nil {
		return
	}
	sent, err := n(state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

const (
	stateReady    = daemon.SdNotifyReady
	stateStopping = daemon.SdNotifyStopping
)
