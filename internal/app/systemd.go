package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "pewsched/pkg/logx"
)

// sdNotifier reports service state to systemd. Outside a unit NOTIFY_SOCKET
// is unset and every call is a no-op.
func sdNotifier(log logx.Logger) func(state string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Debug("sd_notify sent", logx.String("state", state))
		}
	}
}
