// Package systemd reports service state to systemd through sd_notify. Every
// call is a no-op when the process is not run by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "fsubbot/pkg/logx"
)

// Notifier sends sd_notify messages. The zero value uses the real socket.
type Notifier struct {
	// send replaces daemon.SdNotify in tests.
	send func(state string) (bool, error)
	log  logx.Logger
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log}
}

func (n *Notifier) notify(state string) bool {
	send := n.send
	if send == nil {
		send = func(s string) (bool, error) { return daemon.SdNotify(false, s) }
	}
	ok, err := send(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// Ready reports startup completion.
func (n *Notifier) Ready() bool { return n.notify(daemon.SdNotifyReady) }

// Stopping reports the beginning of shutdown.
func (n *Notifier) Stopping() bool { return n.notify(daemon.SdNotifyStopping) }

// Reloading reports a configuration reload in progress; call Ready after.
func (n *Notifier) Reloading() bool { return n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) bool { return n.notify("STATUS=" + s) }

// Watchdog pings the systemd watchdog at half its interval until ctx is
// done. It returns immediately when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	every := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
