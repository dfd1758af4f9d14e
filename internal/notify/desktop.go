package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier surfaces terminal run states on the local desktop. Long
// experiments usually run in a background terminal, so this is often the
// only signal the operator sees.
type DesktopNotifier struct {
	enabled bool
}

func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send dispatches the notification via the platform's native mechanism.
// Unsupported platforms are a silent no-op so MultiNotifier never fails
// a run over a missing desktop.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
	if n.ExperimentID != "" {
		script = fmt.Sprintf("display notification %q with title %q subtitle %q",
			n.Message, n.Title, n.ExperimentID)
	}
	if n.Type == NotifyError {
		script += ` sound name "Basso"`
	}
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	urgency := "normal"
	if n.Type == NotifyError {
		urgency = "critical"
	}
	args := []string{"-u", urgency, "-i", IconForType(n.Type), "-a", "ttm-orch", n.Title, n.Message}
	return exec.Command("notify-send", args...).Run()
}

// IconForType maps a notification type to a freedesktop icon name.
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
