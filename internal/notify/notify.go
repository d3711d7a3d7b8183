// Package notify shows desktop notifications on the host.
//
// Notifications go through notify-send when it is installed. Without it,
// or when it fails, the message is written to the log so it is never lost.
package notify

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommand is the notification helper looked up on PATH.
const DefaultCommand = "notify-send"

// AppName is shown as the notification's sender.
const AppName = "desksrv"

const defaultTimeout = 5 * time.Second

// maxMessageLen bounds what is passed on the command line.
const maxMessageLen = 1024

// Notifier shows notifications with an external command.
type Notifier struct {
	command string
	timeout time.Duration
}

// New creates a Notifier. An empty command uses DefaultCommand.
func New(command string) *Notifier {
	if command == "" {
		command = DefaultCommand
	}
	return &Notifier{command: command, timeout: defaultTimeout}
}

// Available reports whether the command can be found.
func (n *Notifier) Available() bool {
	_, err := exec.LookPath(n.command)
	return err == nil
}

// Notify shows msg. Failures of the helper fall back to the log and are
// not reported as errors.
func (n *Notifier) Notify(msg string) error {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}

	path, err := exec.LookPath(n.command)
	if err != nil {
		log.Printf("notify: %s not available, message: %s", n.command, msg)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	// "--" keeps a message starting with "-" from being read as a flag.
	cmd := exec.CommandContext(ctx, path, "--app-name="+AppName, AppName, "--", msg)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Printf("notify: %s failed: %v (%s), message: %s", n.command, err, strings.TrimSpace(string(out)), msg)
		return nil
	}

	log.Printf("notify: shown: %s", msg)
	return nil
}
