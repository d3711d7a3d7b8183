// Package keepawake holds an idle inhibitor while remote viewers are
// watching the screen, so the desktop does not blank or lock under them.
//
// The inhibitor is a child process (systemd-inhibit on Linux). The Manager
// acquires it when the first viewer connects and releases it when the last
// one leaves.
package keepawake

import (
	"context"
	"time"
)

// State is the inhibitor state.
type State string

const (
	// StateOff means no inhibitor is held.
	StateOff State = "off"
	// StateOn means the inhibitor process is running.
	StateOn State = "on"
	// StateDegraded means viewers are connected but no inhibitor could be
	// held. LastError says why.
	StateDegraded State = "degraded"
)

// Status is a snapshot of the manager.
type Status struct {
	State     State     `json:"state"`
	Viewers   int       `json:"viewers"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Handle is an acquired inhibitor.
type Handle interface {
	// Done is closed when the inhibitor exits.
	Done() <-chan struct{}
	// Err returns the exit error after Done closes. Nil after Release.
	Err() error
	// Release stops the inhibitor and waits for it to exit.
	Release(ctx context.Context) error
}

// Adapter acquires inhibitors.
type Adapter interface {
	Acquire(ctx context.Context) (Handle, error)
}
