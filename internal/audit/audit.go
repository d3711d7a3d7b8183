// Package audit defines the events the servers report about remote access:
// viewers attaching, shells started, files uploaded, notifications shown.
//
// Servers depend only on the Writer interface. The service wires it to the
// SQLite store; tests and minimal setups use Discard.
package audit

import "time"

// Event kinds.
const (
	KindViewerConnect    = "viewer.connect"
	KindViewerDisconnect = "viewer.disconnect"
	KindTerminalStart    = "terminal.start"
	KindTerminalEnd      = "terminal.end"
	KindTerminalRejected = "terminal.rejected"
	KindUpload           = "gateway.upload"
	KindNotify           = "gateway.notify"
	KindPreview          = "gateway.preview"
)

// Event is one audited action.
type Event struct {
	Kind       string
	ConnID     string
	RemoteAddr string
	Detail     string
	At         time.Time
}

// Writer records audit events. Implementations must be safe for concurrent
// use and should not block the caller for long.
type Writer interface {
	WriteAudit(Event) error
}

// Discard drops every event.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteAudit(Event) error { return nil }

// Record stamps e with the current time when unset and writes it to w.
// A nil w is treated as Discard.
func Record(w Writer, e Event) error {
	if w == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return w.WriteAudit(e)
}

// Recorder collects events in memory. It is meant for tests.
type Recorder struct {
	ch chan Event
}

// NewRecorder returns a Recorder buffering up to size events.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// WriteAudit buffers e, dropping it if the buffer is full.
func (r *Recorder) WriteAudit(e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Events returns the channel events are delivered on.
func (r *Recorder) Events() <-chan Event {
	return r.ch
}
