// Package registry holds the in-memory table of connected clients: screen
// viewers and terminal sessions. Servers receive a *Registry at construction
// instead of reaching for process-wide state.
package registry

import (
	"image"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/desksrv/host/internal/errors"
)

// DefaultMaxTerminals is the default maximum number of concurrent terminal
// sessions. Each one holds a PTY pair and a child process.
const DefaultMaxTerminals = 20

// DefaultDiffThreshold is the per-pixel change threshold given to a new viewer.
const DefaultDiffThreshold = 10

// ButtonState tracks which mouse buttons the remote viewer holds down.
type ButtonState struct {
	Left   bool
	Right  bool
	Middle bool
}

// ModifierState tracks which modifier keys the remote viewer holds down.
type ModifierState struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool
}

// ViewerSession is one remote client subscribed to screen updates.
//
// Apart from ID, RemoteAddr and ConnectedAt, fields are owned by the screen
// server's loop goroutine and must only be read or written there.
type ViewerSession struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	// MouseX/MouseY are the last pointer coordinates in the viewer's own
	// coordinate space (not rescaled).
	MouseX int
	MouseY int

	// RemoteW/RemoteH are the viewer's reported screen size. They start at
	// 1 so rescaling never divides by zero.
	RemoteW int
	RemoteH int

	Buttons   ButtonState
	Modifiers ModifierState

	// PreviousFrame is the last frame pushed to this viewer. It is nil
	// before the first frame and is replaced wholesale on every push.
	PreviousFrame *image.RGBA

	DiffThreshold int
	IsFirstFrame  bool
}

// NewViewerSession returns a viewer in its initial state. An empty id is
// replaced by a fresh UUID; a non-positive threshold uses DefaultDiffThreshold.
func NewViewerSession(id, remoteAddr string, threshold int) *ViewerSession {
	if id == "" {
		id = uuid.New().String()
	}
	if threshold <= 0 {
		threshold = DefaultDiffThreshold
	}
	return &ViewerSession{
		ID:            id,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   time.Now(),
		RemoteW:       1,
		RemoteH:       1,
		DiffThreshold: threshold,
		IsFirstFrame:  true,
	}
}

// Closer tears down whatever a terminal session owns (PTY, child, reader).
type Closer interface {
	Close() error
}

// TerminalSession is one remote client bridged to a local shell.
type TerminalSession struct {
	ID         string
	RemoteAddr string
	Shell      string
	PID        int
	StartedAt  time.Time

	// Owner performs the ordered teardown. CloseAllTerminals calls it.
	Owner Closer
}

// TerminalInfo is a read-only snapshot of a terminal session for reporting.
type TerminalInfo struct {
	ID         string
	RemoteAddr string
	Shell      string
	PID        int
	StartedAt  time.Time
}

// ViewerInfo is a read-only snapshot of a viewer session for reporting.
type ViewerInfo struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Registry is the shared session table.
//
// Each map has its own lock so a slow terminal teardown never blocks the
// capture loop's viewer lookups.
type Registry struct {
	viewersMu sync.RWMutex
	viewers   map[string]*ViewerSession

	terminalsMu  sync.RWMutex
	terminals    map[string]*TerminalSession
	maxTerminals int
}

// New creates an empty registry with the default terminal limit.
func New() *Registry {
	return NewWithLimit(DefaultMaxTerminals)
}

// NewWithLimit creates a registry with a custom terminal limit.
// If maxTerminals is 0 or negative, DefaultMaxTerminals is used.
func NewWithLimit(maxTerminals int) *Registry {
	if maxTerminals <= 0 {
		maxTerminals = DefaultMaxTerminals
	}
	return &Registry{
		viewers:      make(map[string]*ViewerSession),
		terminals:    make(map[string]*TerminalSession),
		maxTerminals: maxTerminals,
	}
}

// InsertViewer adds a viewer. Returns a registry.duplicate error if the ID
// is already present.
func (r *Registry) InsertViewer(v *ViewerSession) error {
	r.viewersMu.Lock()
	defer r.viewersMu.Unlock()

	if _, exists := r.viewers[v.ID]; exists {
		return apperrors.New(apperrors.CodeRegistryDuplicate, "viewer "+v.ID+" already registered")
	}
	r.viewers[v.ID] = v
	return nil
}

// RemoveViewer deletes a viewer and returns it. Removing an unknown ID
// returns (nil, false).
func (r *Registry) RemoveViewer(id string) (*ViewerSession, bool) {
	r.viewersMu.Lock()
	defer r.viewersMu.Unlock()

	v, ok := r.viewers[id]
	if ok {
		delete(r.viewers, id)
	}
	return v, ok
}

// Viewer looks up a viewer by ID.
func (r *Registry) Viewer(id string) (*ViewerSession, bool) {
	r.viewersMu.RLock()
	defer r.viewersMu.RUnlock()
	v, ok := r.viewers[id]
	return v, ok
}

// Viewers returns the current viewers ordered by connection time.
// The slice is a snapshot; the sessions themselves are shared.
func (r *Registry) Viewers() []*ViewerSession {
	r.viewersMu.RLock()
	out := make([]*ViewerSession, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	r.viewersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// ViewerInfos returns reporting snapshots of all viewers.
func (r *Registry) ViewerInfos() []ViewerInfo {
	viewers := r.Viewers()
	out := make([]ViewerInfo, len(viewers))
	for i, v := range viewers {
		out[i] = ViewerInfo{ID: v.ID, RemoteAddr: v.RemoteAddr, ConnectedAt: v.ConnectedAt}
	}
	return out
}

// ViewerCount returns the number of connected viewers.
func (r *Registry) ViewerCount() int {
	r.viewersMu.RLock()
	defer r.viewersMu.RUnlock()
	return len(r.viewers)
}

// InsertTerminal adds a terminal session. It fails with registry.duplicate
// for a known ID and with session.spawn_failed when the limit is reached,
// so callers can refuse the connection before spawning anything.
func (r *Registry) InsertTerminal(s *TerminalSession) error {
	r.terminalsMu.Lock()
	defer r.terminalsMu.Unlock()

	if _, exists := r.terminals[s.ID]; exists {
		return apperrors.New(apperrors.CodeRegistryDuplicate, "terminal "+s.ID+" already registered")
	}
	if len(r.terminals) >= r.maxTerminals {
		return apperrors.New(apperrors.CodeSessionSpawnFailed, "maximum number of terminal sessions reached")
	}
	r.terminals[s.ID] = s
	return nil
}

// TerminalCapacity reports whether another terminal session would fit.
func (r *Registry) TerminalCapacity() bool {
	r.terminalsMu.RLock()
	defer r.terminalsMu.RUnlock()
	return len(r.terminals) < r.maxTerminals
}

// RemoveTerminal deletes a terminal session and returns it.
func (r *Registry) RemoveTerminal(id string) (*TerminalSession, bool) {
	r.terminalsMu.Lock()
	defer r.terminalsMu.Unlock()

	s, ok := r.terminals[id]
	if ok {
		delete(r.terminals, id)
	}
	return s, ok
}

// CloseTerminal removes one terminal session and tears it down. It
// reports false if no session has that ID.
func (r *Registry) CloseTerminal(id string) bool {
	s, ok := r.RemoveTerminal(id)
	if !ok {
		return false
	}
	if s.Owner != nil {
		_ = s.Owner.Close()
	}
	return true
}

// Terminal looks up a terminal session by ID.
func (r *Registry) Terminal(id string) (*TerminalSession, bool) {
	r.terminalsMu.RLock()
	defer r.terminalsMu.RUnlock()
	s, ok := r.terminals[id]
	return s, ok
}

// Terminals returns reporting snapshots ordered by start time.
func (r *Registry) Terminals() []TerminalInfo {
	r.terminalsMu.RLock()
	out := make([]TerminalInfo, 0, len(r.terminals))
	for _, s := range r.terminals {
		out = append(out, TerminalInfo{
			ID:         s.ID,
			RemoteAddr: s.RemoteAddr,
			Shell:      s.Shell,
			PID:        s.PID,
			StartedAt:  s.StartedAt,
		})
	}
	r.terminalsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// TerminalCount returns the number of live terminal sessions.
func (r *Registry) TerminalCount() int {
	r.terminalsMu.RLock()
	defer r.terminalsMu.RUnlock()
	return len(r.terminals)
}

// CloseAllTerminals empties the terminal table and tears every session
// down concurrently, returning once all of them have finished.
func (r *Registry) CloseAllTerminals() {
	r.terminalsMu.Lock()
	sessions := r.terminals
	r.terminals = make(map[string]*TerminalSession)
	r.terminalsMu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		if s.Owner == nil {
			continue
		}
		wg.Add(1)
		go func(s *TerminalSession) {
			defer wg.Done()
			_ = s.Owner.Close()
		}(s)
	}
	wg.Wait()
}
