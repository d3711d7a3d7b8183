// Package terminal bridges browser terminals to local shells.
//
// Every WebSocket connection gets its own shell on a fresh PTY. Output is
// relayed by one reader goroutine per session as binary messages, in order
// and unbatched; inbound messages are written to the shell as lines.
package terminal

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/desksrv/host/internal/audit"
	apperrors "github.com/desksrv/host/internal/errors"
	"github.com/desksrv/host/internal/pty"
	"github.com/desksrv/host/internal/registry"
)

// Messages sent as text frames.
const (
	WelcomeMessage = "[WebSocket Bash (PTY mode)] connected (exit to quit)"
	ExitMessage    = "shell exited, closing"
)

// Defaults for Options.
const (
	DefaultInputRate  = 200
	DefaultInputBurst = 50
)

// PTY is the part of a pty.Session the bridge uses.
type PTY interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Signal(sig syscall.Signal) error
	Close() error
	Pid() int
}

// SpawnFunc starts command on a new PTY.
type SpawnFunc func(command, dir string) (PTY, error)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "0.0.0.0:8081".
	Addr string

	Registry *registry.Registry

	// Audit receives session start/end events. Nil discards them.
	Audit audit.Writer

	// Shell is the shell to run. Empty discovers one from pty.DefaultShells.
	Shell string

	// Dir is the shells' working directory. Empty inherits ours.
	Dir string

	// InputRate and InputBurst bound inbound messages per connection.
	InputRate  float64
	InputBurst int

	// Spawn overrides how shells are started.
	Spawn SpawnFunc
}

// Server accepts terminal WebSocket connections.
type Server struct {
	addr   string
	reg    *registry.Registry
	audit  audit.Writer
	shell  string
	dir    string
	spawn  SpawnFunc
	limit  rate.Limit
	burst  int
	upgr   websocket.Upgrader
	server *http.Server

	mu      sync.Mutex
	ln      net.Listener
	stopped bool
}

// NewServer creates a terminal server. Call StartAsync or mount Handler.
func NewServer(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard
	}
	if opts.InputRate <= 0 {
		opts.InputRate = DefaultInputRate
	}
	if opts.InputBurst <= 0 {
		opts.InputBurst = DefaultInputBurst
	}
	if opts.Spawn == nil {
		opts.Spawn = spawnShell
	}
	return &Server{
		addr:  opts.Addr,
		reg:   opts.Registry,
		audit: opts.Audit,
		shell: opts.Shell,
		dir:   opts.Dir,
		spawn: opts.Spawn,
		limit: rate.Limit(opts.InputRate),
		burst: opts.InputBurst,
		upgr: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func spawnShell(command, dir string) (PTY, error) {
	return pty.SpawnPtyWithOptions(pty.Options{Command: command, Dir: dir})
}

// Handler returns the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.server = &http.Server{Handler: s.Handler()}

	go func() {
		log.Printf("terminal: listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("terminal: server error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the bound listener address, or nil before StartAsync.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and tears down every live session.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var err error
	if s.server != nil {
		err = s.server.Close()
	}
	s.reg.CloseAllTerminals()
	return err
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// resolveShell returns the configured shell or the first default found.
func (s *Server) resolveShell() (string, error) {
	if s.shell != "" {
		return s.shell, nil
	}
	shell, ok := pty.DiscoverShell()
	if !ok {
		return "", apperrors.ShellNotFound(pty.DefaultShells)
	}
	return shell, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgr.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("terminal: WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.New().String()
	remote := r.RemoteAddr

	if s.isStopped() {
		conn.Close()
		return
	}

	if !s.reg.TerminalCapacity() {
		s.reject(conn, id, remote, "too many terminal sessions, try again later")
		return
	}

	shell, err := s.resolveShell()
	if err != nil {
		log.Printf("terminal: %v", err)
		s.reject(conn, id, remote, "no usable shell found on host")
		return
	}

	p, err := s.spawn(shell, s.dir)
	if err != nil {
		log.Printf("terminal: session %s: %v", id, apperrors.SpawnFailed(shell, err))
		s.reject(conn, id, remote, fmt.Sprintf("failed to start %s: %v", shell, err))
		return
	}

	b := newBridge(id, conn, p, rate.NewLimiter(s.limit, s.burst))
	if err := b.writeText(WelcomeMessage); err != nil {
		log.Printf("terminal: session %s: welcome failed: %v", id, err)
		b.Close()
		return
	}
	b.startReader()

	err = s.reg.InsertTerminal(&registry.TerminalSession{
		ID:         id,
		RemoteAddr: remote,
		Shell:      shell,
		PID:        p.Pid(),
		StartedAt:  b.started,
		Owner:      b,
	})
	if err != nil {
		log.Printf("terminal: session %s: %v", id, err)
		b.writeText(apperrors.GetMessage(err))
		b.Close()
		return
	}

	log.Printf("terminal: session %s started %s (pid %d) for %s", id, shell, p.Pid(), remote)
	audit.Record(s.audit, audit.Event{
		Kind:       audit.KindTerminalStart,
		ConnID:     id,
		RemoteAddr: remote,
		Detail:     shell + " pid=" + strconv.Itoa(p.Pid()),
	})

	reason := b.serve()

	s.reg.RemoveTerminal(id)
	b.Close()

	log.Printf("terminal: session %s ended (%s)", id, reason)
	audit.Record(s.audit, audit.Event{Kind: audit.KindTerminalEnd, ConnID: id, RemoteAddr: remote, Detail: reason})
}

// reject tells the client why no shell was started and closes.
func (s *Server) reject(conn *websocket.Conn, id, remote, msg string) {
	conn.WriteMessage(websocket.TextMessage, []byte(msg))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, ""))
	conn.Close()
	audit.Record(s.audit, audit.Event{Kind: audit.KindTerminalRejected, ConnID: id, RemoteAddr: remote, Detail: msg})
}
