// Package gateway implements the HTTP side of the host on a raw TCP
// listener: static assets, templated pages, a one-shot screenshot, an MJPEG
// push stream, desktop notifications, multipart uploads and a file browser
// rooted at a configured directory.
//
// Each connection carries exactly one request. Bytes are accumulated until
// the request is complete, the matching route builds one response, and the
// connection is closed. The MJPEG route is the exception: it keeps the
// connection and pushes frames until the client leaves.
package gateway

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/desksrv/host/internal/audit"
	apperrors "github.com/desksrv/host/internal/errors"
	"github.com/desksrv/host/www"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 30 * time.Second

	readChunk = 32 * 1024
)

// Capturer grabs the current screen.
type Capturer interface {
	CaptureFrame() (*image.RGBA, error)
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(msg string) error
}

// KeyChecker verifies the X-Preview-Key header.
type KeyChecker interface {
	Verify(key string) bool
}

type denyAll struct{}

func (denyAll) Verify(string) bool { return false }

type logNotifier struct{}

func (logNotifier) Notify(msg string) error {
	log.Printf("gateway: notification: %s", msg)
	return nil
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "0.0.0.0:8080".
	Addr string

	// Root is the directory served by the file browser. It must exist;
	// otherwise "/" is served.
	Root string

	// Assets holds the templates and js/css/img/fonts trees. Nil uses the
	// embedded copy.
	Assets fs.FS

	Display    Capturer
	Notifier   Notifier
	PreviewKey KeyChecker
	Audit      audit.Writer

	// TerminalURL and ScreenURL are substituted for {{WS_HOST}}.
	TerminalURL string
	ScreenURL   string

	RTCInterval time.Duration
	RTCMaxWidth int

	MaxRequestSize int
}

// Server is the raw HTTP gateway.
type Server struct {
	addr        string
	root        string
	assets      fs.FS
	display     Capturer
	notifier    Notifier
	previewKey  KeyChecker
	audit       audit.Writer
	terminalURL string
	screenURL   string
	rtcInterval time.Duration
	rtcMaxWidth int
	maxRequest  int
	table       []route

	ln      net.Listener
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	stopped bool
	wg      sync.WaitGroup

	streamsMu sync.Mutex
	streams   map[string]chan struct{}
}

// NewServer creates a gateway. Call StartAsync to begin accepting.
func NewServer(opts Options) *Server {
	if opts.Assets == nil {
		opts.Assets = www.FS
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	if opts.PreviewKey == nil {
		opts.PreviewKey = denyAll{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard
	}
	if opts.RTCInterval <= 0 {
		opts.RTCInterval = DefaultRTCInterval
	}
	if opts.MaxRequestSize <= 0 {
		opts.MaxRequestSize = DefaultMaxRequestSize
	}

	s := &Server{
		addr:        opts.Addr,
		root:        resolveRoot(opts.Root),
		assets:      opts.Assets,
		display:     opts.Display,
		notifier:    opts.Notifier,
		previewKey:  opts.PreviewKey,
		audit:       opts.Audit,
		terminalURL: opts.TerminalURL,
		screenURL:   opts.ScreenURL,
		rtcInterval: opts.RTCInterval,
		rtcMaxWidth: opts.RTCMaxWidth,
		maxRequest:  opts.MaxRequestSize,
		conns:       make(map[net.Conn]struct{}),
		streams:     make(map[string]chan struct{}),
	}
	s.table = s.routes()
	return s
}

// resolveRoot returns root as a resolved absolute directory, or "/" when
// it is not one.
func resolveRoot(root string) string {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			if resolved, err := filepath.EvalSymlinks(abs); err == nil {
				if info, err := os.Stat(resolved); err == nil && info.IsDir() {
					return resolved
				}
			}
		}
		log.Printf("gateway: root %q is not a directory, serving /", root)
	}
	return "/"
}

// Root returns the directory served by the file browser.
func (s *Server) Root() string { return s.root }

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

	go func() {
		log.Printf("gateway: listening on %s, serving %s", ln.Addr(), s.root)
		errCh <- nil
		close(errCh)
		s.acceptLoop(ln)
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

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("gateway: accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Stop closes the listener, cancels every MJPEG stream and closes open
// connections. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.streamsMu.Lock()
	for id, stop := range s.streams {
		close(stop)
		delete(s.streams, id)
	}
	s.streamsMu.Unlock()

	s.wg.Wait()
	return err
}

// exchange is one request on one connection.
type exchange struct {
	id     string
	conn   net.Conn
	remote string
	req    *http.Request

	// path is the percent-decoded request path.
	path string
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	id := uuid.New().String()
	remote := conn.RemoteAddr().String()

	pending := newPendingRequest()
	buf := make([]byte, readChunk)
	for !pending.Complete() {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			pending.Append(buf[:n])
			if pending.Len() > s.maxRequest {
				log.Printf("gateway: %s: %v", remote, apperrors.TooLarge(int64(s.maxRequest)))
				s.reply(conn, textResponse(http.StatusRequestEntityTooLarge, "request too large"), false)
				return
			}
		}
		if err != nil && !pending.Complete() {
			if pending.Len() > 0 {
				log.Printf("gateway: %s: connection ended mid-request after %d bytes: %v", remote, pending.Len(), err)
			}
			return
		}
	}
	conn.SetReadDeadline(time.Time{})

	req, err := pending.Parse()
	if err != nil {
		if pending.Traversal() {
			log.Printf("gateway: %s: unparseable traversal target: %v", remote, err)
			s.reply(conn, s.errorPage(http.StatusForbidden, "path outside the shared root"), false)
			return
		}
		log.Printf("gateway: %s: %v", remote, apperrors.BadRequest(err.Error()))
		s.reply(conn, textResponse(http.StatusBadRequest, "bad request"), false)
		return
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		s.reply(conn, textResponse(http.StatusNotImplemented, "method not implemented: "+req.Method), false)
		return
	}

	x := &exchange{id: id, conn: conn, remote: remote, req: req, path: req.URL.Path}
	if x.path == "" {
		x.path = "/"
	}

	resp := s.dispatch(x)
	if resp == nil {
		return
	}
	s.reply(conn, resp, req.Method == http.MethodHead)
}

func (s *Server) reply(conn net.Conn, resp *Response, headOnly bool) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := resp.WriteTo(conn, headOnly); err != nil {
		log.Printf("gateway: %s: write failed: %v", conn.RemoteAddr(), err)
	}
}
