// Package screen implements the screen streaming WebSocket server.
//
// One loop goroutine owns the capture ticker and every viewer's diff and
// input state. On each tick it captures a single shared frame, overlays each
// viewer's virtual cursor, diffs against what that viewer last received and
// queues a metadata message plus a JPEG of the changed region. Reader
// goroutines only decode input and hand it to the loop; per-client writer
// goroutines drain ordered send queues.
package screen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/desksrv/host/internal/audit"
	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/framediff"
	"github.com/desksrv/host/internal/registry"
)

// Defaults for Options.
const (
	DefaultCaptureInterval = 15 * time.Millisecond
	DefaultJPEGQuality     = 85
	DefaultInputRate       = 200
	DefaultInputBurst      = 50

	// sendQueueSize is how many frames may wait for one viewer's socket.
	sendQueueSize = 4
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "0.0.0.0:8082".
	Addr string

	Display  display.Display
	Registry *registry.Registry

	// Audit receives connect/disconnect events. Nil discards them.
	Audit audit.Writer

	CaptureInterval time.Duration
	DiffThreshold   int
	JPEGQuality     int

	// InputRate and InputBurst bound inbound events per connection.
	InputRate  float64
	InputBurst int

	// OnViewersChanged is called after a viewer joins or leaves.
	OnViewersChanged func()
}

// Server streams the screen to viewers and replays their input.
type Server struct {
	addr     string
	disp     display.Display
	reg      *registry.Registry
	audit    audit.Writer
	interval time.Duration
	quality  int
	thresh   int

	inputRate  rate.Limit
	inputBurst int
	onViewers  func()

	upgrader   websocket.Upgrader
	httpServer *http.Server

	lnMu sync.Mutex
	ln   net.Listener

	join  chan *client
	leave chan *client
	input chan inputMsg

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	loopDone  chan struct{}

	// captureFailing suppresses repeated capture error logs. Loop-owned.
	captureFailing bool
}

type inputMsg struct {
	c  *client
	ev InputEvent
}

// NewServer creates a screen server. Call StartAsync or mount Handler.
func NewServer(opts Options) *Server {
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = DefaultCaptureInterval
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.InputRate <= 0 {
		opts.InputRate = DefaultInputRate
	}
	if opts.InputBurst <= 0 {
		opts.InputBurst = DefaultInputBurst
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard
	}

	return &Server{
		addr:       opts.Addr,
		disp:       opts.Display,
		reg:        opts.Registry,
		audit:      opts.Audit,
		interval:   opts.CaptureInterval,
		quality:    opts.JPEGQuality,
		thresh:     opts.DiffThreshold,
		inputRate:  rate.Limit(opts.InputRate),
		inputBurst: opts.InputBurst,
		onViewers:  opts.OnViewersChanged,
		upgrader: websocket.Upgrader{
			// Viewer pages are served from the gateway port, a different
			// origin than this one.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
		},
		join:     make(chan *client),
		leave:    make(chan *client),
		input:    make(chan inputMsg, 64),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Handler returns the WebSocket endpoint and starts the capture loop.
func (s *Server) Handler() http.Handler {
	s.startLoop()
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

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()
	s.httpServer = &http.Server{Handler: s.Handler()}

	go func() {
		log.Printf("screen: listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("screen: server error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the bound listener address, or nil before StartAsync.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes every viewer, stops the capture loop and the listener.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.httpServer != nil {
			err = s.httpServer.Close()
		}
		s.startOnce.Do(func() { close(s.loopDone) })
		<-s.loopDone
	})
	return err
}

// ViewerCount returns the number of connected viewers.
func (s *Server) ViewerCount() int {
	return s.reg.ViewerCount()
}

func (s *Server) startLoop() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("screen: WebSocket upgrade failed: %v", err)
		return
	}

	v := registry.NewViewerSession("", r.RemoteAddr, s.thresh)
	if err := s.reg.InsertViewer(v); err != nil {
		log.Printf("screen: rejecting viewer %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}

	c := newClient(s, conn, v)

	select {
	case s.join <- c:
	case <-s.stop:
		s.reg.RemoveViewer(v.ID)
		conn.Close()
		return
	}

	log.Printf("screen: viewer %s connected from %s (%d total)", v.ID, v.RemoteAddr, s.reg.ViewerCount())
	audit.Record(s.audit, audit.Event{Kind: audit.KindViewerConnect, ConnID: v.ID, RemoteAddr: v.RemoteAddr})
	s.viewersChanged()

	go c.writePump()
	c.readPump()

	c.setState(StateClosing)
	select {
	case s.leave <- c:
	case <-s.stop:
	}
	c.closeSend()
	s.reg.RemoveViewer(v.ID)
	c.setState(StateClosed)

	log.Printf("screen: viewer %s disconnected (%d remaining)", v.ID, s.reg.ViewerCount())
	audit.Record(s.audit, audit.Event{Kind: audit.KindViewerDisconnect, ConnID: v.ID, RemoteAddr: v.RemoteAddr})
	s.viewersChanged()
}

func (s *Server) viewersChanged() {
	if s.onViewers != nil {
		s.onViewers()
	}
}

// run is the loop goroutine. Viewer fields are only touched here.
func (s *Server) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	clients := make(map[string]*client)

	for {
		select {
		case <-s.stop:
			for _, c := range clients {
				c.closeSend()
			}
			return

		case c := <-s.join:
			clients[c.id] = c
			c.setState(StateStreaming)

		case c := <-s.leave:
			delete(clients, c.id)

		case in := <-s.input:
			if _, ok := clients[in.c.id]; ok {
				s.applyInput(in.c.viewer, in.ev)
			}

		case <-ticker.C:
			if len(clients) == 0 {
				continue
			}
			s.captureAndPush(clients)
		}
	}
}

func (s *Server) captureAndPush(clients map[string]*client) {
	shot, err := s.disp.CaptureFrame()
	if err != nil {
		if !s.captureFailing {
			log.Printf("screen: capture failed: %v", err)
			s.captureFailing = true
		}
		return
	}
	if s.captureFailing {
		log.Printf("screen: capture recovered")
		s.captureFailing = false
	}

	for _, c := range clients {
		s.pushFrame(c, shot)
	}
}

// pushFrame diffs the shared frame, with this viewer's cursor drawn in,
// against the viewer's previous frame and queues the changed region.
func (s *Server) pushFrame(c *client, shared *image.RGBA) {
	v := c.viewer

	composed := framediff.Clone(shared)
	b := composed.Bounds()
	DrawCursor(composed, cursorPoint(v, b.Dx(), b.Dy()).Add(b.Min), cursorColor(v.Buttons.Left, v.Buttons.Right))

	full := v.IsFirstFrame || !framediff.Comparable(v.PreviousFrame, composed)
	rect := b
	if !full {
		r, changed := framediff.ComputeDiffRect(v.PreviousFrame, composed, v.DiffThreshold)
		if !changed {
			return
		}
		rect = r
	}

	var region image.Image = composed
	if !full {
		region = framediff.Crop(composed, rect)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, region, &jpeg.Options{Quality: s.quality}); err != nil {
		log.Printf("screen: JPEG encode for viewer %s failed: %v", v.ID, err)
		return
	}

	meta, err := json.Marshal(FrameMeta{
		Type:   TypeFrameMeta,
		Width:  b.Dx(),
		Height: b.Dy(),
		DiffX:  rect.Min.X - b.Min.X,
		DiffY:  rect.Min.Y - b.Min.Y,
		DiffW:  rect.Dx(),
		DiffH:  rect.Dy(),
		IsFull: full,
		Size:   buf.Len(),
	})
	if err != nil {
		log.Printf("screen: failed to marshal frame meta: %v", err)
		return
	}

	if !c.enqueue(frame{meta: meta, jpeg: buf.Bytes()}) {
		// The viewer never saw this region; resend everything next tick.
		v.IsFirstFrame = true
		return
	}
	v.PreviousFrame = composed
	v.IsFirstFrame = false
}

// cursorPoint maps the viewer's pointer into local screen pixels.
func cursorPoint(v *registry.ViewerSession, w, h int) image.Point {
	return image.Pt(rescale(v.MouseX, w, v.RemoteW), rescale(v.MouseY, h, v.RemoteH))
}

func rescale(coord, local, remote int) int {
	if remote <= 0 {
		remote = 1
	}
	return coord * local / remote
}
