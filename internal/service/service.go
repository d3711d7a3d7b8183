// Package service assembles the host: the HTTP gateway on the base port P,
// the terminal bridge on P+1 and the screen stream on P+2, sharing one
// session registry, one display and one audit log.
package service

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/desksrv/host/internal/audit"
	"github.com/desksrv/host/internal/auth"
	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/display"
	"github.com/desksrv/host/internal/gateway"
	"github.com/desksrv/host/internal/ipc"
	"github.com/desksrv/host/internal/keepawake"
	"github.com/desksrv/host/internal/notify"
	"github.com/desksrv/host/internal/registry"
	"github.com/desksrv/host/internal/screen"
	"github.com/desksrv/host/internal/storage"
	"github.com/desksrv/host/internal/terminal"
)

// DefaultAuditMaxRows bounds the audit table.
const DefaultAuditMaxRows = 10000

// Options configures a Service. Only Config is required.
type Options struct {
	// Config must have defaults applied.
	Config *config.Config

	// Display overrides opening Config.Display.
	Display display.Display

	// Store overrides opening Config.AuditDB. The caller keeps ownership.
	Store *storage.SQLiteStore

	// Audit overrides the store-backed audit writer.
	Audit audit.Writer

	// Notifier overrides the notify-send notifier.
	Notifier gateway.Notifier

	// Spawn overrides how terminal shells are started.
	Spawn terminal.SpawnFunc

	// KeepAwake overrides the platform inhibitor used when
	// Config.KeepAwake is set.
	KeepAwake keepawake.Adapter

	// GatewayAddr, TerminalAddr and ScreenAddr override the listen
	// addresses derived from Config.BindIP and Config.Port.
	GatewayAddr  string
	TerminalAddr string
	ScreenAddr   string

	AuditMaxRows int
}

// listener is what the service needs from each server.
type listener interface {
	StartAsync() <-chan error
	Stop() error
	Addr() net.Addr
}

// Service runs the three servers together.
type Service struct {
	cfg      *config.Config
	reg      *registry.Registry
	disp     display.Display
	ownsDisp bool
	store    *storage.SQLiteStore
	ownStore bool

	Gateway  *gateway.Server
	Terminal *terminal.Server
	Screen   *screen.Server

	pid     int
	control *ipc.ControlSocketServer
	awake   *keepawake.Manager

	mu        sync.Mutex
	started   []namedListener
	startedAt time.Time
	stopped   bool
}

type namedListener struct {
	name string
	l    listener
}

// New builds every component without binding any port. A display that
// cannot be opened is replaced by one that keeps retrying, so only the
// screen features fail until it comes up.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("service: config is required")
	}

	s := &Service{cfg: cfg, reg: registry.New(), pid: os.Getpid()}

	s.disp = opts.Display
	if s.disp == nil {
		d, err := display.Open(cfg.Display)
		if err != nil {
			log.Printf("service: display unavailable, screen features disabled until it opens: %v", err)
			s.disp = display.NewLazy(cfg.Display, err)
		} else {
			w, h := d.Size()
			log.Printf("service: display %dx%d", w, h)
			s.disp = d
		}
		s.ownsDisp = true
	}

	auditW := opts.Audit
	if auditW == nil {
		s.store = opts.Store
		if s.store == nil && cfg.AuditDB != "" {
			store, err := storage.NewSQLiteStore(cfg.AuditDB)
			if err != nil {
				log.Printf("service: audit store unavailable, logging only: %v", err)
			} else {
				s.store = store
				s.ownStore = true
			}
		}
		maxRows := opts.AuditMaxRows
		if maxRows == 0 {
			maxRows = DefaultAuditMaxRows
		}
		if s.store != nil {
			auditW = NewAuditStoreAdapter(s.store, maxRows)
		} else {
			auditW = logAudit{}
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New("")
	}

	var assets fs.FS
	if cfg.AssetsDir != "" {
		assets = os.DirFS(cfg.AssetsDir)
	}

	host := gateway.AdvertisedHost(cfg.AdvertiseIP, cfg.BindIP)
	gatewayAddr, terminalAddr, screenAddr := ListenAddrs(cfg.BindIP, cfg.Port)
	if opts.GatewayAddr != "" {
		gatewayAddr = opts.GatewayAddr
	}
	if opts.TerminalAddr != "" {
		terminalAddr = opts.TerminalAddr
	}
	if opts.ScreenAddr != "" {
		screenAddr = opts.ScreenAddr
	}

	s.Gateway = gateway.NewServer(gateway.Options{
		Addr:        gatewayAddr,
		Root:        cfg.RootDir,
		Assets:      assets,
		Display:     s.disp,
		Notifier:    notifier,
		PreviewKey:  auth.NewKeyVerifier(cfg.PreviewKeyHash),
		Audit:       auditW,
		TerminalURL: gateway.WebSocketURL(host, cfg.Port+1),
		ScreenURL:   gateway.WebSocketURL(host, cfg.Port+2),
		RTCInterval: time.Duration(cfg.RTCIntervalMs) * time.Millisecond,
		RTCMaxWidth: cfg.RTCMaxWidth,
	})

	s.Terminal = terminal.NewServer(terminal.Options{
		Addr:       terminalAddr,
		Registry:   s.reg,
		Audit:      auditW,
		Shell:      cfg.Shell,
		Dir:        s.Gateway.Root(),
		InputRate:  float64(cfg.InputRate),
		InputBurst: cfg.InputBurst,
		Spawn:      opts.Spawn,
	})

	var onViewers func()
	if cfg.KeepAwake {
		adapter := opts.KeepAwake
		if adapter == nil {
			adapter = keepawake.NewDefaultAdapter()
		}
		s.awake = keepawake.NewManager(adapter, s.reg.ViewerCount)
		onViewers = func() { s.awake.Refresh(context.Background()) }
	}

	s.Screen = screen.NewServer(screen.Options{
		Addr:            screenAddr,
		Display:         s.disp,
		Registry:        s.reg,
		Audit:           auditW,
		CaptureInterval: time.Duration(cfg.CaptureIntervalMs) * time.Millisecond,
		DiffThreshold:   cfg.DiffThreshold,
		JPEGQuality:     cfg.JPEGQuality,
		InputRate:       float64(cfg.InputRate),
		InputBurst:      cfg.InputBurst,

		OnViewersChanged: onViewers,
	})

	if cfg.ControlSocket != "" {
		s.control = ipc.NewControlSocketServer(cfg.ControlSocket, s.ControlHandler(), log.Default())
	}

	return s, nil
}

// ListenAddrs returns the gateway, terminal and screen listen addresses
// for base port p.
func ListenAddrs(bindIP string, p int) (gatewayAddr, terminalAddr, screenAddr string) {
	return net.JoinHostPort(bindIP, strconv.Itoa(p)),
		net.JoinHostPort(bindIP, strconv.Itoa(p+1)),
		net.JoinHostPort(bindIP, strconv.Itoa(p+2))
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Registry returns the shared session registry.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Start binds the gateway, terminal and screen listeners in that order. If
// any bind fails, the listeners already started are stopped and the error
// is returned. The control socket comes up last; failing to create it is
// logged and does not stop the service.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("service: already stopped")
	}
	if len(s.started) > 0 {
		return fmt.Errorf("service: already started")
	}

	for _, nl := range []namedListener{
		{"gateway", s.Gateway},
		{"terminal", s.Terminal},
		{"screen", s.Screen},
	} {
		if err := <-nl.l.StartAsync(); err != nil {
			s.stopStartedLocked()
			return fmt.Errorf("%s: %w", nl.name, err)
		}
		s.started = append(s.started, nl)
	}
	s.startedAt = time.Now()

	if s.control != nil {
		if err := s.control.Start(); err != nil {
			log.Printf("service: control socket unavailable: %v", err)
			s.control = nil
		} else {
			log.Printf("service: control socket %s", s.control.Path())
		}
	}
	return nil
}

// ControlSocket returns the path of the running control socket, or "" when
// there is none.
func (s *Service) ControlSocket() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.control == nil || len(s.started) == 0 {
		return ""
	}
	return s.control.Path()
}

// Stop shuts the servers down in reverse start order, then releases the
// display and the audit store it opened. Safe to call more than once.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	if s.control != nil {
		if err := s.control.Stop(); err != nil {
			log.Printf("service: control socket: %v", err)
		}
	}
	err := s.stopStartedLocked()
	if s.awake != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if cerr := s.awake.Close(ctx); cerr != nil {
			log.Printf("service: keep-awake release: %v", cerr)
		}
		cancel()
	}
	if s.ownsDisp {
		if cerr := s.disp.Close(); cerr != nil {
			log.Printf("service: display close: %v", cerr)
		}
	}
	if s.ownStore {
		if cerr := s.store.Close(); cerr != nil {
			log.Printf("service: audit store close: %v", cerr)
		}
	}
	return err
}

func (s *Service) stopStartedLocked() error {
	var first error
	for i := len(s.started) - 1; i >= 0; i-- {
		nl := s.started[i]
		if err := nl.l.Stop(); err != nil {
			log.Printf("service: stopping %s: %v", nl.name, err)
			if first == nil {
				first = err
			}
		}
	}
	s.started = nil
	return first
}
