// Package mdns advertises the host on the local network.
//
// The gateway port is published as a DNS-SD service of type _desksrv._tcp.
// The terminal and screen WebSocket ports travel in TXT records so a
// browser-side launcher can build every URL from one lookup. Advertising
// is opt-in.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type.
const ServiceType = "_desksrv._tcp"

// ProtocolVersion is published so clients can skip hosts they don't
// understand.
const ProtocolVersion = "1"

// Config holds what gets advertised.
type Config struct {
	// Port is the HTTP gateway port.
	Port int

	// TerminalPort and ScreenPort are the WebSocket ports, normally
	// Port+1 and Port+2.
	TerminalPort int
	ScreenPort   int

	// Name is the instance name. Defaults to the hostname.
	Name string
}

// TXT returns the TXT records for cfg with the resolved instance name.
func (c Config) TXT(name string) []string {
	return []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"terminal=" + strconv.Itoa(c.TerminalPort),
		"screen=" + strconv.Itoa(c.ScreenPort),
	}
}

// Advertiser manages one DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "desksrv"
}

// Start registers the service. Calling it again while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, a.config.TXT(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call more than once or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true while the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is one host found by Discover.
type DiscoveredHost struct {
	Name         string
	Host         string
	Port         int
	TerminalPort int
	ScreenPort   int
	Version      string
}

// parseTXT fills the TXT-derived fields of h.
func parseTXT(h *DiscoveredHost, txt []string) {
	for _, rec := range txt {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			h.Version = value
		case "name":
			h.Name = value
		case "terminal":
			h.TerminalPort, _ = strconv.Atoi(value)
		case "screen":
			h.ScreenPort, _ = strconv.Atoi(value)
		}
	}
}

// Discover browses for hosts until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			parseTXT(&host, entry.Text)

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hosts, nil
}
