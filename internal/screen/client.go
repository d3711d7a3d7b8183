package screen

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/desksrv/host/internal/registry"
)

// ConnState is the lifecycle of one viewer connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateStreaming
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxInboundMessage bounds one viewer input message.
	maxInboundMessage = 16 * 1024
)

// frame is one metadata message and the JPEG it describes. Queuing them as
// a unit keeps the metadata immediately ahead of its payload.
type frame struct {
	meta []byte
	jpeg []byte
}

type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	viewer *registry.ViewerSession

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
	state   atomic.Int32

	// dropped counts rate-limited input. Read-pump owned.
	dropped int
	// skipped counts frames lost to a full queue. Loop owned.
	skipped int
}

func newClient(s *Server, conn *websocket.Conn, v *registry.ViewerSession) *client {
	return &client{
		id:      v.ID,
		server:  s,
		conn:    conn,
		viewer:  v,
		send:    make(chan frame, sendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(s.inputRate, s.inputBurst),
	}
}

func (c *client) setState(st ConnState) {
	c.state.Store(int32(st))
}

func (c *client) getState() ConnState {
	return ConnState(c.state.Load())
}

// closeSend signals writePump to shut down exactly once.
func (c *client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue offers f to the writer without blocking. A full queue drops f so
// a slow viewer never stalls the loop.
func (c *client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		c.skipped++
		if c.skipped == 1 || c.skipped%100 == 0 {
			log.Printf("screen: viewer %s send queue full, dropped %d frame(s)", c.id, c.skipped)
		}
		return false
	}
}

// writePump sends queued frames and periodic pings. It owns all writes to
// the connection and closes it on exit.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.meta); err != nil {
				log.Printf("screen: viewer %s write error: %v", c.id, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, f.jpeg); err != nil {
				log.Printf("screen: viewer %s write error: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound input and forwards it to the loop until the
// connection fails.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxInboundMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("screen: viewer %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.dropped++
			if c.dropped == 1 || c.dropped%100 == 0 {
				log.Printf("screen: viewer %s input rate limited, dropped %d event(s)", c.id, c.dropped)
			}
			continue
		}

		ev, err := DecodeInput(data)
		if err != nil {
			log.Printf("screen: viewer %s: dropping message: %v", c.id, err)
			continue
		}

		select {
		case c.server.input <- inputMsg{c: c, ev: ev}:
		case <-c.server.stop:
			return
		case <-c.done:
			return
		}
	}
}
