package terminal

import (
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/desksrv/host/internal/pty"
)

const (
	writeWait = 10 * time.Second

	// readBufferSize bounds one output message.
	readBufferSize = 4096

	// maxInboundMessage bounds one input message.
	maxInboundMessage = 64 * 1024
)

// bridge is one connection paired with one shell.
type bridge struct {
	id      string
	conn    *websocket.Conn
	pty     PTY
	limiter *rate.Limiter
	started time.Time

	// writeMu serializes writes from the reader goroutine and the
	// connection handler.
	writeMu sync.Mutex

	readerStarted bool
	readerDone    chan struct{}

	closeOnce sync.Once
	closeErr  error

	dropped int
}

func newBridge(id string, conn *websocket.Conn, p PTY, limiter *rate.Limiter) *bridge {
	return &bridge{
		id:         id,
		conn:       conn,
		pty:        p,
		limiter:    limiter,
		started:    time.Now(),
		readerDone: make(chan struct{}),
	}
}

func (b *bridge) writeText(msg string) error {
	return b.write(websocket.TextMessage, []byte(msg))
}

func (b *bridge) write(mt int, data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(mt, data)
}

func (b *bridge) startReader() {
	b.readerStarted = true
	go b.readLoop()
}

// readLoop relays PTY output until EOF or an error. When the shell goes
// away on its own the connection is closed so serve returns.
func (b *bridge) readLoop() {
	defer close(b.readerDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := b.pty.Read(buf)
		if n > 0 {
			if werr := b.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Printf("terminal: session %s: output write failed: %v", b.id, werr)
				b.conn.Close()
				return
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, pty.ErrWouldBlock):
			// Read already waited one poll interval.
		case errors.Is(err, io.EOF):
			b.hangup()
			return
		default:
			log.Printf("terminal: session %s: read error: %v", b.id, err)
			b.hangup()
			return
		}
	}
}

// hangup sends a close frame and closes the socket, unblocking serve.
func (b *bridge) hangup() {
	b.writeMu.Lock()
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	b.conn.Close()
}

// serve feeds inbound messages to the shell until the client leaves, asks
// to exit, or the connection fails. It returns the reason.
func (b *bridge) serve() string {
	b.conn.SetReadLimit(maxInboundMessage)

	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("terminal: session %s: read error: %v", b.id, err)
			}
			return "disconnected"
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		if strings.ToLower(strings.TrimSpace(string(data))) == "exit" {
			b.writeText(ExitMessage)
			b.pty.Signal(syscall.SIGTERM)
			return "exit requested"
		}

		if !b.limiter.Allow() {
			b.dropped++
			if b.dropped == 1 || b.dropped%100 == 0 {
				log.Printf("terminal: session %s: input rate limited, dropped %d message(s)", b.id, b.dropped)
			}
			continue
		}

		line := make([]byte, 0, len(data)+1)
		line = append(append(line, data...), '\n')
		if _, err := b.pty.Write(line); err != nil {
			log.Printf("terminal: session %s: write failed: %v", b.id, err)
			return "write failed"
		}
	}
}

// Close tears the session down in order: PTY and child, then the reader
// goroutine, then the connection. Safe to call more than once.
func (b *bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.pty.Close()
		if b.readerStarted {
			<-b.readerDone
		}
		b.writeMu.Lock()
		b.conn.SetWriteDeadline(time.Now().Add(time.Second))
		b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		b.conn.Close()
	})
	return b.closeErr
}
