package gateway

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net"
	"time"

	"golang.org/x/image/draw"
)

const streamBoundary = "--screenBoundary"

// DefaultRTCInterval and DefaultRTCQuality shape the MJPEG push.
const (
	DefaultRTCInterval = 40 * time.Millisecond
	DefaultRTCQuality  = 80
)

// startStream registers a push timer for connection id. It reports false
// if the connection already has one.
func (s *Server) startStream(id string) (chan struct{}, bool) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if _, ok := s.streams[id]; ok {
		return nil, false
	}
	stop := make(chan struct{})
	s.streams[id] = stop
	return stop, true
}

// cancelStream stops and forgets the push timer for id, if any.
func (s *Server) cancelStream(id string) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if stop, ok := s.streams[id]; ok {
		close(stop)
		delete(s.streams, id)
	}
}

// StreamCount returns the number of live MJPEG streams.
func (s *Server) StreamCount() int {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return len(s.streams)
}

// streamMJPEG takes over the connection and pushes a JPEG part every tick
// until a write fails, the client goes away or the server stops.
func (s *Server) streamMJPEG(x *exchange) {
	stop, ok := s.startStream(x.id)
	if !ok {
		return
	}
	defer s.cancelStream(x.id)

	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: multipart/x-mixed-replace; boundary=" + streamBoundary + "\r\n" +
		"Connection: keep-alive\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Pragma: no-cache\r\n\r\n"
	if _, err := x.conn.Write([]byte(header)); err != nil {
		return
	}

	// The client sends nothing more; a read returning means it left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 512)
		for {
			if _, err := x.conn.Read(buf); err != nil {
				return
			}
		}
	}()

	log.Printf("gateway: %s: MJPEG stream started", x.remote)
	ticker := time.NewTicker(s.rtcInterval)
	defer ticker.Stop()

	var buf bytes.Buffer
	frames := 0
	for {
		select {
		case <-stop:
			log.Printf("gateway: %s: MJPEG stream stopped after %d frames", x.remote, frames)
			return
		case <-gone:
			log.Printf("gateway: %s: MJPEG client left after %d frames", x.remote, frames)
			return
		case <-ticker.C:
		}

		img, err := s.display.CaptureFrame()
		if err != nil {
			log.Printf("gateway: %s: MJPEG capture failed: %v", x.remote, err)
			return
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, s.scaleForStream(img), &jpeg.Options{Quality: DefaultRTCQuality}); err != nil {
			log.Printf("gateway: %s: MJPEG encode failed: %v", x.remote, err)
			return
		}

		if err := writePart(x.conn, buf.Bytes()); err != nil {
			return
		}
		frames++
	}
}

func writePart(conn net.Conn, jpg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	head := fmt.Sprintf("%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(jpg))
	if _, err := conn.Write([]byte(head)); err != nil {
		return err
	}
	if _, err := conn.Write(jpg); err != nil {
		return err
	}
	_, err := conn.Write([]byte("\r\n"))
	return err
}

// scaleForStream shrinks img to the configured maximum width, keeping the
// aspect ratio.
func (s *Server) scaleForStream(img *image.RGBA) image.Image {
	b := img.Bounds()
	if s.rtcMaxWidth <= 0 || b.Dx() <= s.rtcMaxWidth {
		return img
	}
	h := b.Dy() * s.rtcMaxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.rtcMaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
