package gateway

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"log"
	"net/http"
	"strings"

	"github.com/desksrv/host/internal/audit"
)

// Special route paths.
const (
	PathScreen     = "/$$screen"
	PathRTC        = "/$$rtc"
	PathNotify     = "/$$notify/"
	PathTest       = "/$$test"
	PathBash       = "/$$bash"
	PathControl    = "/$$ctrl"
	PathXterm      = "/$$xterm"
	PathScreenCtrl = "/$$scc"
	PathUpload     = "/upload"
)

const screenshotQuality = 85

// route pairs a predicate with its handler. A handler returning nil has
// taken over the connection.
type route struct {
	name   string
	match  func(x *exchange) bool
	handle func(x *exchange) *Response
}

// routes builds the dispatch table. Order matters: first match wins.
func (s *Server) routes() []route {
	prefix := func(p string) func(*exchange) bool {
		return func(x *exchange) bool { return strings.HasPrefix(x.path, p) }
	}
	templ := func(name, wsHost string) func(*exchange) *Response {
		return func(*exchange) *Response {
			var vars map[string]string
			if wsHost != "" {
				vars = map[string]string{"WS_HOST": wsHost}
			}
			return s.page(http.StatusOK, name, vars)
		}
	}

	return []route{
		{"assets", func(x *exchange) bool { return isAssetPath(x.path) }, s.serveAsset},
		{"screen", prefix(PathScreen), s.handleScreenshot},
		{"rtc", prefix(PathRTC), func(x *exchange) *Response {
			if s.display == nil {
				return jsonResponse(http.StatusInternalServerError, "no display configured")
			}
			s.streamMJPEG(x)
			return nil
		}},
		{"notify", prefix(PathNotify), s.handleNotify},
		{"test", prefix(PathTest), templ("test_ws.html", "")},
		{"bash", prefix(PathBash), templ("bash.html", s.terminalURL)},
		{"ctrl", prefix(PathControl), templ("control.html", "")},
		{"xterm", prefix(PathXterm), templ("xterm.html", s.terminalURL)},
		{"scc", prefix(PathScreenCtrl), templ("screen_ctrl.html", s.screenURL)},
		{"upload", func(x *exchange) bool {
			return x.req.Method == http.MethodPost && x.path == PathUpload
		}, s.handleUpload},
		{"file", func(*exchange) bool { return true }, s.serveFile},
	}
}

// dispatch runs the first matching route.
func (s *Server) dispatch(x *exchange) *Response {
	for _, r := range s.table {
		if r.match(x) {
			return r.handle(x)
		}
	}
	return s.errorPage(http.StatusNotFound, "no route for "+x.path)
}

// handleScreenshot embeds one JPEG capture in screen.html.
func (s *Server) handleScreenshot(x *exchange) *Response {
	if s.display == nil {
		return jsonResponse(http.StatusInternalServerError, "no display configured")
	}
	img, err := s.display.CaptureFrame()
	if err != nil {
		log.Printf("gateway: screenshot capture failed: %v", err)
		return jsonResponse(http.StatusInternalServerError, "screen capture failed")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: screenshotQuality}); err != nil {
		log.Printf("gateway: screenshot encode failed: %v", err)
		return jsonResponse(http.StatusInternalServerError, "screen encode failed")
	}

	return s.page(http.StatusOK, "screen.html", map[string]string{
		"BASE64_IMG": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// handleNotify shows the decoded remainder of the path as a desktop
// notification.
func (s *Server) handleNotify(x *exchange) *Response {
	msg := strings.TrimSpace(strings.TrimPrefix(x.path, PathNotify))
	if msg == "" {
		return jsonResponse(http.StatusBadRequest, "Notify message is empty")
	}

	if err := s.notifier.Notify(msg); err != nil {
		log.Printf("gateway: notify failed: %v", err)
		return jsonResponse(http.StatusInternalServerError, "Notify failed: "+err.Error())
	}

	audit.Record(s.audit, audit.Event{Kind: audit.KindNotify, ConnID: x.id, RemoteAddr: x.remote, Detail: msg})
	return jsonResponse(http.StatusOK, "Notify shown: "+msg)
}
