package gateway

import (
	"html"
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
)

// Asset prefixes served from the asset tree.
var assetPrefixes = []string{"/js/", "/css/", "/img/", "/fonts/"}

// readTemplate loads name from the asset tree and replaces every
// {{KEY}} with vars[KEY].
func (s *Server) readTemplate(name string, vars map[string]string) ([]byte, error) {
	data, err := fs.ReadFile(s.assets, name)
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return data, nil
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(data))), nil
}

// page renders a template as a complete response.
func (s *Server) page(status int, name string, vars map[string]string) *Response {
	body, err := s.readTemplate(name, vars)
	if err != nil {
		log.Printf("gateway: template %s: %v", name, err)
		return textResponse(http.StatusInternalServerError, "template load failed: "+name)
	}
	return htmlResponse(status, body)
}

// errorPage renders 403.html, 404.html or 500.html with msg.
func (s *Server) errorPage(status int, msg string) *Response {
	name := "500.html"
	switch status {
	case http.StatusForbidden:
		name = "403.html"
	case http.StatusNotFound:
		name = "404.html"
	}
	return s.page(status, name, map[string]string{"ERROR_MSG": html.EscapeString(msg)})
}

func isAssetPath(p string) bool {
	for _, prefix := range assetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// serveAsset returns a static asset, substituting the WebSocket endpoint
// into the scripts that connect to one.
func (s *Server) serveAsset(x *exchange) *Response {
	name := strings.TrimPrefix(path.Clean(x.path), "/")
	if !fs.ValidPath(name) || !isAssetPath("/"+name) {
		return textResponse(http.StatusNotFound, "File not found: "+x.path)
	}

	data, err := fs.ReadFile(s.assets, name)
	if err != nil {
		return textResponse(http.StatusNotFound, "File not found: "+x.path)
	}

	switch path.Base(name) {
	case "bash.js", "xtermpage.js":
		data = []byte(strings.ReplaceAll(string(data), "{{WS_HOST}}", s.terminalURL))
	case "screen_ctrl.js":
		data = []byte(strings.ReplaceAll(string(data), "{{WS_HOST}}", s.screenURL))
	}

	return &Response{
		Status:       http.StatusOK,
		ContentType:  mimeType(name),
		CacheControl: cacheAssets,
		Body:         data,
	}
}
