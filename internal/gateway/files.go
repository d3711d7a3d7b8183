package gateway

import (
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/desksrv/host/internal/audit"
	apperrors "github.com/desksrv/host/internal/errors"
)

// MaxPreviewSize is the largest file served in preview mode.
const MaxPreviewSize = 10 * 1024 * 1024

const (
	dirIcon  = "&#128193;"
	fileIcon = "&#128196;"

	modTimeLayout = "2006-01-02 15:04:05"
)

var mimeTypes = map[string]string{
	"html": typeHTML,
	"js":   "application/javascript; charset=UTF-8",
	"css":  "text/css; charset=UTF-8",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"ico":  "image/x-icon",
	"txt":  typeText,
	"json": typeJSON,
	"xml":  "text/xml; charset=UTF-8",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"rar":  "application/x-rar-compressed",
}

// mimeType maps a file name to its Content-Type by lowercase extension.
func mimeType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return typeOctet
}

// resolve maps a request path onto the served root. The result must exist
// and lie inside the root after symlinks are resolved.
func (s *Server) resolve(reqPath string) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(reqPath))

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", apperrors.Forbidden(reqPath)
	}
	if !isWithin(resolved, s.root) {
		return "", apperrors.Forbidden(reqPath)
	}
	return resolved, nil
}

func isWithin(candidate, root string) bool {
	if root == string(filepath.Separator) {
		return true
	}
	return candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// serveFile handles every request no other route claimed.
func (s *Server) serveFile(x *exchange) *Response {
	target, err := s.resolve(x.path)
	if err != nil {
		log.Printf("gateway: %s: rejected path %q", x.remote, x.path)
		return s.errorPage(http.StatusForbidden, "invalid path or access denied: "+x.path)
	}

	info, err := os.Stat(target)
	if err != nil {
		return s.errorPage(http.StatusNotFound, "file not found or not readable: "+x.path)
	}
	if info.IsDir() {
		return s.listDir(target, x.path)
	}

	if x.req.Header.Get("X-File-Action") == "preview" {
		return s.preview(x, target, info)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		log.Printf("gateway: read %s: %v", target, err)
		return s.errorPage(http.StatusNotFound, "file not found or not readable: "+x.path)
	}
	return &Response{Status: http.StatusOK, ContentType: mimeType(target), Body: data}
}

// preview serves a small file of a known type as plain text, provided the
// request carries the preview key.
func (s *Server) preview(x *exchange, target string, info os.FileInfo) *Response {
	if !s.previewKey.Verify(x.req.Header.Get("X-Preview-Key")) {
		return s.errorPage(http.StatusForbidden, "preview key missing or wrong")
	}

	var reason string
	switch {
	case info.Size() > MaxPreviewSize:
		reason = fmt.Sprintf("file too large to preview: %s, limit %s",
			formatSize(info.Size()), formatSize(MaxPreviewSize))
	case mimeType(target) == typeOctet:
		reason = "file type cannot be previewed"
	}
	if reason != "" {
		log.Printf("gateway: preview %s: %v", x.path, apperrors.PreviewDenied(reason))
		resp := s.errorPage(http.StatusInternalServerError, reason)
		resp.Reason = "No Support Preview"
		return resp
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return s.errorPage(http.StatusNotFound, "file not found or not readable: "+x.path)
	}

	audit.Record(s.audit, audit.Event{Kind: audit.KindPreview, ConnID: x.id, RemoteAddr: x.remote, Detail: x.path})
	return &Response{
		Status:      http.StatusOK,
		ContentType: typeText,
		Header: http.Header{
			"X-File-Action": {"preview"},
		},
		Body: data,
	}
}

type dirEntry struct {
	name  string
	isDir bool
	info  os.FileInfo
}

// listDir renders dir_list.html for dir, requested as reqPath.
func (s *Server) listDir(dir, reqPath string) *Response {
	des, err := os.ReadDir(dir)
	if err != nil {
		return s.errorPage(http.StatusNotFound, "directory not readable: "+reqPath)
	}

	entries := make([]dirEntry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			continue
		}
		isDir := de.IsDir()
		if de.Type()&os.ModeSymlink != 0 {
			if st, err := os.Stat(filepath.Join(dir, de.Name())); err == nil {
				isDir = st.IsDir()
			}
		}
		entries = append(entries, dirEntry{name: de.Name(), isDir: isDir, info: info})
	}
	sortEntries(entries)

	base := strings.TrimSuffix(reqPath, "/")

	var parent string
	if dir != s.root {
		up := "/"
		if i := strings.LastIndex(base, "/"); i > 0 {
			up = base[:i]
		}
		parent = fmt.Sprintf(`<li class="file-item"><span class="dir-icon">%s</span><a href="%s">../ (parent directory)</a></li>`,
			dirIcon, escapePath(up))
	}

	var list strings.Builder
	for _, e := range entries {
		href := escapePath(base + "/" + e.name)
		name := html.EscapeString(e.name)
		modified := e.info.ModTime().Format(modTimeLayout)

		if e.isDir {
			fmt.Fprintf(&list, `<li class="file-item dir-item"><span class="dir-icon">%s</span><a href="%s">%s</a>`+
				`<span class="file-modify-time">%s</span><span class="file-size">directory</span></li>`+"\n",
				dirIcon, href, name, modified)
			continue
		}

		rel, err := filepath.Rel(s.root, filepath.Join(dir, e.name))
		if err != nil {
			continue
		}
		filePath := html.EscapeString("/" + filepath.ToSlash(rel))
		fmt.Fprintf(&list, `<li class="file-item" data-file-path="%s"><span class="file-icon">%s</span><a href="%s">%s</a>`+
			`<span class="file-modify-time">%s</span><span class="file-size">%d KB</span>`+
			`<button class="download-btn" data-file-path="%s">download</button></li>`+"\n",
			filePath, fileIcon, href, name, modified, e.info.Size()/1024, filePath)
	}

	return s.page(http.StatusOK, "dir_list.html", map[string]string{
		"DIR_PATH":     html.EscapeString(dir),
		"REQUEST_PATH": html.EscapeString(reqPath),
		"PARENT_DIR":   parent,
		"FILE_LIST":    list.String(),
	})
}

// sortEntries orders directories first, then by case-insensitive name.
func sortEntries(entries []dirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return strings.ToLower(entries[i].name) < strings.ToLower(entries[j].name)
	})
}

// escapePath percent-encodes each segment of a slash path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func formatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
	}
}
