package gateway

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxRequestSize caps one buffered request, uploads included.
const DefaultMaxRequestSize = 200 * 1024 * 1024

var (
	headerEnd      = []byte("\r\n\r\n")
	chunkedEnd     = []byte("0\r\n\r\n")
	contentLength  = regexp.MustCompile(`(?i)\r\nContent-Length:[ \t]*(\d+)`)
	transferChunk  = regexp.MustCompile(`(?i)\r\nTransfer-Encoding:[ \t]*[^\r\n]*chunked`)
	uploadBoundary = regexp.MustCompile(`(?i)\r\nContent-Type:[ \t]*multipart/form-data;[ \t]*boundary=("?)([^\r\n;"]+)`)
)

// pendingRequest accumulates the bytes of one request until it is complete.
// It is owned by the connection goroutine.
type pendingRequest struct {
	buf []byte

	// headerLen is the offset of the body, or -1 until the blank line
	// ending the headers has been seen.
	headerLen int
	upload    bool
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{headerLen: -1}
}

// Append adds data read from the socket.
func (p *pendingRequest) Append(data []byte) {
	p.buf = append(p.buf, data...)
	if p.headerLen < 0 {
		if i := bytes.Index(p.buf, headerEnd); i >= 0 {
			p.headerLen = i + len(headerEnd)
			p.upload = isUploadLine(p.buf[:i])
		}
	}
}

// Len returns the number of bytes buffered.
func (p *pendingRequest) Len() int { return len(p.buf) }

// Complete reports whether the buffered bytes form a whole request.
//
// Uploads are complete once the Content-Length is satisfied. Without a
// length, a chunked body is complete at its zero-size chunk and any other
// body at the closing multipart boundary. Other requests are complete at
// the end of their headers.
func (p *pendingRequest) Complete() bool {
	if p.headerLen < 0 {
		return false
	}
	if !p.upload {
		return true
	}

	head := p.buf[:p.headerLen]
	body := p.buf[p.headerLen:]

	if m := contentLength.FindSubmatch(head); m != nil {
		n, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil {
			return true // let the parser reject it
		}
		return int64(len(body)) >= n
	}
	if transferChunk.Match(head) {
		return bytes.HasSuffix(body, chunkedEnd)
	}
	if m := uploadBoundary.FindSubmatch(head); m != nil {
		// A binary part containing the terminator completes early.
		return bytes.Contains(body, []byte("--"+string(m[2])+"--"))
	}
	return true
}

// Parse decodes the buffered request. The returned request's body reads
// from the buffer, so Parse must only be called once Complete is true.
func (p *pendingRequest) Parse() (*http.Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(p.buf)))
	if err != nil {
		return nil, err
	}
	// A body delimited only by its closing boundary has no framing the
	// parser understands; hand it the raw bytes instead.
	if req.ContentLength == 0 && len(req.TransferEncoding) == 0 && p.headerLen < len(p.buf) {
		req.Body = io.NopCloser(bytes.NewReader(p.buf[p.headerLen:]))
		req.ContentLength = int64(len(p.buf) - p.headerLen)
	}
	return req, nil
}

// requestLine splits the first line of head into method and target.
func requestLine(head []byte) (method, target string, ok bool) {
	line := head
	if i := bytes.Index(head, []byte("\r\n")); i >= 0 {
		line = head[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// isUploadLine reports whether the request line is POST /upload.
func isUploadLine(head []byte) bool {
	method, target, ok := requestLine(head)
	if !ok || method != http.MethodPost {
		return false
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	return target == "/upload"
}

// Traversal reports whether the request-line target names a parent
// directory, with the dots and slashes literal or percent-encoded.
func (p *pendingRequest) Traversal() bool {
	if p.headerLen < 0 {
		return false
	}
	_, target, ok := requestLine(p.buf[:p.headerLen])
	if !ok {
		return false
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if u, err := url.PathUnescape(target); err == nil {
		target = u
	}
	return strings.Contains(target, "..")
}
