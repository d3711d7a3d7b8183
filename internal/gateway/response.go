package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const (
	cacheNoCache = "no-cache"
	cacheAssets  = "max-age=86400"

	typeHTML  = "text/html; charset=UTF-8"
	typeText  = "text/plain; charset=UTF-8"
	typeJSON  = "application/json; charset=UTF-8"
	typeOctet = "application/octet-stream"
)

// Response is one complete reply. Every reply carries an exact
// Content-Length and closes the connection.
type Response struct {
	Status int

	// Reason overrides the standard reason phrase.
	Reason string

	ContentType  string
	CacheControl string

	// Header holds extra headers, written in sorted order.
	Header http.Header

	Body []byte
}

// WriteTo serializes the response. When headOnly is set the body is
// omitted but Content-Length still describes it.
func (r *Response) WriteTo(w io.Writer, headOnly bool) error {
	reason := r.Reason
	if reason == "" {
		reason = http.StatusText(r.Status)
	}
	cache := r.CacheControl
	if cache == "" {
		cache = cacheNoCache
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, reason)
	fmt.Fprintf(&b, "Content-Type: %s\r\n", r.ContentType)
	b.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Cache-Control: " + cache + "\r\n")
	if r.Header != nil {
		r.Header.Write(&b)
	}
	b.WriteString("\r\n")
	if !headOnly {
		b.Write(r.Body)
	}

	_, err := w.Write(b.Bytes())
	return err
}

func textResponse(status int, msg string) *Response {
	return &Response{Status: status, ContentType: typeText, Body: []byte(msg)}
}

func htmlResponse(status int, body []byte) *Response {
	return &Response{Status: status, ContentType: typeHTML, Body: body}
}

// result is the JSON body of upload and notify replies.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// jsonResponse reports success exactly when status is 200.
func jsonResponse(status int, msg string) *Response {
	body, _ := json.Marshal(result{Success: status == http.StatusOK, Message: msg})
	return &Response{Status: status, ContentType: typeJSON, Body: body}
}
