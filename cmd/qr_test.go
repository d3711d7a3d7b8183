package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestDisplayQRCode(t *testing.T) {
	var buf bytes.Buffer
	DisplayQRCode(&buf, "http://192.168.1.20:8080")

	out := buf.String()
	if !strings.Contains(out, "SCAN TO OPEN") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "URL: http://192.168.1.20:8080") {
		t.Errorf("missing plain-text URL: %q", out)
	}
	// Half-block characters make up the code itself.
	if !strings.ContainsAny(out, "▀▄█") {
		t.Errorf("no QR blocks in output")
	}
}
