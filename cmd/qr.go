package main

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// DisplayQRCode prints url as a terminal QR code followed by the plain URL.
func DisplayQRCode(w io.Writer, url string) {
	// Medium error correction keeps the code small enough for a terminal.
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Open %s in a browser.\n\n", url)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO OPEN")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// ToSmallString(false) uses half-block characters without a border.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  URL: %s\n", url)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
