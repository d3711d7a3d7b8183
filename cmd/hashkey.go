package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/desksrv/host/internal/auth"
)

// runHashKey implements "desksrv hash-key <key>".
func runHashKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: desksrv hash-key <key>

Print a bcrypt hash of key. Put it in config.toml as

  preview_key_hash = "<hash>"

and send the key in the X-Preview-Key header to preview files.
`)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	hash, err := auth.HashKey(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash)
	return 0
}
