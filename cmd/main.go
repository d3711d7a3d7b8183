package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" -o desksrv ./cmd
var Version = "dev"

const usage = `desksrv - remote desktop host: screen viewer, browser terminal and file browser

Usage:
  desksrv <command> [options]

Commands:
  start                Start the host (HTTP on P, terminal on P+1, screen on P+2)
  doctor               Check display, shell, ports, root directory and audit store
  status               Show the running host and its sessions
  kill <terminal-id>   End a terminal session on the running host
  audit                List recorded remote access events
  hash-key <key>       Print a bcrypt hash for preview_key_hash
  version              Print the version
Run 'desksrv <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "kill":
		return runKill(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "hash-key":
		return runHashKey(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "desksrv %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
