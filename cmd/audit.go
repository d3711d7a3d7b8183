package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/storage"
)

// AuditListItem is one row of `desksrv audit --json`.
type AuditListItem struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	ConnID     string `json:"conn_id"`
	RemoteAddr string `json:"remote_addr"`
	Detail     string `json:"detail,omitempty"`
	At         string `json:"at"`
}

// runAudit implements "desksrv audit": list recorded events, newest first.
func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.desksrv/config.toml)")
	dbPath := fs.String("audit-db", "", "Path to the audit database (default: ~/.desksrv/audit.db)")
	limit := fs.Int("limit", 50, "Maximum number of events to show (0 for all)")
	kind := fs.String("kind", "", "Only show events of this kind (e.g. terminal.start)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: desksrv audit [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *limit < 0 {
		fmt.Fprintln(stderr, "Error: --limit must not be negative")
		return 1
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.ApplyDefaults()
		path = cfg.AuditDB
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open audit store: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.ListAudit(storage.AuditFilter{Kind: *kind, Limit: *limit})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	items := make([]AuditListItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, AuditListItem{
			ID:         e.ID,
			Kind:       e.Kind,
			ConnID:     e.ConnID,
			RemoteAddr: e.RemoteAddr,
			Detail:     e.Detail,
			At:         e.At.Format(time.RFC3339),
		})
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(items)
		return 0
	}

	if len(items) == 0 {
		fmt.Fprintln(stdout, "No audit events recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tREMOTE\tCONN\tDETAIL")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.At, it.Kind, it.RemoteAddr, shortID(it.ConnID), it.Detail)
	}
	tw.Flush()
	return 0
}

// shortID trims a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
