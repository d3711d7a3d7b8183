package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/desksrv/host/internal/config"
	"github.com/desksrv/host/internal/ipc"
	"github.com/desksrv/host/internal/service"
)

const controlTimeout = 3 * time.Second

// controlBaseURL is the placeholder host for requests over the control socket.
const controlBaseURL = "http://desksrv"

// resolveSocket returns the --socket value, or the control socket from config.
func resolveSocket(socketPath, configPath string) (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	cfg.ApplyDefaults()
	if cfg.ControlSocket == "" {
		return "", fmt.Errorf("no control socket configured")
	}
	return cfg.ControlSocket, nil
}

// runStatus implements "desksrv status".
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.desksrv/config.toml)")
	socketPath := fs.String("socket", "", "Control socket of the running host (default: from config)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: desksrv status [options]\n\nShow the running host and its sessions.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path, err := resolveSocket(*socketPath, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client := ipc.NewClient(path, controlTimeout)
	resp, err := client.Get(controlBaseURL + "/status")
	if err != nil {
		fmt.Fprintf(stderr, "desksrv is not running (no control socket at %s)\n", path)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Error: status request failed: %s\n", resp.Status)
		return 1
	}

	var st service.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Fprintf(stderr, "Error: invalid status response: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(st)
		return 0
	}

	printStatus(stdout, st)
	return 0
}

func printStatus(w io.Writer, st service.StatusResponse) {
	fmt.Fprintf(w, "desksrv running (pid %d) since %s\n", st.PID, st.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Gateway:  %s\n", st.GatewayAddr)
	fmt.Fprintf(w, "  Terminal: %s\n", st.TerminalAddr)
	fmt.Fprintf(w, "  Screen:   %s\n", st.ScreenAddr)
	fmt.Fprintf(w, "  Root:     %s\n", st.Root)
	fmt.Fprintf(w, "  Streams:  %d\n", st.Streams)
	if st.KeepAwake != nil {
		fmt.Fprintf(w, "  Awake:    %s", st.KeepAwake.State)
		if st.KeepAwake.LastError != "" {
			fmt.Fprintf(w, " (%s)", st.KeepAwake.LastError)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\nViewers (%d)\n", len(st.Viewers))
	if len(st.Viewers) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tREMOTE\tCONNECTED")
		for _, v := range st.Viewers {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", v.ID, v.RemoteAddr, v.ConnectedAt.Format(time.RFC3339))
		}
		tw.Flush()
	}

	fmt.Fprintf(w, "\nTerminals (%d)\n", len(st.Terminals))
	if len(st.Terminals) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tREMOTE\tSHELL\tPID\tSTARTED")
		for _, t := range st.Terminals {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\n", t.ID, t.RemoteAddr, t.Shell, t.PID, t.StartedAt.Format(time.RFC3339))
		}
		tw.Flush()
	}
}

// runKill implements "desksrv kill <terminal-id>".
func runKill(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.desksrv/config.toml)")
	socketPath := fs.String("socket", "", "Control socket of the running host (default: from config)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: desksrv kill [options] <terminal-id>\n\nEnd a terminal session. Get ids from `desksrv status`.\n\nOptions:\n")
		fs.PrintDefaults()
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
	id := fs.Arg(0)

	path, err := resolveSocket(*socketPath, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client := ipc.NewClient(path, controlTimeout)
	resp, err := client.Post(controlBaseURL+"/terminals/"+url.PathEscape(id)+"/close", "", nil)
	if err != nil {
		fmt.Fprintf(stderr, "desksrv is not running (no control socket at %s)\n", path)
		return 1
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Fprintf(stdout, "Closed terminal %s\n", id)
		return 0
	case http.StatusNotFound:
		fmt.Fprintf(stderr, "Error: no such terminal: %s\n", id)
		return 1
	default:
		fmt.Fprintf(stderr, "Error: kill request failed: %s\n", resp.Status)
		return 1
	}
}
