package service

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/desksrv/host/internal/keepawake"
)

// StatusResponse is the body of GET /status on the control socket.
type StatusResponse struct {
	PID          int              `json:"pid"`
	StartedAt    time.Time        `json:"started_at"`
	GatewayAddr  string           `json:"gateway_addr"`
	TerminalAddr string           `json:"terminal_addr"`
	ScreenAddr   string           `json:"screen_addr"`
	Root         string           `json:"root"`
	Streams      int              `json:"streams"`
	Viewers      []ViewerStatus   `json:"viewers"`
	Terminals    []TerminalStatus `json:"terminals"`

	// KeepAwake is nil unless keep_awake is enabled.
	KeepAwake *keepawake.Status `json:"keep_awake,omitempty"`
}

// ViewerStatus describes one connected screen viewer.
type ViewerStatus struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// TerminalStatus describes one live terminal session.
type TerminalStatus struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Shell      string    `json:"shell"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}

// Status snapshots the running service.
func (s *Service) Status() StatusResponse {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	resp := StatusResponse{
		PID:          s.pid,
		StartedAt:    startedAt,
		GatewayAddr:  addrString(s.Gateway),
		TerminalAddr: addrString(s.Terminal),
		ScreenAddr:   addrString(s.Screen),
		Root:         s.Gateway.Root(),
		Streams:      s.Gateway.StreamCount(),
		Viewers:      []ViewerStatus{},
		Terminals:    []TerminalStatus{},
	}
	if s.awake != nil {
		st := s.awake.Snapshot()
		resp.KeepAwake = &st
	}
	for _, v := range s.reg.ViewerInfos() {
		resp.Viewers = append(resp.Viewers, ViewerStatus{
			ID:          v.ID,
			RemoteAddr:  v.RemoteAddr,
			ConnectedAt: v.ConnectedAt,
		})
	}
	for _, t := range s.reg.Terminals() {
		resp.Terminals = append(resp.Terminals, TerminalStatus{
			ID:         t.ID,
			RemoteAddr: t.RemoteAddr,
			Shell:      t.Shell,
			PID:        t.PID,
			StartedAt:  t.StartedAt,
		})
	}
	return resp
}

func addrString(l listener) string {
	if a := l.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// ControlHandler serves the local control API:
//
//	GET  /status                 StatusResponse
//	POST /terminals/{id}/close   204, or 404 for an unknown id
func (s *Service) ControlHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})
	mux.HandleFunc("POST /terminals/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !s.reg.CloseTerminal(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such terminal: " + id})
			return
		}
		log.Printf("service: terminal %s closed over control socket", id)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
