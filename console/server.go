// Package console provides a web UI for inspecting live call sessions.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/storage"
)

const sessionsTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>voxgate console</title>
	<style>
		body { font-family: monospace; margin: 2em; }
		table { border-collapse: collapse; }
		th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>Live call sessions</h1>
	<table>
		<tr>
			<th>Address</th><th>Call SID</th><th>Status</th><th>Direction</th>
			<th>From</th><th>To</th><th>Gather</th>
		</tr>
		{{range .}}
		<tr>
			<td>{{.Address}}</td>
			<td>{{.CallID}}</td>
			<td>{{.Status}}</td>
			<td>{{.Direction}}</td>
			<td>{{.From}}</td>
			<td>{{.To}}</td>
			<td>{{if .GatherPending}}waiting for digits{{end}}</td>
		</tr>
		{{else}}
		<tr><td colspan="7">no live sessions</td></tr>
		{{end}}
	</table>
</body>
</html>
`

// Server serves the inspection UI and a JSON snapshot of session state.
type Server struct {
	Addr   string
	store  *storage.Store
	server *http.Server
	tmpl   *template.Template
	log    zerolog.Logger
}

func NewServer(store *storage.Store, addr string, log zerolog.Logger) (*Server, error) {
	if addr == "" {
		addr = ":8089"
	}
	tmpl, err := template.New("sessions").Parse(sessionsTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	s := &Server{Addr: addr, store: store, tmpl: tmpl, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleSessions)
	mux.HandleFunc("GET /api/sessions", s.handleSnapshot)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s, nil
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.Addr).Msg("console listening")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, sessions); err != nil {
		s.log.Error().Err(err).Msg("failed to render sessions")
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.log.Error().Err(err).Msg("failed to encode snapshot")
	}
}
