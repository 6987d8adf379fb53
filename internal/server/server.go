package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reverie-rp/reverie/internal/health"
	"github.com/reverie-rp/reverie/internal/round"
	"github.com/reverie-rp/reverie/internal/state"
)

// adminHeader carries the master password on the HTTP export/import surface.
const adminHeader = "X-Admin-Password"

// maxImportBytes bounds an uploaded configuration file.
const maxImportBytes = 1 << 20

// Server wires the hub, the HTTP endpoints, and the health handler into one
// http.Handler.
type Server struct {
	hub           *Hub
	coord         *round.Coordinator
	health        *health.Handler
	adminPassword string
	log           *slog.Logger
}

// New assembles the server. An empty adminPassword disables the master
// surface: no websocket connection can authenticate and export/import answer
// 403.
func New(hub *Hub, coord *round.Coordinator, healthHandler *health.Handler, adminPassword string, log *slog.Logger) *Server {
	return &Server{
		hub:           hub,
		coord:         coord,
		health:        healthHandler,
		adminPassword: adminPassword,
		log:           log,
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("POST /import", s.handleImport)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return mux
}

// handleWS upgrades the connection and runs it until it drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn, hub: s.hub, log: s.log}
	defer c.close()

	if err := c.handshake(r.Context(), s.adminPassword); err != nil {
		s.log.Warn("handshake failed", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	s.hub.add(c)
	defer s.hub.remove(c)

	s.log.Info("client connected", "role", c.role, "admin", c.admin)
	c.loop(r.Context())
	s.log.Info("client disconnected", "role", c.role)
}

// handleExport serves the shareable configuration subset as a download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "admin password required", http.StatusForbidden)
		return
	}

	cfg := s.coord.Export()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(cfg.Title)))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		s.log.Error("export encode failed", "error", err)
	}
}

// exportFilename derives a download name from the session title, keeping only
// characters that are safe in a Content-Disposition filename.
func exportFilename(title string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, title)
	if strings.Trim(safe, "_") == "" {
		safe = "session"
	}
	return safe + "_" + time.Now().Format("20060102_1504") + ".json"
}

// handleImport applies an uploaded configuration. Only allow-listed fields
// ever change; files without the export marker are rejected.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "admin password required", http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	// Accept both a browser form upload and a raw JSON body.
	body := io.Reader(r.Body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	var cfg state.ExportConfig
	if err := json.NewDecoder(body).Decode(&cfg); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coord.Import(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorized(r *http.Request) bool {
	return s.adminPassword != "" && r.Header.Get(adminHeader) == s.adminPassword
}
