// Package server provides the HTTP API and live feeds for tablewatch.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexusgeo/tablewatch/internal/app"
	"github.com/nexusgeo/tablewatch/internal/debounce"
	"github.com/nexusgeo/tablewatch/internal/server/api"
	"github.com/nexusgeo/tablewatch/internal/store"
)

// Pipeline is the part of the running application the server exposes.
// *app.App implements it.
type Pipeline interface {
	Tracks() []debounce.Entry[int]
	Subscribe() (<-chan app.Event, func())
	LatestFrame() []byte
	ReloadZones() error
	IsEnabled() bool
	SetEnabled(enabled bool)
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Pipeline  Pipeline
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers the routes whose dependencies are configured.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		alerts := api.NewAlertHandler(s.config.Store)
		s.mux.Handle("/api/alerts", alerts)
		s.mux.Handle("/api/alerts/", alerts)

		var reload func() error
		if s.config.Pipeline != nil {
			reload = s.config.Pipeline.ReloadZones
		}
		zones := api.NewZoneHandler(s.config.Store, reload)
		s.mux.Handle("/api/zones", zones)
		s.mux.Handle("/api/zones/", zones)
	}

	if s.config.Pipeline != nil {
		s.mux.HandleFunc("/api/tracks", s.handleTracks)
		s.mux.HandleFunc("/api/detection", s.handleDetection)
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Pipeline))
		s.mux.Handle("/api/events", NewEventsHandler(s.config.Pipeline))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

type trackResponse struct {
	TrackID  int    `json:"track_id"`
	Count    uint   `json:"count"`
	LastSeen uint64 `json:"last_seen"`
	Active   bool   `json:"active"`
}

// handleTracks handles GET /api/tracks with the debounce state per guest.
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.config.Pipeline.Tracks()
	tracks := make([]trackResponse, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, trackResponse{
			TrackID:  e.ID,
			Count:    e.Count,
			LastSeen: e.LastSeen,
			Active:   e.Active,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

type detectionState struct {
	Enabled bool `json:"enabled"`
}

// handleDetection reads (GET) or switches (PUT) detection.
func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req detectionState
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
			return
		}
		s.config.Pipeline.SetEnabled(req.Enabled)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, detectionState{Enabled: s.config.Pipeline.IsEnabled()})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// HTTPServer returns an *http.Server for addr so callers can shut it down.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
