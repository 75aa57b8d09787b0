package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nexusgeo/tablewatch/internal/store"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 1000

// AlertHandler serves the alert history.
type AlertHandler struct {
	store *store.Store
}

// NewAlertHandler creates a new AlertHandler with the given store.
func NewAlertHandler(s *store.Store) *AlertHandler {
	return &AlertHandler{store: s}
}

// ServeHTTP routes /api/alerts and /api/alerts/{id}.
func (h *AlertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := itemID(r.URL.Path, "/api/alerts"); id != "" {
		h.get(w, id)
		return
	}
	h.list(w, r)
}

type alertResponse struct {
	ID         string  `json:"id"`
	TrackID    int     `json:"track_id"`
	Table      int     `json:"table"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
	Delivered  bool    `json:"delivered"`
	Error      string  `json:"error,omitempty"`
}

type listAlertsResponse struct {
	Alerts []alertResponse `json:"alerts"`
}

func toAlertResponse(a *store.Alert) alertResponse {
	return alertResponse{
		ID:         a.ID,
		TrackID:    a.TrackID,
		Table:      a.TableID,
		Type:       a.Type,
		Confidence: a.Confidence,
		Timestamp:  a.CreatedAt.UTC().Format(time.RFC3339),
		Delivered:  a.Delivered,
		Error:      a.Error,
	}
}

// list handles GET /api/alerts?limit=N, newest first.
func (h *AlertHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	alerts, err := h.store.Alerts().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	response := listAlertsResponse{Alerts: make([]alertResponse, 0, len(alerts))}
	for _, a := range alerts {
		response.Alerts = append(response.Alerts, toAlertResponse(a))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/alerts/{id}.
func (h *AlertHandler) get(w http.ResponseWriter, id string) {
	a, err := h.store.Alerts().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get alert")
		return
	}

	writeJSON(w, http.StatusOK, toAlertResponse(a))
}
