// Package hook runs local executables for every service alert, so sites can
// page staff or drive a table light without a backend.
package hook

import (
	"encoding/json"
	"slices"
)

// ManifestFile is the manifest name looked up in each hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Tables restricts the hook to these tables. Empty means every table.
	Tables []int           `json:"tables,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Request is written to the hook's stdin as JSON.
type Request struct {
	Event      string          `json:"event"`
	Table      int             `json:"table"`
	TrackID    int             `json:"track_id"`
	Confidence float64         `json:"confidence"`
	Timestamp  string          `json:"timestamp"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook and its location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook wants alerts for table.
func (h *Hook) Handles(table int) bool {
	return len(h.Manifest.Tables) == 0 || slices.Contains(h.Manifest.Tables, table)
}
