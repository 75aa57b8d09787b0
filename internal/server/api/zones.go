package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/nexusgeo/tablewatch/internal/store"
	"github.com/nexusgeo/tablewatch/internal/zone"
)

// ZoneHandler handles CRUD requests for table zones. onChange runs after
// every successful mutation so the pipeline can reload.
type ZoneHandler struct {
	store    *store.Store
	onChange func() error
}

// NewZoneHandler creates a new ZoneHandler. onChange may be nil.
func NewZoneHandler(s *store.Store, onChange func() error) *ZoneHandler {
	return &ZoneHandler{store: s, onChange: onChange}
}

// ServeHTTP routes /api/zones and /api/zones/{table_id}.
func (h *ZoneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := itemID(r.URL.Path, "/api/zones")

	if id == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	tableID, err := strconv.Atoi(id)
	if err != nil || tableID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid table id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, tableID)
	case http.MethodPut:
		h.update(w, r, tableID)
	case http.MethodDelete:
		h.delete(w, tableID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listZonesResponse struct {
	Zones []zone.Zone `json:"zones"`
}

func fromStore(z *store.Zone) zone.Zone {
	return zone.Zone{
		TableID: z.TableID,
		Name:    z.Name,
		Polygon: zone.PolygonFromPairs(z.Polygon),
	}
}

func toStore(z zone.Zone) *store.Zone {
	return &store.Zone{
		TableID: z.TableID,
		Name:    z.Name,
		Polygon: z.Polygon.Pairs(),
	}
}

// list handles GET /api/zones.
func (h *ZoneHandler) list(w http.ResponseWriter) {
	zones, err := h.store.Zones().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list zones")
		return
	}

	response := listZonesResponse{Zones: make([]zone.Zone, 0, len(zones))}
	for _, z := range zones {
		response.Zones = append(response.Zones, fromStore(z))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/zones/{table_id}.
func (h *ZoneHandler) get(w http.ResponseWriter, tableID int) {
	z, err := h.store.Zones().Get(tableID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Zone not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get zone")
		return
	}

	writeJSON(w, http.StatusOK, fromStore(z))
}

// create handles POST /api/zones. An existing zone for the table is replaced.
func (h *ZoneHandler) create(w http.ResponseWriter, r *http.Request) {
	var z zone.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.save(w, z, http.StatusCreated)
}

// update handles PUT /api/zones/{table_id}.
func (h *ZoneHandler) update(w http.ResponseWriter, r *http.Request, tableID int) {
	if _, err := h.store.Zones().Get(tableID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Zone not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get zone")
		return
	}

	var z zone.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	z.TableID = tableID

	h.save(w, z, http.StatusOK)
}

func (h *ZoneHandler) save(w http.ResponseWriter, z zone.Zone, status int) {
	if err := z.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Zones().Upsert(toStore(z)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save zone")
		return
	}
	h.changed()

	writeJSON(w, status, z)
}

// delete handles DELETE /api/zones/{table_id}.
func (h *ZoneHandler) delete(w http.ResponseWriter, tableID int) {
	if err := h.store.Zones().Delete(tableID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Zone not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete zone")
		return
	}
	h.changed()

	w.WriteHeader(http.StatusNoContent)
}

func (h *ZoneHandler) changed() {
	if h.onChange == nil {
		return
	}
	if err := h.onChange(); err != nil {
		log.Printf("Failed to reload zones: %v", err)
	}
}
