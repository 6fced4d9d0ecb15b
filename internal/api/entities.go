package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cybro/internal/audit"
	"github.com/nerrad567/gray-logic-cybro/internal/bridges/cybro"
	"github.com/nerrad567/gray-logic-cybro/internal/entity"
)

// EntityView is the API representation of an entity and its current state.
type EntityView struct {
	UniqueID    string         `json:"unique_id"`
	Name        string         `json:"name"`
	Platform    string         `json:"platform"`
	DeviceID    string         `json:"device_id"`
	DeviceClass string         `json:"device_class,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	StateClass  string         `json:"state_class,omitempty"`
	Category    string         `json:"entity_category,omitempty"`
	Available   bool           `json:"available"`
	Value       any            `json:"value"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// DeviceView groups entities by their device.
type DeviceView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Area         string   `json:"suggested_area,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Entities     []string `json:"entities"`
}

func newEntityView(e entity.Entity) EntityView {
	d := e.Descriptor()
	st := e.State()
	return EntityView{
		UniqueID:    d.UniqueID,
		Name:        d.Name,
		Platform:    string(d.Platform),
		DeviceID:    d.Group.ID,
		DeviceClass: string(d.DeviceClass),
		Unit:        d.Unit,
		StateClass:  string(d.StateClass),
		Category:    string(d.Category),
		Available:   st.Available,
		Value:       st.Value,
		Attributes:  st.Attributes,
	}
}

// handleListEntities returns all entities, optionally filtered by
// ?platform= and ?device=.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	device := r.URL.Query().Get("device")

	views := make([]EntityView, 0)
	for _, e := range s.bridge.Entities() {
		if platform != "" && string(e.Platform()) != platform {
			continue
		}
		if device != "" && e.Descriptor().Group.ID != device {
			continue
		}
		views = append(views, newEntityView(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": views,
		"count":    len(views),
	})
}

// handleGetEntity returns one entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupEntity(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newEntityView(e))
}

// handleEntityHistory returns recorded state changes of an entity, newest
// first. ?limit= caps the result (default 50, max 200).
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.history == nil {
		writeNotFound(w, "state history not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, entity.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		s.logger.Error("reading entity history", "entity", id, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleListDevices groups the entities by device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	byID := make(map[string]*DeviceView)
	for _, e := range s.bridge.Entities() {
		info := e.DeviceInfo()
		groupID := e.Descriptor().Group.ID

		dv, ok := byID[groupID]
		if !ok {
			dv = &DeviceView{
				ID:           groupID,
				Name:         info.Name,
				Manufacturer: info.Manufacturer,
				Model:        info.Model,
				Area:         info.SuggestedArea,
				SWVersion:    info.SWVersion,
			}
			byID[groupID] = dv
		}
		dv.Entities = append(dv.Entities, e.UniqueID())
	}

	devices := make([]DeviceView, 0, len(byID))
	for _, dv := range byID {
		devices = append(devices, *dv)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleSnapshot returns the raw variables of the last successful poll.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	dev, ok := s.poller.Data()
	if !ok || dev == nil {
		writeUnavailable(w, "PLC not polled yet")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRefresh performs one coordinator fetch and returns the poll stats.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.poller.Refresh(r.Context())
	s.auditAction(r, audit.ActionRefresh, "coordinator", map[string]any{"success": err == nil})
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.poller.Stats())
}

// lookupEntity resolves an entity id, writing the error response if it
// cannot be found.
func (s *Server) lookupEntity(w http.ResponseWriter, id string) (entity.Entity, bool) {
	e, err := s.bridge.Entity(id)
	switch {
	case err == nil:
		return e, true
	case errors.Is(err, cybro.ErrNotReady):
		writeUnavailable(w, "entities not set up yet")
	case errors.Is(err, entity.ErrEntityNotFound):
		writeNotFound(w, "entity not found")
	default:
		writeInternalError(w, "failed to look up entity")
	}
	return nil, false
}
