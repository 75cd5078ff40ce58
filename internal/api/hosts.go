package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/nerrad567/gridhost/internal/host"
)

// Event names published by the host handlers.
const eventHostCreated = "hostCreated"

// EventNames returns the names of the events this package publishes. Metrics
// label these individually and fold relayed names into one value.
func EventNames() []string {
	return []string{eventHostCreated, eventGridCreated, eventGridUpdated}
}

// handleGetHost returns a single host by id.
func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	id, err := host.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, msgIllegalHostID)
		return
	}

	h, err := s.repo.GetHost(r.Context(), id)
	if err != nil {
		if errors.Is(err, host.ErrHostNotFound) {
			writeNotFound(w, msgHostNotFound)
			return
		}
		s.logger.Error("failed to get host", "host_id", id, "error", err)
		writeInternalError(w, "failed to get host")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleCreateHost stores a new host and announces it to listeners.
func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	h := &host.Host{Name: req.Name}
	if err := host.ValidateHost(h); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := s.repo.CreateHost(r.Context(), h); err != nil {
		s.logger.Error("failed to create host", "error", err)
		writeInternalError(w, "failed to create host")
		return
	}

	s.publish(eventHostCreated, map[string]string{"hostId": h.ID})
	writeJSON(w, http.StatusCreated, map[string]string{"hostId": h.ID})
}

// publish encodes data and hands it to the broadcaster. Delivery problems
// never reach the caller; only a malformed event is logged.
func (s *Server) publish(name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode event data", "event", name, "error", err)
		return
	}
	if err := s.broadcaster.Publish(name, string(b)); err != nil {
		s.logger.Warn("event not published", "event", name, "error", err)
	}
}
