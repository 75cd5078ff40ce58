package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/nerrad567/gridhost/internal/host"
)

// Event names published by the grid handlers.
const (
	eventGridCreated = "gridCreated"
	eventGridUpdated = "gridUpdated"
)

// gridUpdate is the data of a gridUpdated event and the shape of an inbound
// GRID_UPDATE frame.
type gridUpdate struct {
	ID    string        `json:"id"`
	Owner string        `json:"owner"`
	Grid  [][]host.Cell `json:"grid"`
}

// handleListGrids returns all grids, with optional hostId filter.
func (s *Server) handleListGrids(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if hostID := r.URL.Query().Get("hostId"); hostID != "" {
		owner, err := host.ParseID(hostID)
		if err != nil {
			writeBadRequest(w, msgIllegalHostID)
			return
		}
		s.writeGrids(ctx, w, owner)
		return
	}
	s.writeGrids(ctx, w, "")
}

// handleListHostGrids returns the grids owned by the host in the path.
func (s *Server) handleListHostGrids(w http.ResponseWriter, r *http.Request) {
	owner, err := host.ParseID(chi.URLParam(r, "hostId"))
	if err != nil {
		writeBadRequest(w, msgIllegalHostID)
		return
	}
	s.writeGrids(r.Context(), w, owner)
}

func (s *Server) writeGrids(ctx context.Context, w http.ResponseWriter, owner string) {
	var (
		grids []host.Grid
		err   error
	)
	if owner == "" {
		grids, err = s.repo.ListGrids(ctx)
	} else {
		grids, err = s.repo.ListGridsByOwner(ctx, owner)
	}
	if err != nil {
		s.logger.Error("failed to list grids", "owner", owner, "error", err)
		writeInternalError(w, "failed to list grids")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grids": grids, "count": len(grids)})
}

// handleGetGrid returns one grid if it belongs to the host in the path.
func (s *Server) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	owner, gridID, ok := gridPath(w, r)
	if !ok {
		return
	}

	g, err := s.repo.GetGrid(r.Context(), gridID)
	if err != nil {
		if errors.Is(err, host.ErrGridNotFound) {
			writeNotFound(w, msgGridNotFound)
			return
		}
		s.logger.Error("failed to get grid", "grid_id", gridID, "error", err)
		writeInternalError(w, "failed to get grid")
		return
	}
	if g.Owner != owner {
		writeNotFound(w, msgGridNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleSaveGrid creates a grid, or saves over an existing one when the body
// carries its _id.
func (s *Server) handleSaveGrid(w http.ResponseWriter, r *http.Request) {
	var g host.Grid
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := host.ValidateGrid(&g); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	g.Owner, _ = host.ParseID(g.Owner) //nolint:errcheck // checked by ValidateGrid
	g.CreatedAt, g.UpdatedAt = time.Time{}, time.Time{}

	ctx := r.Context()
	if g.ID != "" {
		id, err := host.ParseID(g.ID)
		if err != nil {
			writeBadRequest(w, msgIllegalGridID)
			return
		}
		g.ID = id
		if _, err := s.repo.GetGrid(ctx, id); err == nil {
			s.saveGridUpdate(ctx, w, &g)
			return
		} else if !errors.Is(err, host.ErrGridNotFound) {
			s.logger.Error("failed to look up grid", "grid_id", id, "error", err)
			writeInternalError(w, "failed to save grid")
			return
		}
	}

	if err := s.repo.CreateGrid(ctx, &g); err != nil {
		s.logger.Error("failed to create grid", "error", err)
		writeInternalError(w, "failed to create grid")
		return
	}

	s.publish(eventGridCreated, map[string]string{"gridId": g.ID, "owner": g.Owner})
	writeJSON(w, http.StatusCreated, map[string]string{"gridId": g.ID})
}

// handleUpdateGrid replaces the cells of the grid in the path.
func (s *Server) handleUpdateGrid(w http.ResponseWriter, r *http.Request) {
	owner, gridID, ok := gridPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Grid [][]host.Cell `json:"grid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g := &host.Grid{ID: gridID, Owner: owner, Cells: req.Grid}
	if err := host.ValidateGrid(g); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	s.saveGridUpdate(r.Context(), w, g)
}

func (s *Server) saveGridUpdate(ctx context.Context, w http.ResponseWriter, g *host.Grid) {
	if err := s.updateGrid(ctx, g); err != nil {
		if errors.Is(err, host.ErrGridNotFound) {
			writeNotFound(w, msgGridNotFound)
			return
		}
		s.logger.Error("failed to update grid", "grid_id", g.ID, "error", err)
		writeInternalError(w, "failed to update grid")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// updateGrid persists a validated grid and announces it as gridUpdated.
// The websocket GRID_UPDATE flow shares it with the PUT handler.
func (s *Server) updateGrid(ctx context.Context, g *host.Grid) error {
	if err := s.repo.UpdateGrid(ctx, g); err != nil {
		return err
	}
	s.publish(eventGridUpdated, gridUpdate{ID: g.ID, Owner: g.Owner, Grid: g.Cells})
	return nil
}

// gridPath parses {hostId} and {gridId}, writing a 400 on failure.
func gridPath(w http.ResponseWriter, r *http.Request) (owner, gridID string, ok bool) {
	owner, err := host.ParseID(chi.URLParam(r, "hostId"))
	if err != nil {
		writeBadRequest(w, msgIllegalHostID)
		return "", "", false
	}
	gridID, err = host.ParseID(chi.URLParam(r, "gridId"))
	if err != nil {
		writeBadRequest(w, msgIllegalGridID)
		return "", "", false
	}
	return owner, gridID, true
}
