package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

// createDefinitionRequest is the JSON body for POST /v1/definitions. Setting
// id to an existing definition's id publishes a new version of it.
type createDefinitionRequest struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Checks []string `json:"checks"`
}

// listDefinitionsResponse wraps the definition list response.
type listDefinitionsResponse struct {
	Definitions []*model.AuditDefinition `json:"definitions"`
	Total       int                      `json:"total"`
}

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req createDefinitionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Checks) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one check is required")
		return
	}
	for _, id := range req.Checks {
		if _, err := s.engine.Checks().Resolve(id); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	def := &model.AuditDefinition{
		ID:        req.ID,
		Version:   1,
		Name:      req.Name,
		Checks:    req.Checks,
		CreatedAt: time.Now().UTC(),
	}
	if def.ID == "" {
		def.ID = model.NewID()
	} else if prev, err := s.store.GetDefinition(r.Context(), def.ID); err == nil {
		// Definitions are immutable; reusing an id publishes the next version.
		def.Version = prev.Version + 1
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("look up definition version", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create definition")
		return
	}

	if err := s.store.CreateDefinition(r.Context(), def); err != nil {
		s.logger.Error("create definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create definition")
		return
	}

	s.writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		def *model.AuditDefinition
		err error
	)
	if version := parseIntQuery(r, "version", 0); version > 0 {
		def, err = s.store.GetDefinitionVersion(r.Context(), id, version)
	} else {
		def, err = s.store.GetDefinition(r.Context(), id)
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	if err != nil {
		s.logger.Error("get definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get definition")
		return
	}

	s.writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListDefinitions(r.Context())
	if err != nil {
		s.logger.Error("list definitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list definitions")
		return
	}

	if defs == nil {
		defs = []*model.AuditDefinition{}
	}

	s.writeJSON(w, http.StatusOK, listDefinitionsResponse{Definitions: defs, Total: len(defs)})
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeleteDefinition(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	if errors.Is(err, store.ErrReferenceInUse) {
		s.writeError(w, http.StatusConflict, "definition referenced by an active job")
		return
	}
	if err != nil {
		s.logger.Error("delete definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete definition")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
