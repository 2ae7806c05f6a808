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

// createTargetRequest is the JSON body for POST /v1/targets.
type createTargetRequest struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	CredentialRef string   `json:"credential_ref"`
	Tags          []string `json:"tags"`
}

// updateTagsRequest is the JSON body for PUT /v1/targets/:id/tags.
type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// listTargetsResponse wraps the target list response.
type listTargetsResponse struct {
	Targets []*model.Target `json:"targets"`
	Total   int             `json:"total"`
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Host == "" {
		s.writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		s.writeError(w, http.StatusBadRequest, "port out of range")
		return
	}

	tgt := &model.Target{
		ID:            model.NewID(),
		Host:          req.Host,
		Port:          req.Port,
		CredentialRef: req.CredentialRef,
		Tags:          req.Tags,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.CreateTarget(r.Context(), tgt); err != nil {
		s.logger.Error("create target", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create target")
		return
	}

	s.writeJSON(w, http.StatusCreated, tgt)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tgt, err := s.store.GetTarget(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		s.logger.Error("get target", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get target")
		return
	}

	s.writeJSON(w, http.StatusOK, tgt)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	var (
		targets []*model.Target
		err     error
	)
	if tags := r.URL.Query()["tag"]; len(tags) > 0 {
		targets, err = s.store.ListTargetsByTags(r.Context(), tags)
	} else {
		targets, err = s.store.ListTargets(r.Context())
	}
	if err != nil {
		s.logger.Error("list targets", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	if targets == nil {
		targets = []*model.Target{}
	}

	s.writeJSON(w, http.StatusOK, listTargetsResponse{Targets: targets, Total: len(targets)})
}

func (s *Server) handleUpdateTargetTags(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateTagsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.UpdateTargetTags(r.Context(), id, req.Tags); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "target not found")
			return
		}
		s.logger.Error("update target tags", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update tags")
		return
	}

	tgt, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		s.logger.Error("get updated target", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve target")
		return
	}

	s.writeJSON(w, http.StatusOK, tgt)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeleteTarget(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if errors.Is(err, store.ErrReferenceInUse) {
		s.writeError(w, http.StatusConflict, "target referenced by an active job")
		return
	}
	if err != nil {
		s.logger.Error("delete target", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
