package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/warden/internal/engine"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	DefinitionID string   `json:"definition_id"`
	TargetIDs    []string `json:"target_ids"`
	Mode         string   `json:"mode"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.AuditJob `json:"jobs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.DefinitionID == "" {
		s.writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}

	job, err := s.engine.CreateJob(r.Context(), req.DefinitionID, req.TargetIDs, req.Mode)
	switch {
	case errors.Is(err, engine.ErrUnknownDefinition), errors.Is(err, engine.ErrUnknownTarget):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, engine.ErrTargetBusy):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, engine.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.engine.GetJobStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.AuditJob{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.engine.CancelJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, store.ErrAlreadyTerminal) {
		s.writeError(w, http.StatusConflict, "job already terminal")
		return
	}
	if err != nil {
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("get cancelled job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.engine.GetJobResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, store.ErrNotYetComplete) {
		s.writeError(w, http.StatusConflict, "job not yet complete")
		return
	}
	if err != nil {
		s.logger.Error("get job result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// jobCheckLine is a single recorded check in the checks response.
type jobCheckLine struct {
	TargetID   string `json:"target_id"`
	CheckID    string `json:"check_id"`
	Seq        int    `json:"seq"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int    `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// jobChecksResponse is the JSON response for GET /v1/jobs/:id/checks.
type jobChecksResponse struct {
	JobID  string         `json:"job_id"`
	Checks []jobCheckLine `json:"checks"`
}

func (s *Server) handleListJobChecks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for checks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	results, err := s.store.ListCheckResults(r.Context(), id)
	if err != nil {
		s.logger.Error("list check results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list check results")
		return
	}

	checks := make([]jobCheckLine, len(results))
	for i, res := range results {
		checks[i] = jobCheckLine{
			TargetID:   res.TargetID,
			CheckID:    res.CheckID,
			Seq:        res.Seq,
			Outcome:    res.Outcome,
			Detail:     res.Detail,
			DurationMS: res.DurationMS,
			CreatedAt:  res.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, jobChecksResponse{JobID: id, Checks: checks})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
