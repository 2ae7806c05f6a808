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

// createScheduleRequest is the JSON body for POST /v1/schedules.
type createScheduleRequest struct {
	DefinitionID string   `json:"definition_id"`
	TargetIDs    []string `json:"target_ids"`
	TagSelector  []string `json:"tag_selector"`
	IntervalS    int      `json:"interval_s"`
}

// listSchedulesResponse wraps the schedule rule list response.
type listSchedulesResponse struct {
	Schedules []*model.ScheduleRule `json:"schedules"`
	Total     int                   `json:"total"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.DefinitionID == "" {
		s.writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}
	if req.IntervalS <= 0 {
		s.writeError(w, http.StatusBadRequest, "interval_s must be positive")
		return
	}
	if len(req.TargetIDs) == 0 && len(req.TagSelector) == 0 {
		s.writeError(w, http.StatusBadRequest, "target_ids or tag_selector is required")
		return
	}

	if _, err := s.store.GetDefinition(r.Context(), req.DefinitionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "definition not found")
			return
		}
		s.logger.Error("look up schedule definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	for _, id := range req.TargetIDs {
		if _, err := s.store.GetTarget(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "target "+id+" not found")
				return
			}
			s.logger.Error("look up schedule target", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create schedule")
			return
		}
	}

	rule := &model.ScheduleRule{
		ID:           model.NewID(),
		DefinitionID: req.DefinitionID,
		TargetIDs:    req.TargetIDs,
		TagSelector:  req.TagSelector,
		IntervalS:    req.IntervalS,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		s.logger.Error("create schedule", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.store.GetRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.logger.Error("get schedule", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get schedule")
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.logger.Error("list schedules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	if rules == nil {
		rules = []*model.ScheduleRule{}
	}

	s.writeJSON(w, http.StatusOK, listSchedulesResponse{Schedules: rules, Total: len(rules)})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeleteRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.logger.Error("delete schedule", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

// setScheduleEnabled flips a rule's enabled flag. Disabling never touches
// jobs the rule already materialized.
func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	err := s.store.SetRuleEnabled(r.Context(), id, enabled)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.logger.Error("set schedule enabled", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		s.logger.Error("get updated schedule", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve schedule")
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}
