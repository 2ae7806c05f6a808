package api

import (
	"net/http"

	"github.com/seantiz/warden/internal/check"
)

// listChecksResponse is the JSON response for GET /v1/checks.
type listChecksResponse struct {
	Checks []check.Info `json:"checks"`
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listChecksResponse{Checks: s.engine.Checks().List()})
}
