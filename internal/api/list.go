package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// listResearch handles GET /v1/research?status=&limit=&offset=. It returns a
// JSON object {"jobs": [...]} with trimmed log views, newest first.
func (s *Server) listResearch(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *research.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := parseJobStatus(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &parsed
	}
	jobs, err := s.manager.List(r.Context(), status, limit, offset)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func parseJobStatus(raw string) (research.JobStatus, error) {
	status := research.JobStatus(strings.ToLower(raw))
	switch status {
	case research.JobStatusInitializing,
		research.JobStatusFetching,
		research.JobStatusProcessing,
		research.JobStatusCompleted,
		research.JobStatusReportGenerated,
		research.JobStatusError:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func parseLimitOffset(r *http.Request, def, max int) (int, int, error) {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		if parsed > max {
			parsed = max
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = parsed
	}
	return limit, offset, nil
}
