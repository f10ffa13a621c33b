package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const artifactTimeout = 3 * time.Second

type artifactDTO struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// listArtifacts handles GET /v1/research/{job_id}/artifacts. It returns the
// stored objects under the job's blob prefix so clients can discover which
// stage outputs exist without fetching them.
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.manager.Get(r.Context(), jobID); err != nil {
		s.writeErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), artifactTimeout)
	defer cancel()

	infos, err := s.blobs.List(ctx, s.manager.BlobKey(jobID, ""))
	if err != nil {
		s.logger.Error("list artifacts failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	artifacts := make([]artifactDTO, 0, len(infos))
	for _, info := range infos {
		artifacts = append(artifacts, artifactDTO{
			Key:        info.Key,
			Size:       info.Size,
			UploadedAt: info.UploadedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    jobID,
		"artifacts": artifacts,
	})
}
