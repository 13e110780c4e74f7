package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/repository"
)

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobView struct {
	JobID            string               `json:"job_id"`
	Status           domain.JobStatus     `json:"status"`
	OriginalFilename string               `json:"original_filename,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	Result           *domain.UploadResult `json:"result,omitempty"`
	Error            *jobError            `json:"error,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	view := jobView{
		JobID:            job.ID,
		Status:           job.Status(),
		OriginalFilename: job.OriginalName,
		CreatedAt:        job.CreatedAt,
	}
	if completedAt := job.CompletedAt(); !completedAt.IsZero() {
		view.CompletedAt = &completedAt
	}
	if result, ok := job.Result(); ok {
		view.Result = &result
	}
	if cause, ok := job.Failure(); ok {
		view.Error = &jobError{Code: "processing_error", Message: cause}
	}
	return view
}

// jobHTTPStatus maps a job to the poll response code: 200 once completed,
// 500 once failed, 202 while still in flight.
func jobHTTPStatus(status domain.JobStatus) int {
	switch status {
	case domain.JobStatusCompleted:
		return http.StatusOK
	case domain.JobStatusFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusAccepted
	}
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(mux.Vars(r)["id"])
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.progress.Snapshot(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		api.logf("job lookup failed job_id=%s: %v", jobID, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, jobHTTPStatus(job.Status()), newJobView(job))
}
