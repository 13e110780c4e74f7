package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/media"
	"github.com/iago/media-compressor-back/internal/service"
)

const multipartMemoryBytes = 8 << 20

type imageResponse struct {
	Message          string `json:"message"`
	OriginalFilename string `json:"original_filename"`
	URL              string `json:"url"`
	PublicID         string `json:"public_id"`
	ResourceType     string `json:"resource_type"`
}

type videoResponse struct {
	JobID            string           `json:"job_id"`
	Status           domain.JobStatus `json:"status"`
	StatusURL        string           `json:"status_url"`
	EventsURL        string           `json:"events_url"`
	OriginalFilename string           `json:"original_filename"`
}

// SubmitMedia accepts a multipart upload in the "file" field. Images are
// answered inline; videos are queued and answered with 202.
func (api *API) SubmitMedia(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > api.cfg.MaxUploadBytes {
		writeTooLarge(w, r, api.cfg.MaxUploadBytes)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, api.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeTooLarge(w, r, api.cfg.MaxUploadBytes)
			return
		}
		writeError(w, r, http.StatusBadRequest, "missing_file", "expected a multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing_file", "no file part named \"file\" in the request")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, r, http.StatusBadRequest, "missing_file", "no file selected")
		return
	}

	submission, err := api.media.Submit(r.Context(), file, header.Filename)
	if err != nil {
		api.writeSubmitError(w, r, header, err)
		return
	}

	if submission.Image != nil {
		writeJSON(w, http.StatusOK, imageResponse{
			Message:          "Image compressed and uploaded successfully",
			OriginalFilename: submission.OriginalName,
			URL:              submission.Image.URL,
			PublicID:         submission.Image.PublicID,
			ResourceType:     string(media.CategoryImage),
		})
		return
	}

	statusURL := "/v1/jobs/" + submission.Job.ID
	w.Header().Set("Location", statusURL)
	writeJSON(w, http.StatusAccepted, videoResponse{
		JobID:            submission.Job.ID,
		Status:           submission.Job.Status(),
		StatusURL:        statusURL,
		EventsURL:        statusURL + "/events",
		OriginalFilename: submission.OriginalName,
	})
}

func (api *API) writeSubmitError(w http.ResponseWriter, r *http.Request, header *multipart.FileHeader, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyFile):
		writeError(w, r, http.StatusBadRequest, "empty_file", "the uploaded file is empty")
	case errors.Is(err, media.ErrUnsupportedType):
		writeError(w, r, http.StatusBadRequest, "unsupported_type", "only image and video files are accepted")
	case errors.Is(err, media.ErrContentMismatch):
		writeError(w, r, http.StatusBadRequest, "content_mismatch", "file content does not match its extension")
	case errors.Is(err, service.ErrCapacity):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "queue_full", "video processing is at capacity, retry later")
	case errors.Is(err, service.ErrProcessing):
		api.logf("media processing failed name=%q size=%d: %v", header.Filename, header.Size, err)
		writeError(w, r, http.StatusInternalServerError, "processing_error", "could not compress and upload the image")
	default:
		api.logf("media submission failed name=%q size=%d: %v", header.Filename, header.Size, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to accept upload")
	}
}

func writeTooLarge(w http.ResponseWriter, r *http.Request, limit int64) {
	writeError(w, r, http.StatusRequestEntityTooLarge, "file_too_large",
		fmt.Sprintf("uploads are limited to %d bytes", limit))
}
