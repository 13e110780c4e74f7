package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/iago/media-compressor-back/internal/service"
)

type streamNotice struct {
	JobID string   `json:"job_id"`
	Error jobError `json:"error"`
}

// JobEvents streams job progress as Server-Sent Events until the job
// settles, disappears or the stream time limit is reached.
func (api *API) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(mux.Vars(r)["id"])
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	// The server write timeout would cut long streams short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := api.progress.Watch(r.Context(), jobID, func(event service.Event) error {
		return writeEvent(w, flusher, event)
	})
	if err != nil && r.Context().Err() == nil {
		api.logf("job event stream ended job_id=%s: %v", jobID, err)
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event service.Event) error {
	var payload any
	switch event.Kind {
	case service.EventStatus:
		payload = newJobView(event.Job)
	case service.EventNotFound:
		payload = streamNotice{JobID: event.JobID, Error: jobError{Code: "not_found", Message: "job not found"}}
	case service.EventTimeout:
		payload = streamNotice{JobID: event.JobID, Error: jobError{Code: "timeout", Message: "progress stream time limit reached"}}
	case service.EventError:
		payload = streamNotice{JobID: event.JobID, Error: jobError{Code: "unavailable", Message: "job status is temporarily unavailable"}}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
