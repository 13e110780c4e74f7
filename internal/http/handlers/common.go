package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/iago/media-compressor-back/internal/http/middleware"
	"github.com/iago/media-compressor-back/internal/service"
)

const defaultMaxUploadBytes = 100 << 20

// QueueStats exposes work queue occupancy to the health endpoint.
type QueueStats interface {
	Depth() int
	Capacity() int
}

type APIConfig struct {
	MaxUploadBytes int64
	Version        string
}

type API struct {
	media    *service.MediaService
	progress *service.ProgressService
	queue    QueueStats
	logger   *log.Logger
	cfg      APIConfig
}

func NewAPI(
	mediaService *service.MediaService,
	progressService *service.ProgressService,
	queueStats QueueStats,
	cfg APIConfig,
	logger *log.Logger,
) *API {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &API{
		media:    mediaService,
		progress: progressService,
		queue:    queueStats,
		logger:   logger,
		cfg:      cfg,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func (api *API) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "route not found")
}

func (api *API) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func (api *API) logf(format string, args ...any) {
	if api.logger != nil {
		api.logger.Printf(format, args...)
	}
}
