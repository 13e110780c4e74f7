package httpserver

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/iago/media-compressor-back/internal/http/handlers"
	"github.com/iago/media-compressor-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(deps.API.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(deps.API.MethodNotAllowed)

	submit := middleware.Auth(deps.AuthToken)(http.HandlerFunc(deps.API.SubmitMedia))
	r.Handle("/v1/media", submit).Methods(http.MethodPost)
	r.Handle("/upload-and-compress", submit).Methods(http.MethodPost)

	r.HandleFunc("/healthz", deps.API.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", deps.API.JobStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/events", deps.API.JobEvents).Methods(http.MethodGet)

	handler := http.Handler(r)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(deps.CORSOrigins)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
