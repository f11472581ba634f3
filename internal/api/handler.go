package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidpipe/internal/logging"
	"vidpipe/internal/pipeline"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

const maxBodyBytes = 64 << 10

// Options configures the HTTP handler.
type Options struct {
	Pipeline *pipeline.Pipeline
	Store    *queue.Store
	// RateLimitPerMinute bounds mutating requests per client IP; zero disables it.
	RateLimitPerMinute int
	Logger             *slog.Logger
}

type handler struct {
	pipe   *pipeline.Pipeline
	store  *queue.Store
	logger *slog.Logger
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	h := &handler{
		pipe:   opts.Pipeline,
		store:  opts.Store,
		logger: logging.NewComponentLogger(opts.Logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/entities/{id}", h.handleGetEntity)
		r.Get("/jobs", h.handleListJobs)
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMinute > 0 {
				r.Use(rateLimit(opts.RateLimitPerMinute, time.Minute))
			}
			r.Post("/entities", h.handleUpload)
			r.Delete("/entities/{id}", h.handleDelete)
		})
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate_limit_exceeded"})
		}),
	)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Detail: err.Error()})
		return
	}
	ctx := services.WithEntityID(r.Context(), req.ID)
	entity, err := h.pipe.OnUpload(ctx, strings.TrimSpace(req.ID), strings.TrimSpace(req.SourcePath))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EntityResponse{Entity: FromEntity(entity)})
}

func (h *handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.pipe.Entity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntityResponse{Entity: FromEntity(entity)})
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.pipe.OnDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.JobFilter{EntityID: strings.TrimSpace(query.Get("entity"))}
	for _, value := range query["status"] {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		status, ok := queue.ParseJobStatus(value)
		if !ok {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Detail: fmt.Sprintf("unknown job status %q", value)})
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Detail: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: out})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case pipeline.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrEnqueue):
		return http.StatusServiceUnavailable, "enqueue_failed"
	case errors.Is(err, services.ErrCleanup):
		return http.StatusInternalServerError, "cleanup_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), h.logger).Error("request failed",
			logging.Error(err),
			logging.String("route", routePattern(r)),
			logging.String(logging.FieldErrorKind, services.Details(err).Kind),
			logging.String(logging.FieldEventType, "api_request_failed"),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: code, Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
