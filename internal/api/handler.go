package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nidhogg/tate-embeddings/internal/auth"
	"github.com/nidhogg/tate-embeddings/internal/embedding"
	"github.com/nidhogg/tate-embeddings/internal/metrics"
)

// ServiceName is reported by the health endpoint and used as the metrics service label.
const ServiceName = "tate-embeddings"

// Embedder is the capability the handlers depend on. *embedding.Model implements it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (embedding.Vector, error)
	EmbedImage(ctx context.Context, url string) (embedding.Vector, error)
	Info() embedding.Info
}

// Options holds optional handler dependencies.
type Options struct {
	// Metrics instruments every route when set.
	Metrics *metrics.Metrics
	// ExposeMetrics mounts GET /metrics on the API router.
	ExposeMetrics bool
	// AllowedOrigins for CORS. Defaults to all origins.
	AllowedOrigins []string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	model    Embedder
	gate     *auth.Gate
	opts     Options
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(model Embedder, gate *auth.Gate, opts Options, logger *zap.Logger) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		model:    model,
		gate:     gate,
		opts:     opts,
		validate: newValidator(),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	if h.opts.Metrics != nil {
		r.Use(h.opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", h.root)
	if h.opts.Metrics != nil && h.opts.ExposeMetrics {
		r.Method(http.MethodGet, "/metrics", h.opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Middleware)
		r.Post("/embed-text", h.embedText)
		r.Post("/embed-image", h.embedImage)
	})

	return r
}

type rootResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Model      string `json:"model"`
	Pretrained string `json:"pretrained"`
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	info := h.model.Info()
	writeJSON(w, http.StatusOK, rootResponse{
		Status:     "ok",
		Service:    ServiceName,
		Model:      info.Model,
		Pretrained: info.Pretrained,
	})
}

func (h *Handler) embedText(w http.ResponseWriter, r *http.Request) {
	var req TextEmbedRequest
	if !h.bind(w, r, &req) {
		return
	}
	query := *req.Query

	h.logger.Info("generating text embedding", zap.String("query", truncate(query, 50)))
	vec, err := h.model.EmbedText(r.Context(), query)
	if err != nil {
		h.logger.Error("error embedding text", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("generated embedding", zap.Int("dimensions", len(vec)))
	writeJSON(w, http.StatusOK, EmbeddingResponse{Embedding: vec})
}

func (h *Handler) embedImage(w http.ResponseWriter, r *http.Request) {
	var req ImageEmbedRequest
	if !h.bind(w, r, &req) {
		return
	}
	imageURL := normalizeURL(*req.URL)

	h.logger.Info("generating image embedding", zap.String("url", imageURL))
	vec, err := h.model.EmbedImage(r.Context(), imageURL)
	if err != nil {
		h.logger.Error("error embedding image",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("url", imageURL),
			zap.Error(err),
		)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("generated embedding", zap.Int("dimensions", len(vec)))
	writeJSON(w, http.StatusOK, EmbeddingResponse{Embedding: vec})
}

// bind decodes and validates the body, writing the error response itself on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeBody(w, r, h.validate, dst)
	if err == nil {
		return true
	}

	var (
		verr   *ValidationError
		maxErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, verr)
	case errors.As(err, &maxErr):
		writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
	default:
		h.logger.Error("request validation failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
