package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phishguard/internal/config"
	"phishguard/internal/engine"
	"phishguard/internal/repository"
)

// Classifier is the part of the engine the API uses.
type Classifier interface {
	Classify(ctx context.Context, rawURL string, opts engine.Options) engine.Result
}

type BlacklistStore interface {
	ListBlacklist(ctx context.Context) ([]repository.Document, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (repository.Document, error)
}

type CacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Deps wires the handlers. Only Engine is required; routes whose
// dependency is nil answer 503.
type Deps struct {
	Engine    Classifier
	Blacklist BlacklistStore
	Documents DocumentStore
	Cache     CacheClearer
	// Checks are run by /healthz, keyed by component name.
	Checks map[string]func(context.Context) error
}

type Server struct {
	deps    Deps
	timeout time.Duration
}

// NewRouter builds the HTTP handler for the detection API.
func NewRouter(deps Deps, cfg config.APIConfig) http.Handler {
	s := &Server{deps: deps, timeout: cfg.RequestTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Get("/", s.hello)
	r.Get("/healthz", s.health)

	r.Group(func(r chi.Router) {
		if cfg.RatePerSecond > 0 {
			r.Use(newIPLimiter(cfg.RatePerSecond, cfg.Burst).middleware)
		}

		r.Get("/detect-url", s.detectURL)
		r.Post("/detect-url", s.detectURL)
		r.Get("/black-list", s.blackList)
		r.Get("/document/{collection}/{docID}", s.getDocument)
		r.Post("/cache/clear", s.clearCache)
	})

	return r
}

// NewHTTPServer wraps the router with the server timeouts used in production.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// corsMiddleware lets the browser extension call the API from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
