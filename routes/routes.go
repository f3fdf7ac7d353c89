package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/handlers"
	"github.com/upb/llm-gateway/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.EnsureRequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var rawDB *sql.DB
	if deps.DB != nil {
		rawDB = deps.DB.DB
	}
	health := handlers.NewHealthHandler(rawDB, deps.Logger)
	chat := handlers.NewChatHandler(deps.Pipeline, deps.Logger)
	experiments := handlers.NewExperimentHandler(deps.Experiments, deps.ExperimentStore, deps.Logger)
	provider := handlers.NewProviderHandler(deps.Registry, deps.Logger)
	cacheHandler := handlers.NewCacheHandler(deps.Cache, deps.Logger)
	pii := handlers.NewPIIHandler(deps.Detector, deps.Logger)
	costHandler := handlers.NewCostHandler(deps.CostAnalyzer, deps.CostModel, deps.Logger)

	// Health check endpoints
	r.Get("/", health.HandleHealth)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	r.Get("/providers", provider.HandleList)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/completions", chat.HandleChatCompletion)
		r.Post("/completions/stream", chat.HandleChatStream)
	})

	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", experiments.HandleCreate)
		r.Get("/", experiments.HandleList)
		r.Get("/{id}", experiments.HandleGet)
		r.Get("/{id}/winner", experiments.HandleWinner)
		r.Post("/{id}/stop", experiments.HandleStop)
		r.Post("/{id}/satisfaction", experiments.HandleSatisfaction)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", cacheHandler.HandleStats)
		r.Post("/clear", cacheHandler.HandleClear)
	})

	r.Post("/pii/detect", pii.HandleDetect)
	r.Post("/cost/analyze", costHandler.HandleAnalyze)

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
