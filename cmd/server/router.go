package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scry-feedback-api/internal/api"
	apiMiddleware "github.com/phrazzld/scry-feedback-api/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)
	r.Use(apiMiddleware.Metrics(app.metrics))

	analysisHandler := api.NewAnalysisHandler(app.feedbackService, app.logger)
	healthHandler := api.NewHealthHandler(app.feedbackService)

	r.Route("/ai/analysis", func(r chi.Router) {
		if app.jwtService != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.jwtService).Authenticate)
		}
		r.Post("/generate", analysisHandler.Generate)
		r.Get("/by-record/{"+api.ExerciseRecordIDParam+"}", analysisHandler.GetByRecord)
	})

	r.Get("/health", healthHandler.Health)

	if app.config.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	}

	return r
}
