package api

import (
	"net/http"

	"github.com/phrazzld/scry-feedback-api/internal/api/shared"
	"github.com/phrazzld/scry-feedback-api/internal/service"
)

// HealthHandler serves GET /health.
type HealthHandler struct {
	feedbackService service.FeedbackService
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(feedbackService service.FeedbackService) *HealthHandler {
	if feedbackService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("feedbackService cannot be nil for HealthHandler")
	}
	return &HealthHandler{feedbackService: feedbackService}
}

// Health reports each dependency independently. It responds 200 when all
// are healthy and 503 when any is degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.feedbackService.Health(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, healthResponse(report))
}
