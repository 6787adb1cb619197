package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/scry-feedback-api/internal/api/shared"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/service"
)

// ExerciseRecordIDParam is the chi path parameter of by-record lookups.
const ExerciseRecordIDParam = "exerciseRecordID"

// AnalysisHandler serves the feedback generation endpoints.
type AnalysisHandler struct {
	feedbackService service.FeedbackService
	logger          *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(feedbackService service.FeedbackService, logger *slog.Logger) *AnalysisHandler {
	if feedbackService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("feedbackService cannot be nil for AnalysisHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisHandler{
		feedbackService: feedbackService,
		logger:          logger.With(slog.String("component", "analysis_handler")),
	}
}

// Generate handles POST /ai/analysis/generate.
// It responds 200 when the returned task is terminal and 202 while it is
// still pending or running.
func (h *AnalysisHandler) Generate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req, err := decodeGenerateRequest(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	res, err := h.feedbackService.Submit(r.Context(), req.toSubmission())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to generate feedback")
		return
	}

	status := http.StatusAccepted
	if res.Task.Status.IsTerminal() {
		status = http.StatusOK
	}

	log.Debug("generate request served",
		slog.String("exercise_record_id", req.ExerciseRecordID),
		slog.String("task_id", res.Task.ID.String()),
		slog.String("status", string(res.Task.Status)),
		slog.Bool("cached", res.Cached))
	shared.RespondWithJSON(w, r, status, generateResponse(res))
}

// GetByRecord handles GET /ai/analysis/by-record/{exerciseRecordID}.
func (h *AnalysisHandler) GetByRecord(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	recordID, err := getPathParam(r, ExerciseRecordIDParam, "exercise_record_id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.feedbackService.GetByRecord(r.Context(), recordID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to look up feedback")
		return
	}

	log.Debug("latest task served",
		slog.String("exercise_record_id", recordID),
		slog.String("task_id", t.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, byRecordResponse(t))
}
