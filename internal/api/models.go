package api

import (
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/service"
)

// ChoiceRequest is one answer choice of a question.
type ChoiceRequest struct {
	Label string `json:"label" validate:"max=16"`
	Text  string `json:"text"  validate:"required"`
}

// QuestionRequest carries the question content supplied by the caller.
type QuestionRequest struct {
	Content       string          `json:"content"        validate:"required"`
	Choices       []ChoiceRequest `json:"choices"        validate:"max=26,dive"`
	CorrectAnswer string          `json:"correct_answer"`
	Explanation   string          `json:"explanation"`
	Subject       string          `json:"subject"`
}

// GenerateRequest is the payload of POST /ai/analysis/generate.
// Omitted parameters take the configured defaults.
type GenerateRequest struct {
	ExerciseRecordID string          `json:"exercise_record_id" validate:"required,max=128"`
	Question         QuestionRequest `json:"question"`
	StudentAnswer    string          `json:"student_answer"     validate:"required"`
	Temperature      *float32        `json:"temperature"        validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens  *int            `json:"max_output_tokens"  validate:"omitempty,gte=1"`
}

// toSubmission converts the request into a service submission.
func (r GenerateRequest) toSubmission() service.Submission {
	choices := make([]domain.Choice, 0, len(r.Question.Choices))
	for _, c := range r.Question.Choices {
		choices = append(choices, domain.Choice{Label: c.Label, Text: c.Text})
	}
	return service.Submission{
		ExerciseRecordID: r.ExerciseRecordID,
		Question: domain.Question{
			Content:       r.Question.Content,
			Choices:       choices,
			CorrectAnswer: r.Question.CorrectAnswer,
			Explanation:   r.Question.Explanation,
			Subject:       r.Question.Subject,
		},
		StudentAnswer:   r.StudentAnswer,
		Temperature:     r.Temperature,
		MaxOutputTokens: r.MaxOutputTokens,
	}
}

// FeedbackData holds both generated texts. A fallback flag marks a field
// that holds a failure message instead of generated text.
type FeedbackData struct {
	AssessmentText     string `json:"assessment_text"`
	GuidanceText       string `json:"guidance_text"`
	AssessmentFallback bool   `json:"assessment_fallback"`
	GuidanceFallback   bool   `json:"guidance_fallback"`
}

// GenerateResponse is returned by POST /ai/analysis/generate. Data is null
// until the task has succeeded.
type GenerateResponse struct {
	Success bool              `json:"success"`
	TaskID  string            `json:"task_id"`
	Status  domain.TaskStatus `json:"status"`
	Cached  bool              `json:"cached"`
	Data    *FeedbackData     `json:"data"`
	Error   *domain.TaskError `json:"error,omitempty"`
}

// ByRecordResponse is returned by GET /ai/analysis/by-record/{id}.
type ByRecordResponse struct {
	Success          bool              `json:"success"`
	LatestTaskID     string            `json:"latest_task_id"`
	ExerciseRecordID string            `json:"exercise_record_id"`
	Status           domain.TaskStatus `json:"status"`
	Data             *FeedbackData     `json:"data"`
	Error            *domain.TaskError `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status             string          `json:"status"`
	LedgerAvailable    bool            `json:"ledger_available"`
	QueueAvailable     bool            `json:"queue_available"`
	IndexAvailable     bool            `json:"index_available"`
	ProviderConfigured bool            `json:"provider_configured"`
	Failing            []string        `json:"failing"`
	Checks             []health.Result `json:"checks"`
}

func feedbackData(f *domain.Feedback) *FeedbackData {
	if f == nil {
		return nil
	}
	return &FeedbackData{
		AssessmentText:     f.WeaknessAssessment,
		GuidanceText:       f.SolutionGuidance,
		AssessmentFallback: f.AssessmentFallback,
		GuidanceFallback:   f.GuidanceFallback,
	}
}

func generateResponse(res *service.SubmitResult) GenerateResponse {
	return GenerateResponse{
		Success: true,
		TaskID:  res.Task.ID.String(),
		Status:  res.Task.Status,
		Cached:  res.Cached,
		Data:    feedbackData(res.Task.Result),
		Error:   res.Task.Error,
	}
}

func byRecordResponse(t *domain.GenerationTask) ByRecordResponse {
	return ByRecordResponse{
		Success:          true,
		LatestTaskID:     t.ID.String(),
		ExerciseRecordID: t.ExerciseRecordID,
		Status:           t.Status,
		Data:             feedbackData(t.Result),
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func healthResponse(report health.Report) HealthResponse {
	return HealthResponse{
		Status:             report.Status,
		LedgerAvailable:    report.Available(health.CheckLedger),
		QueueAvailable:     report.Available(health.CheckQueue),
		IndexAvailable:     report.Available(health.CheckIndex),
		ProviderConfigured: report.Available(health.CheckProvider),
		Failing:            report.Failing,
		Checks:             report.Checks,
	}
}
