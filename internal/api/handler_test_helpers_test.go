package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/service"
	"github.com/phrazzld/scry-feedback-api/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

// newTestRouter mounts the handlers the way cmd/server does.
func newTestRouter(svc service.FeedbackService) http.Handler {
	analysis := NewAnalysisHandler(svc, nil)
	r := chi.NewRouter()
	r.Post("/ai/analysis/generate", analysis.Generate)
	r.Get("/ai/analysis/by-record/{"+ExerciseRecordIDParam+"}", analysis.GetByRecord)
	r.Get("/health", NewHealthHandler(svc).Health)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func succeededTask(t *testing.T, record string) *domain.GenerationTask {
	t.Helper()
	task := storetest.NewTask(t, record)
	now := domain.Now()
	task.Status = domain.TaskStatusSucceeded
	task.Result = storetest.SampleFeedback()
	task.CompletedAt = &now
	return task
}
