package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(w, r, http.StatusAccepted, map[string]any{"success": true})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestRespondWithJSONEncodingError(t *testing.T) {
	log, buf := logger.NewTestLogger(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(logger.WithLogger(r.Context(), log))

	RespondWithJSON(w, r, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, w.Code)
	logger.AssertLogContains(t, buf, "failed to encode JSON response")
}

func TestRespondWithError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(WithTraceID(r.Context(), "trace-1"))

	RespondWithError(w, r, http.StatusNotFound, "Not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not found","trace_id":"trace-1"}`, w.Body.String())
}

func TestRespondWithErrorAndLog(t *testing.T) {
	log, buf := logger.NewTestLogger(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/ai/analysis/generate", nil)
	r = r.WithContext(logger.WithLogger(WithTraceID(r.Context(), "trace-2"), log))

	cause := errors.New("dial postgres://scry:hunter2@db:5432/scry: refused")
	RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable", cause)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "Service temporarily unavailable", body.Error)
	assert.Equal(t, "trace-2", body.TraceID)
	assert.NotContains(t, w.Body.String(), "postgres")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0]["level"])
	assert.Equal(t, "trace-2", entries[0]["trace_id"])
	assert.NotContains(t, entries[0]["error"], "hunter2")
}

func TestRespondWithErrorAndLogLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		opts   []ResponseOption
		level  string
	}{
		{"client error", http.StatusBadRequest, nil, "DEBUG"},
		{"elevated client error", http.StatusUnauthorized, []ResponseOption{WithElevatedLogLevel()}, "WARN"},
		{"rate limited", http.StatusTooManyRequests, nil, "WARN"},
		{"server error", http.StatusInternalServerError, nil, "ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, buf := logger.NewTestLogger(t)
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			RespondWithErrorAndLog(w, r, tc.status, "msg", errors.New("cause"), tc.opts...)

			entries, err := buf.Entries()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.level, entries[0]["level"])
		})
	}
}

func TestRespondWithFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Validation error", nil,
		WithFields([]domain.FieldError{{Field: "student_answer", Message: "is required"}}))

	assert.JSONEq(t,
		`{"success":false,"error":"Validation error","fields":[{"field":"student_answer","message":"is required"}]}`,
		w.Body.String())
}
