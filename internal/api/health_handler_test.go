package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	now := time.Now().UTC()
	check := func(name string, ok bool) health.Result {
		r := health.Result{Name: name, Healthy: ok, CheckedAt: now}
		if !ok {
			r.Error = "unreachable"
		}
		return r
	}

	t.Run("healthy", func(t *testing.T) {
		svc := &mocks.MockFeedbackService{HealthFn: func(context.Context) health.Report {
			return health.Report{
				Status:  health.StatusHealthy,
				Failing: []string{},
				Checks: []health.Result{
					check(health.CheckLedger, true),
					check(health.CheckQueue, true),
					check(health.CheckIndex, true),
					check(health.CheckProvider, true),
				},
			}
		}}
		w := doRequest(t, newTestRouter(svc), http.MethodGet, "/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, true, body["ledger_available"])
		assert.Equal(t, true, body["queue_available"])
		assert.Equal(t, true, body["index_available"])
		assert.Equal(t, true, body["provider_configured"])
		assert.Empty(t, body["failing"])
	})

	t.Run("degraded", func(t *testing.T) {
		svc := &mocks.MockFeedbackService{HealthFn: func(context.Context) health.Report {
			return health.Report{
				Status:  health.StatusDegraded,
				Failing: []string{health.CheckQueue},
				Checks: []health.Result{
					check(health.CheckLedger, true),
					check(health.CheckQueue, false),
					check(health.CheckProvider, true),
				},
			}
		}}
		w := doRequest(t, newTestRouter(svc), http.MethodGet, "/health", "")

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, true, body["ledger_available"])
		assert.Equal(t, false, body["queue_available"])
		assert.Equal(t, []any{"queue"}, body["failing"])
		assert.Len(t, body["checks"], 3)
	})
}
