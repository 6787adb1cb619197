package metrics

import (
	"errors"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scry_feedback"

// Metrics holds every collector of the service.
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderTokens   *prometheus.CounterVec
	Jobs             *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	TasksCompleted   *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	Reservations     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	DependencyHealth *prometheus.GaugeVec
}

var (
	_ generation.Observer  = (*Metrics)(nil)
	_ task.Recorder        = (*Metrics)(nil)
	_ task.TaskRecorder    = (*Metrics)(nil)
	_ idempotency.Recorder = (*Metrics)(nil)
)

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Generation provider calls by provider, field and outcome.",
		}, []string{"provider", "field", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Generation provider call duration.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider", "field"}),
		ProviderTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens reported by the provider, by direction.",
		}, []string{"provider", "direction"}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs handled by the worker pool, by outcome.",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent handling a single job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Generation tasks that reached a terminal status.",
		}, []string{"status"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to its terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"status"}),
		Reservations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_reservations_total",
			Help:      "Idempotency reservations by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		DependencyHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "1 when the last health check of a dependency passed, else 0.",
		}, []string{"dependency"}),
	}
}

// ObserveCall records a provider call.
func (m *Metrics) ObserveCall(
	provider string,
	field generation.Field,
	kind error,
	elapsed time.Duration,
	usage generation.Completion,
) {
	m.ProviderCalls.WithLabelValues(provider, string(field), callOutcome(kind)).Inc()
	m.ProviderLatency.WithLabelValues(provider, string(field)).Observe(elapsed.Seconds())
	if usage.PromptTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	}
}

// ObserveJob records a job handled by the worker pool.
func (m *Metrics) ObserveJob(outcome string, elapsed time.Duration) {
	m.Jobs.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveTask records a task reaching a terminal status.
func (m *Metrics) ObserveTask(status domain.TaskStatus, elapsed time.Duration) {
	m.TasksCompleted.WithLabelValues(string(status)).Inc()
	m.TaskDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// ObserveReservation records an idempotency reservation.
func (m *Metrics) ObserveReservation(outcome string) {
	m.Reservations.WithLabelValues(outcome).Inc()
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, statusClass(code)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// SetDependencyUp records the result of a dependency health check.
func (m *Metrics) SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyHealth.WithLabelValues(name).Set(v)
}

var callOutcomes = []struct {
	kind  error
	label string
}{
	{generation.ErrTimeout, "timeout"},
	{generation.ErrRateLimited, "rate_limited"},
	{generation.ErrContentBlocked, "blocked"},
	{generation.ErrInvalidResponse, "invalid_response"},
	{generation.ErrTransientFailure, "transient"},
	{generation.ErrInvalidConfig, "misconfigured"},
}

func callOutcome(kind error) string {
	if kind == nil {
		return "ok"
	}
	for _, o := range callOutcomes {
		if errors.Is(kind, o.kind) {
			return o.label
		}
	}
	return "error"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
