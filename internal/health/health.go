package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/redact"
)

// Overall statuses of a Report.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Names of the standard dependency checks.
const (
	CheckLedger   = "ledger"
	CheckQueue    = "queue"
	CheckIndex    = "index"
	CheckProvider = "provider"
)

// DefaultTimeout bounds a single check when none is configured.
const DefaultTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Observer receives every check result.
type Observer interface {
	SetDependencyUp(name string, up bool)
}

// Result is the outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report aggregates the results of all checks.
type Report struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing"`
	Checks  []Result `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Available reports whether the named check passed. Checks that were not
// registered are reported as unavailable.
func (r Report) Available(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Healthy
		}
	}
	return false
}

type check struct {
	name string
	fn   CheckFunc
}

// Checker runs registered checks concurrently, each under its own timeout.
type Checker struct {
	mu       sync.RWMutex
	checks   []check
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// NewChecker creates a Checker. A non-positive timeout uses DefaultTimeout.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		timeout: timeout,
		logger:  logger.With(slog.String("component", "health")),
	}
}

// Register adds a named check. Registering an existing name replaces it.
func (c *Checker) Register(name string, fn CheckFunc) {
	if fn == nil {
		panic("check function cannot be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = fn
			return
		}
	}
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// SetObserver sets the receiver of check results.
func (c *Checker) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Run executes every check and returns the aggregated report. Checks are
// independent: one failing or hanging check does not affect the others.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	observer := c.observer
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, chk := range checks {
		wg.Add(1)
		go func(i int, chk check) {
			defer wg.Done()
			results[i] = c.runOne(ctx, chk)
		}(i, chk)
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Failing: []string{}, Checks: results}
	for _, r := range results {
		if observer != nil {
			observer.SetDependencyUp(r.Name, r.Healthy)
		}
		if !r.Healthy {
			report.Status = StatusDegraded
			report.Failing = append(report.Failing, r.Name)
		}
	}
	sort.Strings(report.Failing)

	if !report.Healthy() {
		c.logger.Warn("dependencies degraded", slog.Any("failing", report.Failing))
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, chk check) Result {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- chk.fn(checkCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	result := Result{Name: chk.name, Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "check timed out"
		} else {
			result.Error = redact.Error(err)
		}
		c.logger.Debug("health check failed",
			slog.String("check", chk.name),
			slog.String("error", result.Error))
	}
	return result
}

// Configured returns a check that passes when configured is true. It never
// performs I/O and is used for capabilities fixed at startup.
func Configured(configured bool, reason string) CheckFunc {
	return func(context.Context) error {
		if !configured {
			return errors.New(reason)
		}
		return nil
	}
}
