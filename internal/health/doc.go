// Package health runs named dependency checks and folds their results into
// a single healthy/degraded report.
package health
