// Package task executes generation tasks in the background. It defines the
// job queue contract with an in-process implementation, the worker pool
// that drains a queue, the idempotent job processor, and the monitor that
// fails or re-enqueues tasks left behind by crashed workers.
package task
