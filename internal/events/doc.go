// Package events carries task completion notifications between the component
// that finishes a task and anyone waiting for it.
//
// The primary components are:
// - TaskCompletedEvent: a task reached a terminal status
// - EventEmitter / EventHandler: publish and receive completion events
// - CompletionWaiter: a handler that lets callers block until a given task
// completes, used by inline-mode submissions
package events
