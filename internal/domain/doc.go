// Package domain contains the core entities of the feedback orchestrator:
// generation tasks, their input context and the fixed-shape feedback result.
// It has no dependencies on storage, transport or provider packages.
package domain
