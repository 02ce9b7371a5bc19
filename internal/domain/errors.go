package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Selection errors
	ErrInvalidShape   = errors.New("invalid shape parameters")
	ErrUnknownShape   = errors.New("unknown shape")
	ErrUnknownPattern = errors.New("unknown pattern")
	ErrEmptyWorld     = errors.New("world id is required")

	// Task lifecycle errors
	ErrTaskExists    = errors.New("a generation task already exists for this world")
	ErrTaskNotFound  = errors.New("no generation task for this world")
	ErrTaskNotActive = errors.New("generation task is not active")
	ErrTaskTerminal  = errors.New("generation task already finished or cancelled")

	// Persistence errors
	ErrRecordNotFound  = errors.New("task record not found")
	ErrMalformedRecord = errors.New("malformed task record")

	// Collaborator errors
	ErrMaterialize = errors.New("cell materialization failed")
	ErrNoReadings  = errors.New("health signal source returned no readings")
)
