package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The engine consumes these; infra packages implement them.

// Materializer asks the host world engine to load or generate one cell.
// Failures are retryable: the engine retries the same cell later.
type Materializer interface {
	EnsureLoaded(ctx context.Context, world string, x, z int) error
}

// SignalSource returns fresh numeric health readings keyed by signal.
type SignalSource interface {
	Poll(ctx context.Context) (Readings, error)
}

// MapOverlay is notified when a task starts or stops. Purely informational.
type MapOverlay interface {
	AddShapeMarker(world string, shape Shape)
	RemoveShapeMarker(world string)
	RemoveAllShapeMarkers()
}

// TaskStore persists task records keyed by world.
// Save must leave either the previous or the new record after a crash.
type TaskStore interface {
	// Load returns the record for a world, or ErrRecordNotFound.
	Load(world string) (TaskRecord, error)

	// LoadAll returns every resumable record. Cancelled and completed records
	// are omitted; malformed records are skipped with a warning.
	LoadAll() ([]TaskRecord, error)

	// List returns every record, including cancelled and completed ones.
	List() ([]TaskRecord, error)

	Save(rec TaskRecord) error
	Delete(world string) error
	Close() error
}

// NopOverlay discards marker updates.
type NopOverlay struct{}

func (NopOverlay) AddShapeMarker(string, Shape) {}
func (NopOverlay) RemoveShapeMarker(string)     {}
func (NopOverlay) RemoveAllShapeMarkers()       {}
