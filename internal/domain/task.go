// Package domain — generation task types.
// A generation task walks one Shape in one Pattern for one world:
// create → active ⇄ paused → completed | cancelled.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskActive    TaskStatus = "ACTIVE"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskCompleted TaskStatus = "COMPLETED"
)

// IsTerminal returns true if the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCancelled || s == TaskCompleted
}

// Selection is a request to generate one region of one world.
type Selection struct {
	World   string
	Shape   Shape
	Pattern Pattern
}

// Validate checks the world id and the shape.
func (s Selection) Validate() error {
	if strings.TrimSpace(s.World) == "" {
		return ErrEmptyWorld
	}
	return s.Shape.Validate()
}

// TaskRecord is the persisted snapshot of a generation task.
// A nil RadiusZ means RadiusZ == RadiusX.
type TaskRecord struct {
	World          string    `json:"world"`
	ShapeKind      string    `json:"shape"`
	CenterX        int       `json:"center_x"`
	CenterZ        int       `json:"center_z"`
	RadiusX        int       `json:"radius"`
	RadiusZ        *int      `json:"radius_z,omitempty"`
	Pattern        string    `json:"iterator"`
	CellsCompleted int64     `json:"count"`
	TotalActiveMs  int64     `json:"time"`
	Cancelled      bool      `json:"cancelled"`
	Paused         bool      `json:"paused,omitempty"`
	Completed      bool      `json:"completed,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Resumable reports whether a restart should reconstruct the task.
func (r TaskRecord) Resumable() bool {
	return !r.Cancelled && !r.Completed
}

// Selection decodes the shape and pattern of the record.
func (r TaskRecord) Selection() (Selection, error) {
	kind, err := ParseShapeKind(r.ShapeKind)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	pattern, err := ParsePattern(r.Pattern)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	radiusZ := r.RadiusX
	if r.RadiusZ != nil && !kind.Symmetric() {
		radiusZ = *r.RadiusZ
	}
	shape, err := NewShape(kind, r.CenterX, r.CenterZ, r.RadiusX, radiusZ)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	sel := Selection{World: r.World, Shape: shape, Pattern: pattern}
	if err := sel.Validate(); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return sel, nil
}

// Validate checks that the record can be turned back into a task.
func (r TaskRecord) Validate() error {
	if _, err := r.Selection(); err != nil {
		return err
	}
	if r.CellsCompleted < 0 || r.TotalActiveMs < 0 {
		return fmt.Errorf("%w: negative counters", ErrMalformedRecord)
	}
	return nil
}

// RecordShape fills the shape and pattern fields of a record. RadiusZ is only
// written for kinds that carry a second radius.
func RecordShape(rec *TaskRecord, shape Shape, pattern Pattern) {
	rec.ShapeKind = shape.Kind.String()
	rec.CenterX = shape.CenterX
	rec.CenterZ = shape.CenterZ
	rec.RadiusX = shape.RadiusX
	rec.RadiusZ = nil
	if !shape.Kind.Symmetric() {
		rz := shape.RadiusZ
		rec.RadiusZ = &rz
	}
	rec.Pattern = pattern.String()
}

// Progress is a read-only view of a task for status surfaces.
type Progress struct {
	World          string        `json:"world"`
	RunID          string        `json:"run_id"`
	Shape          string        `json:"shape"`
	Pattern        string        `json:"pattern"`
	Status         TaskStatus    `json:"status"`
	Held           bool          `json:"held"`
	CellsCompleted int64         `json:"cells_completed"`
	TotalCells     int64         `json:"total_cells"`
	Percent        float64       `json:"percent"`
	Rate           float64       `json:"rate"` // cells per second over the recent window
	ETA            time.Duration `json:"eta_ns"`
	ActiveTime     time.Duration `json:"active_time_ns"`
	Failures       int           `json:"consecutive_failures"`
	LastError      string        `json:"last_error,omitempty"`
}
