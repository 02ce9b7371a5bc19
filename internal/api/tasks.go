package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/pregen/internal/domain"
)

// TaskRequest is the body of POST /api/tasks and one entry of a selection
// file. Shape defaults to square and Pattern to loop.
type TaskRequest struct {
	World   string `json:"world" yaml:"world"`
	Shape   string `json:"shape,omitempty" yaml:"shape,omitempty"`
	CenterX int    `json:"center_x" yaml:"center_x"`
	CenterZ int    `json:"center_z" yaml:"center_z"`
	Radius  int    `json:"radius" yaml:"radius"`
	RadiusZ int    `json:"radius_z,omitempty" yaml:"radius_z,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Selection validates the request and turns it into a domain selection.
func (req TaskRequest) Selection() (domain.Selection, error) {
	shapeName, patternName := req.Shape, req.Pattern
	if shapeName == "" {
		shapeName = "square"
	}
	if patternName == "" {
		patternName = "loop"
	}
	kind, err := domain.ParseShapeKind(shapeName)
	if err != nil {
		return domain.Selection{}, err
	}
	pattern, err := domain.ParsePattern(patternName)
	if err != nil {
		return domain.Selection{}, err
	}
	shape, err := domain.NewShape(kind, req.CenterX, req.CenterZ, req.Radius, req.RadiusZ)
	if err != nil {
		return domain.Selection{}, err
	}
	sel := domain.Selection{World: req.World, Shape: shape, Pattern: pattern}
	return sel, sel.Validate()
}

// TaskAccepted is returned when a command was queued for the next tick.
type TaskAccepted struct {
	World  string `json:"world"`
	Action string `json:"action"`
	Status string `json:"status"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":   s.sched.Snapshot(),
		"holding": s.watchdog.Holding(),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	p, err := s.sched.Progress(chi.URLParam(r, "world"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	sel, err := req.Selection()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.sched.Start(sel); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskAccepted{World: sel.World, Action: "start", Status: "queued"})
}

// handleTaskCommand wraps a scheduler command (pause, continue, cancel).
func (s *Server) handleTaskCommand(action string, cmd func(world string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		world := chi.URLParam(r, "world")
		if err := cmd(world); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, TaskAccepted{World: world, Action: action, Status: "queued"})
	}
}
