package controller

import (
	"github.com/dmateu/syncanvas/pkg/schema"
)

// validTransitions gates the controller lifecycle: imports, edits and saves
// each run to completion from idle before the next operation may begin, so a
// new external import is refused while one is already in flight.
var validTransitions = map[schema.ControllerState][]schema.ControllerState{
	schema.StateIdle:      {schema.StateImporting, schema.StateEditing, schema.StateSaving},
	schema.StateImporting: {schema.StateIdle},
	schema.StateEditing:   {schema.StateIdle},
	schema.StateSaving:    {schema.StateIdle},
}

func isValidTransition(from, to schema.ControllerState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// transition validates and applies a state change. Callers hold c.mu.
func (c *Controller) transition(to schema.ControllerState) error {
	if !isValidTransition(c.state, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid controller transition: %s -> %s", c.state, to).
			WithDetails(map[string]any{"project_id": c.projectID, "from": string(c.state), "to": string(to)})
	}
	c.state = to
	return nil
}
