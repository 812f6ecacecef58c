package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/uamuzi/internal/storage"
)

// SSEEvent is one server-sent step event.
type SSEEvent struct {
	Step     int       `json:"step,omitempty"`
	Node     string    `json:"node,omitempty"`
	Next     string    `json:"next,omitempty"`
	Error    string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
	At       time.Time `json:"at,omitempty"`
	Status   string    `json:"status,omitempty"` // Set on the closing event.
}

// handleRunEvents streams a run's step events as server-sent events.
// For a finished run it replays the persisted step history instead.
func (g *Gateway) handleRunEvents(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	run, err := g.runs.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		return c.AbortInternalServerError("loading run failed")
	}

	events, cancel := g.service.Subscribe(id)
	defer cancel()

	// A run that already finished streams nothing live; replay the
	// persisted history so clients get a consistent view either way.
	replayed := false
	for ev := range events {
		replayed = true
		c.SSEvent("step", SSEEvent{
			Step:     ev.Step,
			Node:     string(ev.Node),
			Next:     string(ev.Next),
			Error:    ev.ErrMsg,
			Terminal: ev.Terminal,
			At:       ev.At,
		})
	}
	if !replayed {
		steps, err := g.runs.Steps(c.Context(), id)
		if err != nil {
			c.SSEvent("error", SSEEvent{Error: "loading steps failed"})
			return nil
		}
		for _, s := range steps {
			c.SSEvent("step", SSEEvent{
				Step:     s.Step,
				Node:     s.Node,
				Next:     s.Next,
				Error:    s.ErrMsg,
				Terminal: s.Terminal,
				At:       s.At,
			})
		}
	}

	// Report the final status from the store; the live run updated it
	// before closing the subscriber channels.
	if final, err := g.runs.Get(c.Context(), id); err == nil {
		run = final
	}
	c.SSEvent("done", SSEEvent{Status: string(run.Status)})
	return nil
}
