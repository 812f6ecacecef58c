package workflow

import "time"

// StepEvent is emitted by the engine after every node execution. The
// State pointer references the live run state; consumers that need a
// stable view should copy the fields they care about before the next
// step runs.
type StepEvent struct {
	Step     int       `json:"step"`
	Node     NodeName  `json:"node"`
	Next     NodeName  `json:"next"`
	Err      error     `json:"-"`
	ErrMsg   string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
	State    *State    `json:"-"`
}
