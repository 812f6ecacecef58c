// Package ws streams workflow run step events over WebSocket. Clients
// connect with a run ID and receive one JSON envelope per step until
// the run terminates.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/uamuzi/internal/storage"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

const subprotocol = "uamuzi-run-v1"

// RunService is the slice of the engine the stream server needs.
type RunService interface {
	Subscribe(runID uuid.UUID) (<-chan workflow.StepEvent, func())
}

// Envelope is one message on the wire.
type Envelope struct {
	Type     string    `json:"type"` // "step", "done", or "error"
	Step     int       `json:"step,omitempty"`
	Node     string    `json:"node,omitempty"`
	Next     string    `json:"next,omitempty"`
	Error    string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
	At       time.Time `json:"at,omitempty"`
	Status   string    `json:"status,omitempty"` // Set on the "done" message.
}

// Server upgrades HTTP connections and streams run events.
type Server struct {
	service RunService
	runs    storage.RunStore
	token   string // Empty = auth disabled.
	logger  *slog.Logger
}

// NewServer creates a WebSocket stream server.
func NewServer(service RunService, runs storage.RunStore, token string, logger *slog.Logger) *Server {
	return &Server{service: service, runs: runs, token: token, logger: logger}
}

// Handler returns the http.Handler to mount at the WebSocket path.
// Clients pass the run ID as the "id" query parameter and the token as
// "token" or a Bearer Authorization header.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	runID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return
	}
	if _, err := s.runs.Get(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "loading run failed", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.streamRun(r.Context(), conn, runID)
}

// streamRun writes step envelopes until the run terminates, then a
// final "done" message with the persisted status, and closes.
func (s *Server) streamRun(ctx context.Context, conn *websocket.Conn, runID uuid.UUID) {
	defer conn.Close(websocket.StatusNormalClosure, "run finished")

	events, cancel := s.service.Subscribe(runID)
	defer cancel()

	streamed := false
	for ev := range events {
		streamed = true
		env := Envelope{
			Type:     "step",
			Step:     ev.Step,
			Node:     string(ev.Node),
			Next:     string(ev.Next),
			Error:    ev.ErrMsg,
			Terminal: ev.Terminal,
			At:       ev.At,
		}
		if err := s.write(ctx, conn, env); err != nil {
			s.logger.Warn("websocket write failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	// A finished run streams nothing live; replay the persisted history.
	if !streamed {
		steps, err := s.runs.Steps(ctx, runID)
		if err != nil {
			_ = s.write(ctx, conn, Envelope{Type: "error", Error: "loading steps failed"})
			return
		}
		for _, st := range steps {
			env := Envelope{
				Type:     "step",
				Step:     st.Step,
				Node:     st.Node,
				Next:     st.Next,
				Error:    st.ErrMsg,
				Terminal: st.Terminal,
				At:       st.At,
			}
			if err := s.write(ctx, conn, env); err != nil {
				return
			}
		}
	}

	status := ""
	if run, err := s.runs.Get(ctx, runID); err == nil {
		status = string(run.Status)
	}
	_ = s.write(ctx, conn, Envelope{Type: "done", Status: status})
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
