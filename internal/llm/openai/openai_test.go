package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/uamuzi/internal/llm"
)

// newTestClient spins up a fake Chat Completions endpoint and returns a
// client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithBaseURL(srv.URL)}, opts...)
	return NewClient("test-key", "gpt-4o", logger, opts...)
}

func writeChatResponse(w http.ResponseWriter, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestSendMessageText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", r.Header.Get("Authorization"))
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected message layout: %+v", req.Messages)
		}

		writeChatResponse(w, apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: "Three pods are pending."},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 10, CompletionTokens: 5},
		})
	})

	resp, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are a Kubernetes research agent.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "why is the deploy stuck?"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "Three pods are pending." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop reason = %q, want end_turn", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestSendMessageToolUse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "shell_exec" {
			t.Errorf("unexpected tools: %+v", req.Tools)
		}

		writeChatResponse(w, apiResponse{
			Choices: []apiChoice{{
				Message: apiChoiceMessage{
					Role: "assistant",
					ToolCalls: []apiToolCall{{
						ID:   "call_123",
						Type: "function",
						Function: apiToolCallFunction{
							Name:      "shell_exec",
							Arguments: `{"command":"kubectl get pods -n prod"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
			Usage: apiUsage{PromptTokens: 20, CompletionTokens: 15},
		})
	})

	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "check the prod pods"}},
		Tools: []llm.ToolDefinition{{
			Name:        "shell_exec",
			Description: "Execute a shell command",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	if !resp.HasToolUse() {
		t.Fatal("HasToolUse() = false, want true")
	}
	blocks := resp.ToolUseBlocks()
	if len(blocks) != 1 || blocks[0].Name != "shell_exec" || blocks[0].ID != "call_123" {
		t.Errorf("unexpected tool use blocks: %+v", blocks)
	}
	if blocks[0].Input["command"] != "kubectl get pods -n prod" {
		t.Errorf("tool input = %v", blocks[0].Input)
	}
}

func TestSendMessageToolResultRoundTrip(t *testing.T) {
	var captured apiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		writeChatResponse(w, apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: "Done."},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 30, CompletionTokens: 5},
		})
	})

	_, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are a research agent.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "check the prod pods"},
			{
				Role: llm.RoleAssistant,
				ContentBlocks: []llm.ContentBlock{
					llm.ToolUseBlock("call_1", "shell_exec", map[string]any{"command": "kubectl get pods"}),
				},
			},
			{
				Role: llm.RoleUser,
				ContentBlocks: []llm.ContentBlock{
					llm.ToolResultBlock("call_1", "NAME READY STATUS\napi-7d4f 1/1 Running", false),
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// system + user + assistant(tool_calls) + tool result.
	if len(captured.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(captured.Messages))
	}
	assistant := captured.Messages[2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Errorf("unexpected assistant message: %+v", assistant)
	}
	toolMsg := captured.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", toolMsg)
	}
}

func TestSendMessageOllamaNoAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want empty", auth)
		}
		writeChatResponse(w, apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: "OK"},
				FinishReason: "stop",
			}},
		})
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient("", "llama3.1", logger, WithBaseURL(srv.URL), WithName("ollama"))
	if client.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", client.Name())
	}

	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "OK" {
		t.Errorf("content = %q, want OK", resp.Content)
	}
}

func TestSendMessageModelAndTemperatureOverride(t *testing.T) {
	var captured apiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		writeChatResponse(w, apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: `{"request_type":"general_task"}`},
				FinishReason: "stop",
			}},
		})
	})

	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "classify this request"}},
		Model:       "gpt-4o-mini",
		Temperature: llm.ColdTemperature(),
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if captured.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", captured.Model)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", captured.Temperature)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	})

	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"stop", "end_turn"},
		{"tool_calls", "tool_use"},
		{"length", "max_tokens"},
		{"content_filter", "content_filter"},
	}
	for _, tt := range tests {
		if got := normalizeFinishReason(tt.input); got != tt.want {
			t.Errorf("normalizeFinishReason(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
