package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type scriptedProvider struct {
	name string
	resp *Response
	err  error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	return p.resp, p.err
}

func TestFallbackUsesSecondProvider(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", err: errors.New("overloaded")}
	secondary := &scriptedProvider{name: "openai", resp: &Response{Content: "ok", StopReason: "end_turn"}}

	f := NewFallbackProvider([]Provider{primary, secondary},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestFallbackAllProvidersFail(t *testing.T) {
	f := NewFallbackProvider([]Provider{
		&scriptedProvider{name: "a", err: errors.New("down")},
		&scriptedProvider{name: "b", err: errors.New("also down")},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := f.SendMessage(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestFallbackStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFallbackProvider([]Provider{
		&scriptedProvider{name: "a", resp: &Response{Content: "ok"}},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := f.SendMessage(ctx, &Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
