package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xonecas/symbcore/internal/delegate"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/shell"
)

func TestSubAgentHandlerDelegatesAndReturnsResult(t *testing.T) {
	prov := provider.NewMock("mock", "sub-agent summary")
	sh := shell.New(t.TempDir(), nil)
	orch := delegate.New(nil, 0)

	handler := NewSubAgentHandler(prov, nil, nil, sh, nil, "", nil, orch, "conv-1")

	args, err := json.Marshal(SubAgentArgs{Prompt: "do a focused task"})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	result, err := handler.Handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected non-empty tool result content")
	}
	if result.Content[0].Text == "" {
		t.Fatal("expected result text to be populated")
	}
}

func TestSubAgentHandlerRejectsEmptyPrompt(t *testing.T) {
	prov := provider.NewMock("mock", "x")
	sh := shell.New(t.TempDir(), nil)
	orch := delegate.New(nil, 0)

	handler := NewSubAgentHandler(prov, nil, nil, sh, nil, "", nil, orch, "conv-1")

	args, _ := json.Marshal(SubAgentArgs{})
	result, err := handler.Handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for empty prompt")
	}
}
