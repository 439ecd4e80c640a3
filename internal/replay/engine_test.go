package replay

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/xonecas/symbcore/internal/store"
)

func openTestStore(t *testing.T) *store.Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "replay.db")
	c, err := store.Open(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReplaySkipsSideEffectingToolRounds(t *testing.T) {
	db := openTestStore(t)
	if err := db.CreateSession("sess-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	shellCall, err := json.Marshal([]map[string]any{
		{"id": "call-1", "name": "Shell", "arguments": json.RawMessage(`{"command":"rm -rf /"}`)},
	})
	if err != nil {
		t.Fatalf("marshal tool calls: %v", err)
	}

	msgs := []store.SessionMessage{
		{Role: "user", Content: "please clean up"},
		{Role: "assistant", Content: "", ToolCalls: shellCall},
		{Role: "tool", Content: "done", ToolCallID: "call-1"},
		{Role: "assistant", Content: "all cleaned up"},
	}
	if err := db.SaveMessages("sess-1", msgs); err != nil {
		t.Fatalf("save messages: %v", err)
	}

	eng := New(db)
	events, err := eng.Replay("sess-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events (user + final assistant), got %d: %+v", len(events), events)
	}
	if events[0].Role != "user" || events[0].Content != "please clean up" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Role != "assistant" || events[1].Content != "all cleaned up" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	for _, ev := range events {
		if ev.ID != "" {
			t.Fatalf("expected synthetic empty ID, got %q", ev.ID)
		}
	}
}

func TestReplayKeepsNonSideEffectingToolRounds(t *testing.T) {
	db := openTestStore(t)
	if err := db.CreateSession("sess-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	grepCall, err := json.Marshal([]map[string]any{
		{"id": "call-2", "name": "Grep", "arguments": json.RawMessage(`{"pattern":"TODO"}`)},
	})
	if err != nil {
		t.Fatalf("marshal tool calls: %v", err)
	}

	msgs := []store.SessionMessage{
		{Role: "user", Content: "find TODOs"},
		{Role: "assistant", Content: "", ToolCalls: grepCall},
		{Role: "tool", Content: "3 matches", ToolCallID: "call-2"},
		{Role: "assistant", Content: "found 3 TODOs"},
	}
	if err := db.SaveMessages("sess-1", msgs); err != nil {
		t.Fatalf("save messages: %v", err)
	}

	eng := New(db)
	events, err := eng.Replay("sess-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected all 4 events preserved, got %d", len(events))
	}
}
