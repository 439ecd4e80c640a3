package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/uibridge"
)

func openTestStore(t *testing.T) *store.Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "session.db")
	c, err := store.Open(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestCore(t *testing.T, prov provider.Provider) (*Core, *store.Cache) {
	t.Helper()
	db := openTestStore(t)
	if err := db.CreateSession("sess-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	bridge := uibridge.New()
	t.Cleanup(bridge.Close)
	go func() {
		for range bridge.Events() {
		}
	}()
	core := New(Deps{
		Provider:  prov,
		Store:     db,
		SessionID: "sess-1",
		Bridge:    bridge,
		Queue:     interruptqueue.New(),
	})
	return core, db
}

func TestSubmitUserInputPersistsHistory(t *testing.T) {
	prov := provider.NewMock("mock", "hi there")
	core, db := newTestCore(t, prov)

	err := core.Submit(context.Background(), Op{
		Kind:  OpUserInput,
		Extra: []provider.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, err := db.LoadMessages("sess-1")
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored messages (user + assistant), got %d", len(stored))
	}
	if stored[0].Role != "user" || stored[0].Content != "hello" {
		t.Fatalf("unexpected first message: %+v", stored[0])
	}
	if stored[1].Role != "assistant" || stored[1].Content != "hi there" {
		t.Fatalf("unexpected second message: %+v", stored[1])
	}
}

func TestCompactReplacesHistoryWithSummary(t *testing.T) {
	prov := provider.NewMock("mock", "original reply")
	core, db := newTestCore(t, prov)

	if err := core.Submit(context.Background(), Op{
		Kind:  OpUserInput,
		Extra: []provider.Message{{Role: "user", Content: "hello"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	prov.WithResponse("summary of everything")
	if err := core.Submit(context.Background(), Op{Kind: OpCompact}); err != nil {
		t.Fatalf("compact: %v", err)
	}

	stored, err := db.LoadMessages("sess-1")
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected history replaced with single summary message, got %d", len(stored))
	}
	if stored[0].Role != "assistant" {
		t.Fatalf("expected summary message to be assistant role, got %q", stored[0].Role)
	}
}

func TestUndoWithNilTrackerIsNoop(t *testing.T) {
	prov := provider.NewMock("mock", "hi")
	core, _ := newTestCore(t, prov)

	if err := core.Submit(context.Background(), Op{Kind: OpUndo}); err != nil {
		t.Fatalf("undo with nil tracker should be a no-op, got err: %v", err)
	}
}
