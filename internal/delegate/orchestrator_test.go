package delegate

import (
	"context"
	"testing"
	"time"

	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/uibridge"
)

func TestDelegateAttachedBlocksAndReturnsResult(t *testing.T) {
	o := New(nil, 0)
	prov := provider.NewMock("mock", "done")
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider: prov,
		Proxy:    proxy,
		Prompt:   "do the thing",
		Attached: true,
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if run.Status() != StatusCompleted {
		t.Fatalf("expected completed status, got %v", run.Status())
	}
	if run.Result().Content != "done" {
		t.Fatalf("unexpected result content: %q", run.Result().Content)
	}
}

func TestDelegateDetachedReturnsImmediatelyThenCompletes(t *testing.T) {
	o := New(nil, 0)
	prov := provider.NewMock("mock", "finished later")
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider: prov,
		Proxy:    proxy,
		Prompt:   "background task",
		Attached: false,
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("detached run did not finish in time")
	}
	if run.Status() != StatusCompleted {
		t.Fatalf("expected completed status, got %v", run.Status())
	}

	found := false
	for _, r := range o.DetachedRuns() {
		if r.ID == run.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected run to appear in DetachedRuns")
	}
}

func TestDismissDetachedRunRejectsAttached(t *testing.T) {
	o := New(nil, 0)
	prov := provider.NewMock("mock", "x")
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider: prov,
		Proxy:    proxy,
		Prompt:   "task",
		Attached: true,
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if err := o.DismissDetachedRun(run.ID); err == nil {
		t.Fatal("expected dismissing an attached run to fail")
	}
}

func TestDelegateComputesDepthFromParentChain(t *testing.T) {
	o := New(nil, 0)
	prov := provider.NewMock("mock", "x")
	proxy := mcp.NewProxy(nil)

	root, err := o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "root", Attached: true,
	})
	if err != nil {
		t.Fatalf("delegate root: %v", err)
	}
	if root.Depth != 0 {
		t.Fatalf("expected root depth 0, got %d", root.Depth)
	}

	child, err := o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "child", Attached: true, ParentRunID: root.ID,
	})
	if err != nil {
		t.Fatalf("delegate child: %v", err)
	}
	if child.Depth != 1 {
		t.Fatalf("expected child depth 1, got %d", child.Depth)
	}

	grandchild, err := o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "grandchild", Attached: true, ParentRunID: child.ID,
	})
	if err != nil {
		t.Fatalf("delegate grandchild: %v", err)
	}
	if grandchild.Depth != 2 {
		t.Fatalf("expected grandchild depth 2, got %d", grandchild.Depth)
	}
}

func TestDelegateEnforcesMaxConcurrent(t *testing.T) {
	o := New(nil, 1)
	prov := provider.NewMock("mock", "x").SetDelay(200 * time.Millisecond)
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "first", Attached: false,
	})
	if err != nil {
		t.Fatalf("delegate first: %v", err)
	}

	_, err = o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "second", Attached: false,
	})
	if err != ErrTooManyDelegates {
		t.Fatalf("expected ErrTooManyDelegates, got %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not finish in time")
	}
}

func TestDelegateEmitsLifecycleEvents(t *testing.T) {
	bridge := uibridge.New()
	o := New(bridge, 0)
	prov := provider.NewMock("mock", "hello")
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider: prov, Proxy: proxy, Prompt: "task", Attached: true,
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	var states []string
drain:
	for {
		select {
		case evt := <-bridge.Events():
			if evt.Type != uibridge.EventDelegateUpdate {
				t.Fatalf("unexpected event type: %v", evt.Type)
			}
			if evt.DelegateRunID != run.ID {
				t.Fatalf("expected run id %q, got %q", run.ID, evt.DelegateRunID)
			}
			states = append(states, evt.DelegateState)
		default:
			break drain
		}
	}
	if len(states) < 2 || states[0] != "started" || states[len(states)-1] != "completed" {
		t.Fatalf("expected states to start with 'started' and end with 'completed', got %v", states)
	}
}

func TestParentRunForConversation(t *testing.T) {
	o := New(nil, 0)
	prov := provider.NewMock("mock", "x")
	proxy := mcp.NewProxy(nil)

	run, err := o.Delegate(context.Background(), Request{
		Provider:       prov,
		Proxy:          proxy,
		Prompt:         "task",
		Attached:       true,
		ParentRunID:    "parent-1",
		ConversationID: "conv-7",
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	_ = run
	if got := o.ParentRunForConversation("conv-7"); got != "parent-1" {
		t.Fatalf("expected parent-1, got %q", got)
	}
}
