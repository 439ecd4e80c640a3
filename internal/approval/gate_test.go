package approval

import (
	"context"
	"testing"

	"mvdan.cc/sh/v3/interp"
)

func noop(ctx context.Context, args []string) error { return nil }

func TestNeverPolicyAutoApproves(t *testing.T) {
	g := New(Never, WorkspaceWrite, nil)
	handler := g.ExecHandler(noop)
	if err := handler(context.Background(), []string{"ls"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUntrustedPolicyDeniesWithoutRequestFunc(t *testing.T) {
	g := New(Untrusted, WorkspaceWrite, nil)
	handler := g.ExecHandler(noop)
	err := handler(context.Background(), []string{"ls"})
	if err == nil {
		t.Fatal("expected denial when RequestFunc is nil")
	}
}

func TestApprovalGrantedForSessionMemoizes(t *testing.T) {
	g := New(Untrusted, WorkspaceWrite, nil)
	calls := 0
	g.RequestFunc = func(ctx context.Context, req *Request) {
		calls++
		req.Respond(ApprovedForSession)
	}
	handler := g.ExecHandler(noop)

	for i := 0; i < 3; i++ {
		if err := handler(context.Background(), []string{"ls", "-la"}); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 approval request due to memoization, got %d", calls)
	}
}

func TestReadOnlySandboxBlocksWrites(t *testing.T) {
	g := New(Never, ReadOnly, nil)
	handler := g.ExecHandler(noop)
	if err := handler(context.Background(), []string{"rm", "-rf", "x"}); err == nil {
		t.Fatal("expected read-only sandbox to block rm")
	}
}

func TestOnRequestAutoApprovesWithinRootsAsksOutside(t *testing.T) {
	g := New(OnRequest, WorkspaceWrite, []string{"/workspace"})
	calls := 0
	g.RequestFunc = func(ctx context.Context, req *Request) {
		calls++
		req.Respond(Approved)
	}
	handler := g.ExecHandler(noop)

	if err := handler(context.Background(), []string{"rm", "/workspace/a.txt"}); err != nil {
		t.Fatalf("unexpected error for in-root write: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no approval prompt for in-root write, got %d", calls)
	}

	if err := handler(context.Background(), []string{"rm", "/etc/passwd"}); err != nil {
		t.Fatalf("unexpected error for out-of-root write: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 approval prompt for out-of-root write, got %d", calls)
	}
}

func TestOnFailureAsksOnlyOutsideSandbox(t *testing.T) {
	g := New(OnFailure, ReadOnly, nil)
	calls := 0
	g.RequestFunc = func(ctx context.Context, req *Request) {
		calls++
		req.Respond(Denied)
	}
	handler := g.ExecHandler(noop)

	if err := handler(context.Background(), []string{"ls"}); err != nil {
		t.Fatalf("unexpected error for read within sandbox: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected read within sandbox to auto-approve, got %d prompts", calls)
	}

	if err := handler(context.Background(), []string{"rm", "x"}); err == nil {
		t.Fatal("expected write outside read-only sandbox to be denied")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 approval prompt for the write, got %d", calls)
	}
}

func TestApplyPatchRequiresApprovalOutsideRoots(t *testing.T) {
	g := New(OnRequest, WorkspaceWrite, []string{"/workspace"})
	calls := 0
	g.RequestFunc = func(ctx context.Context, req *Request) {
		calls++
		if req.Kind != KindApplyPatch {
			t.Fatalf("expected KindApplyPatch, got %v", req.Kind)
		}
		req.Respond(Denied)
	}

	if err := g.RequestApplyPatch(context.Background(), []string{"/workspace/a.txt"}); err != nil {
		t.Fatalf("unexpected error for in-root patch: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no prompt for in-root patch, got %d", calls)
	}

	if err := g.RequestApplyPatch(context.Background(), []string{"/etc/a.txt"}); err == nil {
		t.Fatal("expected denial for out-of-root patch")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 prompt for out-of-root patch, got %d", calls)
	}
}

func TestMcpElicitationAlwaysAsksExceptNeverPolicy(t *testing.T) {
	g := New(OnFailure, DangerFullAccess, nil)
	calls := 0
	g.RequestFunc = func(ctx context.Context, req *Request) {
		calls++
		if req.Kind != KindMcpElicitation {
			t.Fatalf("expected KindMcpElicitation, got %v", req.Kind)
		}
		req.Respond(Approved)
	}
	if err := g.RequestMcpElicitation(context.Background(), "some_tool"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected elicitation to always ask, got %d prompts", calls)
	}

	never := New(Never, DangerFullAccess, nil)
	never.RequestFunc = func(ctx context.Context, req *Request) {
		t.Fatal("Never policy should auto-approve elicitation without asking")
	}
	if err := never.RequestMcpElicitation(context.Background(), "some_tool"); err != nil {
		t.Fatalf("unexpected error under Never policy: %v", err)
	}
}

func TestResolveDeliversDecisionToPendingRequest(t *testing.T) {
	g := New(Untrusted, DangerFullAccess, nil)
	posted := make(chan string, 1)
	done := make(chan error, 1)
	g.RequestFunc = func(ctx context.Context, req *Request) {
		posted <- req.RequestID
	}
	go func() {
		done <- g.RequestMcpElicitation(context.Background(), "tool")
	}()

	requestID := <-posted
	if !g.Resolve(requestID, Approved) {
		t.Fatal("expected Resolve to find the pending request")
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

var _ = interp.ExecHandlerFunc(noop)
