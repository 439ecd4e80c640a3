package iterationloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRunStopsOnPromiseMatch(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	l := New(statePath, "do the thing", "DONE", 0, 0)

	calls := 0
	result, err := l.Run(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "still working", nil
		}
		return "all finished <promise>DONE</promise>", nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Reason != PromiseDetected {
		t.Fatalf("expected PromiseDetected, got %v", result.Reason)
	}
	if result.TotalIterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", result.TotalIterations)
	}
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Fatal("expected state file to be removed after completion")
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	l := New(statePath, "do the thing", "DONE", 3, 0)

	calls := 0
	result, err := l.Run(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "never matches", nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Reason != MaxIterations {
		t.Fatalf("expected MaxIterations, got %v", result.Reason)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 submissions, got %d", calls)
	}
}

func TestRunPropagatesFatalError(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	l := New(statePath, "do the thing", "DONE", 0, 0)

	wantErr := errors.New("boom")
	result, err := l.Run(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
	if result.Reason != FatalError {
		t.Fatalf("expected FatalError, got %v", result.Reason)
	}
}

func TestMatchesPromiseIgnoresWhitespaceDifferences(t *testing.T) {
	if !matchesPromise("done: <promise>  DONE   now  </promise>", "DONE now") {
		t.Fatal("expected whitespace-normalized match")
	}
	if matchesPromise("no promise tag here", "DONE") {
		t.Fatal("expected no match without a promise tag")
	}
}
