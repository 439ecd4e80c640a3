package interruptqueue

import "testing"

func TestDeferOrHandleRunsImmediatelyWhenEmpty(t *testing.T) {
	q := New()
	ran := false
	q.DeferOrHandle("ignored", func() { ran = true })
	if !ran {
		t.Fatal("expected immediate handler to run when queue is empty")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestDeferOrHandleQueuesWhenNonEmpty(t *testing.T) {
	q := New()
	q.Defer("first")

	ran := false
	q.DeferOrHandle("second", func() { ran = true })
	if ran {
		t.Fatal("expected handler not to run while queue is non-empty")
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 pending events, got %d", q.Len())
	}
}

func TestFlushAllPreservesOrder(t *testing.T) {
	q := New()
	q.Defer(1)
	q.Defer(2)
	q.Defer(3)

	var got []int
	q.FlushAll(func(event any) {
		got = append(got, event.(int))
	})

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected flush order: %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after flush, got %d", q.Len())
	}
}
