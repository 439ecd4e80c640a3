package shutdown

import (
	"errors"
	"testing"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	s := New()
	var order []string
	s.Register("a", func() error { order = append(order, "a"); return nil })
	s.Register("b", func() error { order = append(order, "b"); return nil })
	s.Register("c", func() error { order = append(order, "c"); return nil })

	if err := s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestShutdownCollectsErrorsButRunsAll(t *testing.T) {
	s := New()
	ran := 0
	s.Register("first", func() error { ran++; return errors.New("boom1") })
	s.Register("second", func() error { ran++; return errors.New("boom2") })

	err := s.Shutdown()
	if ran != 2 {
		t.Fatalf("expected both closers to run, ran=%d", ran)
	}
	if err == nil {
		t.Fatal("expected a joined error")
	}
}

func TestSuppressNextCompleteConsumedOnce(t *testing.T) {
	s := New()
	s.SuppressNextComplete()
	if !s.ConsumeSuppressNextComplete() {
		t.Fatal("expected suppression flag set")
	}
	if s.ConsumeSuppressNextComplete() {
		t.Fatal("expected suppression flag cleared after consume")
	}
}
