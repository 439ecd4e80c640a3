package uibridge

import (
	"context"
	"testing"
)

func TestSendAndDrain(t *testing.T) {
	b := New()
	b.Send(context.Background(), AppEvent{Type: EventContentDelta, ContentDelta: "hi"})
	b.Close()

	var got []AppEvent
	for ev := range b.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].ContentDelta != "hi" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestTrySendNonBlockingWhenFull(t *testing.T) {
	b := &Bridge{events: make(chan AppEvent, 1)}
	if !b.TrySend(AppEvent{Type: EventUsage}) {
		t.Fatal("expected first TrySend to succeed")
	}
	if b.TrySend(AppEvent{Type: EventUsage}) {
		t.Fatal("expected second TrySend to fail on a full channel")
	}
}

func TestSendRespectsContextCancellation(t *testing.T) {
	b := &Bridge{events: make(chan AppEvent)} // unbuffered, no consumer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Must return promptly rather than blocking forever on the unbuffered channel.
	b.Send(ctx, AppEvent{Type: EventUsage})
}
