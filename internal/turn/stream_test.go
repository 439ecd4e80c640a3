package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/uibridge"
)

func drainEvents(bridge *uibridge.Bridge) ([]uibridge.AppEvent, <-chan struct{}) {
	done := make(chan struct{})
	var events []uibridge.AppEvent
	go func() {
		for ev := range bridge.Events() {
			events = append(events, ev)
		}
		close(done)
	}()
	return events, done
}

func TestStreamForwardsContentAndCompletion(t *testing.T) {
	mock := provider.NewMock("mock", "hello world")
	bridge := uibridge.New()
	queue := interruptqueue.New()

	eventsCh := make(chan []uibridge.AppEvent, 1)
	go func() {
		var events []uibridge.AppEvent
		for ev := range bridge.Events() {
			events = append(events, ev)
		}
		eventsCh <- events
	}()

	err := Stream(context.Background(), Options{
		Provider: mock,
		History:  []provider.Message{{Role: "user", Content: "hi"}},
		Bridge:   bridge,
		Queue:    queue,
	})
	bridge.Close()
	events := <-eventsCh

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotContent string
	var gotCompleted bool
	for _, ev := range events {
		if ev.Type == uibridge.EventContentDelta {
			gotContent += ev.ContentDelta
		}
		if ev.Type == uibridge.EventTurnCompleted {
			gotCompleted = true
		}
	}
	if gotContent != "hello world" {
		t.Fatalf("expected full content forwarded, got %q", gotContent)
	}
	if !gotCompleted {
		t.Fatal("expected a turn-completed event")
	}
}

func TestStreamSuppressesDuplicateErrorEvents(t *testing.T) {
	wantErr := errors.New("boom")
	mock := provider.NewMock("mock", "").WithStreamError(wantErr)
	bridge := uibridge.New()
	queue := interruptqueue.New()

	eventsCh := make(chan []uibridge.AppEvent, 1)
	go func() {
		var events []uibridge.AppEvent
		for ev := range bridge.Events() {
			events = append(events, ev)
		}
		eventsCh <- events
	}()

	err := Stream(context.Background(), Options{
		Provider: mock,
		History:  []provider.Message{{Role: "user", Content: "hi"}},
		Bridge:   bridge,
		Queue:    queue,
	})
	bridge.Close()
	events := <-eventsCh

	if err == nil {
		t.Fatal("expected an error from Stream")
	}

	errCount := 0
	for _, ev := range events {
		if ev.Type == uibridge.EventTurnError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Fatalf("expected exactly 1 turn-error event, got %d", errCount)
	}
}
