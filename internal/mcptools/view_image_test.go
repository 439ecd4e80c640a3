package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/xonecas/symbcore/internal/uibridge"
)

func TestViewImageHandlerKnownMimeAttachesImageAndEmitsEvent(t *testing.T) {
	_, cleanup := setupTestFile(t, "unused")
	defer cleanup()
	dir, _ := os.Getwd()
	imgPath := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(imgPath, []byte("fake png bytes"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	bridge := uibridge.New()
	h := NewViewImageHandler(bridge)
	args, _ := json.Marshal(ViewImageArgs{File: "shot.png"})

	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success result, got error: %+v", result)
	}
	if len(result.Content) != 2 || result.Content[1].MimeType != "image/png" {
		t.Fatalf("expected a text block plus an image/png block, got %+v", result.Content)
	}

	select {
	case evt := <-bridge.Events():
		if evt.Type != uibridge.EventViewImageToolCall || evt.ToolText != "image/png" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected a ViewImageToolCall event to be posted")
	}
}

func TestViewImageHandlerUnknownMimeReturnsTextOnlySuccess(t *testing.T) {
	_, cleanup := setupTestFile(t, "unused")
	defer cleanup()
	dir, _ := os.Getwd()
	imgPath := filepath.Join(dir, "diagram.svg")
	if err := os.WriteFile(imgPath, []byte("<svg/>"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	bridge := uibridge.New()
	h := NewViewImageHandler(bridge)
	args, _ := json.Marshal(ViewImageArgs{File: "diagram.svg"})

	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected a text-only success, got error result: %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("expected a single text content block, got %+v", result.Content)
	}

	select {
	case evt := <-bridge.Events():
		if evt.Type != uibridge.EventViewImageToolCall {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected a ViewImageToolCall event even for an unknown MIME type")
	}
}

func TestViewImageHandlerHeicIsKnownMime(t *testing.T) {
	_, cleanup := setupTestFile(t, "unused")
	defer cleanup()
	dir, _ := os.Getwd()
	imgPath := filepath.Join(dir, "photo.heic")
	if err := os.WriteFile(imgPath, []byte("fake heic bytes"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	h := NewViewImageHandler(nil)
	args, _ := json.Marshal(ViewImageArgs{File: "photo.heic"})

	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected heic to be treated as a known image type, got error: %+v", result)
	}
}
