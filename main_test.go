package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"excalidraw-docsync/docsync"
	"excalidraw-docsync/stores/memory"
)

func TestDurationEnv(t *testing.T) {
	t.Setenv("SAVE_DEBOUNCE_MS", "150")
	if got := durationEnv("SAVE_DEBOUNCE_MS", time.Second); got != 150*time.Millisecond {
		t.Errorf("durationEnv() = %v, want 150ms", got)
	}

	t.Setenv("SAVE_DEBOUNCE_MS", "soon")
	if got := durationEnv("SAVE_DEBOUNCE_MS", time.Second); got != time.Second {
		t.Errorf("durationEnv() with invalid value = %v, want fallback", got)
	}

	t.Setenv("SAVE_DEBOUNCE_MS", "-5")
	if got := durationEnv("SAVE_DEBOUNCE_MS", time.Second); got != time.Second {
		t.Errorf("durationEnv() with negative value = %v, want fallback", got)
	}

	if got := durationEnv("SYNC_UNSET_FOR_TEST", 32*time.Millisecond); got != 32*time.Millisecond {
		t.Errorf("durationEnv() unset = %v, want fallback", got)
	}
}

func TestSetupRouter(t *testing.T) {
	registry := docsync.NewRegistry(memory.NewStore(),
		docsync.WithDebounce(0),
		docsync.WithMinInterval(0),
		docsync.WithSettle(0),
	)
	defer registry.Close(context.Background())
	r := setupRouter(registry, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v2/documents/doc", strings.NewReader(`{"title":"Plan"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var rooms []roomInfo
	if err := json.NewDecoder(rec.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "doc" || !rooms[0].Open {
		t.Errorf("Unexpected rooms: %+v", rooms)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v2/documents/doc/versions", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Version routes registered without history: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "docsync_") {
		t.Errorf("Metrics endpoint mismatch: %d", rec.Code)
	}
}
