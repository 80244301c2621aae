package drawing

import (
	"testing"

	"excalidraw-docsync/core"
)

func TestSanitizeAppState_RemovesEphemeralFields(t *testing.T) {
	appState := core.AppState{
		"viewBackgroundColor": "#ffffff",
		"scrollX":             10.0,
		"scrollY":             20.0,
		"zoom":                map[string]any{"value": 1.5},
		"selectedElementIds":  map[string]any{"a": true},
		"collaborators":       map[string]any{},
		"draggingElement":     map[string]any{"id": "a"},
		"openMenu":            "canvas",
		"gridSize":            20.0,
	}

	clean := SanitizeAppState(appState)

	if len(clean) != 2 {
		t.Fatalf("SanitizeAppState() kept %d keys, want 2: %v", len(clean), clean)
	}
	if clean["viewBackgroundColor"] != "#ffffff" {
		t.Errorf("viewBackgroundColor mismatch: got %v", clean["viewBackgroundColor"])
	}
	if clean["gridSize"] != 20.0 {
		t.Errorf("gridSize mismatch: got %v", clean["gridSize"])
	}
}

func TestSanitizeAppState_DoesNotMutateInput(t *testing.T) {
	appState := core.AppState{"scrollX": 1.0, "name": "drawing"}

	_ = SanitizeAppState(appState)

	if _, ok := appState["scrollX"]; !ok {
		t.Error("SanitizeAppState() mutated its input")
	}
}

func TestSanitizeAppState_Nil(t *testing.T) {
	clean := SanitizeAppState(nil)
	if clean == nil {
		t.Fatal("SanitizeAppState(nil) returned nil map")
	}
	if len(clean) != 0 {
		t.Errorf("SanitizeAppState(nil) returned %d keys", len(clean))
	}
}

func TestSanitizeAppState_Idempotent(t *testing.T) {
	appState := core.AppState{
		"viewBackgroundColor": "#000",
		"scrollX":             3.0,
		"activeTool":          map[string]any{"type": "selection"},
		"currentItemFontSize": 20.0,
	}

	once := SanitizeAppState(appState)
	twice := SanitizeAppState(once)

	if !deepEqual(once, twice) {
		t.Errorf("SanitizeAppState() not idempotent: %v vs %v", once, twice)
	}
}

func TestMergeAppState_KeepsLocalViewState(t *testing.T) {
	local := core.AppState{"scrollX": 100.0, "viewBackgroundColor": "#fff"}
	remote := core.AppState{"scrollX": 0.0, "viewBackgroundColor": "#000"}

	merged := MergeAppState(local, remote)

	if merged["scrollX"] != 100.0 {
		t.Errorf("local scrollX was clobbered: got %v", merged["scrollX"])
	}
	if merged["viewBackgroundColor"] != "#000" {
		t.Errorf("remote viewBackgroundColor not applied: got %v", merged["viewBackgroundColor"])
	}
	if local["viewBackgroundColor"] != "#fff" {
		t.Error("MergeAppState() mutated its base")
	}
}

func TestIsExcluded(t *testing.T) {
	if !IsExcluded("zoom") {
		t.Error("zoom should be excluded")
	}
	if IsExcluded("viewBackgroundColor") {
		t.Error("viewBackgroundColor should not be excluded")
	}
}
