package drawing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"excalidraw-docsync/core"
)

func TestExportFile(t *testing.T) {
	state := sampleState()

	data, err := ExportFile(state)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}
	if file.Type != FileType || file.Version != FileVersion || file.Source != FileSource {
		t.Errorf("header mismatch: %+v", file)
	}
	if len(file.Elements) != 3 {
		t.Errorf("Elements length mismatch: got %d, want 3", len(file.Elements))
	}
	if _, ok := file.AppState["scrollX"]; ok {
		t.Error("export leaked session-local scrollX")
	}
}

func TestExportFile_Nil(t *testing.T) {
	if _, err := ExportFile(nil); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ExportFile(nil) error mismatch: got %v", err)
	}
}

func TestExportFileName(t *testing.T) {
	got := ExportFileName(time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC))
	if got != "excalidraw-2024-03-09.excalidraw" {
		t.Errorf("ExportFileName() = %q", got)
	}
}

func TestParseFile(t *testing.T) {
	testCases := []struct {
		name     string
		data     string
		wantErr  bool
		elements int
	}{
		{"Typed", `{"type":"excalidraw","elements":[{"id":"x","type":"rectangle"}]}`, false, 1},
		{"Typed empty", `{"type":"excalidraw","elements":[]}`, false, 0},
		{"Untyped with elements", `{"elements":[{"id":"x"}],"appState":{}}`, false, 1},
		{"Untyped without elements", `{"elements":[]}`, true, 0},
		{"Other type", `{"type":"other"}`, true, 0},
		{"Not JSON", `hello`, true, 0},
		{"Element without id", `{"type":"excalidraw","elements":[{"type":"line"}]}`, true, 0},
		{"Duplicate ids", `{"type":"excalidraw","elements":[{"id":"a"},{"id":"a"}]}`, true, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state, err := ParseFile([]byte(tc.data))
			if tc.wantErr {
				if !errors.Is(err, core.ErrMalformedImport) {
					t.Errorf("ParseFile() error mismatch: got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFile() failed: %v", err)
			}
			if len(state.Elements) != tc.elements {
				t.Errorf("Elements length mismatch: got %d, want %d", len(state.Elements), tc.elements)
			}
			if state.Files == nil {
				t.Error("Files should default to an empty map")
			}
		})
	}
}

func TestParseFile_DropsCollaborators(t *testing.T) {
	state, err := ParseFile([]byte(`{"type":"excalidraw","elements":[],"appState":{"collaborators":{"x":1},"viewBackgroundColor":"#fff"}}`))
	if err != nil {
		t.Fatalf("ParseFile() failed: %v", err)
	}
	if _, ok := state.AppState["collaborators"]; ok {
		t.Error("collaborators survived import")
	}
	if state.AppState["viewBackgroundColor"] != "#fff" {
		t.Error("semantic appState lost on import")
	}
}

func TestExportParseRoundTrip(t *testing.T) {
	data, err := ExportFile(sampleState())
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	state, err := ParseFile(data)
	if err != nil {
		t.Fatalf("ParseFile() failed: %v", err)
	}
	if !Equal(sampleState(), state) {
		t.Errorf("round trip changed the drawing: %v", Diff(sampleState(), state))
	}
}
