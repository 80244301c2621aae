package drawing

import (
	"encoding/json"
	"fmt"
	"time"

	"excalidraw-docsync/core"
)

const (
	FileType    = "excalidraw"
	FileVersion = 2
	FileSource  = "excalidraw-docsync"
)

// File is the self-describing .excalidraw document used for download and
// upload.
type File struct {
	Type     string         `json:"type"`
	Version  int            `json:"version"`
	Source   string         `json:"source"`
	Elements []core.Element `json:"elements"`
	AppState core.AppState  `json:"appState"`
	Files    core.Files     `json:"files"`
}

// ExportFile serializes state as an .excalidraw document.
func ExportFile(state *core.DrawingState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nothing to export: %w", core.ErrNotFound)
	}

	file := File{
		Type:     FileType,
		Version:  FileVersion,
		Source:   FileSource,
		Elements: state.Elements,
		AppState: SanitizeAppState(state.AppState),
		Files:    filesOrEmpty(state.Files),
	}
	if file.Elements == nil {
		file.Elements = []core.Element{}
	}
	return json.Marshal(file)
}

// ExportFileName is the download name for an export made at t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("excalidraw-%s.excalidraw", t.UTC().Format("2006-01-02"))
}

// ParseFile reads an uploaded file. It accepts documents marked with the
// excalidraw type or carrying a non-empty elements list; anything else is
// rejected with core.ErrMalformedImport before it can reach the cache.
func ParseFile(data []byte) (*core.DrawingState, error) {
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedImport, err)
	}

	if file.Type != FileType && len(file.Elements) == 0 {
		return nil, core.ErrMalformedImport
	}

	seen := make(map[string]struct{}, len(file.Elements))
	for i, element := range file.Elements {
		id := ElementID(element)
		if id == "" {
			return nil, fmt.Errorf("%w: element %d has no id", core.ErrMalformedImport, i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate element id %s", core.ErrMalformedImport, id)
		}
		seen[id] = struct{}{}
	}

	appState := make(core.AppState, len(file.AppState))
	for key, value := range file.AppState {
		if key == "collaborators" {
			continue
		}
		appState[key] = value
	}

	elements := file.Elements
	if elements == nil {
		elements = []core.Element{}
	}

	return &core.DrawingState{
		Elements: elements,
		AppState: appState,
		Files:    filesOrEmpty(file.Files),
	}, nil
}
