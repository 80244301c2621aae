package drawing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"excalidraw-docsync/core"

	"github.com/snorwin/jsonpatch"
)

// Result tells which axes of two snapshots differ.
type Result struct {
	IsEqual         bool
	ElementsChanged bool
	AppStateChanged bool
	FilesChanged    bool
}

// Compare decides whether a and b are semantically equal.
//
// Elements are compared as sets keyed by id. When onlyFieldsInB is set, only
// the appState keys carried by b are compared, which lets a full local
// snapshot be checked against a sanitized remote payload. sanitize may be nil.
func Compare(a, b *core.DrawingState, sanitize SanitizeFunc, onlyFieldsInB bool) Result {
	if a == nil && b == nil {
		return Result{IsEqual: true}
	}
	if a == nil || b == nil {
		return Result{ElementsChanged: true, AppStateChanged: true, FilesChanged: true}
	}

	elementsChanged := !deepEqual(sortedElements(a.Elements), sortedElements(b.Elements))

	clean := func(appState core.AppState) core.AppState {
		if sanitize != nil {
			return sanitize(appState)
		}
		if appState == nil {
			return core.AppState{}
		}
		return appState
	}

	var appStateChanged bool
	if onlyFieldsInB && b.AppState != nil {
		appStateA := clean(a.AppState)
		merged := make(core.AppState, len(appStateA))
		for key, value := range appStateA {
			merged[key] = value
		}
		for key, value := range clean(b.AppState) {
			merged[key] = value
		}
		appStateChanged = !deepEqual(appStateA, merged)
	} else {
		appStateChanged = !deepEqual(clean(a.AppState), clean(b.AppState))
	}

	filesChanged := !deepEqual(filesOrEmpty(a.Files), filesOrEmpty(b.Files))

	return Result{
		IsEqual:         !elementsChanged && !appStateChanged && !filesChanged,
		ElementsChanged: elementsChanged,
		AppStateChanged: appStateChanged,
		FilesChanged:    filesChanged,
	}
}

// Equal is Compare with full sanitizing, reporting only the verdict.
func Equal(a, b *core.DrawingState) bool {
	return Compare(a, b, SanitizeAppState, false).IsEqual
}

// Diff lists the JSON-pointer paths that differ between the sanitized forms
// of a and b. It is meant for diagnostics only.
func Diff(a, b *core.DrawingState) []string {
	current, err := toJSONMap(a)
	if err != nil {
		return nil
	}
	modified, err := toJSONMap(b)
	if err != nil {
		return nil
	}

	patch, err := jsonpatch.CreateJSONPatch(modified, current)
	if err != nil {
		return nil
	}

	paths := make([]string, 0, len(patch.List()))
	for _, op := range patch.List() {
		paths = append(paths, fmt.Sprintf("%s %s", op.Operation, op.Path))
	}
	return paths
}

func toJSONMap(state *core.DrawingState) (map[string]interface{}, error) {
	if state == nil {
		return map[string]interface{}{}, nil
	}
	normalized := core.DrawingState{
		Elements: sortedElements(state.Elements),
		AppState: SanitizeAppState(state.AppState),
		Files:    filesOrEmpty(state.Files),
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sortedElements(elements []core.Element) []core.Element {
	sorted := make([]core.Element, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ElementID(sorted[i]) < ElementID(sorted[j])
	})
	return sorted
}

// ElementID returns the id of an element or "" when it has none.
func ElementID(element core.Element) string {
	id, _ := element["id"].(string)
	return id
}

func filesOrEmpty(files core.Files) core.Files {
	if files == nil {
		return core.Files{}
	}
	return files
}

// deepEqual compares values by their canonical JSON encoding, so map key
// order and int/float representation do not matter.
func deepEqual(a, b any) bool {
	encodedA, errA := json.Marshal(a)
	encodedB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(encodedA, encodedB)
}
