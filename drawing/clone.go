package drawing

import (
	"encoding/json"
	"reflect"

	"excalidraw-docsync/core"
)

// CloneState returns a deep copy of state.
func CloneState(state *core.DrawingState) *core.DrawingState {
	if state == nil {
		return nil
	}
	return &core.DrawingState{
		Elements: CloneElements(state.Elements),
		AppState: cloneMap(state.AppState),
		Files:    CloneFiles(state.Files),
	}
}

// CloneElements returns a deep copy of elements.
func CloneElements(elements []core.Element) []core.Element {
	if elements == nil {
		return nil
	}
	out := make([]core.Element, len(elements))
	for i, element := range elements {
		out[i] = cloneMap(element)
	}
	return out
}

// CloneFiles returns a deep copy of files.
func CloneFiles(files core.Files) core.Files {
	return cloneMap(files)
}

// CloneAppState returns a deep copy of appState.
func CloneAppState(appState core.AppState) core.AppState {
	return cloneMap(appState)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case nil, bool, string, float64, float32, int, int64, int32, json.Number:
		return value
	case map[string]any:
		return cloneMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(value))
		for i, item := range value {
			out[i] = cloneMap(item)
		}
		return out
	case []string:
		return append([]string(nil), value...)
	case []float64:
		return append([]float64(nil), value...)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Ptr, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}
