package drawing

import (
	"math"

	"excalidraw-docsync/core"
)

// interactionKeys are the appState fields that are set while a gesture is in
// flight.
var interactionKeys = []string{
	"editingElement",
	"multiElement",
	"draggingElement",
	"resizingElement",
	"isResizing",
	"isRotating",
	"editingLinearElement",
	"selectedLinearElement",
	"selectedElementsAreBeingDragged",
	"editingGroupId",
	"editingFrame",
	"activeEmbeddable",
	"pendingImageElementId",
}

// IsInteracting reports whether the user is in the middle of an edit such as
// dragging, resizing, text editing or multi-point drawing. Neither outgoing
// saves nor incoming remote applies should interrupt such a gesture.
func IsInteracting(appState core.AppState) bool {
	for _, key := range interactionKeys {
		if truthy(appState[key]) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0 && !math.IsNaN(value)
	case float32:
		return value != 0 && !math.IsNaN(float64(value))
	case int:
		return value != 0
	case int64:
		return value != 0
	case int32:
		return value != 0
	default:
		return true
	}
}
