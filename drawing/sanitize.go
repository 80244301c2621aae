// Package drawing holds the pure helpers of the sync core: appState
// sanitizing, the interaction guard, snapshot comparison and the
// .excalidraw file codec.
package drawing

import (
	"excalidraw-docsync/core"
)

// SanitizeFunc strips fields that must not be compared or persisted.
type SanitizeFunc func(core.AppState) core.AppState

// excludedKeys lists every appState field that is either not serializable or
// local to one editing session. Any ephemeral field the canvas exposes must
// be listed here, otherwise it leaks into persistence and causes flicker
// between instances.
var excludedKeys = []string{
	// runtime handles and in-progress interaction objects
	"collaborators",
	"fileHandle",
	"newElement",
	"multiElement",
	"selectionElement",
	"draggingElement",
	"resizingElement",
	"startBoundElement",
	"suggestedBinding",
	"editingTextElement",
	"frameToHighlight",
	"elementsToHighlight",
	"selectedLinearElement",
	"snapLines",
	"searchMatches",

	// session-local view and UI state
	"viewModeEnabled",
	"scrollX",
	"scrollY",
	"zoom",
	"cursorButton",
	"scrolledOutside",
	"selectedElementIds",
	"hoveredElementIds",
	"selectedGroupIds",
	"editingGroupId",
	"activeTool",
	"preferredSelectionTool",
	"penMode",
	"penDetected",
	"isResizing",
	"isRotating",
	"lastPointerDownWith",
	"contextMenu",
	"openMenu",
	"openPopup",
	"openSidebar",
	"openDialog",
	"pasteDialog",
	"toast",
	"stats",
	"showWelcomeScreen",
	"errorMessage",
	"isLoading",
	"shouldCacheIgnoreZoom",
	"showHyperlinkPopup",
	"isCropping",
	"croppingElementId",
	"activeLockedId",
	"editingFrame",
	"originSnapOffset",
	"userToFollow",
	"followedBy",
	"isBindingEnabled",
	"editingElement",
	"activeEmbeddable",
	"previousSelectedElementIds",

	// viewport geometry of the embedding frame
	"contextMenuSize",
	"pageSize",
	"width",
	"height",
	"offsetTop",
	"offsetLeft",
}

var excluded = func() map[string]struct{} {
	set := make(map[string]struct{}, len(excludedKeys))
	for _, key := range excludedKeys {
		set[key] = struct{}{}
	}
	return set
}()

// SanitizeAppState returns a copy of appState without the excluded keys.
// The input is never mutated; a nil input yields an empty map.
func SanitizeAppState(appState core.AppState) core.AppState {
	clean := make(core.AppState, len(appState))
	for key, value := range appState {
		if _, skip := excluded[key]; skip {
			continue
		}
		clean[key] = value
	}
	return clean
}

// IsExcluded reports whether key is stripped by SanitizeAppState.
func IsExcluded(key string) bool {
	_, ok := excluded[key]
	return ok
}

// MergeAppState overlays the sanitized fields of incoming onto base, keeping
// every ephemeral field of base.
func MergeAppState(base, incoming core.AppState) core.AppState {
	merged := make(core.AppState, len(base)+len(incoming))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range SanitizeAppState(incoming) {
		merged[key] = value
	}
	return merged
}
