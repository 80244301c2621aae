// Package canvas provides a headless drawing canvas. The server keeps one
// per open document so scene edits submitted over HTTP travel the same
// bridge path as edits from an interactive editor.
package canvas

import (
	"sync"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"
)

type Scene struct {
	mu        sync.RWMutex
	elements  []core.Element
	appState  core.AppState
	files     core.Files
	viewOnly  bool
	listeners map[int]func(core.DrawingState)
	nextID    int
}

var _ core.Canvas = (*Scene)(nil)

func NewScene(initial *core.DrawingState, viewOnly bool) *Scene {
	s := &Scene{
		elements:  []core.Element{},
		appState:  core.AppState{},
		files:     core.Files{},
		viewOnly:  viewOnly,
		listeners: make(map[int]func(core.DrawingState)),
	}
	if initial != nil {
		s.elements = drawing.CloneElements(initial.Elements)
		s.appState = drawing.CloneAppState(initial.AppState)
		s.files = drawing.CloneFiles(initial.Files)
	}
	return s
}

func (s *Scene) SceneElements() []core.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return drawing.CloneElements(s.elements)
}

func (s *Scene) AppState() core.AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return drawing.CloneAppState(s.appState)
}

func (s *Scene) Files() core.Files {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return drawing.CloneFiles(s.files)
}

func (s *Scene) ViewOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewOnly
}

func (s *Scene) SetViewOnly(viewOnly bool) {
	s.mu.Lock()
	s.viewOnly = viewOnly
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the scene content.
func (s *Scene) Snapshot() core.DrawingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Scene) snapshotLocked() core.DrawingState {
	return core.DrawingState{
		Elements: drawing.CloneElements(s.elements),
		AppState: drawing.CloneAppState(s.appState),
		Files:    drawing.CloneFiles(s.files),
	}
}

// UpdateScene applies a programmatic update. Nil fields are left alone.
// Change listeners fire like they do for user edits.
func (s *Scene) UpdateScene(update core.SceneUpdate) {
	s.mu.Lock()
	if update.Elements != nil {
		s.elements = drawing.CloneElements(update.Elements)
	}
	if update.AppState != nil {
		s.appState = drawing.CloneAppState(update.AppState)
	}
	if update.Files != nil {
		s.files = drawing.CloneFiles(update.Files)
	}
	s.mu.Unlock()
	s.emit()
}

// Replace swaps the whole scene, as a user edit would.
func (s *Scene) Replace(state core.DrawingState) {
	s.mu.Lock()
	s.elements = drawing.CloneElements(state.Elements)
	if s.elements == nil {
		s.elements = []core.Element{}
	}
	s.appState = drawing.CloneAppState(state.AppState)
	if s.appState == nil {
		s.appState = core.AppState{}
	}
	s.files = drawing.CloneFiles(state.Files)
	if s.files == nil {
		s.files = core.Files{}
	}
	s.mu.Unlock()
	s.emit()
}

// PatchAppState merges patch into the app state. A nil value deletes the key.
func (s *Scene) PatchAppState(patch core.AppState) {
	s.mu.Lock()
	for k, v := range patch {
		if v == nil {
			delete(s.appState, k)
			continue
		}
		s.appState[k] = v
	}
	s.mu.Unlock()
	s.emit()
}

func (s *Scene) OnChange(handler func(core.DrawingState)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Scene) emit() {
	s.mu.RLock()
	state := s.snapshotLocked()
	handlers := make([]func(core.DrawingState), 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(state)
	}
}
