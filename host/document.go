// Package host adapts the state the embedding document exposes to the
// drawing: its editing mode, the add-on's own edit toggle, the one-shot
// ready signal and fullscreen.
package host

import (
	"fmt"
	"strings"
	"sync"

	"excalidraw-docsync/core"

	"github.com/sirupsen/logrus"
)

type Mode int

const (
	ModeUnknown Mode = iota
	ModeEditing
	ModeReading
)

func (m Mode) String() string {
	switch m {
	case ModeEditing:
		return "editing"
	case ModeReading:
		return "reading"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "editing":
		return ModeEditing, nil
	case "reading":
		return ModeReading, nil
	case "unknown", "":
		return ModeUnknown, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown document mode %q", s)
	}
}

type Document struct {
	mu         sync.RWMutex
	mode       Mode
	addonEdit  bool
	fullscreen bool
	ready      bool
	listeners  map[int]func(Mode)
	readyFns   []func()
	nextID     int
	log        *logrus.Entry
}

func NewDocument(mode Mode, log *logrus.Entry) *Document {
	if log == nil {
		log = logrus.WithField("component", "host")
	}
	return &Document{
		mode:      mode,
		listeners: make(map[int]func(Mode)),
		log:       log,
	}
}

func (d *Document) Mode() Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// SetMode records the document mode. Leaving editing mode turns the add-on
// edit mode off.
func (d *Document) SetMode(mode Mode) {
	d.mu.Lock()
	if d.mode == mode {
		d.mu.Unlock()
		return
	}
	d.mode = mode
	if mode != ModeEditing {
		d.addonEdit = false
	}
	listeners := make([]func(Mode), 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	d.log.WithField("mode", mode.String()).Info("Document mode changed")
	for _, fn := range listeners {
		fn(mode)
	}
}

func (d *Document) OnModeChange(fn func(Mode)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *Document) AddonEditMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addonEdit
}

// SetAddonEditMode switches the add-on edit mode. Turning it on fails with
// core.ErrReadOnly unless the document is in editing mode.
func (d *Document) SetAddonEditMode(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on && d.mode != ModeEditing {
		return core.ErrReadOnly
	}
	d.addonEdit = on
	return nil
}

// ToggleAddonEditMode flips the add-on edit mode and returns the new value.
func (d *Document) ToggleAddonEditMode() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode != ModeEditing {
		return d.addonEdit, core.ErrReadOnly
	}
	d.addonEdit = !d.addonEdit
	return d.addonEdit, nil
}

// CanEdit reports whether local edits may be persisted.
func (d *Document) CanEdit() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode == ModeEditing && d.addonEdit
}

// NotifyReady signals that the drawing finished its first load. Only the
// first call fires the ready callbacks; it reports whether this call did.
func (d *Document) NotifyReady() bool {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return false
	}
	d.ready = true
	fns := d.readyFns
	d.readyFns = nil
	d.mu.Unlock()

	d.log.Debug("Document ready")
	for _, fn := range fns {
		fn()
	}
	return true
}

// OnReady runs fn once the document is ready, immediately if it already is.
func (d *Document) OnReady(fn func()) {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		fn()
		return
	}
	d.readyFns = append(d.readyFns, fn)
	d.mu.Unlock()
}

func (d *Document) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

func (d *Document) SetFullscreen(on bool) {
	d.mu.Lock()
	d.fullscreen = on
	d.mu.Unlock()
}

func (d *Document) Fullscreen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fullscreen
}
