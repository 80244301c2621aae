package docsync

import (
	"sync"
	"sync/atomic"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"

	"github.com/sirupsen/logrus"
)

type syncState int32

const (
	stateIdle syncState = iota
	stateApplyingLocal
	stateApplyingRemote
)

func (s syncState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateApplyingLocal:
		return "applying-local"
	case stateApplyingRemote:
		return "applying-remote"
	default:
		return "unknown"
	}
}

// EditGate reports whether local edits may currently be persisted.
type EditGate func() bool

// Bridge mediates between a live canvas and the cache. Local edits flow into
// the save queue, cache updates flow back into the canvas, and a single sync
// lock keeps one direction from being mistaken for the other.
type Bridge struct {
	canvas   core.Canvas
	cache    *Cache
	queue    *SaveQueue
	gate     EditGate
	debounce time.Duration
	settle   time.Duration
	log      *logrus.Entry
	metrics  *Metrics

	state atomic.Int32

	mu          sync.Mutex
	timer       *time.Timer
	latest      *core.DrawingState
	closed      bool
	unsubCanvas func()
	unsubCache  func()
}

// NewBridge wires canvas to cache and queue. gate may be nil.
func NewBridge(canvas core.Canvas, cache *Cache, queue *SaveQueue, gate EditGate, opts ...Option) *Bridge {
	o := buildOptions(opts)
	b := &Bridge{
		canvas:   canvas,
		cache:    cache,
		queue:    queue,
		gate:     gate,
		debounce: o.Debounce,
		settle:   o.Settle,
		log:      o.Logger.WithField("component", "bridge"),
		metrics:  NewMetrics(),
	}
	b.unsubCanvas = canvas.OnChange(b.HandleChange)
	b.unsubCache = cache.Subscribe(func(entry core.CacheEntry, _ Origin) {
		b.ApplyFromCache(entry)
	})
	return b
}

func (b *Bridge) syncState() syncState {
	return syncState(b.state.Load())
}

func (b *Bridge) acquire(to syncState) bool {
	return b.state.CompareAndSwap(int32(stateIdle), int32(to))
}

// release frees the sync lock once the canvas has settled.
func (b *Bridge) release() {
	if b.settle <= 0 {
		b.state.Store(int32(stateIdle))
		return
	}
	time.AfterFunc(b.settle, func() {
		b.state.Store(int32(stateIdle))
	})
}

// HandleChange receives every canvas change notification. Changes are
// debounced; events arriving while the sync lock is held are dropped.
func (b *Bridge) HandleChange(state core.DrawingState) {
	if current := b.syncState(); current != stateIdle {
		b.metrics.RecordDropped("sync_lock")
		b.log.WithField("state", current.String()).Trace("Dropping canvas change while sync lock is held")
		return
	}

	if !b.editable() {
		b.metrics.RecordDropped("read_only")
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest = &state
	if b.debounce <= 0 {
		b.mu.Unlock()
		b.flushLocal(false)
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, func() { b.flushLocal(false) })
	b.mu.Unlock()
}

func (b *Bridge) editable() bool {
	return !b.canvas.ViewOnly() && (b.gate == nil || b.gate())
}

// flushLocal submits the pending change. force persists it even when editing
// was switched off after the change arrived.
func (b *Bridge) flushLocal(force bool) {
	b.mu.Lock()
	state := b.latest
	b.latest = nil
	b.timer = nil
	closed := b.closed
	b.mu.Unlock()

	if state == nil || closed {
		return
	}

	if !force && !b.editable() {
		b.metrics.RecordDropped("read_only")
		return
	}
	if drawing.IsInteracting(state.AppState) {
		b.metrics.RecordDropped("interacting")
		b.log.Trace("Dropping canvas change during interaction")
		return
	}
	if !b.acquire(stateApplyingLocal) {
		b.metrics.RecordDropped("sync_lock")
		return
	}

	done := b.queue.Submit(Partial{State: state})
	b.release()

	go func() {
		if err := <-done; err != nil {
			b.log.WithError(err).Warn("Failed to persist canvas change")
		}
	}()
}

// ApplyFromCache pushes entry into the canvas unless the sync lock is held,
// the user is mid-gesture, or the canvas already shows the same drawing. It
// reports whether the canvas was updated.
func (b *Bridge) ApplyFromCache(entry core.CacheEntry) bool {
	if entry.State == nil {
		return false
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}

	if !b.acquire(stateApplyingRemote) {
		return false
	}

	live := b.canvas.AppState()
	if drawing.IsInteracting(live) {
		b.state.Store(int32(stateIdle))
		b.log.Debug("Skipping cache apply during interaction")
		return false
	}

	current := &core.DrawingState{
		Elements: b.canvas.SceneElements(),
		AppState: live,
		Files:    b.canvas.Files(),
	}
	if drawing.Compare(current, entry.State, drawing.SanitizeAppState, true).IsEqual {
		b.release()
		return false
	}

	b.canvas.UpdateScene(core.SceneUpdate{
		Elements: drawing.CloneElements(entry.State.Elements),
		AppState: drawing.MergeAppState(live, drawing.CloneAppState(entry.State.AppState)),
		Files:    drawing.CloneFiles(entry.State.Files),
	})
	b.metrics.RecordRemoteApply()
	b.log.WithField("last_modified", entry.LastModified).Debug("Applied cache to canvas")

	b.release()
	return true
}

// Flush runs a pending debounced change immediately. The change is
// persisted even if editing has been switched off since it arrived.
func (b *Bridge) Flush() {
	b.mu.Lock()
	if b.timer == nil {
		b.mu.Unlock()
		return
	}
	b.timer.Stop()
	b.timer = nil
	b.mu.Unlock()
	b.flushLocal(true)
}

// Close stops the pending debounce and detaches from canvas and cache.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.latest = nil
	b.mu.Unlock()

	b.unsubCanvas()
	b.unsubCache()
}
