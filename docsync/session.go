package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"excalidraw-docsync/canvas"
	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"
	"excalidraw-docsync/host"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session is one open document: its cache, save queue, host state and the
// headless scene mirroring the drawing.
type Session struct {
	docID     string
	sessionID string
	store     core.RecordStore
	cache     *Cache
	queue     *SaveQueue
	host      *host.Document
	scene     *canvas.Scene
	opts      []Option
	log       *logrus.Entry

	mu          sync.Mutex
	bridges     []*Bridge
	unsubscribe func()
	unsubMode   func()
	closed      bool
}

func NewSession(docID string, store core.RecordStore, opts ...Option) *Session {
	o := buildOptions(opts)
	sessionID := uuid.NewString()
	log := o.Logger.WithFields(logrus.Fields{
		"document_id": docID,
		"session_id":  sessionID,
	})
	opts = append(opts[:len(opts):len(opts)], WithLogger(log))

	s := &Session{
		docID:     docID,
		sessionID: sessionID,
		store:     store,
		cache:     NewCache(log.WithField("component", "cache")),
		host:      host.NewDocument(host.ModeEditing, log.WithField("component", "host")),
		scene:     canvas.NewScene(nil, false),
		opts:      opts,
		log:       log,
	}
	s.queue = NewSaveQueue(s.cache, func(ctx context.Context, record *core.PersistedRecord) error {
		return store.Save(ctx, docID, record)
	}, opts...)

	_ = s.host.SetAddonEditMode(true)
	s.unsubMode = s.host.OnModeChange(s.onModeChange)
	s.Attach(s.scene, s.host.CanEdit)
	return s
}

func (s *Session) ID() string { return s.docID }
func (s *Session) SessionID() string { return s.sessionID }
func (s *Session) Cache() *Cache { return s.cache }
func (s *Session) Host() *host.Document { return s.host }
func (s *Session) Scene() *canvas.Scene { return s.scene }
func (s *Session) Queue() *SaveQueue { return s.queue }
func (s *Session) HasData() bool { return s.cache.HasData() }
func (s *Session) Entry() core.CacheEntry { return s.cache.Entry() }

// Record returns the cached record in its persisted form.
func (s *Session) Record() core.PersistedRecord {
	return s.cache.Entry().Record()
}

// Load reads the stored record into the cache and signals readiness. A
// document with no stored record loads as empty.
func (s *Session) Load(ctx context.Context) error {
	record, err := s.store.Load(ctx, s.docID)
	if err != nil {
		s.log.WithError(err).Error("Failed to load record")
		return fmt.Errorf("load record %s: %w", s.docID, err)
	}

	if record == nil {
		s.log.Info("No stored record, starting empty")
		s.host.NotifyReady()
		return nil
	}

	if err := s.cache.Reconcile(*record, OriginLoad); err != nil {
		s.log.WithError(err).Warn("Stored record rejected")
		return fmt.Errorf("load record %s: %w", s.docID, err)
	}

	s.log.WithFields(logrus.Fields{
		"last_modified": record.LastModified,
		"writer_id":     record.WriterID,
	}).Info("Record loaded successfully")
	s.host.NotifyReady()
	return nil
}

// Start subscribes to store pushes for the document.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil || s.closed {
		return
	}
	s.unsubscribe = s.store.Subscribe(s.docID, func(record core.PersistedRecord) {
		_ = s.HandlePush(record)
	})
}

// HandlePush reconciles a record pushed by the store. Stale and invalid
// records are logged and ignored.
func (s *Session) HandlePush(record core.PersistedRecord) error {
	err := s.cache.Reconcile(record, OriginRemote)
	switch {
	case err == nil:
		s.log.WithField("writer_id", record.WriterID).Debug("Applied pushed record")
	case errors.Is(err, core.ErrStaleRecord):
		s.log.WithError(err).Debug("Ignoring stale pushed record")
	case errors.Is(err, core.ErrInvalidRecord):
		s.log.WithError(err).Warn("Ignoring invalid pushed record")
	default:
		s.log.WithError(err).Error("Failed to apply pushed record")
	}
	return err
}

// OnChange registers fn for every cache change of the document.
func (s *Session) OnChange(fn func(core.CacheEntry, Origin)) func() {
	return s.cache.Subscribe(fn)
}

// Attach connects a canvas to the session and brings it up to date with the
// cache. gate may be nil.
func (s *Session) Attach(c core.Canvas, gate EditGate) *Bridge {
	b := NewBridge(c, s.cache, s.queue, gate, s.opts...)
	s.mu.Lock()
	s.bridges = append(s.bridges, b)
	s.mu.Unlock()

	if entry := s.cache.Entry(); entry.HasData {
		b.ApplyFromCache(entry)
	}
	return b
}

// Detach closes the bridge of a canvas attached earlier.
func (s *Session) Detach(b *Bridge) {
	s.mu.Lock()
	for i, existing := range s.bridges {
		if existing == b {
			s.bridges = append(s.bridges[:i], s.bridges[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	b.Close()
}

func (s *Session) checkEditable() error {
	if !s.host.CanEdit() {
		return core.ErrReadOnly
	}
	return nil
}

// RequestSave persists partial and waits for the write carrying it.
func (s *Session) RequestSave(ctx context.Context, partial Partial) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	return s.queue.RequestSave(ctx, partial)
}

func (s *Session) FlushAndWait(ctx context.Context) error {
	return s.queue.FlushAndWait(ctx)
}

// SetTitle renames the drawing. Titles cannot be cleared.
func (s *Session) SetTitle(ctx context.Context, title string) error {
	if title == "" {
		return fmt.Errorf("%w: empty title", core.ErrInvalidRecord)
	}
	return s.RequestSave(ctx, Partial{Title: &title})
}

// CreateNewDrawing stores an empty drawing for the document.
func (s *Session) CreateNewDrawing(ctx context.Context) error {
	s.log.Info("Creating new drawing")
	return s.RequestSave(ctx, Partial{State: &core.DrawingState{
		Elements: []core.Element{},
		AppState: core.AppState{},
		Files:    core.Files{},
	}})
}

// Import replaces the drawing with the content of an exported file.
func (s *Session) Import(ctx context.Context, data []byte) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	state, err := drawing.ParseFile(data)
	if err != nil {
		s.log.WithError(err).Warn("Rejected import")
		return err
	}
	s.log.WithField("elements", len(state.Elements)).Info("Importing drawing")
	return s.queue.RequestSave(ctx, Partial{State: state})
}

// Export encodes the cached drawing as a standalone file.
func (s *Session) Export() ([]byte, error) {
	return drawing.ExportFile(s.cache.Entry().State)
}

// EditScene replaces the headless scene content, as a user edit would. The
// change reaches the store through the bridge.
func (s *Session) EditScene(state core.DrawingState) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	s.scene.Replace(state)
	return nil
}

// SetEditMode switches the add-on edit mode. Switching it off flushes
// pending writes first.
func (s *Session) SetEditMode(ctx context.Context, on bool) error {
	if on {
		if err := s.host.SetAddonEditMode(true); err != nil {
			return err
		}
		s.scene.SetViewOnly(false)
		return nil
	}

	s.flushBridges()
	if err := s.queue.FlushAndWait(ctx); err != nil {
		return err
	}
	_ = s.host.SetAddonEditMode(false)
	s.scene.SetViewOnly(true)
	return nil
}

// flushBridges submits every debounced canvas change still pending.
func (s *Session) flushBridges() {
	s.mu.Lock()
	bridges := append([]*Bridge(nil), s.bridges...)
	s.mu.Unlock()
	for _, b := range bridges {
		b.Flush()
	}
}

func (s *Session) onModeChange(mode host.Mode) {
	if mode == host.ModeEditing {
		return
	}
	s.flushBridges()
	s.scene.SetViewOnly(true)
	go func() {
		if err := s.queue.FlushAndWait(context.Background()); err != nil {
			s.log.WithError(err).Warn("Failed to flush on mode change")
		}
	}()
}

// Close detaches every canvas, stops push handling and waits for pending
// writes.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.flushBridges()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	bridges := s.bridges
	s.bridges = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.unsubMode()
	for _, b := range bridges {
		b.Close()
	}

	if err := s.queue.FlushAndWait(ctx); err != nil {
		s.log.WithError(err).Warn("Session closed before pending writes landed")
		return err
	}
	s.log.Info("Session closed")
	return nil
}
