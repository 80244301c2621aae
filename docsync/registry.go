package docsync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"excalidraw-docsync/core"

	"github.com/sirupsen/logrus"
)

// Registry holds the open sessions, one per document id.
type Registry struct {
	store     core.RecordStore
	documents core.DocumentRegistry
	opts      []Option
	log       *logrus.Entry
	metrics   *Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]*opening
	onOpen   []func(*Session)
}

// opening tracks a session whose first load is in progress.
type opening struct {
	done    chan struct{}
	session *Session
	err     error
}

var _ core.DocumentRegistry = (*Registry)(nil)

// NewRegistry creates a registry over store. When store also implements
// core.DocumentRegistry, document activity is recorded there.
func NewRegistry(store core.RecordStore, opts ...Option) *Registry {
	o := buildOptions(opts)
	documents, _ := store.(core.DocumentRegistry)
	return &Registry{
		store:     store,
		documents: documents,
		opts:      opts,
		log:       o.Logger.WithField("component", "registry"),
		metrics:   NewMetrics(),
		sessions:  make(map[string]*Session),
		opening:   make(map[string]*opening),
	}
}

// OnOpen registers fn to run for every session opened afterwards.
func (r *Registry) OnOpen(fn func(*Session)) {
	r.mu.Lock()
	r.onOpen = append(r.onOpen, fn)
	r.mu.Unlock()
}

// Open returns the session of docID, loading and starting it on first use.
// Loading happens outside the registry lock; concurrent callers for the same
// document wait for the first load.
func (r *Registry) Open(ctx context.Context, docID string) (*Session, error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if s, ok := r.sessions[docID]; ok {
		r.mu.Unlock()
		r.touch(ctx, docID)
		return s, nil
	}
	if op, ok := r.opening[docID]; ok {
		r.mu.Unlock()
		select {
		case <-op.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if op.err != nil {
			return nil, op.err
		}
		r.touch(ctx, docID)
		return op.session, nil
	}
	op := &opening{done: make(chan struct{})}
	r.opening[docID] = op
	r.mu.Unlock()

	s := NewSession(docID, r.store, r.opts...)
	err := s.Load(ctx)
	if err == nil {
		s.Start()
	}

	r.mu.Lock()
	delete(r.opening, docID)
	if err == nil {
		r.sessions[docID] = s
	}
	hooks := make([]func(*Session), len(r.onOpen))
	copy(hooks, r.onOpen)
	r.mu.Unlock()

	if err != nil {
		op.err = err
		close(op.done)
		_ = s.Close(ctx)
		return nil, err
	}

	r.metrics.DocumentOpened()
	r.log.WithField("document_id", docID).Info("Document session opened")
	for _, fn := range hooks {
		fn(s)
	}
	op.session = s
	close(op.done)
	r.touch(ctx, docID)
	return s, nil
}

// Get returns the session of docID if it is open.
func (r *Registry) Get(docID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[docID]
	return s, ok
}

func (r *Registry) touch(ctx context.Context, docID string) {
	if err := r.TouchDocument(ctx, docID); err != nil {
		r.log.WithError(err).WithField("document_id", docID).Warn("Failed to record document activity")
	}
}

func (r *Registry) TouchDocument(ctx context.Context, docID string) error {
	if r.documents == nil {
		return nil
	}
	return r.documents.TouchDocument(ctx, docID)
}

// ListDocuments lists the documents known to the store plus any open
// session the store does not report, sorted by id.
func (r *Registry) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	var docs []core.DocumentInfo
	if r.documents != nil {
		stored, err := r.documents.ListDocuments(ctx)
		if err != nil {
			return nil, err
		}
		docs = stored
	}

	r.mu.Lock()
	open := make(map[string]bool, len(r.sessions))
	for id := range r.sessions {
		open[id] = true
	}
	r.mu.Unlock()

	seen := make(map[string]bool, len(docs))
	for i := range docs {
		seen[docs[i].ID] = true
		docs[i].Open = open[docs[i].ID]
	}
	for id := range open {
		if !seen[id] {
			docs = append(docs, core.DocumentInfo{ID: id, Open: true})
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	if docs == nil {
		docs = []core.DocumentInfo{}
	}
	return docs, nil
}

// CloseSession flushes and closes the session of docID.
func (r *Registry) CloseSession(ctx context.Context, docID string) error {
	r.mu.Lock()
	s, ok := r.sessions[docID]
	delete(r.sessions, docID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.metrics.DocumentClosed()
	return s.Close(ctx)
}

// Close flushes and closes every open session.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		r.metrics.DocumentClosed()
		if err := s.Close(ctx); err != nil {
			r.log.WithError(err).WithField("document_id", id).Error("Failed to close document session")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
