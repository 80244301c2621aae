package docsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"excalidraw-docsync/core"
)

// trackingStore adds document bookkeeping to mockStore.
type trackingStore struct {
	*mockStore
	touchMu sync.Mutex
	touched map[string]int
}

func newTrackingStore() *trackingStore {
	return &trackingStore{mockStore: newMockStore(), touched: make(map[string]int)}
}

func (s *trackingStore) TouchDocument(ctx context.Context, docID string) error {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()
	s.touched[docID]++
	return nil
}

func (s *trackingStore) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()
	docs := make([]core.DocumentInfo, 0, len(s.touched))
	for id := range s.touched {
		docs = append(docs, core.DocumentInfo{ID: id, LastActive: 1})
	}
	return docs, nil
}

func TestRegistry_OpenLoadsOnce(t *testing.T) {
	store := newTrackingStore()
	store.put("doc", core.PersistedRecord{State: stateWith("a"), LastModified: 10})
	r := NewRegistry(store, fastOptions()...)
	defer r.Close(context.Background())

	var opened []*Session
	r.OnOpen(func(s *Session) { opened = append(opened, s) })

	first, err := r.Open(context.Background(), "doc")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	second, err := r.Open(context.Background(), "doc")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if first != second {
		t.Error("Open() returned different sessions for the same document")
	}
	if store.loads != 1 {
		t.Errorf("Load() called %d times, want 1", store.loads)
	}
	if len(opened) != 1 {
		t.Errorf("OnOpen hook ran %d times, want 1", len(opened))
	}
	if store.touched["doc"] != 2 {
		t.Errorf("TouchDocument() called %d times, want 2", store.touched["doc"])
	}
	if !first.HasData() {
		t.Error("opened session did not load the stored record")
	}
	if store.subscriberCount("doc") != 1 {
		t.Error("opened session is not subscribed to pushes")
	}
}

func TestRegistry_OpenErrorNotCached(t *testing.T) {
	store := newMockStore()
	store.loadErr = errors.New("boom")
	r := NewRegistry(store, fastOptions()...)

	if _, err := r.Open(context.Background(), "doc"); err == nil {
		t.Fatal("Open() succeeded despite a load error")
	}
	if _, ok := r.Get("doc"); ok {
		t.Error("failed session was kept in the registry")
	}
}

func TestRegistry_ListDocuments(t *testing.T) {
	store := newTrackingStore()
	store.touched["stored-only"] = 1
	r := NewRegistry(store, fastOptions()...)
	defer r.Close(context.Background())

	if _, err := r.Open(context.Background(), "open-doc"); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	docs, err := r.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("ListDocuments() returned %d documents, want 2", len(docs))
	}
	if docs[0].ID != "open-doc" || !docs[0].Open {
		t.Errorf("docs[0] = %+v, want open-doc marked open", docs[0])
	}
	if docs[1].ID != "stored-only" || docs[1].Open {
		t.Errorf("docs[1] = %+v, want stored-only not open", docs[1])
	}
}

func TestRegistry_ListDocumentsWithoutBookkeeping(t *testing.T) {
	r := NewRegistry(newMockStore(), fastOptions()...)
	defer r.Close(context.Background())

	docs, err := r.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments() failed: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("ListDocuments() = %v, want empty", docs)
	}

	_, _ = r.Open(context.Background(), "x")
	docs, _ = r.ListDocuments(context.Background())
	if len(docs) != 1 || docs[0].ID != "x" || !docs[0].Open {
		t.Errorf("ListDocuments() = %+v, want the open session", docs)
	}
}

func TestRegistry_CloseFlushes(t *testing.T) {
	store := newMockStore()
	r := NewRegistry(store, fastOptions()...)

	s, err := r.Open(context.Background(), "doc")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Queue().Submit(Partial{State: stateWith("pending")})

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if store.saveCount() != 1 {
		t.Errorf("Save() called %d times, want the pending write to land", store.saveCount())
	}
	if _, ok := r.Get("doc"); ok {
		t.Error("Close() left sessions open")
	}
	if store.subscriberCount("doc") != 0 {
		t.Error("Close() left push subscriptions")
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	r := NewRegistry(newMockStore(), fastOptions()...)
	if _, err := r.Open(context.Background(), "doc"); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := r.CloseSession(context.Background(), "doc"); err != nil {
		t.Fatalf("CloseSession() failed: %v", err)
	}
	if _, ok := r.Get("doc"); ok {
		t.Error("CloseSession() kept the session")
	}
	if err := r.CloseSession(context.Background(), "missing"); err != nil {
		t.Errorf("CloseSession() on unknown document failed: %v", err)
	}
}

func TestRegistry_SlowLoadDoesNotBlockOtherDocuments(t *testing.T) {
	store := newMockStore()
	release := make(chan struct{})
	store.loadBlock = map[string]chan struct{}{"slow": release}
	r := NewRegistry(store, fastOptions()...)
	defer r.Close(context.Background())

	type result struct {
		session *Session
		err     error
	}
	slow := make(chan result, 2)
	open := func() {
		s, err := r.Open(context.Background(), "slow")
		slow <- result{s, err}
	}
	go open()
	select {
	case id := <-store.loadStarted:
		if id != "slow" {
			t.Fatalf("Load() started for %q, want slow", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow load never started")
	}
	go open()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Open(ctx, "fast"); err != nil {
		t.Fatalf("Open() of another document blocked behind a slow load: %v", err)
	}
	if _, err := r.ListDocuments(ctx); err != nil {
		t.Fatalf("ListDocuments() failed: %v", err)
	}

	close(release)
	first, second := <-slow, <-slow
	if first.err != nil || second.err != nil {
		t.Fatalf("Open() failed: %v, %v", first.err, second.err)
	}
	if first.session != second.session {
		t.Error("concurrent Open() calls returned different sessions")
	}
	if store.loads != 2 {
		t.Errorf("Load() called %d times, want 2", store.loads)
	}
}
