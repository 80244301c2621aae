package docsync

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"

	"github.com/sirupsen/logrus"
)

// mockStore is an in-memory RecordStore that publishes every save to its
// subscribers, like a host document would.
type mockStore struct {
	mu      sync.Mutex
	records map[string]core.PersistedRecord
	saves   []core.PersistedRecord
	subs    map[string]map[int]func(core.PersistedRecord)
	nextSub int
	loads   int

	loadErr     error
	saveErr     error
	// saveErrFrom is the number of saves that succeed before saveErr applies.
	saveErrFrom int
	// loadBlock holds Load of a document until its channel is closed.
	loadBlock   map[string]chan struct{}
	// loadStarted receives the document id when a Load begins.
	loadStarted chan string
	// block, when set, holds every Save until it is closed.
	block       chan struct{}
	// started receives a value when a Save begins.
	started     chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{
		records:     make(map[string]core.PersistedRecord),
		subs:        make(map[string]map[int]func(core.PersistedRecord)),
		started:     make(chan struct{}, 64),
		loadStarted: make(chan string, 64),
	}
}

func copyRecord(r core.PersistedRecord) core.PersistedRecord {
	r.State = drawing.CloneState(r.State)
	return r
}

func (m *mockStore) Load(ctx context.Context, docID string) (*core.PersistedRecord, error) {
	m.mu.Lock()
	m.loads++
	block := m.loadBlock[docID]
	m.mu.Unlock()
	select {
	case m.loadStarted <- docID:
	default:
	}
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	record, ok := m.records[docID]
	if !ok {
		return nil, nil
	}
	out := copyRecord(record)
	return &out, nil
}

func (m *mockStore) Save(ctx context.Context, docID string, record *core.PersistedRecord) error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	m.saves = append(m.saves, copyRecord(*record))
	if m.saveErr != nil && len(m.saves) > m.saveErrFrom {
		err := m.saveErr
		m.mu.Unlock()
		return err
	}
	m.records[docID] = copyRecord(*record)
	handlers := make([]func(core.PersistedRecord), 0, len(m.subs[docID]))
	for _, h := range m.subs[docID] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(copyRecord(*record))
	}
	return nil
}

func (m *mockStore) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[docID] == nil {
		m.subs[docID] = make(map[int]func(core.PersistedRecord))
	}
	id := m.nextSub
	m.nextSub++
	m.subs[docID][id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[docID], id)
	}
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func (m *mockStore) lastSave() core.PersistedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[len(m.saves)-1]
}

func (m *mockStore) put(docID string, record core.PersistedRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[docID] = copyRecord(record)
}

func (m *mockStore) subscriberCount(docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[docID])
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fastOptions disables every delay so tests run synchronously where possible.
func fastOptions(extra ...Option) []Option {
	opts := []Option{
		WithDebounce(0),
		WithMinInterval(0),
		WithSettle(0),
		WithLogger(quietLogger()),
	}
	return append(opts, extra...)
}

func stateWith(ids ...string) *core.DrawingState {
	elements := make([]core.Element, 0, len(ids))
	for _, id := range ids {
		elements = append(elements, core.Element{"id": id, "type": "rectangle", "x": 10.0})
	}
	return &core.DrawingState{
		Elements: elements,
		AppState: core.AppState{"viewBackgroundColor": "#ffffff"},
		Files:    core.Files{},
	}
}

func elementIDs(elements []core.Element) []string {
	ids := make([]string, 0, len(elements))
	for _, e := range elements {
		ids = append(ids, drawing.ElementID(e))
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStarted(t *testing.T, store *mockStore) {
	t.Helper()
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Save() to start")
	}
}
