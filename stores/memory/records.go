package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"
	"excalidraw-docsync/stores/notify"

	"github.com/sirupsen/logrus"
)

type recordStore struct {
	mu        sync.RWMutex
	records   map[string]core.PersistedRecord
	documents map[string]int64
	hub       *notify.Hub
}

func NewStore() *recordStore {
	return &recordStore{
		records:   make(map[string]core.PersistedRecord),
		documents: make(map[string]int64),
		hub:       notify.NewHub(),
	}
}

func copyRecord(record core.PersistedRecord) core.PersistedRecord {
	record.State = drawing.CloneState(record.State)
	return record
}

func (s *recordStore) Load(ctx context.Context, docID string) (*core.PersistedRecord, error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return nil, err
	}
	log := logrus.WithField("document_id", docID)

	s.mu.RLock()
	record, ok := s.records[docID]
	s.mu.RUnlock()

	if !ok {
		log.Debug("No record stored for document")
		return nil, nil
	}

	out := copyRecord(record)
	log.Info("Record retrieved successfully")
	return &out, nil
}

func (s *recordStore) Save(ctx context.Context, docID string, record *core.PersistedRecord) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	if record == nil || record.LastModified == 0 {
		return core.ErrInvalidRecord
	}

	stored := copyRecord(*record)
	s.mu.Lock()
	s.records[docID] = stored
	s.documents[docID] = time.Now().UnixMilli()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id":   docID,
		"writer_id":     record.WriterID,
		"last_modified": record.LastModified,
	}).Info("Record saved successfully")

	s.hub.Publish(docID, copyRecord(stored))
	return nil
}

func (s *recordStore) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	return s.hub.Subscribe(docID, handler)
}

func (s *recordStore) TouchDocument(ctx context.Context, docID string) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}

	s.mu.Lock()
	s.documents[docID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *recordStore) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]core.DocumentInfo, 0, len(s.documents))
	for id, last := range s.documents {
		docs = append(docs, core.DocumentInfo{ID: id, LastActive: last})
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].LastActive == docs[j].LastActive {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].LastActive > docs[j].LastActive
	})

	return docs, nil
}
