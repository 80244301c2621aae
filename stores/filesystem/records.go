package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/stores/notify"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const recordExt = ".json"

type fsStore struct {
	basePath string
	hub      *notify.Hub

	mu        sync.Mutex
	published map[string]int64
	touched   map[string]int64

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewStore creates a filesystem store keeping one JSON file per document
// under basePath.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logrus.WithError(err).Fatal("Failed to create base directory")
	}
	return &fsStore{
		basePath:  basePath,
		hub:       notify.NewHub(),
		published: make(map[string]int64),
		touched:   make(map[string]int64),
	}
}

func (s *fsStore) recordPath(docID string) string {
	return filepath.Join(s.basePath, docID+recordExt)
}

func (s *fsStore) Load(ctx context.Context, docID string) (*core.PersistedRecord, error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return nil, err
	}
	filePath := s.recordPath(docID)
	log := logrus.WithFields(logrus.Fields{"document_id": docID, "file_path": filePath})

	record, err := readRecord(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No record stored for document")
			return nil, nil
		}
		log.WithError(err).Error("Failed to retrieve record")
		return nil, err
	}

	log.Info("Record retrieved successfully")
	return record, nil
}

func readRecord(filePath string) (*core.PersistedRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var record core.PersistedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Save writes the record through a temporary file and a rename, so readers
// and the watcher never see a partial file.
func (s *fsStore) Save(ctx context.Context, docID string, record *core.PersistedRecord) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	if record == nil || record.LastModified == 0 {
		return core.ErrInvalidRecord
	}

	filePath := s.recordPath(docID)
	log := logrus.WithFields(logrus.Fields{
		"document_id":   docID,
		"file_path":     filePath,
		"last_modified": record.LastModified,
	})

	data, err := json.Marshal(record)
	if err != nil {
		log.WithError(err).Error("Failed to encode record")
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, ".record-*")
	if err != nil {
		log.WithError(err).Error("Failed to create temporary file")
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to write record")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to write record")
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to replace record")
		return err
	}

	log.WithField("data_length", len(data)).Info("Record saved successfully")
	s.publish(docID, *record)
	return nil
}

// publish forwards record to subscribers unless a record at least as new
// was already published for the document.
func (s *fsStore) publish(docID string, record core.PersistedRecord) {
	s.mu.Lock()
	if record.LastModified <= s.published[docID] {
		s.mu.Unlock()
		return
	}
	s.published[docID] = record.LastModified
	s.mu.Unlock()

	s.hub.Publish(docID, record)
}

func (s *fsStore) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	return s.hub.Subscribe(docID, handler)
}

func (s *fsStore) TouchDocument(ctx context.Context, docID string) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	s.mu.Lock()
	s.touched[docID] = time.Now().UnixMilli()
	s.mu.Unlock()
	return nil
}

func (s *fsStore) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	log := logrus.WithField("path", s.basePath)

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		log.WithError(err).Error("Failed to read base directory")
		return nil, err
	}

	lastActive := make(map[string]int64)
	for _, entry := range entries {
		docID, ok := documentIDFromFile(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.WithError(err).Warnf("Failed to get file info for %s, skipping", entry.Name())
			continue
		}
		lastActive[docID] = info.ModTime().UnixMilli()
	}

	s.mu.Lock()
	for docID, ts := range s.touched {
		if ts > lastActive[docID] {
			lastActive[docID] = ts
		}
	}
	s.mu.Unlock()

	docs := make([]core.DocumentInfo, 0, len(lastActive))
	for id, ts := range lastActive {
		docs = append(docs, core.DocumentInfo{ID: id, LastActive: ts})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].LastActive == docs[j].LastActive {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].LastActive > docs[j].LastActive
	})

	log.Debugf("Listed %d documents", len(docs))
	return docs, nil
}

func documentIDFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	return strings.TrimSuffix(name, recordExt), true
}

// StartWatching publishes records written to the base directory by other
// processes.
func (s *fsStore) StartWatching(ctx context.Context) error {
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(s.basePath); err != nil {
		s.watchMu.Unlock()
		watcher.Close()
		return err
	}
	s.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.watchMu.Unlock()

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher)
	logrus.WithField("path", s.basePath).Info("Watching record directory")
	return nil
}

func (s *fsStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.watchWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			docID, ok := documentIDFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}
			record, err := readRecord(event.Name)
			if err != nil {
				if !os.IsNotExist(err) {
					logrus.WithError(err).WithField("file_path", event.Name).Warn("Failed to read changed record")
				}
				continue
			}
			s.publish(docID, *record)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("Record watch error")
		}
	}
}

// Close stops the watcher.
func (s *fsStore) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	s.watchWg.Wait()
	return err
}
