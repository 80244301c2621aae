package core

import (
	"context"
	"time"
)

type (
	// Element is a single canvas element. The core only relies on its "id".
	Element = map[string]any

	// AppState is the canvas view/application state record.
	AppState = map[string]any

	// Files maps an asset id to its binary file record.
	Files = map[string]any

	// DrawingState is the canvas content.
	DrawingState struct {
		Elements []Element `json:"elements"`
		AppState AppState  `json:"appState"`
		Files    Files     `json:"files,omitempty"`
	}

	// PersistedRecord is the unit written to and read from the host store.
	// LastModified is milliseconds since the epoch; zero means absent.
	PersistedRecord struct {
		State        *DrawingState `json:"excalidrawData,omitempty"`
		LastModified int64         `json:"lastModified,omitempty"`
		WriterID     string        `json:"uuid,omitempty"`
		Title        string        `json:"title,omitempty"`
	}

	// CacheEntry is the single live copy of a document held by a session.
	CacheEntry struct {
		State        *DrawingState
		LastModified int64
		WriterID     string
		Title        string
		HasData      bool
	}

	// SceneUpdate is a programmatic update pushed into a canvas.
	SceneUpdate struct {
		Elements []Element
		AppState AppState
		Files    Files
	}

	DocumentInfo struct {
		ID         string `json:"id"`
		LastActive int64  `json:"lastActive,omitempty"`
		Open       bool   `json:"open"`
	}

	// Version is a historical write kept by stores that support history.
	Version struct {
		ID           string `json:"id"`
		DocumentID   string `json:"document_id"`
		WriterID     string `json:"writer_id"`
		Title        string `json:"title,omitempty"`
		LastModified int64  `json:"last_modified"`
		Data         []byte `json:"data,omitempty"`
	}

	// RecordStore is the host document record store. Load returns (nil, nil)
	// when no record exists for the document.
	RecordStore interface {
		Load(ctx context.Context, docID string) (*PersistedRecord, error)
		Save(ctx context.Context, docID string, record *PersistedRecord) error
		Subscribe(docID string, handler func(PersistedRecord)) (unsubscribe func())
	}

	HistoryStore interface {
		ListVersions(ctx context.Context, docID string) ([]Version, error)
		GetVersion(ctx context.Context, versionID string) (*Version, error)
	}

	DocumentRegistry interface {
		ListDocuments(ctx context.Context) ([]DocumentInfo, error)
		TouchDocument(ctx context.Context, docID string) error
	}

	// Canvas is the drawing component consumed by the sync bridge.
	Canvas interface {
		SceneElements() []Element
		AppState() AppState
		Files() Files
		UpdateScene(update SceneUpdate)
		OnChange(handler func(DrawingState)) (unsubscribe func())
		ViewOnly() bool
	}
)

// Record returns the persisted form of the entry.
func (e CacheEntry) Record() PersistedRecord {
	return PersistedRecord{
		State:        e.State,
		LastModified: e.LastModified,
		WriterID:     e.WriterID,
		Title:        e.Title,
	}
}

// ModifiedAt converts LastModified to a time.Time.
func (r PersistedRecord) ModifiedAt() time.Time {
	return time.UnixMilli(r.LastModified)
}
