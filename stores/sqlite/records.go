package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/stores/notify"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// DefaultMaxVersions is how many past writes are kept per document.
const DefaultMaxVersions = 10

type sqliteStore struct {
	db          *sql.DB
	hub         *notify.Hub
	maxVersions int
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		data BLOB,
		last_modified INTEGER NOT NULL,
		writer_id TEXT,
		title TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS record_versions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		writer_id TEXT,
		title TEXT,
		last_modified INTEGER NOT NULL,
		data BLOB
	);`,
	`CREATE INDEX IF NOT EXISTS record_versions_document ON record_versions (document_id, last_modified);`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`,
}

// NewStore opens the database at dataSourceName and creates the tables.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open sqlite database")
	}

	store := newStore(db)
	if err := store.migrate(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to create sqlite tables")
	}

	logrus.WithFields(logrus.Fields{
		"driver":      driverName,
		"cgo_enabled": CGOEnabled,
	}).Debug("Opened sqlite store")
	return store
}

func newStore(db *sql.DB) *sqliteStore {
	return &sqliteStore{db: db, hub: notify.NewHub(), maxVersions: DefaultMaxVersions}
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, docID string) (*core.PersistedRecord, error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return nil, err
	}
	log := logrus.WithField("document_id", docID)
	log.Debug("Retrieving record by document ID")

	var (
		data     []byte
		record   core.PersistedRecord
		writerID sql.NullString
		title    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, last_modified, writer_id, title FROM records WHERE id = ?", docID).
		Scan(&data, &record.LastModified, &writerID, &title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("No record stored for document")
			return nil, nil
		}
		log.WithField("error", err).Error("Failed to retrieve record")
		return nil, err
	}
	record.WriterID = writerID.String
	record.Title = title.String

	if len(data) > 0 {
		var state core.DrawingState
		if err := json.Unmarshal(data, &state); err != nil {
			log.WithField("error", err).Error("Failed to decode stored drawing")
			return nil, fmt.Errorf("decode record %s: %w", docID, err)
		}
		record.State = &state
	}

	log.Info("Record retrieved successfully")
	return &record, nil
}

// Save upserts the record, appends it to the document history and trims the
// history to the newest maxVersions entries.
func (s *sqliteStore) Save(ctx context.Context, docID string, record *core.PersistedRecord) (err error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	if record == nil || record.LastModified == 0 {
		return core.ErrInvalidRecord
	}

	var data []byte
	if record.State != nil {
		data, err = json.Marshal(record.State)
		if err != nil {
			return err
		}
	}

	log := logrus.WithFields(logrus.Fields{
		"document_id":   docID,
		"writer_id":     record.WriterID,
		"last_modified": record.LastModified,
		"data_length":   len(data),
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.WithField("error", err).Error("Failed to begin transaction")
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.WithError(rbErr).Warn("Failed to roll back transaction")
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO records (id, data, last_modified, writer_id, title) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data, last_modified = excluded.last_modified, writer_id = excluded.writer_id, title = excluded.title",
		docID, data, record.LastModified, record.WriterID, record.Title)
	if err != nil {
		log.WithField("error", err).Error("Failed to save record")
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO record_versions (id, document_id, writer_id, title, last_modified, data) VALUES (?, ?, ?, ?, ?, ?)",
		ulid.Make().String(), docID, record.WriterID, record.Title, record.LastModified, data)
	if err != nil {
		log.WithField("error", err).Error("Failed to save record version")
		return err
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM record_versions WHERE document_id = ? AND id NOT IN (SELECT id FROM record_versions WHERE document_id = ? ORDER BY last_modified DESC LIMIT ?)",
		docID, docID, s.maxVersions)
	if err != nil {
		log.WithField("error", err).Error("Failed to trim record versions")
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (id, last_active) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active",
		docID, time.Now().UnixMilli())
	if err != nil {
		log.WithField("error", err).Error("Failed to record document activity")
		return err
	}

	if err = tx.Commit(); err != nil {
		log.WithField("error", err).Error("Failed to commit record")
		return err
	}

	log.Info("Record saved successfully")
	s.hub.Publish(docID, *record)
	return nil
}

func (s *sqliteStore) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	return s.hub.Subscribe(docID, handler)
}

func (s *sqliteStore) TouchDocument(ctx context.Context, docID string) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, last_active) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active",
		docID, time.Now().UnixMilli())
	if err != nil {
		logrus.WithField("document_id", docID).WithField("error", err).Error("Failed to touch document")
	}
	return err
}

func (s *sqliteStore) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, last_active FROM documents ORDER BY last_active DESC, id ASC")
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list documents")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close document rows")
		}
	}()

	docs := []core.DocumentInfo{}
	for rows.Next() {
		var doc core.DocumentInfo
		if err := rows.Scan(&doc.ID, &doc.LastActive); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListVersions lists the kept history of docID, newest first, without data.
func (s *sqliteStore) ListVersions(ctx context.Context, docID string) ([]core.Version, error) {
	log := logrus.WithField("document_id", docID)
	log.Debug("Listing record versions")

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, writer_id, title, last_modified FROM record_versions WHERE document_id = ? ORDER BY last_modified DESC",
		docID)
	if err != nil {
		log.WithField("error", err).Error("Failed to list record versions")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close version rows")
		}
	}()

	versions := []core.Version{}
	for rows.Next() {
		var (
			version  core.Version
			writerID sql.NullString
			title    sql.NullString
		)
		if err := rows.Scan(&version.ID, &version.DocumentID, &writerID, &title, &version.LastModified); err != nil {
			log.WithField("error", err).Error("Failed to scan record version")
			continue
		}
		version.WriterID = writerID.String
		version.Title = title.String
		versions = append(versions, version)
	}

	log.Info("Record versions listed successfully")
	return versions, rows.Err()
}

func (s *sqliteStore) GetVersion(ctx context.Context, versionID string) (*core.Version, error) {
	log := logrus.WithField("version_id", versionID)

	var (
		version  core.Version
		writerID sql.NullString
		title    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, writer_id, title, last_modified, data FROM record_versions WHERE id = ?", versionID).
		Scan(&version.ID, &version.DocumentID, &writerID, &title, &version.LastModified, &version.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "version not found").Warn("Version with specified ID not found")
			return nil, fmt.Errorf("version with id %s: %w", versionID, core.ErrNotFound)
		}
		log.WithField("error", err).Error("Failed to retrieve record version")
		return nil, err
	}
	version.WriterID = writerID.String
	version.Title = title.String

	log.Info("Record version retrieved successfully")
	return &version, nil
}
