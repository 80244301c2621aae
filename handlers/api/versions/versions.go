package versions

import (
	"encoding/json"
	"fmt"
	"net/http"

	"excalidraw-docsync/core"
	"excalidraw-docsync/docsync"
	"excalidraw-docsync/handlers/api/records"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	VersionResponse struct {
		ID           string             `json:"id"`
		DocumentID   string             `json:"document_id"`
		WriterID     string             `json:"writer_id"`
		Title        string             `json:"title,omitempty"`
		LastModified int64              `json:"last_modified"`
		Data         *core.DrawingState `json:"excalidrawData,omitempty"`
	}

	VersionCountResponse struct {
		Count int `json:"count"`
	}
)

func decodeVersion(version *core.Version) (*VersionResponse, error) {
	resp := &VersionResponse{
		ID:           version.ID,
		DocumentID:   version.DocumentID,
		WriterID:     version.WriterID,
		Title:        version.Title,
		LastModified: version.LastModified,
	}
	if len(version.Data) == 0 {
		return resp, nil
	}
	var state core.DrawingState
	if err := json.Unmarshal(version.Data, &state); err != nil {
		return nil, fmt.Errorf("decode version %s: %w", version.ID, core.ErrInvalidRecord)
	}
	resp.Data = &state
	return resp, nil
}

// HandleListVersions lists the stored versions of a document, newest first
func HandleListVersions(store core.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		if err := core.CheckDocumentID(docID); err != nil {
			records.WriteError(w, r, err, "Invalid document id")
			return
		}

		versions, err := store.ListVersions(r.Context(), docID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list versions")
			http.Error(w, "Failed to list versions", http.StatusInternalServerError)
			return
		}
		if versions == nil {
			versions = []core.Version{}
		}

		render.JSON(w, r, versions)
	}
}

// HandleGetVersionCount returns the number of stored versions of a document
func HandleGetVersionCount(store core.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")

		versions, err := store.ListVersions(r.Context(), docID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list versions")
			http.Error(w, "Failed to get version count", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, VersionCountResponse{Count: len(versions)})
	}
}

// HandleGetVersion retrieves a single version with its drawing
func HandleGetVersion(store core.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")

		version, err := store.GetVersion(r.Context(), versionID)
		if err != nil {
			records.WriteError(w, r, err, "Failed to get version")
			return
		}

		resp, err := decodeVersion(version)
		if err != nil {
			records.WriteError(w, r, err, "Stored version is corrupt")
			return
		}
		render.JSON(w, r, resp)
	}
}

// HandleRestoreVersion writes the drawing of an older version as a new
// record of its document
func HandleRestoreVersion(store core.HistoryStore, sessions records.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")

		version, err := store.GetVersion(r.Context(), versionID)
		if err != nil {
			records.WriteError(w, r, err, "Failed to get version")
			return
		}
		resp, err := decodeVersion(version)
		if err != nil {
			records.WriteError(w, r, err, "Stored version is corrupt")
			return
		}
		if resp.Data == nil {
			http.Error(w, "Version has no drawing", http.StatusUnprocessableEntity)
			return
		}

		session, err := sessions.Open(r.Context(), version.DocumentID)
		if err != nil {
			records.WriteError(w, r, err, "Failed to open document")
			return
		}
		if err := session.RequestSave(r.Context(), docsync.Partial{State: resp.Data}); err != nil {
			records.WriteError(w, r, err, "Failed to restore version")
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": version.DocumentID,
			"version_id":  versionID,
		}).Info("Version restored")
		render.JSON(w, r, session.Record())
	}
}
