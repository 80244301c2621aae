package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/docsync"
	"excalidraw-docsync/drawing"
	"excalidraw-docsync/host"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const maxImportSize = 50 * 1024 * 1024

type (
	// Sessions opens the live session of a document.
	Sessions interface {
		Open(ctx context.Context, docID string) (*docsync.Session, error)
	}

	DocumentLister interface {
		ListDocuments(ctx context.Context) ([]core.DocumentInfo, error)
	}

	SaveRequest struct {
		Data  *core.DrawingState `json:"excalidrawData,omitempty"`
		Title *string            `json:"title,omitempty"`
	}

	ModeRequest struct {
		Mode          string `json:"mode,omitempty"`
		AddonEditMode *bool  `json:"addonEditMode,omitempty"`
	}

	ModeResponse struct {
		Mode          string `json:"mode"`
		AddonEditMode bool   `json:"addonEditMode"`
		CanEdit       bool   `json:"canEdit"`
	}
)

// StatusFor maps a sync error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidID),
		errors.Is(err, core.ErrMalformedImport),
		errors.Is(err, core.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReadOnly),
		errors.Is(err, core.ErrStaleRecord):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs err and renders it as a JSON error body.
func WriteError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := StatusFor(err)
	entry := logrus.WithField("error", err)
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}

func openSession(w http.ResponseWriter, r *http.Request, sessions Sessions) (*docsync.Session, bool) {
	docID := chi.URLParam(r, "id")
	session, err := sessions.Open(r.Context(), docID)
	if err != nil {
		WriteError(w, r, err, "Failed to open document")
		return nil, false
	}
	return session, true
}

// HandleListDocuments lists known documents, open ones flagged.
func HandleListDocuments(docs DocumentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := docs.ListDocuments(r.Context())
		if err != nil {
			WriteError(w, r, err, "Failed to list documents")
			return
		}
		if list == nil {
			list = []core.DocumentInfo{}
		}
		render.JSON(w, r, list)
	}
}

// HandleGet returns the document's cached record.
func HandleGet(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if !session.HasData() {
			WriteError(w, r, core.ErrNotFound, "Document has no drawing")
			return
		}
		render.JSON(w, r, session.Record())
	}
}

// HandleSave merges the request into the record and waits for the write.
func HandleSave(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Data == nil && req.Title == nil {
			http.Error(w, "Nothing to save", http.StatusBadRequest)
			return
		}
		if req.Title != nil && *req.Title == "" {
			http.Error(w, "Title must not be empty", http.StatusBadRequest)
			return
		}

		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		err := session.RequestSave(r.Context(), docsync.Partial{State: req.Data, Title: req.Title})
		if err != nil {
			WriteError(w, r, err, "Failed to save document")
			return
		}
		render.JSON(w, r, session.Record())
	}
}

// HandleEditScene replaces the headless scene. The write happens through
// the sync bridge once the debounce window closes.
func HandleEditScene(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var state core.DrawingState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if err := session.EditScene(state); err != nil {
			WriteError(w, r, err, "Failed to edit scene")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// HandleNew stores an empty drawing for the document.
func HandleNew(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if err := session.CreateNewDrawing(r.Context()); err != nil {
			WriteError(w, r, err, "Failed to create drawing")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, session.Record())
	}
}

// HandleFlush waits until every pending write of the document has landed.
func HandleFlush(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if err := session.FlushAndWait(r.Context()); err != nil {
			WriteError(w, r, err, "Failed to flush writes")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleImport replaces the drawing with an uploaded .excalidraw file.
func HandleImport(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
		if err != nil {
			logrus.WithField("error", err).Error("Failed to read request body")
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if err := session.Import(r.Context(), data); err != nil {
			WriteError(w, r, err, "Failed to import drawing")
			return
		}
		render.JSON(w, r, session.Record())
	}
}

// HandleExport downloads the drawing as an .excalidraw file.
func HandleExport(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		data, err := session.Export()
		if err != nil {
			WriteError(w, r, err, "Failed to export drawing")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+drawing.ExportFileName(time.Now())+`"`)
		if _, err := w.Write(data); err != nil {
			logrus.WithField("error", err).Error("Failed to write export")
		}
	}
}

// HandleGetMode reports the host mode of the document.
func HandleGetMode(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		render.JSON(w, r, modeResponse(session))
	}
}

// HandleSetMode changes the host mode and the add-on edit mode.
func HandleSetMode(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		mode, err := host.ParseMode(req.Mode)
		if err != nil {
			http.Error(w, "Invalid mode", http.StatusBadRequest)
			return
		}

		session, ok := openSession(w, r, sessions)
		if !ok {
			return
		}
		if mode != host.ModeUnknown {
			session.Host().SetMode(mode)
		}
		if req.AddonEditMode != nil {
			if err := session.SetEditMode(r.Context(), *req.AddonEditMode); err != nil {
				WriteError(w, r, err, "Failed to set edit mode")
				return
			}
		}
		render.JSON(w, r, modeResponse(session))
	}
}

func modeResponse(session *docsync.Session) ModeResponse {
	h := session.Host()
	return ModeResponse{
		Mode:          h.Mode().String(),
		AddonEditMode: h.AddonEditMode(),
		CanEdit:       h.CanEdit(),
	}
}
