package core

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrInvalidRecord   = errors.New("invalid record: missing lastModified")
	ErrStaleRecord     = errors.New("stale record: lastModified is not newer than the cached one")
	ErrMalformedImport = errors.New("malformed import: not an excalidraw file")
	ErrNotFound        = errors.New("not found")
	ErrReadOnly        = errors.New("document is in reading mode")
	ErrInvalidID       = errors.New("invalid document id")
)

// CheckDocumentID rejects ids that are empty or could escape a storage
// prefix or directory.
func CheckDocumentID(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: must not be empty or a dot directory", ErrInvalidID)
	}
	if path.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: must not be a path", ErrInvalidID)
	}
	return nil
}
