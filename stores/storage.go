package stores

import (
	"context"
	"io"
	"os"

	"excalidraw-docsync/core"
	"excalidraw-docsync/stores/filesystem"
	"excalidraw-docsync/stores/memory"
	"excalidraw-docsync/stores/s3"
	"excalidraw-docsync/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is the record store a backend provides, plus document bookkeeping.
type Store interface {
	core.RecordStore
	core.DocumentRegistry
}

// GetStore builds the backend selected by STORAGE_TYPE.
func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		fsStore := filesystem.NewStore(basePath)
		if err := fsStore.StartWatching(context.Background()); err != nil {
			logrus.WithError(err).Warn("Record directory watch unavailable, cross-process changes will not be pushed")
		}
		store = fsStore
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "excalidraw.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = s3.NewStore(bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

// History returns the version history of store when the backend keeps one.
func History(store Store) (core.HistoryStore, bool) {
	history, ok := store.(core.HistoryStore)
	return history, ok
}

// Close releases the resources a backend holds open, if any.
func Close(store Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
