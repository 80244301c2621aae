// Package s3 stores one JSON object per document in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/stores/notify"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "records/"

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Store struct {
	client s3API
	bucket string
	hub    *notify.Hub

	mu      sync.Mutex
	touched map[string]int64
}

// NewStore creates an S3 store using the default AWS configuration chain.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logrus.WithError(err).Fatal("Unable to load AWS SDK config")
	}
	return newStore(s3.NewFromConfig(cfg), bucketName)
}

func newStore(client s3API, bucket string) *s3Store {
	return &s3Store{
		client:  client,
		bucket:  bucket,
		hub:     notify.NewHub(),
		touched: make(map[string]int64),
	}
}

func recordKey(docID string) string {
	return keyPrefix + docID + ".json"
}

func (s *s3Store) Load(ctx context.Context, docID string) (*core.PersistedRecord, error) {
	if err := core.CheckDocumentID(docID); err != nil {
		return nil, err
	}
	key := recordKey(docID)
	log := logrus.WithFields(logrus.Fields{"document_id": docID, "key": key})

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Debug("No record stored for document")
			return nil, nil
		}
		log.WithError(err).Error("Failed to retrieve record")
		return nil, fmt.Errorf("failed to get record %s: %w", docID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read record data: %w", err)
	}

	var record core.PersistedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", docID, err)
	}

	log.Info("Record retrieved successfully")
	return &record, nil
}

func (s *s3Store) Save(ctx context.Context, docID string, record *core.PersistedRecord) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	if record == nil || record.LastModified == 0 {
		return core.ErrInvalidRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := recordKey(docID)
	log := logrus.WithFields(logrus.Fields{
		"document_id":   docID,
		"key":           key,
		"last_modified": record.LastModified,
		"data_length":   len(data),
	})

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.WithError(err).Error("Failed to save record")
		return fmt.Errorf("failed to save record %s: %w", docID, err)
	}

	log.Info("Record saved successfully")
	s.hub.Publish(docID, *record)
	return nil
}

func (s *s3Store) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	return s.hub.Subscribe(docID, handler)
}

func (s *s3Store) TouchDocument(ctx context.Context, docID string) error {
	if err := core.CheckDocumentID(docID); err != nil {
		return err
	}
	s.mu.Lock()
	s.touched[docID] = time.Now().UnixMilli()
	s.mu.Unlock()
	return nil
}

// ListDocuments lists the stored records, using each object's modification
// time as its last activity unless the document was touched more recently.
func (s *s3Store) ListDocuments(ctx context.Context) ([]core.DocumentInfo, error) {
	lastActive := make(map[string]int64)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			logrus.WithError(err).Error("Failed to list records")
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		for _, object := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(object.Key), keyPrefix)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			lastActive[strings.TrimSuffix(name, ".json")] = aws.ToTime(object.LastModified).UnixMilli()
		}
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
	return docs, nil
}
