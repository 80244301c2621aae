package docsync

import (
	"context"
	"sync"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Partial is a save request carrying only the subsystems that changed. Nil
// fields are taken from the cache.
type Partial struct {
	State *core.DrawingState
	Title *string
}

// SaveFunc writes a full record to the remote store.
type SaveFunc func(ctx context.Context, record *core.PersistedRecord) error

type pendingBatch struct {
	record  core.PersistedRecord
	waiters []chan error
}

// SaveQueue serializes writes to the store with at most one write in flight.
// Requests arriving while a write is in flight are coalesced into a single
// pending batch whose data is the newest request.
type SaveQueue struct {
	mu           sync.Mutex
	cache        *Cache
	save         SaveFunc
	minInterval  time.Duration
	now          func() time.Time
	log          *logrus.Entry
	metrics      *Metrics
	inFlight     bool
	pending      *pendingBatch
	flushWaiters []chan struct{}
}

func NewSaveQueue(cache *Cache, save SaveFunc, opts ...Option) *SaveQueue {
	o := buildOptions(opts)
	return &SaveQueue{
		cache:       cache,
		save:        save,
		minInterval: o.MinInterval,
		now:         o.Now,
		log:         o.Logger.WithField("component", "save_queue"),
		metrics:     NewMetrics(),
	}
}

// Submit composes partial onto the cached record and, when it changes
// anything, reconciles it into the cache and schedules the write. The
// returned channel receives the result of the write that carries this
// request; it receives nil at once when the request was a no-op.
//
// Cache listeners run synchronously inside Submit and must not submit again.
func (q *SaveQueue) Submit(partial Partial) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	entry := q.cache.Entry()
	record := q.compose(entry, partial)

	result := drawing.Compare(entry.State, record.State, drawing.SanitizeAppState, false)
	if result.IsEqual && record.Title == entry.Title {
		q.mu.Unlock()
		q.metrics.RecordSkipped()
		done <- nil
		return done
	}

	if err := q.cache.Reconcile(record, OriginLocal); err != nil {
		q.mu.Unlock()
		done <- err
		return done
	}

	log := q.log.WithFields(logrus.Fields{
		"writer_id":         record.WriterID,
		"last_modified":     record.LastModified,
		"elements_changed":  result.ElementsChanged,
		"app_state_changed": result.AppStateChanged,
		"files_changed":     result.FilesChanged,
	})

	if !q.inFlight {
		q.inFlight = true
		q.mu.Unlock()
		log.Debug("Starting write")
		go q.run(record, []chan error{done})
		return done
	}

	if q.pending == nil {
		q.pending = &pendingBatch{}
	} else {
		q.metrics.RecordCoalesced()
	}
	q.pending.record = record
	q.pending.waiters = append(q.pending.waiters, done)
	q.mu.Unlock()

	log.Debug("Write in flight, request queued")
	return done
}

// RequestSave submits partial and waits for the write carrying it. A
// cancelled ctx abandons the wait; the write itself still happens.
func (q *SaveQueue) RequestSave(ctx context.Context, partial Partial) error {
	done := q.Submit(partial)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAndWait returns once every write known at call time, including any
// batch coalesced while waiting, has landed.
func (q *SaveQueue) FlushAndWait(ctx context.Context) error {
	q.mu.Lock()
	if !q.inFlight {
		q.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	q.flushWaiters = append(q.flushWaiters, waiter)
	q.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a write is currently being sent or rate limited.
func (q *SaveQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *SaveQueue) compose(entry core.CacheEntry, partial Partial) core.PersistedRecord {
	state := entry.State
	if partial.State != nil {
		state = partial.State
	}
	if state != nil {
		state = &core.DrawingState{
			Elements: state.Elements,
			AppState: drawing.SanitizeAppState(state.AppState),
			Files:    state.Files,
		}
	}

	// An empty title reads as absent on reconcile, so it never clears one.
	title := entry.Title
	if partial.Title != nil && *partial.Title != "" {
		title = *partial.Title
	}

	lastModified := q.now().UnixMilli()
	if lastModified <= entry.LastModified {
		lastModified = entry.LastModified + 1
	}

	return core.PersistedRecord{
		State:        state,
		LastModified: lastModified,
		WriterID:     ulid.Make().String(),
		Title:        title,
	}
}

func (q *SaveQueue) run(record core.PersistedRecord, waiters []chan error) {
	for {
		err := q.save(context.Background(), &record)
		q.metrics.RecordWrite(err)

		log := q.log.WithFields(logrus.Fields{
			"writer_id":     record.WriterID,
			"last_modified": record.LastModified,
			"waiters":       len(waiters),
		})
		if err != nil {
			log.WithError(err).Error("Failed to write record")
		} else {
			log.Info("Record written successfully")
		}
		for _, w := range waiters {
			w <- err
		}

		if q.minInterval > 0 {
			time.Sleep(q.minInterval)
		}

		q.mu.Lock()
		if q.pending == nil {
			q.inFlight = false
			flushWaiters := q.flushWaiters
			q.flushWaiters = nil
			q.mu.Unlock()
			for _, w := range flushWaiters {
				close(w)
			}
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		record, waiters = batch.record, batch.waiters
	}
}
