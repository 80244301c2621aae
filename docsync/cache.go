// Package docsync keeps a document's drawing in sync between a live canvas
// and the host record store: a local cache mutated only through
// reconciliation, a coalescing save queue, and the canvas bridge.
package docsync

import (
	"fmt"
	"sync"

	"excalidraw-docsync/core"
	"excalidraw-docsync/drawing"

	"github.com/sirupsen/logrus"
)

// Origin tells cache listeners where a reconciled record came from.
type Origin int

const (
	OriginLoad Origin = iota
	OriginLocal
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLoad:
		return "load"
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

type cacheListener struct {
	fn func(core.CacheEntry, Origin)
}

// Cache is the local data cache of one document. Reconcile is the only
// mutation path.
type Cache struct {
	mu        sync.RWMutex
	entry     core.CacheEntry
	listeners []*cacheListener
	log       *logrus.Entry
	metrics   *Metrics
}

func NewCache(log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.WithField("component", "cache")
	}
	return &Cache{log: log, metrics: NewMetrics()}
}

// Entry returns the current entry. The returned state is shared with the
// cache and must be treated as read-only.
func (c *Cache) Entry() core.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry
}

func (c *Cache) HasData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry.HasData
}

// Subscribe registers fn to be called after every successful reconciliation.
func (c *Cache) Subscribe(fn func(core.CacheEntry, Origin)) func() {
	listener := &cacheListener{fn: fn}
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l == listener {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Reconcile merges incoming into the cache. It fails with
// core.ErrInvalidRecord when incoming has no timestamp and with
// core.ErrStaleRecord when the timestamp is not newer than the held one; in
// both cases the cache is left untouched.
func (c *Cache) Reconcile(incoming core.PersistedRecord, origin Origin) error {
	c.mu.Lock()

	if incoming.LastModified == 0 {
		c.mu.Unlock()
		c.metrics.RecordRejected("invalid")
		return core.ErrInvalidRecord
	}
	if incoming.LastModified <= c.entry.LastModified {
		held := c.entry.LastModified
		c.mu.Unlock()
		c.metrics.RecordRejected("stale")
		return fmt.Errorf("%w: incoming %d, held %d", core.ErrStaleRecord, incoming.LastModified, held)
	}

	log := c.log.WithFields(logrus.Fields{
		"last_modified": incoming.LastModified,
		"writer_id":     incoming.WriterID,
		"origin":        origin.String(),
	})

	c.entry.LastModified = incoming.LastModified
	c.entry.WriterID = incoming.WriterID

	if incoming.State != nil {
		current := c.entry.State
		result := drawing.Compare(current, incoming.State, drawing.SanitizeAppState, false)
		if !result.IsEqual {
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				log.WithField("changes", drawing.Diff(current, incoming.State)).Debug("Drawing state changed")
			}
			var base core.AppState
			if current != nil {
				base = current.AppState
			}
			c.entry.State = &core.DrawingState{
				Elements: incoming.State.Elements,
				AppState: drawing.MergeAppState(base, incoming.State.AppState),
				Files:    incoming.State.Files,
			}
		}
		c.entry.HasData = true
	}

	if incoming.Title != "" {
		c.entry.Title = incoming.Title
	}

	entry := c.entry
	listeners := make([]*cacheListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	log.Debug("Record reconciled")
	for _, l := range listeners {
		l.fn(entry, origin)
	}
	return nil
}
