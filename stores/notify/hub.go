// Package notify fans record writes out to the sessions subscribed to a
// document.
package notify

import (
	"sync"

	"excalidraw-docsync/core"

	"github.com/sirupsen/logrus"
)

const bufferSize = 16

// Hub delivers published records to per-document subscribers. Each
// subscriber has its own goroutine, so a slow handler never blocks a writer.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan core.PersistedRecord]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan core.PersistedRecord]struct{})}
}

// Subscribe registers handler for records published on docID.
func (h *Hub) Subscribe(docID string, handler func(core.PersistedRecord)) func() {
	ch := make(chan core.PersistedRecord, bufferSize)
	h.mu.Lock()
	listeners := h.subscribers[docID]
	if listeners == nil {
		listeners = make(map[chan core.PersistedRecord]struct{})
		h.subscribers[docID] = listeners
	}
	listeners[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		for record := range ch {
			handler(record)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			listeners := h.subscribers[docID]
			if listeners != nil {
				delete(listeners, ch)
				if len(listeners) == 0 {
					delete(h.subscribers, docID)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish delivers record to every subscriber of docID. When a subscriber
// is backed up its oldest queued record is dropped; only the newest record
// matters to reconciliation.
func (h *Hub) Publish(docID string, record core.PersistedRecord) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[docID] {
		select {
		case ch <- record:
			continue
		default:
		}
		select {
		case <-ch:
			logrus.WithField("document_id", docID).Debug("Subscriber backed up, dropped oldest record")
		default:
		}
		select {
		case ch <- record:
		default:
		}
	}
}

// Subscribers returns the number of subscribers of docID.
func (h *Hub) Subscribers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[docID])
}
