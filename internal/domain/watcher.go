package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const watcherBuffer = 16

// Watcher is a dashboard connected to the live feed.
type Watcher struct {
	ID          string
	OperatorID  uuid.UUID
	ConnectedAt time.Time
	Mutex       sync.Mutex
	Socket      *websocket.Conn
	Events      chan FeedEvent
	closed      bool
}

func NewWatcher(operatorID uuid.UUID) *Watcher {
	return &Watcher{
		ID:          uuid.New().String(),
		OperatorID:  operatorID,
		ConnectedAt: time.Now().UTC(),
		Events:      make(chan FeedEvent, watcherBuffer),
	}
}

// EnqueueEvent delivers event without blocking. It reports false when the
// watcher is closed or its buffer is full.
func (w *Watcher) EnqueueEvent(event FeedEvent) bool {
	w.Mutex.Lock()
	defer w.Mutex.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.Events <- event:
		return true
	default:
		return false
	}
}

func (w *Watcher) Close() {
	w.Mutex.Lock()
	defer w.Mutex.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.Events)
}
