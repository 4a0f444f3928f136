package service

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// Feed fans attendance events out to connected dashboards. Publishing never
// blocks: a watcher whose buffer is full misses the event.
type Feed struct {
	mu       sync.RWMutex
	watchers map[string]*domain.Watcher
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewFeed(m *metrics.Metrics, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		watchers: make(map[string]*domain.Watcher),
		metrics:  m,
		log:      log,
	}
}

func (f *Feed) Subscribe(operatorID uuid.UUID) *domain.Watcher {
	w := domain.NewWatcher(operatorID)

	f.mu.Lock()
	f.watchers[w.ID] = w
	f.mu.Unlock()

	f.metrics.WatcherDelta(1)
	f.log.Info("watcher subscribed",
		"watcher_id", w.ID,
		"operator_id", operatorID.String(),
	)
	return w
}

func (f *Feed) Unsubscribe(w *domain.Watcher) {
	if w == nil {
		return
	}

	f.mu.Lock()
	_, ok := f.watchers[w.ID]
	delete(f.watchers, w.ID)
	f.mu.Unlock()

	if ok {
		f.metrics.WatcherDelta(-1)
		f.log.Info("watcher unsubscribed", "watcher_id", w.ID)
	}
	w.Close()
}

// Len is the number of connected watchers.
func (f *Feed) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers)
}

// Publish stamps event with a fresh ULID and enqueues it for every watcher.
func (f *Feed) Publish(event domain.FeedEvent) {
	if f == nil {
		return
	}
	if event.ID == "" {
		id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
		if err == nil {
			event.ID = id.String()
		}
	}

	f.mu.RLock()
	watchers := make([]*domain.Watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		watchers = append(watchers, w)
	}
	f.mu.RUnlock()

	for _, w := range watchers {
		if !w.EnqueueEvent(event) {
			f.metrics.FeedDropped()
			f.log.Debug("feed event dropped",
				"watcher_id", w.ID,
				"event_id", event.ID,
				"type", string(event.Type),
			)
		}
	}
}
