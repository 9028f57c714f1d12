package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// pruneInterval is how often the writer applies the retention policy.
const pruneInterval = time.Hour

// Writer decouples the admission hot path from audit persistence. Denials go
// into a bounded queue and a single background goroutine drains it; when the
// queue is full the event is dropped and counted, never blocking a request.
type Writer struct {
	store     Store
	queue     chan *Event
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	dropped atomic.Int64

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts the background writer over the given store.
func NewWriter(store Store, queueSize int, retention time.Duration, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		store:     store,
		queue:     make(chan *Event, queueSize),
		retention: retention,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// RecordDenial enqueues one denial. Non-blocking; drops when the queue is
// full.
func (w *Writer) RecordDenial(kind, tier, identifier, path, reason string) {
	event := &Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Tier:       tier,
		Identifier: identifier,
		Path:       path,
		Reason:     reason,
		CreatedAt:  w.now(),
	}

	select {
	case w.queue <- event:
	default:
		if w.dropped.Add(1)%1000 == 1 {
			w.logger.Warn("audit queue full, dropping denial events",
				"dropped_total", w.dropped.Load())
		}
	}
}

// Dropped reports how many events were discarded due to a full queue.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops the writer after draining queued events.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case event := <-w.queue:
			w.persist(event)
		case <-pruneTicker.C:
			w.prune()
		case <-w.done:
			w.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (w *Writer) drain() {
	for {
		select {
		case event := <-w.queue:
			w.persist(event)
		default:
			return
		}
	}
}

func (w *Writer) persist(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.Record(ctx, event); err != nil {
		w.logger.Error("failed to persist denial event",
			"event_id", event.ID, "error", err)
	}
}

func (w *Writer) prune() {
	if w.retention <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := w.store.Prune(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logger.Error("failed to prune audit trail", "error", err)
		return
	}
	if pruned > 0 {
		w.logger.Info("pruned audit trail", "events_removed", pruned)
	}
}
