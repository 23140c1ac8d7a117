package storage

import (
	"context"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds each background write made by a Writer.
const DefaultWriteTimeout = 5 * time.Second

// SnapshotFunc returns the value a Writer stores and its TTL. Returning
// ok=false skips the write.
type SnapshotFunc func() (value any, ttl time.Duration, ok bool)

// Writer keeps one key of a Store up to date from a single background
// goroutine. Notify never blocks and never does I/O; notifications that
// arrive while a write is running collapse into one follow-up write of
// the latest value.
type Writer struct {
	store    Store
	key      string
	snapshot SnapshotFunc
	onError  func(error)
	timeout  time.Duration

	// orders Flush calls so an older snapshot never lands after a newer one
	mu sync.Mutex

	dirty     chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewWriter starts a writer for key. onError receives background write
// failures and may be nil.
func NewWriter(store Store, key string, snapshot SnapshotFunc, onError func(error)) *Writer {
	w := &Writer{
		store:    store,
		key:      key,
		snapshot: snapshot,
		onError:  onError,
		timeout:  DefaultWriteTimeout,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Notify schedules a write of the latest value.
func (w *Writer) Notify() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Flush writes the latest value now.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	value, ttl, ok := w.snapshot()
	if !ok {
		return nil
	}
	return SetJSON(ctx, w.store, w.key, value, ttl)
}

// Close stops the background goroutine and writes once more if a
// notification is still outstanding.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	<-w.stopped

	select {
	case <-w.dirty:
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.Flush(ctx)
}

func (w *Writer) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stop:
			return
		case <-w.dirty:
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			err := w.Flush(ctx)
			cancel()
			if err != nil && w.onError != nil {
				w.onError(err)
			}
		}
	}
}
