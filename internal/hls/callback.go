package hls

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Notification is one async on_hls/on_hls_notify event handed to the
// callback worker (C8). Payload is *Segment for on_hls, an error for
// on_hls_error, or nil for publish/unpublish events.
type Notification struct {
	Kind      string
	Vhost     string
	App       string
	Stream    string
	SessionID string
	Payload   any
}

// Notifier delivers one notification to whatever external system
// hls_nb_notify is configured for (an HTTP callback, a message bus, ...).
// Implementations should treat delivery as best-effort: the worker never
// retries a failed Notify call.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a plain function to a Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// CallbackWorker delivers notifications on a bounded queue with
// drop-oldest-on-overflow semantics: a slow or unreachable receiver can
// never cause Submit to block the segmenting hot path.
type CallbackWorker struct {
	mu       sync.Mutex
	queue    []Notification
	capacity int
	notifier Notifier
	log      *slog.Logger

	cond    *sync.Cond
	closed  bool
	dropped uint64
}

// NewCallbackWorker creates a worker with the given queue depth
// (hls_nb_notify) and notifier.
func NewCallbackWorker(capacity int, notifier Notifier, log *slog.Logger) *CallbackWorker {
	if capacity <= 0 {
		capacity = 16
	}
	if log == nil {
		log = slog.Default()
	}
	w := &CallbackWorker{capacity: capacity, notifier: notifier, log: log}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Submit enqueues a notification. If the queue is full, the oldest pending
// notification is dropped to make room — Submit itself never blocks.
func (w *CallbackWorker) Submit(ctx context.Context, n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if len(w.queue) >= w.capacity {
		w.queue = w.queue[1:]
		w.dropped++
		w.log.Warn("hls notification queue full, dropping oldest",
			slog.String("stream", n.Stream), slog.Uint64("total_dropped", w.dropped))
	}
	w.queue = append(w.queue, n)
	w.cond.Signal()
}

// Run drains the queue until ctx is cancelled, delivering notifications via
// an errgroup so individual Notify calls run concurrently but Run itself
// returns only once every in-flight delivery has finished.
func (w *CallbackWorker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(context.Background())

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		w.closed = true
		w.cond.Broadcast()
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.mu.Unlock()
			break
		}
		n := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		g.Go(func() error {
			if err := w.notifier.Notify(gctx, n); err != nil {
				w.log.Warn("hls notify failed", slog.String("kind", n.Kind), slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}
