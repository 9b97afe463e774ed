package database

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"bizmatch/internal/retry"
)

// changeChannel is the NOTIFY channel fed by the documents trigger.
const changeChannel = "document_changes"

type changeEvent struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

type subscription struct {
	collection string
	query      Query
	onChange   func([]Record)
	dirty      chan struct{}
	stop       chan struct{}
	once       sync.Once
}

func (s *subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// watcher owns one LISTEN connection and fans change events out to the
// subscriptions of the affected collection. Without a pool it relies on the
// store calling markCollection itself. Each subscription re-reads its
// full result set on its own goroutine, so bursts of changes coalesce.
type watcher struct {
	pool *pgxpool.Pool
	docs Documents
	log  logrus.FieldLogger

	mu      sync.Mutex
	subs    map[string]map[*subscription]struct{}
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newWatcher(pool *pgxpool.Pool, docs Documents, log logrus.FieldLogger) *watcher {
	return &watcher{
		pool: pool,
		docs: docs,
		log:  log,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

func (w *watcher) subscribe(collection string, q Query, onChange func([]Record)) func() {
	noop := func() {}
	if collection == "" || onChange == nil {
		w.log.Warn("subscription rejected: collection and callback are required")
		return noop
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.log.WithField("collection", collection).Warn("subscription rejected: store closed")
		return noop
	}
	if !w.started && w.pool != nil {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		w.done = make(chan struct{})
		w.started = true
		go w.listen(ctx)
	}

	sub := &subscription{
		collection: collection,
		query:      q,
		onChange:   onChange,
		dirty:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	if w.subs[collection] == nil {
		w.subs[collection] = make(map[*subscription]struct{})
	}
	w.subs[collection][sub] = struct{}{}

	sub.markDirty()
	go w.run(sub)

	return func() {
		sub.once.Do(func() {
			close(sub.stop)
			w.mu.Lock()
			delete(w.subs[collection], sub)
			w.mu.Unlock()
		})
	}
}

func (w *watcher) run(sub *subscription) {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.dirty:
			w.deliver(sub)
		}
	}
}

func (w *watcher) deliver(sub *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := w.docs.FindRecords(ctx, sub.collection, sub.query)
	if err != nil {
		// The subscriber keeps whatever it last received.
		w.log.WithError(err).WithField("collection", sub.collection).Warn("snapshot read failed")
		return
	}
	select {
	case <-sub.stop:
		return
	default:
	}
	sub.onChange(records)
}

func (w *watcher) listen(ctx context.Context) {
	defer close(w.done)

	policy := retry.Exponential(math.MaxInt32, 100*time.Millisecond, 10*time.Second)
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		err := w.listenOnce(ctx)
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		w.log.WithError(err).Warn("change listener disconnected, reconnecting")
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.log.WithError(err).Error("change listener stopped")
	}
}

func (w *watcher) listenOnce(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	// Changes may have been missed while disconnected.
	w.markAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev changeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			w.log.WithError(err).WithField("payload", n.Payload).Warn("malformed change event")
			continue
		}
		w.markCollection(ev.Collection)
	}
}

func (w *watcher) markCollection(collection string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs[collection] {
		sub.markDirty()
	}
}

func (w *watcher) markAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, subs := range w.subs {
		for sub := range subs {
			sub.markDirty()
		}
	}
}

func (w *watcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, subs := range w.subs {
		n += len(subs)
	}
	return n
}

func (w *watcher) close() {
	w.mu.Lock()
	w.closed = true
	subs := w.subs
	w.subs = make(map[string]map[*subscription]struct{})
	started := w.started
	w.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.stop) })
		}
	}
	if started {
		w.cancel()
		<-w.done
	}
}
