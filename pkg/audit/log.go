package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultCapacity bounds the in-memory window.
	DefaultCapacity = 1000
	// DefaultQueueSize bounds how many events may wait for the sinks.
	DefaultQueueSize = 256

	sinkWriteTimeout = 5 * time.Second
)

// Drop reasons passed to the drop hook.
const (
	DropQueueFull = "queue_full"
	DropSinkError = "sink_error"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("audit log closed")

// Log is the append-only record of authentication events. The most recent
// events are held in memory; when a Sink is configured every event is also
// handed to it, in order, on a background goroutine.
type Log struct {
	mu       sync.RWMutex
	ring     []Event
	head     int // index of the oldest event
	size     int
	capacity int

	now    func() time.Time
	sink   Sink
	logger logrus.FieldLogger
	onDrop func(reason string)

	queue   chan item
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	closeMu sync.Mutex
}

// item is either an event for the sinks or a flush request.
type item struct {
	event *Event
	flush chan error
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity sets how many events are kept in memory.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithSink forwards every recorded event to s.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithQueueSize bounds the number of events waiting for the sink.
func WithQueueSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.queue = make(chan item, n)
		}
	}
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithDropHook is called whenever an event does not reach the sink.
func WithDropHook(fn func(reason string)) Option {
	return func(l *Log) {
		if fn != nil {
			l.onDrop = fn
		}
	}
}

// NewLog creates an audit log. With a sink configured it starts the
// dispatcher goroutine; call Close to stop it.
func NewLog(opts ...Option) *Log {
	l := &Log{
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   logrus.StandardLogger(),
		onDrop:   func(string) {},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ring = make([]Event, l.capacity)

	if l.sink == nil {
		close(l.done)
		return l
	}
	if l.queue == nil {
		l.queue = make(chan item, DefaultQueueSize)
	}
	go l.dispatch()
	return l
}

// Record appends an event. It never fails and never blocks on the sink: if
// the sink queue is full the event is kept in memory only and the drop hook
// fires.
func (l *Log) Record(ctx context.Context, kind EventKind, ip string, d Detail) Event {
	event := Event{
		Kind:      kind,
		IP:        ip,
		Timestamp: l.now().UnixMilli(),
		SessionID: d.SessionID,
		DeviceID:  d.DeviceID,
		Metadata:  copyMetadata(d.Metadata),
	}

	l.mu.Lock()
	l.appendLocked(event)

	// Enqueue under the lock so the sink sees the same order as List
	if l.sink != nil && !l.closed.Load() {
		e := event
		select {
		case l.queue <- item{event: &e}:
		default:
			l.onDrop(DropQueueFull)
			l.logger.WithField("type", kind).Warn("audit sink queue full, event kept in memory only")
		}
	}
	l.mu.Unlock()

	return event
}

// Restore loads previously persisted events, oldest first, into the
// in-memory window without handing them to the sink. Only the newest
// Capacity events are kept. It returns how many were loaded.
func (l *Log) Restore(events []Event) int {
	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		e.Metadata = copyMetadata(e.Metadata)
		l.appendLocked(e)
	}
	return len(events)
}

func (l *Log) appendLocked(e Event) {
	idx := (l.head + l.size) % l.capacity
	l.ring[idx] = e
	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity
	}
}

// Capacity is the size of the in-memory window.
func (l *Log) Capacity() int {
	return l.capacity
}

// List returns the retained events oldest first.
func (l *Log) List() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		e := l.ring[(l.head+i)%l.capacity]
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Flush waits until every event recorded before the call has been written
// to the sink, then flushes the sink. Without a sink it returns nil.
func (l *Log) Flush(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	if l.closed.Load() {
		return ErrClosed
	}

	req := item{flush: make(chan error, 1)}
	select {
	case l.queue <- req:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.flush:
		return err
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding events, stops the dispatcher and closes the
// sink. Events recorded afterwards stay in memory only.
func (l *Log) Close(ctx context.Context) error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()

	if l.sink == nil || l.closed.Load() {
		return nil
	}

	flushErr := l.Flush(ctx)

	// Record enqueues under mu, so once closed is set here nothing can
	// land in the queue after the dispatcher's final drain.
	l.mu.Lock()
	l.closed.Store(true)
	close(l.stop)
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return errors.Join(flushErr, l.sink.Close())
}

func (l *Log) dispatch() {
	defer close(l.done)

	for {
		select {
		case it := <-l.queue:
			l.handle(it)
		case <-l.stop:
			// Drain whatever was queued before the stop
			for {
				select {
				case it := <-l.queue:
					l.handle(it)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) handle(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if it.flush != nil {
		it.flush <- l.sink.Flush(ctx)
		return
	}

	if err := l.sink.Write(ctx, *it.event); err != nil {
		l.onDrop(DropSinkError)
		l.logger.WithError(err).WithField("type", it.event.Kind).Error("failed to persist audit event")
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
