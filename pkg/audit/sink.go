package audit

import (
	"context"
	"errors"
	"time"

	"github.com/codeck/gateway/pkg/async"
)

// Sink persists audit events beyond the in-memory window. Write is only
// ever called from one goroutine at a time, in record order.
type Sink interface {
	Write(ctx context.Context, event Event) error
	Flush(ctx context.Context) error
	Close() error
}

// MultiSink fans every event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of wrapped sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Write hands the event to every sink in turn so each keeps record order.
// A failing sink does not stop the others.
func (m *MultiSink) Write(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all sinks concurrently.
func (m *MultiSink) Flush(ctx context.Context) error {
	if len(m.sinks) == 0 {
		return nil
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	errs := async.Batch(ctx, m.sinks, len(m.sinks), "audit sink flush", timeout, func(ctx context.Context, s Sink) error {
		return s.Flush(ctx)
	})
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
