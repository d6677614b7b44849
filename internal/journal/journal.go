package journal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/devserd/devserd/internal/event"
)

// DefaultBuffer is the writer's subscription queue size.
const DefaultBuffer = 256

// DefaultSendTimeout bounds a single sink write.
const DefaultSendTimeout = 5 * time.Second

// Sink is a destination for journaled lifecycle events. Implementations
// must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e event.Event) error
}

// LifecycleTypes returns the event types the journal records. Output lines
// are deliberately excluded; they are high-frequency and already available
// through the output ring.
func LifecycleTypes() []event.Type {
	return []event.Type{
		event.TypeStarted,
		event.TypeSpawned,
		event.TypeExited,
		event.TypeStopped,
		event.TypeRuntimeError,
		event.TypeUncaughtFault,
	}
}

// Row is the flattened form of a lifecycle event stored by the SQL sinks.
type Row struct {
	OccurredAt time.Time
	Event      string
	Project    string
	PID        int
	Status     string
	Port       int
	Detached   bool
	Restarts   int
	ExitCode   *int
	ExitSignal string
	Forced     bool
	Error      string
}

// RowFromEvent flattens an event and its record snapshot. The event-level
// error wins over the record's last error when both are set.
func RowFromEvent(e event.Event) Row {
	r := Row{
		OccurredAt: e.OccurredAt.UTC(),
		Event:      string(e.Type),
		Project:    e.Project,
		Error:      e.Err,
	}
	if rec := e.Record; rec != nil {
		r.PID = rec.PID
		r.Status = string(rec.Status)
		r.Port = rec.Port
		r.Detached = rec.Detached
		r.Restarts = rec.Restarts
		if rec.ExitCode != nil {
			c := *rec.ExitCode
			r.ExitCode = &c
		}
		r.ExitSignal = rec.ExitSignal
		r.Forced = rec.Forced
		if r.Error == "" {
			r.Error = rec.LastError
		}
	}
	return r
}

// Writer subscribes to the event bus and forwards lifecycle events to its
// sinks. It is a pure observer: sink failures are logged, never surfaced
// to the supervisor.
type Writer struct {
	sub   *event.Subscription
	sinks []Sink

	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter subscribes to bus and starts forwarding. A non-positive buffer
// falls back to DefaultBuffer.
func NewWriter(bus *event.Bus, buffer int, sinks ...Sink) *Writer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	w := &Writer{
		sub:   bus.Subscribe(buffer, LifecycleTypes()...),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.sub.C {
		for _, s := range w.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
			if err := s.Send(ctx, e); err != nil {
				slog.Warn("journal write failed", "type", string(e.Type), "project", e.Project, "error", err)
			}
			cancel()
		}
	}
}

// Dropped reports how many events were discarded because the writer's
// queue was full.
func (w *Writer) Dropped() uint64 { return w.sub.Dropped() }

// Close unsubscribes, drains queued events, and closes closeable sinks.
// Safe to call more than once.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.sub.Close()
		<-w.done
		for _, s := range w.sinks {
			if c, ok := s.(io.Closer); ok {
				_ = c.Close()
			}
		}
	})
}
