package output

import (
	"bufio"
	"io"
	"time"

	"github.com/devserd/devserd/internal/event"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	// readerBuffer bounds a single read chunk; lines longer than this
	// arrive split across multiple Line entries.
	readerBuffer = 64 * 1024
)

// Streams bundles the read ends of a child's piped output.
type Streams struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Router scans a child's piped output line by line and fans every line out
// to the retention ring, the event bus, and optional tee writers. One
// Router serves one process incarnation.
type Router struct {
	project string
	bus     *event.Bus
	ring    *Ring
	outTee  io.WriteCloser
	errTee  io.WriteCloser
	done    chan struct{}
	pending int
}

func NewRouter(project string, bus *event.Bus, ring *Ring) *Router {
	return &Router{project: project, bus: bus, ring: ring, done: make(chan struct{})}
}

// Tee additionally copies routed lines to the given writers. Must be set
// before Attach; the writers are closed when their stream ends.
func (r *Router) Tee(out, errW io.WriteCloser) {
	r.outTee = out
	r.errTee = errW
}

// Attach starts the scan goroutines for the given streams. Nil streams are
// skipped.
func (r *Router) Attach(s Streams) {
	drained := make(chan struct{}, 2)
	if s.Stdout != nil {
		r.pending++
		go r.scan(StreamStdout, s.Stdout, r.outTee, drained)
	}
	if s.Stderr != nil {
		r.pending++
		go r.scan(StreamStderr, s.Stderr, r.errTee, drained)
	}
	go func(n int) {
		for i := 0; i < n; i++ {
			<-drained
		}
		close(r.done)
	}(r.pending)
}

// Done is closed after both streams reached EOF and all lines were routed.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) scan(stream string, rc io.ReadCloser, tee io.WriteCloser, drained chan<- struct{}) {
	defer func() {
		_ = rc.Close()
		if tee != nil {
			_ = tee.Close()
		}
		drained <- struct{}{}
	}()
	rd := bufio.NewReaderSize(rc, readerBuffer)
	for {
		chunk, _, err := rd.ReadLine()
		if len(chunk) > 0 {
			r.emit(stream, string(chunk), tee)
		}
		if err != nil {
			return
		}
	}
}

func (r *Router) emit(stream, text string, tee io.WriteCloser) {
	at := time.Now()
	if r.ring != nil {
		r.ring.Append(Line{Stream: stream, Text: text, At: at})
	}
	if tee != nil {
		_, _ = tee.Write(append([]byte(text), '\n'))
	}
	if r.bus != nil {
		r.bus.Publish(event.Event{
			Type:       event.TypeOutput,
			Project:    r.project,
			OccurredAt: at,
			Stream:     stream,
			Line:       text,
		})
	}
}
