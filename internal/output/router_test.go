package output

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devserd/devserd/internal/event"
)

type closeBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *closeBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *closeBuffer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closeBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *closeBuffer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitDone(t *testing.T, r *Router) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not finish")
	}
}

func TestRouterFansOutLines(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(16, event.TypeOutput)
	ring := NewRing(10)

	r := NewRouter("web", bus, ring)
	r.Attach(Streams{
		Stdout: io.NopCloser(strings.NewReader("a\nb\n")),
		Stderr: io.NopCloser(strings.NewReader("boom\n")),
	})
	waitDone(t, r)

	if ring.Len() != 3 {
		t.Fatalf("ring should hold 3 lines, got %d", ring.Len())
	}
	seen := map[string]string{}
	for i := 0; i < 3; i++ {
		select {
		case e := <-sub.C:
			if e.Type != event.TypeOutput || e.Project != "web" {
				t.Fatalf("bad event: %+v", e)
			}
			seen[e.Line] = e.Stream
		case <-time.After(time.Second):
			t.Fatalf("missing output event %d", i)
		}
	}
	if seen["a"] != StreamStdout || seen["b"] != StreamStdout || seen["boom"] != StreamStderr {
		t.Fatalf("streams mislabeled: %v", seen)
	}
}

func TestRouterTee(t *testing.T) {
	outTee := &closeBuffer{}
	errTee := &closeBuffer{}
	r := NewRouter("web", nil, nil)
	r.Tee(outTee, errTee)
	r.Attach(Streams{
		Stdout: io.NopCloser(strings.NewReader("hello\nworld\n")),
		Stderr: io.NopCloser(strings.NewReader("oops\n")),
	})
	waitDone(t, r)
	if got := outTee.String(); got != "hello\nworld\n" {
		t.Fatalf("stdout tee = %q", got)
	}
	if got := errTee.String(); got != "oops\n" {
		t.Fatalf("stderr tee = %q", got)
	}
	if !outTee.Closed() || !errTee.Closed() {
		t.Fatal("tee writers must be closed at EOF")
	}
}

func TestRouterSplitsVeryLongLines(t *testing.T) {
	ring := NewRing(10)
	long := strings.Repeat("x", readerBuffer*2+100)
	r := NewRouter("web", nil, ring)
	r.Attach(Streams{Stdout: io.NopCloser(strings.NewReader(long + "\n"))})
	waitDone(t, r)

	lines := ring.Last(0)
	if len(lines) < 2 {
		t.Fatalf("long line should be split, got %d entries", len(lines))
	}
	total := 0
	for _, l := range lines {
		total += len(l.Text)
	}
	if total != len(long) {
		t.Fatalf("content lost: got %d bytes, want %d", total, len(long))
	}
}

func TestRouterStdoutOnly(t *testing.T) {
	ring := NewRing(4)
	r := NewRouter("web", nil, ring)
	r.Attach(Streams{Stdout: io.NopCloser(strings.NewReader("only\n"))})
	waitDone(t, r)
	if ring.Len() != 1 {
		t.Fatalf("expected a single line, got %d", ring.Len())
	}
}

func TestRouterNoTrailingNewline(t *testing.T) {
	ring := NewRing(4)
	r := NewRouter("web", nil, ring)
	r.Attach(Streams{Stdout: io.NopCloser(strings.NewReader("partial"))})
	waitDone(t, r)
	lines := ring.Last(0)
	if len(lines) != 1 || lines[0].Text != "partial" {
		t.Fatalf("partial final line should be routed: %+v", lines)
	}
}
