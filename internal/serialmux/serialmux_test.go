package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// pipePort is a SerialPorter fed through an io.Pipe so tests control exactly
// when lines arrive and when input ends.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.w.Close()
	return p.r.Close()
}

func (p *pipePort) feed(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := io.WriteString(p.w, l+"\n"); err != nil {
			t.Fatalf("feed %q: %v", l, err)
		}
	}
}

func (p *pipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(newPipePort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Fatal("subscription IDs should be unique")
	}
	if cap(ch1) != subscriberBuffer {
		t.Errorf("channel capacity = %d, want %d", cap(ch1), subscriberBuffer)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}
	mux.Unsubscribe(id1) // second call is a no-op

	mux.subscriberMu.Lock()
	n := len(mux.subscribers)
	mux.subscriberMu.Unlock()
	if n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("status"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("join\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got, want := port.Written(), "status\njoin\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

type shortWritePort struct{ *pipePort }

func (shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

type failingWritePort struct{ *pipePort }

func (failingWritePort) Write([]byte) (int, error) { return 0, errors.New("unplugged") }

func TestSerialMux_SendCommandErrors(t *testing.T) {
	short := NewSerialMux(shortWritePort{newPipePort()})
	if err := short.SendCommand("x"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write error = %v, want ErrWriteFailed", err)
	}

	failing := NewSerialMux(failingWritePort{newPipePort()})
	if err := failing.SendCommand("x"); err == nil || err.Error() != "unplugged" {
		t.Errorf("write error = %v, want unplugged", err)
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.feed(t, "8 03210000070003814e200015\r", "# joined")
	for _, ch := range []chan string{a, b} {
		if got := recv(t, ch); got != "8 03210000070003814e200015" {
			t.Errorf("first line = %q", got)
		}
		if got := recv(t, ch); got != "# joined" {
			t.Errorf("second line = %q", got)
		}
	}

	port.w.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v at end of input", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return at end of input")
	}

	want := Stats{Lines: 2, Uplinks: 1, Comments: 1}
	if got := mux.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
}

func TestSerialMux_MonitorDropsForSlowSubscriber(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	for i := 0; i < subscriberBuffer+5; i++ {
		port.feed(t, "0200")
	}
	port.w.Close()
	<-done

	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
	if got := mux.Stats(); got.Dropped != 5 {
		t.Errorf("Dropped = %d, want 5", got.Dropped)
	}
}

func TestSerialMux_MonitorContextCancel(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop on cancel")
	}
	port.Close()
}

func TestSerialMux_Close(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	port.mu.Lock()
	closed := port.closed
	port.mu.Unlock()
	if !closed {
		t.Error("port should be closed")
	}
}
