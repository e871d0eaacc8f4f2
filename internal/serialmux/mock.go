package serialmux

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// ReplayPort is a SerialPorter that plays back fixture lines and discards
// anything written to it.
type ReplayPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	once sync.Once
}

func (p *ReplayPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *ReplayPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *ReplayPort) Close() error {
	p.once.Do(func() { p.w.Close() })
	return p.r.Close()
}

// NewReplaySerialMux creates a SerialMux that emits lines one at a time,
// interval apart, then reports end of input. Use it to run the service
// against a capture without hardware.
func NewReplaySerialMux(lines []string, interval time.Duration) *SerialMux[*ReplayPort] {
	r, w := io.Pipe()
	port := &ReplayPort{r: r, w: w}
	log.Printf("Replaying %d serial lines every %s", len(lines), interval)

	go func() {
		defer port.once.Do(func() { w.Close() })
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for _, line := range lines {
			<-ticker.C
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port)
}

// ReadReplayFile loads a capture file for NewReplaySerialMux.
func ReadReplayFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// BenchPort is an in-memory console. Lines queued with Emit are read back in
// order, and each command written is recorded and answered from Replies.
// Reads block until a line is queued or the port is closed.
type BenchPort struct {
	// Replies maps a command, without its newline, to the lines the console
	// prints in response.
	Replies map[string][]string

	mu       sync.Mutex
	cond     *sync.Cond
	pending  bytes.Buffer
	commands []string
	closed   bool
}

var errPortClosed = errors.New("serial port closed")

func NewBenchPort() *BenchPort {
	p := &BenchPort{Replies: make(map[string][]string)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Emit queues lines as if the device had printed them.
func (p *BenchPort) Emit(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.pending.WriteString(l + "\n")
	}
	p.cond.Broadcast()
}

func (p *BenchPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	return p.pending.Read(b)
}

func (p *BenchPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, errPortClosed
	}
	for _, cmd := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		p.mu.Lock()
		p.commands = append(p.commands, cmd)
		reply := p.Replies[cmd]
		p.mu.Unlock()
		p.Emit(reply...)
	}
	return len(b), nil
}

func (p *BenchPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Commands returns every command written so far.
func (p *BenchPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}
