// Package serialmux multiplexes a line-oriented serial console, typically a
// LoRaWAN development gateway or a bench device printing "<port> <hex>"
// uplinks, to several subscribers and accepts console commands.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer lets a subscriber fall this many lines behind before
// Monitor starts dropping lines for it.
const subscriberBuffer = 64

// SerialMuxInterface is what the service needs from a console.
type SerialMuxInterface interface {
	// Subscribe returns a channel of console lines and the id to pass to
	// Unsubscribe.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the console.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port reaches end of input.
	Monitor(context.Context) error
	// Close closes every subscription and the port.
	Close() error

	// AttachAdminRoutes mounts the console pages under /debug/. tsweb
	// restricts them to loopback and Tailscale peers.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux fans console lines from one port out to subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	commandMu sync.Mutex
	closing   atomic.Bool

	lines    atomic.Uint64
	uplinks  atomic.Uint64
	comments atomic.Uint64
	unknown  atomic.Uint64
	dropped  atomic.Uint64
}

// Stats counts console lines by kind, and lines a slow subscriber missed.
type Stats struct {
	Lines    uint64 `json:"lines"`
	Uplinks  uint64 `json:"uplinks"`
	Comments uint64 `json:"comments"`
	Unknown  uint64 `json:"unknown"`
	Dropped  uint64 `json:"dropped"`
}

func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Lines:    s.lines.Load(),
		Uplinks:  s.uplinks.Load(),
		Comments: s.comments.Load(),
		Unknown:  s.unknown.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// NewSerialMux wraps an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subscribers: make(map[string]chan string)}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the console, appending a newline if it has
// none. A short write returns ErrWriteFailed.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(command))
	}
	return nil
}

// readLines scans the port on its own goroutine so a blocked Read never
// holds up cancellation. lines is closed at end of input; a scan error is
// sent on errs first.
func (s *SerialMux[T]) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			errs <- err
		}
	}()
	return lines, errs
}

// Monitor delivers each console line, with any trailing CR removed, to every
// subscriber. It returns nil at end of input or after Close.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines, errs := s.readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					if s.closing.Load() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.publish(strings.TrimRight(line, "\r"))
		}
	}
}

func (s *SerialMux[T]) publish(line string) {
	s.lines.Add(1)
	switch ClassifyLine(line) {
	case LineUplink:
		s.uplinks.Add(1)
	case LineComment:
		s.comments.Add(1)
	default:
		s.unknown.Add(1)
	}

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
