// Package ingest drives decoded uplinks through the codec and the waveform
// tracker and fans the outcome out to sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

var (
	ErrEmptyLine = errors.New("empty line")
	ErrBadLine   = errors.New("malformed uplink line")
)

// Uplink is one application payload as received from any source.
type Uplink struct {
	Device     string    `json:"device"`
	Port       uint8     `json:"f_port"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// Event is what sinks receive for every handled uplink. Exactly one of
// Result and Err is set.
type Event struct {
	ID          string                `json:"event_id"`
	Uplink      Uplink                `json:"uplink"`
	Result      *codec.Result         `json:"result,omitempty"`
	Transaction *waveform.Transaction `json:"-"`
	Actions     []waveform.Action     `json:"-"`
	Err         error                 `json:"-"`
}

// Sink consumes pipeline events. A failing sink is logged and does not
// affect the others.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Pipeline decodes uplinks, folds waveform records into a Store and
// publishes events. It is safe for concurrent use.
type Pipeline struct {
	store     *waveform.Store
	sinks     []Sink
	codecOpts []codec.Option
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Pipeline)

func WithSink(s Sink) Option { return func(p *Pipeline) { p.sinks = append(p.sinks, s) } }

func WithCodecOptions(opts ...codec.Option) Option {
	return func(p *Pipeline) { p.codecOpts = append(p.codecOpts, opts...) }
}

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func New(store *waveform.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Store() *waveform.Store { return p.store }

// CodecOptions returns the options every decode and encode should use.
func (p *Pipeline) CodecOptions() []codec.Option { return p.codecOpts }

// Handle decodes one uplink and publishes the resulting event. A decode
// error is published as an error event and returned; the pipeline itself
// keeps running.
func (p *Pipeline) Handle(ctx context.Context, u Uplink) (Event, error) {
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = p.now()
	}
	ev := Event{ID: uuid.NewString(), Uplink: u}
	log := p.logger.With(zap.String("device", u.Device), zap.Uint8("f_port", u.Port))

	res, err := codec.DecodeUplink(u.Payload, u.Port, p.codecOpts...)
	if err != nil {
		ev.Err = err
		log.Warn("failed to decode uplink", zap.Error(err), zap.String("payload", fmt.Sprintf("%x", u.Payload)))
	} else {
		ev.Result = res
		for _, w := range res.Warnings {
			log.Info("decode warning", zap.String("warning", string(w)))
		}
		if tx, actions, ok := p.store.Ingest(u.Device, res.Record); ok {
			ev.Transaction = tx
			ev.Actions = actions
			log.Debug("waveform folded",
				zap.Stringer("transaction", tx.Key),
				zap.Int("received", len(tx.Segments)),
				zap.Int("expected", tx.Expected),
				zap.Int("actions", len(actions)))
		}
	}

	for _, s := range p.sinks {
		if ctx.Err() != nil {
			return ev, ctx.Err()
		}
		if perr := s.Publish(ctx, ev); perr != nil {
			log.Error("sink publish failed", zap.String("event_id", ev.ID), zap.Error(perr))
		}
	}
	return ev, err
}

// HandleLine parses a "<port> <hex>" line and handles it as an uplink from
// device.
func (p *Pipeline) HandleLine(ctx context.Context, device, line string) (Event, error) {
	port, payload, err := ParseLine(line)
	if err != nil {
		return Event{}, err
	}
	return p.Handle(ctx, Uplink{Device: device, Port: port, Payload: payload})
}

// ParseLine splits a "<port> <hex>" line. A line with a single field is
// all payload on the uplink port; the hex may carry a 0x prefix. Blank
// lines and lines starting with '#' return ErrEmptyLine.
func ParseLine(line string) (uint8, []byte, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, nil, ErrEmptyLine
	}
	port := codec.UplinkPort
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
	case 2:
		n, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil || n == 0 {
			return 0, nil, fmt.Errorf("%w: bad port %q", ErrBadLine, fields[0])
		}
		port = uint8(n)
		line = fields[1]
	default:
		return 0, nil, fmt.Errorf("%w: want \"<port> <hex>\"", ErrBadLine)
	}
	payload, err := codec.ParseHex(line)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrBadLine, err)
	}
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("%w: no payload", ErrBadLine)
	}
	return port, payload, nil
}
