package ttn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
)

// UplinkHandler receives every parsed uplink.
type UplinkHandler func(ctx context.Context, u ingest.Uplink) error

// Bridge subscribes to an application's uplinks and, as an ingest.Sink,
// pushes suggested downlinks back to the device queue.
type Bridge struct {
	broker    Broker
	app       string
	qos       byte
	codecOpts []codec.Option
	logger    *zap.Logger
}

func NewBridge(broker Broker, app string, qos byte, logger *zap.Logger, opts ...codec.Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{broker: broker, app: app, qos: qos, codecOpts: opts, logger: logger.Named("ttn")}
}

// Start subscribes to the uplink topic. Messages are handled on the
// broker's callback goroutine with ctx; handler errors are logged.
func (b *Bridge) Start(ctx context.Context, handle UplinkHandler) error {
	topic := UplinkTopic(b.app)
	b.logger.Info("subscribing", zap.String("topic", topic), zap.Uint8("qos", b.qos))
	return b.broker.Subscribe(topic, b.qos, func(topic string, payload []byte) {
		if ctx.Err() != nil {
			return
		}
		u, err := ParseUplink(payload)
		if errors.Is(err, ErrNotUplink) {
			b.logger.Debug("skipping message without payload", zap.String("topic", topic))
			return
		}
		if err != nil {
			b.logger.Warn("bad uplink message", zap.String("topic", topic), zap.Error(err))
			return
		}
		if dev := deviceFromTopic(topic); dev != "" && dev != u.Device {
			b.logger.Warn("topic and payload disagree on device",
				zap.String("topic_device", dev), zap.String("payload_device", u.Device))
		}
		if err := handle(ctx, u); err != nil {
			b.logger.Warn("uplink not handled", zap.String("device", u.Device), zap.Error(err))
		}
	})
}

// Publish pushes the event's suggested downlinks, if any, to the device's
// downlink queue in one message.
func (b *Bridge) Publish(_ context.Context, ev ingest.Event) error {
	if len(ev.Actions) == 0 {
		return nil
	}
	frames := make([]codec.Frame, 0, len(ev.Actions))
	for _, a := range ev.Actions {
		f, err := a.Frame(b.codecOpts...)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", a.Reason, err)
		}
		frames = append(frames, f)
	}
	body, err := json.Marshal(NewDownlinkPush(frames...))
	if err != nil {
		return err
	}
	topic := DownlinkPushTopic(b.app, ev.Uplink.Device)
	if err := b.broker.Publish(topic, b.qos, false, body); err != nil {
		return err
	}
	b.logger.Info("pushed downlinks", zap.String("device", ev.Uplink.Device), zap.Int("count", len(frames)))
	return nil
}

func (b *Bridge) Close() {
	b.broker.Disconnect()
}
