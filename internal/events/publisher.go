// Package events fans pipeline events out to Redis streams.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
)

// Stream name suffixes under the configured prefix.
const (
	UplinkStream   = "uplinks"
	DownlinkStream = "downlinks"
)

// DefaultMaxLen caps each stream; older entries are trimmed approximately.
const DefaultMaxLen = 10000

// Publisher is an ingest.Sink that XADDs every event to <prefix>:uplinks
// and every suggested downlink to <prefix>:downlinks.
type Publisher struct {
	client    *redis.Client
	prefix    string
	maxLen    int64
	codecOpts []codec.Option
	logger    *zap.Logger
}

func NewPublisher(client *redis.Client, prefix string, logger *zap.Logger, opts ...codec.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:    client,
		prefix:    prefix,
		maxLen:    DefaultMaxLen,
		codecOpts: opts,
		logger:    logger.Named("events"),
	}
}

// NewClient opens a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) stream(name string) string {
	return p.prefix + ":" + name
}

// Publish writes the uplink entry, then one downlink entry per action.
func (p *Publisher) Publish(ctx context.Context, ev ingest.Event) error {
	values := map[string]interface{}{
		"event_id":  ev.ID,
		"device":    ev.Uplink.Device,
		"port":      strconv.Itoa(int(ev.Uplink.Port)),
		"payload":   fmt.Sprintf("%x", ev.Uplink.Payload),
		"timestamp": ev.Uplink.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		values["type"] = "error"
		values["error"] = ev.Err.Error()
	} else if ev.Result != nil {
		values["type"] = packetType(ev.Result.Record)
		record, err := json.Marshal(ev.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		values["record"] = string(record)
		values["warnings"] = strconv.Itoa(len(ev.Result.Warnings))
	}
	if err := p.xadd(ctx, UplinkStream, values); err != nil {
		return err
	}

	for _, a := range ev.Actions {
		f, err := a.Frame(p.codecOpts...)
		if err != nil {
			p.logger.Warn("skipping unencodable action", zap.String("reason", a.Reason), zap.Error(err))
			continue
		}
		if err := p.xadd(ctx, DownlinkStream, map[string]interface{}{
			"event_id":  uuid.NewString(),
			"cause_id":  ev.ID,
			"device":    ev.Uplink.Device,
			"port":      strconv.Itoa(int(f.Port)),
			"type":      "suggested_downlink",
			"hex":       f.Hex(),
			"reason":    a.Reason,
			"timestamp": ev.Uplink.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) xadd(ctx context.Context, name string, values map[string]interface{}) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream(name),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream(name), err)
	}
	return nil
}

func packetType(r codec.Record) string {
	switch v := r.(type) {
	case *codec.Configuration:
		return "configuration"
	case *codec.Overall:
		if v.Alarm {
			return "alarm"
		}
		return "overall"
	case *codec.WaveformInfo:
		return "waveform_info"
	case *codec.WaveformData:
		if v.Last {
			return "waveform_data_final"
		}
		return "waveform_data"
	case *codec.UpgradeStatus:
		return "upgrade_status"
	}
	return "unknown"
}
