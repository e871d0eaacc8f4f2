// Package downlink pushes frames to a device's downlink queue through The
// Things Stack webhook API.
package downlink

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ttn"
)

// Options configures the webhook endpoint.
type Options struct {
	BaseURL   string
	AppID     string
	WebhookID string
	APIKey    string
	Timeout   time.Duration
	Retries   int
}

// Client posts downlink pushes. It also serves as an ingest.Sink that
// pushes every suggested downlink.
type Client struct {
	http      *resty.Client
	opts      Options
	codecOpts []codec.Option
	logger    *zap.Logger
}

func NewClient(o Options, logger *zap.Logger, codecOpts ...codec.Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	hc := resty.New().
		SetBaseURL(o.BaseURL).
		SetTimeout(o.Timeout).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if o.APIKey != "" {
		hc.SetAuthToken(o.APIKey)
	}
	return &Client{http: hc, opts: o, codecOpts: codecOpts, logger: logger.Named("downlink")}
}

func (c *Client) pushPath(device string) string {
	return fmt.Sprintf("/api/v3/as/applications/%s/webhooks/%s/devices/%s/down/push",
		url.PathEscape(c.opts.AppID), url.PathEscape(c.opts.WebhookID), url.PathEscape(device))
}

// Push queues frames for device in order.
func (c *Client) Push(ctx context.Context, device string, frames ...codec.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ttn.NewDownlinkPush(frames...)).
		Post(c.pushPath(device))
	if err != nil {
		return fmt.Errorf("failed to push downlink: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("downlink push rejected",
			zap.String("device", device),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()))
		return fmt.Errorf("downlink push rejected: %s", resp.Status())
	}
	c.logger.Info("pushed downlinks", zap.String("device", device), zap.Int("count", len(frames)))
	return nil
}

// Publish pushes the event's suggested downlinks.
func (c *Client) Publish(ctx context.Context, ev ingest.Event) error {
	if len(ev.Actions) == 0 {
		return nil
	}
	frames := make([]codec.Frame, 0, len(ev.Actions))
	for _, a := range ev.Actions {
		f, err := a.Frame(c.codecOpts...)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", a.Reason, err)
		}
		frames = append(frames, f)
	}
	return c.Push(ctx, ev.Uplink.Device, frames...)
}
