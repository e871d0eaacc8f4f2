// Package ttn bridges The Things Stack v3 MQTT integration to the ingest
// pipeline: uplinks in, suggested downlinks out.
package ttn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
)

var ErrNotUplink = errors.New("message carries no application uplink")

// UplinkMessage is the subset of the v3 uplink JSON the bridge reads.
// FRMPayload arrives base64 encoded, which encoding/json decodes into
// []byte.
type UplinkMessage struct {
	EndDeviceIDs struct {
		DeviceID       string `json:"device_id"`
		DevEUI         string `json:"dev_eui"`
		ApplicationIDs struct {
			ApplicationID string `json:"application_id"`
		} `json:"application_ids"`
	} `json:"end_device_ids"`
	ReceivedAt time.Time `json:"received_at"`
	Uplink     *struct {
		FPort      uint8  `json:"f_port"`
		FCnt       uint32 `json:"f_cnt"`
		FRMPayload []byte `json:"frm_payload"`
	} `json:"uplink_message"`
}

// ParseUplink decodes an uplink message into a pipeline uplink. Messages
// without an application payload (join accepts, MAC-only frames on port 0)
// return ErrNotUplink.
func ParseUplink(data []byte) (ingest.Uplink, error) {
	var m UplinkMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ingest.Uplink{}, fmt.Errorf("failed to parse uplink JSON: %w", err)
	}
	if m.Uplink == nil || m.Uplink.FPort == 0 || len(m.Uplink.FRMPayload) == 0 {
		return ingest.Uplink{}, ErrNotUplink
	}
	if m.EndDeviceIDs.DeviceID == "" {
		return ingest.Uplink{}, fmt.Errorf("uplink without end_device_ids.device_id")
	}
	return ingest.Uplink{
		Device:     m.EndDeviceIDs.DeviceID,
		Port:       m.Uplink.FPort,
		Payload:    m.Uplink.FRMPayload,
		ReceivedAt: m.ReceivedAt,
	}, nil
}

// Downlink is one entry of a downlink push. FRMPayload marshals as base64.
type Downlink struct {
	FPort      uint8  `json:"f_port"`
	FRMPayload []byte `json:"frm_payload"`
	Priority   string `json:"priority"`
}

// DownlinkPush is the body of a push to the downlink queue.
type DownlinkPush struct {
	Downlinks []Downlink `json:"downlinks"`
}

// NewDownlinkPush wraps encoded frames at NORMAL priority.
func NewDownlinkPush(frames ...codec.Frame) DownlinkPush {
	p := DownlinkPush{Downlinks: make([]Downlink, 0, len(frames))}
	for _, f := range frames {
		p.Downlinks = append(p.Downlinks, Downlink{FPort: f.Port, FRMPayload: f.Bytes, Priority: "NORMAL"})
	}
	return p
}

// UplinkTopic is the wildcard uplink topic for app.
func UplinkTopic(app string) string {
	return fmt.Sprintf("v3/%s/devices/+/up", app)
}

// DownlinkPushTopic is the downlink queue topic for one device.
func DownlinkPushTopic(app, device string) string {
	return fmt.Sprintf("v3/%s/devices/%s/down/push", app, device)
}

// deviceFromTopic extracts the device id from an uplink topic.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 5 && parts[0] == "v3" && parts[2] == "devices" {
		return parts[3]
	}
	return ""
}
