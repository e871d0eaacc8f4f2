package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// requiredFields lists the request keys that have no sensible default.
var requiredFields = map[uint8][]string{
	PortConfiguration: {
		"push_mode", "axis_selection", "hw_filter", "window_function",
		"waveform_push_period_min", "overall_push_period_min", "samples_per_axis",
	},
	PortAlarms:          {"enabled"},
	PortCommand:         {"command_id"},
	PortMissingSegments: {"segments"},
	PortAck:             {"opcode", "transaction_id"},
	PortFirmwareChunk:   {"block", "data"},
}

// UnmarshalDownlinkJSON builds the downlink for port from its JSON request
// form. Enum fields take their slug ("hanning", "request_config") or the raw
// code; unknown slugs and unknown keys are rejected. The configuration
// request defaults version to 1 and the accelerometer range to 8 g.
func UnmarshalDownlinkJSON(port uint8, data []byte) (Downlink, error) {
	var d Downlink
	switch port {
	case PortConfiguration:
		d = &ConfigurationDownlink{Version: 1, AccelRangeG: 8}
	case PortAlarms:
		d = &AlarmsDownlink{}
	case PortCommand:
		d = &CommandDownlink{}
	case PortMissingSegments:
		d = &MissingSegmentsDownlink{}
	case PortAck:
		d = &AckDownlink{}
	case PortFirmwareChunk:
		d = &FirmwareChunk{}
	default:
		return nil, fmt.Errorf("%w: downlink port %d", ErrUnsupportedPort, port)
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("invalid downlink request: %w", err)
	}
	// f_port is accepted alongside the fields for convenience.
	if raw, ok := present["f_port"]; ok {
		var p uint8
		if err := json.Unmarshal(raw, &p); err != nil || p != port {
			return nil, fmt.Errorf("%w: request f_port %s does not match %d", ErrUnsupportedPort, raw, port)
		}
		delete(present, "f_port")
		stripped, err := json.Marshal(present)
		if err != nil {
			return nil, err
		}
		data = stripped
	}
	for _, key := range requiredFields[port] {
		if v, ok := present[key]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("invalid downlink request for port %d: %w", port, err)
	}
	return d, nil
}

// EncodeDownlinkJSON is UnmarshalDownlinkJSON followed by EncodeDownlink.
func EncodeDownlinkJSON(port uint8, data []byte, opts ...Option) (Frame, error) {
	d, err := UnmarshalDownlinkJSON(port, data)
	if err != nil {
		return Frame{}, err
	}
	return EncodeDownlink(d, opts...)
}
