package codec

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Downlink fPorts.
const (
	PortAck             uint8 = 20
	PortMissingSegments uint8 = 21
	PortCommand         uint8 = 22
	PortFirmwareChunk   uint8 = 25
	PortConfiguration   uint8 = 30
	PortAlarms          uint8 = 31
)

const (
	configurationDownlinkLen = 20
	alarmsDownlinkLen        = 16
	ackDownlinkLen           = 2

	// FirmwareChunkSize is the largest payload a port 25 frame carries.
	FirmwareChunkSize = 51

	// Index limits for one port 21 frame of at most 51 bytes, in mode 0
	// and mode 1 respectively.
	MaxMissingSegmentsNarrow = 49
	MaxMissingSegmentsWide   = 24
)

// Downlink is an encodable device command. The set of implementations is
// closed; each one maps to exactly one fPort.
type Downlink interface {
	Port() uint8
	downlink()
}

// ConfigurationDownlink rewrites the device settings (port 30).
type ConfigurationDownlink struct {
	Version               uint8          `json:"version"`
	PushMode              PushMode       `json:"push_mode"`
	AxisSelection         AxisSelection  `json:"axis_selection"`
	AccelRangeG           uint8          `json:"accel_range_g"`
	HardwareFilter        HardwareFilter `json:"hw_filter"`
	WaveformPushPeriodMin uint16         `json:"waveform_push_period_min"`
	OverallPushPeriodMin  uint16         `json:"overall_push_period_min"`
	SamplesPerAxis        uint16         `json:"samples_per_axis"`
	HighPassFilterHz      uint16         `json:"high_pass_filter_hz"`
	LowPassFilterHz       uint16         `json:"low_pass_filter_hz"`
	WindowFunction        WindowFunction `json:"window_function"`
	AlarmTestPeriodMin    uint16         `json:"alarm_test_period_min"`
	MachineOffThresholdMg uint16         `json:"machine_off_threshold_mg"`
}

// AlarmsDownlink sets the alarm mask and thresholds (port 31).
type AlarmsDownlink struct {
	AlarmSettings
}

// CommandDownlink issues a numbered command with raw parameters (port 22).
type CommandDownlink struct {
	Command    CommandID `json:"command_id"`
	Parameters ByteList  `json:"parameters,omitempty"`
}

// MissingSegmentsDownlink asks the device to resend waveform segments
// (port 21). Mode 0 packs indices in one byte, mode 1 in two.
type MissingSegmentsDownlink struct {
	Mode     uint8    `json:"value_size_mode"`
	Segments []uint16 `json:"segments"`
}

// AckDownlink acknowledges a waveform info or data transfer (port 20).
type AckDownlink struct {
	Opcode        AckOpcode `json:"opcode"`
	TransactionID uint8     `json:"transaction_id"`
}

// FirmwareChunk is one block of a firmware image (port 25). The block number
// is little-endian regardless of the selected revision.
type FirmwareChunk struct {
	Block uint16   `json:"block"`
	Data  ByteList `json:"data"`
}

func (*ConfigurationDownlink) Port() uint8   { return PortConfiguration }
func (*AlarmsDownlink) Port() uint8          { return PortAlarms }
func (*CommandDownlink) Port() uint8         { return PortCommand }
func (*MissingSegmentsDownlink) Port() uint8 { return PortMissingSegments }
func (*AckDownlink) Port() uint8             { return PortAck }
func (*FirmwareChunk) Port() uint8           { return PortFirmwareChunk }

func (*ConfigurationDownlink) downlink()   {}
func (*AlarmsDownlink) downlink()          {}
func (*CommandDownlink) downlink()         {}
func (*MissingSegmentsDownlink) downlink() {}
func (*AckDownlink) downlink()             {}
func (*FirmwareChunk) downlink()           {}

// NewMissingSegments picks the narrowest mode able to hold every index.
func NewMissingSegments(indices []uint16) *MissingSegmentsDownlink {
	d := &MissingSegmentsDownlink{Segments: append([]uint16(nil), indices...)}
	for _, idx := range indices {
		if idx > math.MaxUint8 {
			d.Mode = 1
			break
		}
	}
	return d
}

// SplitMissingSegments returns as many port 21 requests as needed to list
// every index without exceeding one frame.
func SplitMissingSegments(indices []uint16) []*MissingSegmentsDownlink {
	if len(indices) == 0 {
		return nil
	}
	per := MaxMissingSegmentsNarrow
	if NewMissingSegments(indices).Mode == 1 {
		per = MaxMissingSegmentsWide
	}
	var out []*MissingSegmentsDownlink
	for start := 0; start < len(indices); start += per {
		end := min(start+per, len(indices))
		out = append(out, NewMissingSegments(indices[start:end]))
	}
	return out
}

// Frame is an encoded downlink ready for a network server.
type Frame struct {
	Port  uint8
	Bytes []byte
}

func (f Frame) Hex() string { return hex.EncodeToString(f.Bytes) }

func (f Frame) String() string { return fmt.Sprintf("%d:%s", f.Port, f.Hex()) }

func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Port uint8  `json:"f_port"`
		Hex  string `json:"hex"`
	}{f.Port, f.Hex()})
}

// EncodeDownlink validates d and serialises it. No bytes are returned with
// an error.
func EncodeDownlink(d Downlink, opts ...Option) (Frame, error) {
	o := buildOptions(opts)
	order := o.revision.order()

	var (
		b   []byte
		err error
	)
	switch v := d.(type) {
	case *ConfigurationDownlink:
		b, err = encodeConfiguration(v, order)
	case *AlarmsDownlink:
		b, err = encodeAlarms(v, order)
	case *CommandDownlink:
		b, err = encodeCommand(v, order)
	case *MissingSegmentsDownlink:
		b, err = encodeMissingSegments(v, order)
	case *AckDownlink:
		b, err = encodeAck(v)
	case *FirmwareChunk:
		b, err = encodeFirmwareChunk(v)
	case nil:
		return Frame{}, fmt.Errorf("%w: downlink", ErrMissingField)
	default:
		return Frame{}, fmt.Errorf("%w: downlink %T", ErrUnsupportedPort, d)
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{Port: d.Port(), Bytes: b}, nil
}

func encodeConfiguration(c *ConfigurationDownlink, order byteOrder) ([]byte, error) {
	if !c.PushMode.Known() {
		return nil, fmt.Errorf("%w: push mode %d", ErrUnknownEnum, c.PushMode)
	}
	if !c.AxisSelection.Valid() {
		return nil, fmt.Errorf("%w: 0x%x must be 0x1, 0x2, 0x4 or 0x7", ErrInvalidAxis, uint8(c.AxisSelection))
	}
	if !c.HardwareFilter.Known() {
		return nil, fmt.Errorf("%w: hardware filter %d", ErrUnknownEnum, c.HardwareFilter)
	}
	if !c.WindowFunction.Known() {
		return nil, fmt.Errorf("%w: window function %d", ErrUnknownEnum, c.WindowFunction)
	}
	w := newFieldWriter(configurationDownlinkLen, order)
	w.u8(c.Version)
	w.u8(uint8(c.PushMode))
	w.u8(uint8(c.AxisSelection))
	w.u8(c.AccelRangeG)
	w.u8(uint8(c.HardwareFilter))
	w.u16(c.WaveformPushPeriodMin)
	w.u16(c.OverallPushPeriodMin)
	w.u16(c.SamplesPerAxis)
	w.u16(c.HighPassFilterHz)
	w.u16(c.LowPassFilterHz)
	w.u8(uint8(c.WindowFunction))
	w.u16(c.AlarmTestPeriodMin)
	w.u16(c.MachineOffThresholdMg)
	return w.buf, nil
}

func encodeAlarms(a *AlarmsDownlink, order byteOrder) ([]byte, error) {
	if a.Enabled&^alarmMaskAll != 0 {
		return nil, fmt.Errorf("%w: alarm mask 0x%x has undefined bits", ErrOutOfRange, uint16(a.Enabled))
	}
	w := newFieldWriter(alarmsDownlinkLen, order)
	w.u16(uint16(a.Enabled))
	w.i16(int16(a.TemperatureC))
	for _, v := range a.AccelerationMg {
		w.u16(v)
	}
	for _, v := range a.VelocityMips {
		w.u16(v)
	}
	return w.buf, nil
}

func encodeCommand(c *CommandDownlink, order byteOrder) ([]byte, error) {
	if !c.Command.Known() {
		return nil, fmt.Errorf("%w: command 0x%04x", ErrUnknownEnum, uint16(c.Command))
	}
	w := newFieldWriter(2+len(c.Parameters), order)
	w.u16(uint16(c.Command))
	w.bytes(c.Parameters)
	return w.buf, nil
}

func encodeMissingSegments(m *MissingSegmentsDownlink, order byteOrder) ([]byte, error) {
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: segments", ErrMissingField)
	}
	if len(m.Segments) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d segments in one request", ErrOutOfRange, len(m.Segments))
	}
	width := 1
	switch m.Mode {
	case 0:
	case 1:
		width = 2
	default:
		return nil, fmt.Errorf("%w: value size mode %d", ErrOutOfRange, m.Mode)
	}
	w := newFieldWriter(2+width*len(m.Segments), order)
	w.u8(m.Mode)
	w.u8(uint8(len(m.Segments)))
	for _, idx := range m.Segments {
		if width == 1 {
			if idx > math.MaxUint8 {
				return nil, fmt.Errorf("%w: segment %d needs value size mode 1", ErrOutOfRange, idx)
			}
			w.u8(uint8(idx))
			continue
		}
		w.u16(idx)
	}
	return w.buf, nil
}

func encodeAck(a *AckDownlink) ([]byte, error) {
	if !a.Opcode.Known() {
		return nil, fmt.Errorf("%w: opcode 0x%02x", ErrUnknownEnum, uint8(a.Opcode))
	}
	return []byte{uint8(a.Opcode), a.TransactionID}, nil
}

func encodeFirmwareChunk(c *FirmwareChunk) ([]byte, error) {
	if len(c.Data) == 0 {
		return nil, fmt.Errorf("%w: chunk data", ErrMissingField)
	}
	if len(c.Data) > FirmwareChunkSize {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds %d", ErrOutOfRange, len(c.Data), FirmwareChunkSize)
	}
	w := newFieldWriter(2+len(c.Data), binary.LittleEndian)
	w.u16(c.Block)
	w.bytes(c.Data)
	return w.buf, nil
}

// DownlinkResult is a decoded downlink frame.
type DownlinkResult struct {
	Port     uint8
	Downlink Downlink
	Warnings []Warning
}

func (r *DownlinkResult) MarshalJSON() ([]byte, error) {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return json.Marshal(struct {
		Port     uint8     `json:"f_port"`
		Data     Downlink  `json:"data"`
		Warnings []Warning `json:"warnings"`
	}{r.Port, r.Downlink, warnings})
}

// DecodeDownlink parses a frame previously produced by EncodeDownlink or by
// another encoder following the same layout.
func DecodeDownlink(b []byte, port uint8, opts ...Option) (*DownlinkResult, error) {
	o := buildOptions(opts)
	r := fieldReader{b: b, order: o.revision.order()}
	res := &DownlinkResult{Port: port}

	switch port {
	case PortConfiguration:
		if len(b) < configurationDownlinkLen {
			return nil, shortBuffer("configuration downlink", len(b), configurationDownlinkLen)
		}
		c := &ConfigurationDownlink{
			Version:               r.u8(0),
			PushMode:              PushMode(r.u8(1)),
			AxisSelection:         AxisSelection(r.u8(2)),
			AccelRangeG:           r.u8(3),
			HardwareFilter:        HardwareFilter(r.u8(4)),
			WaveformPushPeriodMin: r.u16(5),
			OverallPushPeriodMin:  r.u16(7),
			SamplesPerAxis:        r.u16(9),
			HighPassFilterHz:      r.u16(11),
			LowPassFilterHz:       r.u16(13),
			WindowFunction:        WindowFunction(r.u8(15)),
			AlarmTestPeriodMin:    r.u16(16),
			MachineOffThresholdMg: r.u16(18),
		}
		if w, ok := validateAxis(c.AxisSelection, "configuration downlink"); !ok {
			res.Warnings = append(res.Warnings, w)
		}
		res.Downlink = c

	case PortAlarms:
		if len(b) < alarmsDownlinkLen {
			return nil, shortBuffer("alarms downlink", len(b), alarmsDownlinkLen)
		}
		res.Downlink = &AlarmsDownlink{AlarmSettings: readAlarmSettings(r, 0)}

	case PortCommand:
		if len(b) < 2 {
			return nil, shortBuffer("command downlink", len(b), 2)
		}
		c := &CommandDownlink{Command: CommandID(r.u16(0))}
		if len(b) > 2 {
			c.Parameters = append(ByteList(nil), b[2:]...)
		}
		res.Downlink = c

	case PortMissingSegments:
		if len(b) < 2 {
			return nil, shortBuffer("missing segments downlink", len(b), 2)
		}
		m := &MissingSegmentsDownlink{Mode: r.u8(0)}
		count := int(r.u8(1))
		width := 1
		if m.Mode != 0 {
			width = 2
		}
		if m.Mode > 1 {
			res.Warnings = append(res.Warnings, warnf("value size mode %d treated as two-byte indices", m.Mode))
		}
		if need := 2 + count*width; len(b) < need {
			return nil, shortBuffer("missing segments downlink", len(b), need)
		}
		m.Segments = make([]uint16, count)
		for i := range m.Segments {
			if width == 1 {
				m.Segments[i] = uint16(r.u8(2 + i))
			} else {
				m.Segments[i] = r.u16(2 + 2*i)
			}
		}
		res.Downlink = m

	case PortAck:
		if len(b) != ackDownlinkLen {
			return nil, fmt.Errorf("%w: acknowledgment must be %d bytes, got %d", ErrShortBuffer, ackDownlinkLen, len(b))
		}
		res.Downlink = &AckDownlink{Opcode: AckOpcode(b[0]), TransactionID: b[1]}

	case PortFirmwareChunk:
		if len(b) < 3 {
			return nil, shortBuffer("firmware chunk", len(b), 3)
		}
		if len(b) > 2+FirmwareChunkSize {
			return nil, fmt.Errorf("%w: firmware chunk of %d bytes", ErrOutOfRange, len(b))
		}
		res.Downlink = &FirmwareChunk{
			Block: binary.LittleEndian.Uint16(b[0:2]),
			Data:  append(ByteList(nil), b[2:]...),
		}

	default:
		return nil, fmt.Errorf("%w: downlink port %d", ErrUnsupportedPort, port)
	}
	return res, nil
}
