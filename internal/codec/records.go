package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Uplink packet types, carried in byte 0 of every port 8 payload.
const (
	TypeWaveformData      uint8 = 1
	TypeOverall           uint8 = 2
	TypeWaveformInfo      uint8 = 3
	TypeConfiguration     uint8 = 4
	TypeWaveformDataFinal uint8 = 5
	TypeAlarm             uint8 = 7
	TypeUpgradeStatus     uint8 = 17
)

// UplinkPort is the only uplink fPort the device uses.
const UplinkPort uint8 = 8

// Record is a decoded uplink. The set of implementations is closed.
type Record interface {
	PacketType() uint8
	record()
}

// CentiCelsius is a temperature threshold in 0.01 °C steps. Live telemetry
// temperature is a whole-degree int8 and is never converted to this type.
type CentiCelsius int16

// Celsius returns the threshold in degrees.
func (c CentiCelsius) Celsius() float64 { return float64(c) / 100.0 }

// CentiCelsiusFrom rounds a degree value to the nearest 0.01 °C step.
func CentiCelsiusFrom(celsius float64) (CentiCelsius, error) {
	v := math.Round(celsius * 100)
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, fmt.Errorf("%w: temperature %.2f C", ErrOutOfRange, celsius)
	}
	return CentiCelsius(v), nil
}

func (c CentiCelsius) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(c.Celsius(), 'f', -1, 64)), nil
}

func (c *CentiCelsius) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid temperature %s: %w", b, err)
	}
	v, err := CentiCelsiusFrom(f)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ByteList marshals as a JSON array of numbers rather than base64.
type ByteList []byte

func (l ByteList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (l *ByteList) UnmarshalJSON(b []byte) error {
	var vals []int
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	out := make(ByteList, len(vals))
	for i, v := range vals {
		if v < 0 || v > math.MaxUint8 {
			return fmt.Errorf("%w: byte %d at index %d", ErrOutOfRange, v, i)
		}
		out[i] = byte(v)
	}
	*l = out
	return nil
}

// AlarmSettings is the alarm-enable mask together with the seven channel
// thresholds. It is shared by the type 4 uplink and the port 31 downlink.
type AlarmSettings struct {
	Enabled        AlarmMask    `json:"enabled"`
	TemperatureC   CentiCelsius `json:"temperature_c"`
	AccelerationMg [3]uint16    `json:"acceleration_mg"`
	VelocityMips   [3]uint16    `json:"velocity_mips"`
}

// Configuration is the type 4 uplink reporting the device's current
// settings.
type Configuration struct {
	Version               uint8            `json:"version"`
	PushMode              PushMode         `json:"push_mode"`
	AxisSelection         AxisSelection    `json:"axis_selection"`
	AccelRangeG           uint8            `json:"accel_range_g"`
	HardwareFilter        HardwareFilter   `json:"hw_filter"`
	WaveformPushPeriodMin uint16           `json:"waveform_push_period_min"`
	OverallPushPeriodMin  uint16           `json:"overall_push_period_min"`
	SamplesPerAxis        uint16           `json:"samples_per_axis"`
	HighPassFilterHz      uint16           `json:"high_pass_filter_hz"`
	LowPassFilterHz       uint16           `json:"low_pass_filter_hz"`
	WindowFunction        WindowFunction   `json:"window_function"`
	AlarmTestPeriodMin    uint16           `json:"alarm_test_period_min"`
	Alarms                AlarmSettings    `json:"alarms"`
	FirmwareVSM           FirmwareRevision `json:"firmware_vsm"`
	FirmwareTPM           FirmwareRevision `json:"firmware_tpm"`
	MachineOffThresholdMg uint16           `json:"machine_off_threshold_mg"`
}

func (*Configuration) PacketType() uint8 { return TypeConfiguration }
func (*Configuration) record()           {}

// Overall is a type 2 (periodic) or type 7 (alarm) telemetry uplink. Nil
// pointers are values the device reported as absent.
type Overall struct {
	Alarm          bool       `json:"alarm"`
	Status         Status     `json:"status"`
	ActiveAlarms   AlarmMask  `json:"active_alarms"`
	TemperatureC   *int8      `json:"temperature_c"`
	BatteryRaw     uint8      `json:"-"`
	BatteryVoltage float64    `json:"battery_voltage_v"`
	BatteryPercent uint8      `json:"battery_percent"`
	AccelerationMg [3]*uint16 `json:"acceleration_mg_rms"`
	VelocityMips   [3]*uint16 `json:"velocity_mips_rms"`
}

func (o *Overall) PacketType() uint8 {
	if o.Alarm {
		return TypeAlarm
	}
	return TypeOverall
}

func (*Overall) record() {}

// MachineOff reports whether vibration and temperature were suppressed.
func (o *Overall) MachineOff() bool { return o.Status == StatusMachineOff }

// MarshalJSON adds the derived machine-off flag.
func (o *Overall) MarshalJSON() ([]byte, error) {
	type plain Overall
	return json.Marshal(struct {
		*plain
		MachineOff bool `json:"is_machine_off"`
	}{(*plain)(o), o.MachineOff()})
}

// WaveformInfo is the type 3 header announcing a waveform transfer.
type WaveformInfo struct {
	TransactionID    uint8          `json:"transaction_id"`
	SegmentNumber    uint8          `json:"segment_number"`
	ErrorCode        uint8          `json:"error_code"`
	AxisSelection    AxisSelection  `json:"axis_selection"`
	NumberOfSegments uint16         `json:"number_of_segments"`
	HardwareFilter   HardwareFilter `json:"hw_filter"`
	SamplingRateHz   uint16         `json:"sampling_rate_hz"`
	SamplesPerAxis   uint16         `json:"samples_per_axis"`
}

func (*WaveformInfo) PacketType() uint8 { return TypeWaveformInfo }
func (*WaveformInfo) record()           {}

// WaveformData is one segment of raw samples. Type 5 marks the segment the
// device sends last, which is not necessarily the highest index.
type WaveformData struct {
	TransactionID uint8   `json:"transaction_id"`
	SegmentIndex  uint16  `json:"segment_number"`
	Last          bool    `json:"is_last_segment"`
	Samples       []int16 `json:"samples_i16"`
}

func (d *WaveformData) PacketType() uint8 {
	if d.Last {
		return TypeWaveformDataFinal
	}
	return TypeWaveformData
}

func (*WaveformData) record() {}

// Triplets splits the samples into interleaved axis-1/2/3 groups. ok is
// false when the count is not a multiple of three.
func (d *WaveformData) Triplets() (out [][3]int16, ok bool) {
	if len(d.Samples)%3 != 0 {
		return nil, false
	}
	out = make([][3]int16, 0, len(d.Samples)/3)
	for i := 0; i < len(d.Samples); i += 3 {
		out = append(out, [3]int16{d.Samples[i], d.Samples[i+1], d.Samples[i+2]})
	}
	return out, true
}

// MaxMissedBlocks is the most block indices a type 17 uplink carries.
const MaxMissedBlocks = 25

// UpgradeStatus is the type 17 firmware-upgrade report.
type UpgradeStatus struct {
	MissedDataFlag   uint8    `json:"missed_data_flag"`
	MissedBlockCount uint8    `json:"missed_block_count"`
	MissedBlocks     []uint16 `json:"missed_blocks"`
}

func (*UpgradeStatus) PacketType() uint8 { return TypeUpgradeStatus }
func (*UpgradeStatus) record()           {}
