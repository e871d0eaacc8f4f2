package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const unknownSlug = "unknown"

// enumTable maps raw codes to their stable slugs.
type enumTable[T ~uint8 | ~uint16] map[T]string

func (t enumTable[T]) name(v T) string {
	if s, ok := t[v]; ok {
		return s
	}
	return unknownSlug
}

func (t enumTable[T]) known(v T) bool {
	_, ok := t[v]
	return ok
}

func (t enumTable[T]) parse(kind, s string) (T, error) {
	slug := strings.ToLower(strings.TrimSpace(s))
	for code, name := range t {
		if name == slug {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %q (valid: %s)", ErrUnknownEnum, kind, s, strings.Join(t.slugs(), ", "))
}

func (t enumTable[T]) slugs() []string {
	out := make([]string, 0, len(t))
	for _, s := range t {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// unmarshal accepts either a slug string or a raw numeric code.
func (t enumTable[T]) unmarshal(kind string, data []byte) (T, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return t.parse(kind, s)
	}
	n, err := strconv.ParseUint(string(data), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownEnum, kind, data)
	}
	return T(n), nil
}

// PushMode selects which uplinks the device pushes on its own schedule.
type PushMode uint8

const (
	PushOverallOnly        PushMode = 1
	PushWaveformOnly       PushMode = 2
	PushOverallAndWaveform PushMode = 3
)

var pushModes = enumTable[PushMode]{
	PushOverallOnly:        "overall_only",
	PushWaveformOnly:       "waveform_only",
	PushOverallAndWaveform: "overall_and_waveform",
}

func (m PushMode) String() string { return pushModes.name(m) }
func (m PushMode) Known() bool    { return pushModes.known(m) }

func ParsePushMode(s string) (PushMode, error) { return pushModes.parse("push mode", s) }

func (m PushMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *PushMode) UnmarshalJSON(b []byte) (err error) {
	*m, err = pushModes.unmarshal("push mode", b)
	return err
}

// WindowFunction is the window applied to a captured waveform before the
// device computes overall values.
type WindowFunction uint8

const (
	WindowNone           WindowFunction = 0
	WindowHanning        WindowFunction = 1
	WindowInverseHanning WindowFunction = 2
	WindowHamming        WindowFunction = 3
	WindowInverseHamming WindowFunction = 4
)

var windowFunctions = enumTable[WindowFunction]{
	WindowNone:           "none",
	WindowHanning:        "hanning",
	WindowInverseHanning: "inverse_hanning",
	WindowHamming:        "hamming",
	WindowInverseHamming: "inverse_hamming",
}

func (w WindowFunction) String() string { return windowFunctions.name(w) }
func (w WindowFunction) Known() bool    { return windowFunctions.known(w) }

func ParseWindowFunction(s string) (WindowFunction, error) {
	return windowFunctions.parse("window function", s)
}

func (w WindowFunction) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *WindowFunction) UnmarshalJSON(b []byte) (err error) {
	*w, err = windowFunctions.unmarshal("window function", b)
	return err
}

// HardwareFilter is the analog filter ahead of the accelerometer ADC. Codes
// 17..23 are high-pass, 128..135 low-pass.
type HardwareFilter uint8

var hardwareFilters = enumTable[HardwareFilter]{
	0:   "none",
	23:  "hp_33_hz",
	22:  "hp_67_hz",
	21:  "hp_134_hz",
	20:  "hp_267_hz",
	19:  "hp_593_hz",
	18:  "hp_1335_hz",
	17:  "hp_2670_hz",
	135: "lp_33_hz",
	134: "lp_67_hz",
	133: "lp_134_hz",
	132: "lp_267_hz",
	131: "lp_593_hz",
	130: "lp_1335_hz",
	129: "lp_2670_hz",
	128: "lp_6675_hz",
}

func (f HardwareFilter) String() string { return hardwareFilters.name(f) }
func (f HardwareFilter) Known() bool    { return hardwareFilters.known(f) }

func ParseHardwareFilter(s string) (HardwareFilter, error) {
	return hardwareFilters.parse("hardware filter", s)
}

func (f HardwareFilter) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *HardwareFilter) UnmarshalJSON(b []byte) (err error) {
	*f, err = hardwareFilters.unmarshal("hardware filter", b)
	return err
}

// Status is the device status code carried by overall and alarm uplinks.
type Status uint8

// StatusMachineOff suppresses every vibration and temperature value.
const (
	StatusNormal     Status = 0
	StatusMachineOff Status = 16
)

var statuses = enumTable[Status]{
	0:  "normal_operation",
	1:  "uart_read_error",
	2:  "uart_read_busy",
	3:  "uart_read_timeout",
	4:  "uart_write_error",
	5:  "uart_write_busy",
	6:  "uart_write_timeout",
	7:  "modbus_crc_error",
	8:  "vsm_error",
	11: "timewave_api_error",
	12: "timewave_timeout",
	13: "timewave_bad_params",
	14: "timewave_read_error",
	15: "timewave_processing_timeout",
	16: "machine_off",
	21: "missing_ack",
}

func (s Status) String() string { return statuses.name(s) }
func (s Status) Known() bool    { return statuses.known(s) }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalJSON(b []byte) (err error) {
	*s, err = statuses.unmarshal("status", b)
	return err
}

// CommandID identifies a port 22 command.
type CommandID uint16

const (
	CommandRequestWaveformInfo CommandID = 0x0001
	CommandRequestConfig       CommandID = 0x0002
	CommandRequestNewCapture   CommandID = 0x0003
	CommandInitUpgradeSession  CommandID = 0x0005
	CommandVerifyUpgradeData   CommandID = 0x0006
)

var commands = enumTable[CommandID]{
	CommandRequestWaveformInfo: "request_waveform_info",
	CommandRequestConfig:       "request_config",
	CommandRequestNewCapture:   "request_new_capture",
	CommandInitUpgradeSession:  "init_upgrade_session",
	CommandVerifyUpgradeData:   "verify_upgrade_data",
}

func (c CommandID) String() string { return commands.name(c) }
func (c CommandID) Known() bool    { return commands.known(c) }

func ParseCommandID(s string) (CommandID, error) { return commands.parse("command", s) }

func (c CommandID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *CommandID) UnmarshalJSON(b []byte) (err error) {
	*c, err = commands.unmarshal("command", b)
	return err
}

// AckOpcode is the first byte of a port 20 acknowledgment.
type AckOpcode uint8

const (
	AckWaveformData AckOpcode = 0x01
	AckWaveformInfo AckOpcode = 0x03
)

var ackOpcodes = enumTable[AckOpcode]{
	AckWaveformData: "waveform_data_ack",
	AckWaveformInfo: "waveform_info_ack",
}

func (a AckOpcode) String() string { return ackOpcodes.name(a) }
func (a AckOpcode) Known() bool    { return ackOpcodes.known(a) }

func ParseAckOpcode(s string) (AckOpcode, error) { return ackOpcodes.parse("opcode", s) }

func (a AckOpcode) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AckOpcode) UnmarshalJSON(b []byte) (err error) {
	*a, err = ackOpcodes.unmarshal("opcode", b)
	return err
}

// AxisSelection is the 3-bit axis mask. Only a single axis or all three are
// legal.
type AxisSelection uint8

const (
	Axis1    AxisSelection = 0x01
	Axis2    AxisSelection = 0x02
	Axis3    AxisSelection = 0x04
	AxisTri  AxisSelection = 0x07
	AxisNone AxisSelection = 0x00
)

var axisSelections = enumTable[AxisSelection]{
	Axis1:   "axis_1",
	Axis2:   "axis_2",
	Axis3:   "axis_3",
	AxisTri: "axis_1_2_3",
}

func (a AxisSelection) String() string { return axisSelections.name(a) }

// Valid reports whether the mask is one of 0x01, 0x02, 0x04 or 0x07.
func (a AxisSelection) Valid() bool { return axisSelections.known(a) }

// TriAxial reports whether all three axes are sampled.
func (a AxisSelection) TriAxial() bool { return a == AxisTri }

// SingleAxis reports whether exactly one legal axis is sampled.
func (a AxisSelection) SingleAxis() bool { return a == Axis1 || a == Axis2 || a == Axis3 }

// Has reports whether the given 0-based axis is selected.
func (a AxisSelection) Has(axis int) bool { return a&(1<<axis) != 0 }

// Label renders the mask as "Axis 1, Axis 3".
func (a AxisSelection) Label() string {
	var axes []string
	for i := 0; i < 3; i++ {
		if a.Has(i) {
			axes = append(axes, fmt.Sprintf("Axis %d", i+1))
		}
	}
	if len(axes) == 0 {
		return "None"
	}
	return strings.Join(axes, ", ")
}

func ParseAxisSelection(s string) (AxisSelection, error) {
	return axisSelections.parse("axis selection", s)
}

func (a AxisSelection) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AxisSelection) UnmarshalJSON(b []byte) (err error) {
	*a, err = axisSelections.unmarshal("axis selection", b)
	return err
}

func validateAxis(a AxisSelection, context string) (Warning, bool) {
	if a.Valid() {
		return "", true
	}
	return warnf("invalid axis combination 0x%x in %s; valid: 0x1, 0x2, 0x4 or 0x7", uint8(a), context), false
}

// AlarmMask is the alarm-enable (configuration) or active-alarm (telemetry)
// bitmask.
type AlarmMask uint16

const (
	AlarmTemperature AlarmMask = 0x01
	AlarmAccelAxis1  AlarmMask = 0x02
	AlarmAccelAxis2  AlarmMask = 0x04
	AlarmAccelAxis3  AlarmMask = 0x08
	AlarmVelAxis1    AlarmMask = 0x10
	AlarmVelAxis2    AlarmMask = 0x20
	AlarmVelAxis3    AlarmMask = 0x40

	alarmMaskAll AlarmMask = 0x7f
)

var alarmBits = []struct {
	bit  AlarmMask
	name string
}{
	{AlarmTemperature, "temperature"},
	{AlarmAccelAxis1, "accel_axis_1"},
	{AlarmAccelAxis2, "accel_axis_2"},
	{AlarmAccelAxis3, "accel_axis_3"},
	{AlarmVelAxis1, "vel_axis_1"},
	{AlarmVelAxis2, "vel_axis_2"},
	{AlarmVelAxis3, "vel_axis_3"},
}

// AccelAlarm returns the acceleration bit for a 0-based axis.
func AccelAlarm(axis int) AlarmMask { return AlarmAccelAxis1 << axis }

// VelAlarm returns the velocity bit for a 0-based axis.
func VelAlarm(axis int) AlarmMask { return AlarmVelAxis1 << axis }

func (m AlarmMask) Has(bit AlarmMask) bool { return m&bit != 0 }

func (m AlarmMask) Set(bit AlarmMask, on bool) AlarmMask {
	if on {
		return m | bit
	}
	return m &^ bit
}

// MarshalJSON renders the mask as an object of named booleans.
func (m AlarmMask) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range alarmBits {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%t", b.name, m.Has(b.bit))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form or a raw number.
func (m *AlarmMask) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		n, err := strconv.ParseUint(string(data), 0, 16)
		if err != nil {
			return fmt.Errorf("invalid alarm mask %s: %w", data, err)
		}
		*m = AlarmMask(n)
		return nil
	}
	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	var out AlarmMask
	for name, on := range flags {
		found := false
		for _, b := range alarmBits {
			if b.name == name {
				out = out.Set(b.bit, on)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: alarm %q", ErrUnknownEnum, name)
		}
	}
	*m = out
	return nil
}
