package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := ParseHex(s)
	require.NoError(t, err)
	return b
}

func u16p(v uint16) *uint16 { return &v }
func i8p(v int8) *int8      { return &v }

// ---------------------------------------------------------------------------
// Waveform info
// ---------------------------------------------------------------------------

func TestDecodeUplink_WaveformInfo(t *testing.T) {
	t.Parallel()

	want := &WaveformInfo{
		TransactionID:    0x21,
		SegmentNumber:    0,
		AxisSelection:    AxisTri,
		NumberOfSegments: 3,
		HardwareFilter:   0x81,
		SamplingRateHz:   20000,
		SamplesPerAxis:   0x15,
	}

	tests := []struct {
		name     string
		hex      string
		revision Revision
	}{
		{"legacy big-endian", "03210000070003814e200015", RevisionLegacyBE},
		{"v2.1.2 little-endian", "0321000007030081204e1500", RevisionV212},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := DecodeUplink(mustHex(t, tt.hex), 8, WithRevision(tt.revision))
			require.NoError(t, err)
			assert.Empty(t, res.Warnings)
			if diff := cmp.Diff(Record(want), res.Record); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, "lp_2670_hz", res.Record.(*WaveformInfo).HardwareFilter.String())
		})
	}
}

func TestDecodeUplink_PublishedPacketNeedsLegacyRevision(t *testing.T) {
	t.Parallel()

	res, err := DecodeUplink(mustHex(t, "03210000070003814e200015"), 8)
	require.NoError(t, err)
	info := res.Record.(*WaveformInfo)
	assert.Equal(t, uint16(0x0300), info.NumberOfSegments)
	assert.Equal(t, uint16(0x204e), info.SamplingRateHz)
	assert.Equal(t, uint16(0x1500), info.SamplesPerAxis)
}

func TestDecodeUplink_WaveformInfoWarnings(t *testing.T) {
	t.Parallel()
	// Segment number 1 and axis mask 0x05 are both reported, neither is fatal.
	res, err := DecodeUplink(mustHex(t, "0321010005030081204e1500"), 8)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, string(res.Warnings[0]), "segment number")
	assert.Contains(t, string(res.Warnings[1]), "invalid axis combination 0x5")
	assert.Equal(t, AxisSelection(0x05), res.Record.(*WaveformInfo).AxisSelection)
}

// ---------------------------------------------------------------------------
// Overall and alarm telemetry
// ---------------------------------------------------------------------------

func TestDecodeUplink_Overall(t *testing.T) {
	t.Parallel()

	res, err := DecodeUplink(mustHex(t, "0200001932556400c8002c010a0014001e00"), 8)
	require.NoError(t, err)

	want := &Overall{
		Status:         StatusNormal,
		TemperatureC:   i8p(25),
		BatteryRaw:     50,
		BatteryVoltage: 2.5,
		BatteryPercent: 85,
		AccelerationMg: [3]*uint16{u16p(100), u16p(200), u16p(300)},
		VelocityMips:   [3]*uint16{u16p(10), u16p(20), u16p(30)},
	}
	if diff := cmp.Diff(Record(want), res.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, TypeOverall, res.Record.PacketType())

	be, err := DecodeUplink(mustHex(t, "020000193255006400c8012c000a0014001e"), 8, WithRevision(RevisionLegacyBE))
	require.NoError(t, err)
	if diff := cmp.Diff(Record(want), be.Record); diff != "" {
		t.Errorf("legacy record mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUplink_AlarmGating(t *testing.T) {
	t.Parallel()

	// Flag 0x03: temperature and axis 1 acceleration only.
	res, err := DecodeUplink(mustHex(t, "0700031932556400c8002c010a0014001e00"), 8)
	require.NoError(t, err)
	o := res.Record.(*Overall)

	assert.True(t, o.Alarm)
	assert.Equal(t, TypeAlarm, o.PacketType())
	require.NotNil(t, o.TemperatureC)
	assert.Equal(t, int8(25), *o.TemperatureC)
	require.NotNil(t, o.AccelerationMg[0])
	assert.Equal(t, uint16(100), *o.AccelerationMg[0])
	assert.Nil(t, o.AccelerationMg[1])
	assert.Nil(t, o.AccelerationMg[2])
	for i := range o.VelocityMips {
		assert.Nil(t, o.VelocityMips[i], "velocity axis %d", i+1)
	}
}

func TestDecodeUplink_MachineOff(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"02", "07"} {
		t.Run("type "+typ, func(t *testing.T) {
			t.Parallel()
			res, err := DecodeUplink(mustHex(t, typ+"107f1932556400c8002c010a0014001e00"), 8)
			require.NoError(t, err)
			o := res.Record.(*Overall)

			assert.True(t, o.MachineOff())
			assert.Equal(t, "machine_off", o.Status.String())
			assert.Nil(t, o.TemperatureC)
			for i := 0; i < 3; i++ {
				assert.Nil(t, o.AccelerationMg[i])
				assert.Nil(t, o.VelocityMips[i])
			}
			assert.Equal(t, 2.5, o.BatteryVoltage)
			assert.Equal(t, uint8(85), o.BatteryPercent)
		})
	}
}

func TestOverall_MarshalJSON(t *testing.T) {
	t.Parallel()

	res, err := DecodeUplink(mustHex(t, "0700011932556400c8002c010a0014001e00"), 8)
	require.NoError(t, err)
	b, err := json.Marshal(res)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, float64(7), got["packet_type"])
	data := got["data"].(map[string]any)
	assert.Equal(t, "normal_operation", data["status"])
	assert.Equal(t, false, data["is_machine_off"])
	assert.Equal(t, float64(25), data["temperature_c"])
	assert.Equal(t, []any{nil, nil, nil}, data["velocity_mips_rms"])
	alarms := data["active_alarms"].(map[string]any)
	assert.Equal(t, true, alarms["temperature"])
	assert.Equal(t, false, alarms["accel_axis_1"])
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestDecodeUplink_Configuration(t *testing.T) {
	t.Parallel()

	const payload = "0402030710173c000a0000200a00e803011e007f006621e803d007b80b6400c8002c0102011f023200"
	res, err := DecodeUplink(mustHex(t, payload), 8)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	want := &Configuration{
		Version:               2,
		PushMode:              PushOverallAndWaveform,
		AxisSelection:         AxisTri,
		AccelRangeG:           16,
		HardwareFilter:        23,
		WaveformPushPeriodMin: 60,
		OverallPushPeriodMin:  10,
		SamplesPerAxis:        8192,
		HighPassFilterHz:      10,
		LowPassFilterHz:       1000,
		WindowFunction:        WindowHanning,
		AlarmTestPeriodMin:    30,
		Alarms: AlarmSettings{
			Enabled:        0x7f,
			TemperatureC:   8550,
			AccelerationMg: [3]uint16{1000, 2000, 3000},
			VelocityMips:   [3]uint16{100, 200, 300},
		},
		FirmwareVSM:           0x0102,
		FirmwareTPM:           0x021f,
		MachineOffThresholdMg: 50,
	}
	if diff := cmp.Diff(Record(want), res.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	c := res.Record.(*Configuration)
	assert.Equal(t, "hp_33_hz", c.HardwareFilter.String())
	assert.Equal(t, 85.5, c.Alarms.TemperatureC.Celsius())
	assert.Equal(t, "1.2", c.FirmwareVSM.String())
	assert.Equal(t, "2.31", c.FirmwareTPM.String())
}

func TestDecodeUplink_ConfigurationUnknownEnums(t *testing.T) {
	t.Parallel()

	// Push mode 9, filter 99 and window 7 are not in any table.
	const payload = "0402090163633c000a0000200a00e803071e007f006621e803d007b80b6400c8002c0102011f023200"
	res, err := DecodeUplink(mustHex(t, payload), 8)
	require.NoError(t, err)
	c := res.Record.(*Configuration)

	assert.Equal(t, "unknown", c.PushMode.String())
	assert.Equal(t, PushMode(9), c.PushMode)
	assert.Equal(t, "unknown", c.WindowFunction.String())
	assert.Equal(t, HardwareFilter(0x63), c.HardwareFilter)
	assert.Equal(t, Axis1, c.AxisSelection)
}

// ---------------------------------------------------------------------------
// Waveform data and upgrade status
// ---------------------------------------------------------------------------

func TestDecodeUplink_WaveformData(t *testing.T) {
	t.Parallel()

	res, err := DecodeUplink(mustHex(t, "05210200ffff01000080"), 8)
	require.NoError(t, err)
	want := &WaveformData{TransactionID: 0x21, SegmentIndex: 2, Last: true, Samples: []int16{-1, 1, -32768}}
	if diff := cmp.Diff(Record(want), res.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, TypeWaveformDataFinal, res.Record.PacketType())

	_, ok := want.Triplets()
	assert.True(t, ok)
	want.Samples = want.Samples[:2]
	_, ok = want.Triplets()
	assert.False(t, ok)
}

func TestDecodeUplink_UpgradeStatus(t *testing.T) {
	t.Parallel()

	res, err := DecodeUplink(mustHex(t, "11010205000900"), 8)
	require.NoError(t, err)
	want := &UpgradeStatus{MissedDataFlag: 1, MissedBlockCount: 2, MissedBlocks: []uint16{5, 9}}
	if diff := cmp.Diff(Record(want), res.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Warnings)

	res, err = DecodeUplink(mustHex(t, "1101030500"), 8)
	require.NoError(t, err)
	assert.Equal(t, []uint16{5}, res.Record.(*UpgradeStatus).MissedBlocks)
	assert.Len(t, res.Warnings, 1)
}

func TestDecodeUplink_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hex  string
		port uint8
		want error
	}{
		{"wrong port", "0200", 9, ErrUnsupportedPort},
		{"empty", "", 8, ErrShortBuffer},
		{"unknown type", "09000000", 8, ErrUnsupportedType},
		{"short overall", "020000193255", 8, ErrShortBuffer},
		{"short info", "03210000070003", 8, ErrShortBuffer},
		{"short config", "0402030710", 8, ErrShortBuffer},
		{"short data", "0121", 8, ErrShortBuffer},
		{"odd data", "01210000ff", 8, ErrOddLength},
		{"short upgrade", "1101", 8, ErrShortBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := DecodeUplink(mustHex(t, tt.hex), tt.port)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Field helpers
// ---------------------------------------------------------------------------

func TestBatteryVoltage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2.0, BatteryVoltage(0))
	assert.Equal(t, 3.6, BatteryVoltage(160))
	assert.Equal(t, 4.55, BatteryVoltage(255))
}

func TestFirmwareRevision_Text(t *testing.T) {
	t.Parallel()
	var f FirmwareRevision
	require.NoError(t, f.UnmarshalText([]byte("2.31")))
	assert.Equal(t, FirmwareRevision(0x021f), f)
	b, err := f.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2.31", string(b))
	assert.Error(t, f.UnmarshalText([]byte("two")))
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	b, err := ParseHex(" 0x03 21\n00 00 ")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x21, 0x00, 0x00}, b)

	_, err = ParseHex("abc")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = ParseHex("zz")
	assert.ErrorIs(t, err, ErrInvalidHex)
}

func TestParseRevision(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Revision{"": RevisionV212, "v2.1.2": RevisionV212, "BE": RevisionLegacyBE, "legacy-be": RevisionLegacyBE} {
		got, err := ParseRevision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRevision("v3")
	assert.Error(t, err)
}
