package codec

import (
	"encoding/json"
	"fmt"
)

// Minimum payload lengths per uplink type.
const (
	configurationLen = 41
	overallLen       = 18
	waveformInfoLen  = 12
	waveformDataMin  = 4
	upgradeStatusMin = 3
)

// Result is a decoded uplink. Warnings never invalidate the record.
type Result struct {
	Port     uint8
	Record   Record
	Warnings []Warning
}

func (r *Result) warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// MarshalJSON flattens the record next to its packet type.
func (r *Result) MarshalJSON() ([]byte, error) {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return json.Marshal(struct {
		Port       uint8     `json:"f_port"`
		PacketType uint8     `json:"packet_type"`
		Data       Record    `json:"data"`
		Warnings   []Warning `json:"warnings"`
	}{r.Port, r.Record.PacketType(), r.Record, warnings})
}

// DecodeUplink decodes a payload received on the given fPort.
func DecodeUplink(b []byte, port uint8, opts ...Option) (*Result, error) {
	if port != UplinkPort {
		return nil, fmt.Errorf("%w: uplink port %d", ErrUnsupportedPort, port)
	}
	if len(b) == 0 {
		return nil, shortBuffer("uplink", 0, 1)
	}
	o := buildOptions(opts)
	r := fieldReader{b: b, order: o.revision.order()}
	res := &Result{Port: port}

	var err error
	switch t := b[0]; t {
	case TypeConfiguration:
		res.Record, err = decodeConfiguration(r, res)
	case TypeOverall, TypeAlarm:
		res.Record, err = decodeOverall(r, t == TypeAlarm)
	case TypeWaveformInfo:
		res.Record, err = decodeWaveformInfo(r, res)
	case TypeWaveformData, TypeWaveformDataFinal:
		res.Record, err = decodeWaveformData(r, t == TypeWaveformDataFinal)
	case TypeUpgradeStatus:
		res.Record, err = decodeUpgradeStatus(r, res)
	default:
		return nil, fmt.Errorf("%w: %d on port %d", ErrUnsupportedType, t, port)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func decodeConfiguration(r fieldReader, res *Result) (*Configuration, error) {
	if len(r.b) < configurationLen {
		return nil, shortBuffer("configuration", len(r.b), configurationLen)
	}
	c := &Configuration{
		Version:               r.u8(1),
		PushMode:              PushMode(r.u8(2)),
		AxisSelection:         AxisSelection(r.u8(3)),
		AccelRangeG:           r.u8(4),
		HardwareFilter:        HardwareFilter(r.u8(5)),
		WaveformPushPeriodMin: r.u16(6),
		OverallPushPeriodMin:  r.u16(8),
		SamplesPerAxis:        r.u16(10),
		HighPassFilterHz:      r.u16(12),
		LowPassFilterHz:       r.u16(14),
		WindowFunction:        WindowFunction(r.u8(16)),
		AlarmTestPeriodMin:    r.u16(17),
		Alarms:                readAlarmSettings(r, 19),
		FirmwareVSM:           FirmwareRevision(r.u16(35)),
		FirmwareTPM:           FirmwareRevision(r.u16(37)),
		MachineOffThresholdMg: r.u16(39),
	}
	if w, ok := validateAxis(c.AxisSelection, "configuration"); !ok {
		res.warn(w)
	}
	return c, nil
}

// readAlarmSettings reads the mask and seven thresholds starting at off. The
// layout is identical in the type 4 uplink and the port 31 downlink.
func readAlarmSettings(r fieldReader, off int) AlarmSettings {
	s := AlarmSettings{
		Enabled:      AlarmMask(r.u16(off)),
		TemperatureC: CentiCelsius(r.i16(off + 2)),
	}
	for i := 0; i < 3; i++ {
		s.AccelerationMg[i] = r.u16(off + 4 + 2*i)
		s.VelocityMips[i] = r.u16(off + 10 + 2*i)
	}
	return s
}

func decodeOverall(r fieldReader, alarm bool) (*Overall, error) {
	if len(r.b) < overallLen {
		return nil, shortBuffer("overall", len(r.b), overallLen)
	}
	o := &Overall{
		Alarm:          alarm,
		Status:         Status(r.u8(1)),
		ActiveAlarms:   AlarmMask(r.u8(2)),
		BatteryRaw:     r.u8(4),
		BatteryVoltage: BatteryVoltage(r.u8(4)),
		BatteryPercent: r.u8(5),
	}

	// present applies the machine-off and alarm-gating rules.
	present := func(bit AlarmMask) bool {
		if o.MachineOff() {
			return false
		}
		return !alarm || o.ActiveAlarms.Has(bit)
	}

	if present(AlarmTemperature) {
		t := r.i8(3)
		o.TemperatureC = &t
	}
	for i := 0; i < 3; i++ {
		if present(AccelAlarm(i)) {
			v := r.u16(6 + 2*i)
			o.AccelerationMg[i] = &v
		}
		if present(VelAlarm(i)) {
			v := r.u16(12 + 2*i)
			o.VelocityMips[i] = &v
		}
	}
	return o, nil
}

func decodeWaveformInfo(r fieldReader, res *Result) (*WaveformInfo, error) {
	if len(r.b) < waveformInfoLen {
		return nil, shortBuffer("waveform info", len(r.b), waveformInfoLen)
	}
	info := &WaveformInfo{
		TransactionID:    r.u8(1),
		SegmentNumber:    r.u8(2),
		ErrorCode:        r.u8(3),
		AxisSelection:    AxisSelection(r.u8(4)),
		NumberOfSegments: r.u16(5),
		HardwareFilter:   HardwareFilter(r.u8(7)),
		SamplingRateHz:   r.u16(8),
		SamplesPerAxis:   r.u16(10),
	}
	if info.SegmentNumber != 0 {
		res.warn(warnf("waveform info segment number is %d, expected 0", info.SegmentNumber))
	}
	if w, ok := validateAxis(info.AxisSelection, "waveform info"); !ok {
		res.warn(w)
	}
	return info, nil
}

func decodeWaveformData(r fieldReader, last bool) (*WaveformData, error) {
	if len(r.b) < waveformDataMin {
		return nil, shortBuffer("waveform data", len(r.b), waveformDataMin)
	}
	if len(r.b)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(r.b))
	}
	d := &WaveformData{
		TransactionID: r.u8(1),
		SegmentIndex:  r.u16(2),
		Last:          last,
		Samples:       make([]int16, 0, (len(r.b)-waveformDataMin)/2),
	}
	for i := waveformDataMin; i+1 < len(r.b); i += 2 {
		d.Samples = append(d.Samples, r.i16(i))
	}
	return d, nil
}

func decodeUpgradeStatus(r fieldReader, res *Result) (*UpgradeStatus, error) {
	if len(r.b) < upgradeStatusMin {
		return nil, shortBuffer("upgrade status", len(r.b), upgradeStatusMin)
	}
	s := &UpgradeStatus{
		MissedDataFlag:   r.u8(1),
		MissedBlockCount: r.u8(2),
	}
	want := int(s.MissedBlockCount)
	if want > MaxMissedBlocks {
		res.warn(warnf("upgrade status reports %d missed blocks, reading the first %d", want, MaxMissedBlocks))
		want = MaxMissedBlocks
	}
	s.MissedBlocks = make([]uint16, 0, want)
	for i := upgradeStatusMin; i+1 < len(r.b) && len(s.MissedBlocks) < want; i += 2 {
		s.MissedBlocks = append(s.MissedBlocks, r.u16(i))
	}
	if len(s.MissedBlocks) < want {
		res.warn(warnf("upgrade status lists %d of %d missed blocks", len(s.MissedBlocks), want))
	}
	return s, nil
}
