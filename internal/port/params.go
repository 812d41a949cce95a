package port

import (
	"github.com/nerrad567/gray-logic-slsdet/internal/detector"
)

// ParamType is the value type of a parameter.
type ParamType int

// Parameter value types.
const (
	TypeInt32 ParamType = iota
	TypeFloat64
	TypeOctet
)

// String returns the type name.
func (t ParamType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeFloat64:
		return "float64"
	case TypeOctet:
		return "octet"
	default:
		return "unknown"
	}
}

// MarshalText renders the type by name.
func (t ParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Parameter names.
const (
	ParamInit             = "SLS_INIT"
	ParamNumDets          = "SLS_NUM_DETS"
	ParamRunStatus        = "SLS_RUN_STATUS"
	ParamConnStatus       = "SLS_CONN_STATUS"
	ParamHostname         = "SLS_HOSTNAME"
	ParamDetType          = "SLS_DET_TYPE"
	ParamSerialNum        = "SLS_SERIALNUM"
	ParamFirmwareVer      = "SLS_FIRMWARE_VER"
	ParamSoftwareVer      = "SLS_SOFTWARE_VER"
	ParamFpgaTemp         = "SLS_FPGA_TEMP"
	ParamAdcTemp          = "SLS_ADC_TEMP"
	ParamTempThresholdRBV = "SLS_TEMP_THRESHOLD_RBV"
	ParamTempThreshold    = "SLS_TEMP_THRESHOLD"
	ParamTempControlRBV   = "SLS_TEMP_CONTROL_RBV"
	ParamTempControl      = "SLS_TEMP_CONTROL"
	ParamTempEventRBV     = "SLS_TEMP_EVENT_RBV"
	ParamTempEvent        = "SLS_TEMP_EVENT"
	ParamChipPowerRBV     = "SLS_CHIP_POWER_RBV"
	ParamChipPower        = "SLS_CHIP_POWER"
	ParamHighVoltageRBV   = "SLS_HIGH_VOLTAGE_RBV"
	ParamHighVoltage      = "SLS_HIGH_VOLTAGE"
	ParamClockDividerRBV  = "SLS_CLOCK_DIVIDER_RBV"
	ParamClockDivider     = "SLS_CLOCK_DIVIDER"
	ParamGainModeRBV      = "SLS_GAIN_MODE_RBV"
	ParamGainMode         = "SLS_GAIN_MODE"
)

// Param describes one front-end parameter.
//
// A parameter with a Read command is fetched from the detector on every
// read; one with a Write command is pushed to it on every write. Other
// parameters live only in the port's value table.
type Param struct {
	Name  string
	Type  ParamType
	Read  detector.Command
	Write detector.Command
	Enum  *EnumSet
	// Local parameters without a Write command may still be set directly.
	Settable bool
	// PortWide parameters hold one value for the whole port.
	PortWide bool
}

// Readable reports whether reads go to the detector.
func (p Param) Readable() bool { return p.Read != detector.NoOp }

// Writable reports whether writes go to the detector.
func (p Param) Writable() bool { return p.Write != detector.NoOp }

var params = []Param{
	{Name: ParamInit, Type: TypeInt32, Settable: true},
	{Name: ParamNumDets, Type: TypeInt32, PortWide: true},
	{Name: ParamRunStatus, Type: TypeInt32, Read: detector.ReadRunStatus, Enum: &RunStatusEnums},
	{Name: ParamConnStatus, Type: TypeInt32, Enum: &ConnStatusEnums},
	{Name: ParamHostname, Type: TypeOctet, Read: detector.ReadHostname},
	{Name: ParamDetType, Type: TypeInt32, Read: detector.ReadDetType, Enum: &DetTypeEnums},
	{Name: ParamSerialNum, Type: TypeOctet, Read: detector.ReadSerialnum},
	{Name: ParamFirmwareVer, Type: TypeOctet, Read: detector.ReadFirmwareVer},
	{Name: ParamSoftwareVer, Type: TypeOctet, Read: detector.ReadSoftwareVer},
	{Name: ParamFpgaTemp, Type: TypeFloat64, Read: detector.ReadFpgaTemp},
	{Name: ParamAdcTemp, Type: TypeFloat64, Read: detector.ReadAdcTemp},
	{Name: ParamTempThresholdRBV, Type: TypeFloat64, Read: detector.ReadTempThreshold},
	{Name: ParamTempThreshold, Type: TypeFloat64, Write: detector.WriteTempThreshold},
	{Name: ParamTempControlRBV, Type: TypeInt32, Read: detector.ReadTempControl, Enum: &OnOffEnums},
	{Name: ParamTempControl, Type: TypeInt32, Write: detector.WriteTempControl, Enum: &OnOffEnums},
	{Name: ParamTempEventRBV, Type: TypeInt32, Read: detector.ReadTempEvent, Enum: &OkTrippedEnums},
	{Name: ParamTempEvent, Type: TypeInt32, Write: detector.WriteTempEvent, Enum: &OkTrippedEnums},
	{Name: ParamChipPowerRBV, Type: TypeInt32, Read: detector.ReadPowerChip, Enum: &OnOffEnums},
	{Name: ParamChipPower, Type: TypeInt32, Write: detector.WritePowerChip, Enum: &OnOffEnums},
	{Name: ParamHighVoltageRBV, Type: TypeInt32, Read: detector.ReadHighVoltage},
	{Name: ParamHighVoltage, Type: TypeInt32, Write: detector.WriteHighVoltage},
	{Name: ParamClockDividerRBV, Type: TypeInt32, Read: detector.ReadClockDivider, Enum: &ClockSpeedEnums},
	{Name: ParamClockDivider, Type: TypeInt32, Write: detector.WriteClockDivider, Enum: &ClockSpeedEnums},
	{Name: ParamGainModeRBV, Type: TypeInt32, Read: detector.ReadGainMode, Enum: &GainEnums},
	{Name: ParamGainMode, Type: TypeInt32, Write: detector.WriteGainMode, Enum: &GainEnums},
}

var paramIndex = func() map[string]int {
	m := make(map[string]int, len(params))
	for i, p := range params {
		m[p.Name] = i
	}
	return m
}()

// Params returns the parameter table in declaration order.
func Params() []Param {
	out := make([]Param, len(params))
	copy(out, params)
	return out
}

// LookupParam finds a parameter by name.
func LookupParam(name string) (Param, bool) {
	i, ok := paramIndex[name]
	if !ok {
		return Param{}, false
	}
	return params[i], true
}
