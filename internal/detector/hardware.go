package detector

// DetectorType is the detector family reported by the hardware.
type DetectorType int32

// Detector families.
const (
	Generic DetectorType = iota
	Eiger
	Gotthard
	Jungfrau
	ChipTestBoard
	Moench
)

var detectorTypeNames = map[DetectorType]string{
	Generic:       "Generic",
	Eiger:         "Eiger",
	Gotthard:      "Gotthard",
	Jungfrau:      "Jungfrau",
	ChipTestBoard: "ChipTestBoard",
	Moench:        "Moench",
}

// String returns the family name.
func (t DetectorType) String() string {
	if n, ok := detectorTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// RunStatus is the acquisition state of the detector.
type RunStatus int32

// Run states, in hardware order.
const (
	StatusIdle RunStatus = iota
	StatusError
	StatusWaiting
	StatusRunFinished
	StatusTransmitting
	StatusRunning
	StatusStopped
)

// IDMode selects which identifier ID returns.
type IDMode int32

// Identifier selectors, numbered as the hardware library numbers them.
const (
	DetectorSerialNumber    IDMode = 2
	DetectorFirmwareVersion IDMode = 3
	DetectorSoftwareVersion IDMode = 4
)

// DACIndex selects an ADC channel.
type DACIndex int32

// Temperature channels.
const (
	TemperatureADC DACIndex = iota
	TemperatureFPGA
)

// Settings is a detector settings (gain) value. A negative value reads the
// current settings.
type Settings int32

// Settings values accepted by the hardware library. Gain modes from
// DynamicGain onwards apply to Jungfrau.
const (
	GetSettings   Settings = -1
	Standard      Settings = 0
	Fast          Settings = 1
	HighGain      Settings = 2
	DynamicGain   Settings = 3
	LowGain       Settings = 4
	MediumGain    Settings = 5
	VeryHighGain  Settings = 6
	DynamicHG0    Settings = 8
	FixGain1      Settings = 9
	FixGain2      Settings = 10
	ForceSwitchG1 Settings = 11
	ForceSwitchG2 Settings = 12
)

// Hardware is a handle to one (possibly compound) detector.
//
// A handle is not safe for concurrent use; a Driver's actor is its only
// user. Get/set methods follow the library convention: a negative argument
// reads, anything else writes, and the return value is the current setting
// after the call. Failures are reported through ErrorMask, never by panics
// or return values.
type Hardware interface {
	SetHostname(hostname string)
	NumberOfDetectors() int
	// CheckOnline returns the '+'-joined hostnames of offline modules.
	CheckOnline() string

	Hostname(pos int) string
	DetectorType(pos int) DetectorType
	RunStatus() RunStatus
	ID(mode IDMode, pos int) int64
	// ADC returns a reading in milli-units (milli-degrees for temperatures).
	ADC(dac DACIndex, pos int) int

	PowerChip(v int) int
	HighVoltage(v int) int
	ClockDivider(v int) int
	Settings(v Settings, pos int) Settings
	ThresholdTemperature(v, pos int) int
	TemperatureControl(v, pos int) int
	TemperatureEvent(v, pos int) int

	// ErrorMask has bit n set when sub-detector n failed its last call.
	ErrorMask() int64
	ClearAllErrorMask()
	// ErrorMessage describes the accumulated errors and clears them.
	ErrorMessage() (msg string, critical bool)

	Close() error
}

// Backend opens hardware handles and owns the per-id shared state that
// handles attach to.
type Backend interface {
	Open(id int) (Hardware, error)
	FreeSharedMemory(id int) error
}
