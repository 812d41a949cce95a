package port

import (
	"fmt"

	"github.com/nerrad567/gray-logic-slsdet/internal/detector"
)

// Severity is the alarm severity attached to an enum value.
type Severity int

// Alarm severities.
const (
	SevNone Severity = iota
	SevMinor
	SevMajor
	SevInvalid
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case SevNone:
		return "none"
	case SevMinor:
		return "minor"
	case SevMajor:
		return "major"
	case SevInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EnumInfo is one choice of an enumerated parameter.
type EnumInfo struct {
	Name     string   `json:"name"`
	Value    int32    `json:"value"`
	Severity Severity `json:"severity"`
}

// EnumSet names a list of choices.
type EnumSet struct {
	Name   string
	Values []EnumInfo
}

// Connection states of an address.
const (
	Disconnected int32 = 0
	Connected    int32 = 1
)

// Enum sets.
var (
	ConnStatusEnums = EnumSet{Name: "ConnStatus", Values: []EnumInfo{
		{"Disconnected", Disconnected, SevMajor},
		{"Connected", Connected, SevNone},
	}}

	RunStatusEnums = EnumSet{Name: "RunStatus", Values: []EnumInfo{
		{"idle", int32(detector.StatusIdle), SevNone},
		{"error", int32(detector.StatusError), SevMajor},
		{"waiting", int32(detector.StatusWaiting), SevNone},
		{"finished", int32(detector.StatusRunFinished), SevNone},
		{"transmitting", int32(detector.StatusTransmitting), SevNone},
		{"running", int32(detector.StatusRunning), SevNone},
		{"stopped", int32(detector.StatusStopped), SevNone},
	}}

	OnOffEnums = EnumSet{Name: "OnOff", Values: []EnumInfo{
		{"Off", 0, SevNone},
		{"On", 1, SevNone},
	}}

	OkTrippedEnums = EnumSet{Name: "OkTripped", Values: []EnumInfo{
		{"OK", 0, SevNone},
		{"Tripped", 1, SevMajor},
	}}

	ClockSpeedEnums = EnumSet{Name: "ClockSpeed", Values: []EnumInfo{
		{"Full Speed", 0, SevNone},
		{"Half Speed", 1, SevNone},
		{"Quarter Speed", 2, SevNone},
	}}

	DetTypeEnums = EnumSet{Name: "DetTypes", Values: []EnumInfo{
		{"Generic", int32(detector.Generic), SevNone},
		{"Eiger", int32(detector.Eiger), SevNone},
		{"Gotthard", int32(detector.Gotthard), SevNone},
		{"Jungfrau", int32(detector.Jungfrau), SevNone},
		{"ChipTestBoard", int32(detector.ChipTestBoard), SevNone},
		{"Moench", int32(detector.Moench), SevNone},
	}}

	GainEnums = EnumSet{Name: "Gain", Values: []EnumInfo{
		{"Dynamic", int32(detector.DynamicGain), SevNone},
		{"Dynamic HG0", int32(detector.DynamicHG0), SevNone},
		{"Fix Gain 1", int32(detector.FixGain1), SevNone},
		{"Fix Gain 2", int32(detector.FixGain2), SevNone},
		{"Force Switch G1", int32(detector.ForceSwitchG1), SevNone},
		{"Force Switch G2", int32(detector.ForceSwitchG2), SevNone},
	}}
)

// Lookup returns the choice with value v.
func (s EnumSet) Lookup(v int32) (EnumInfo, bool) {
	for _, e := range s.Values {
		if e.Value == v {
			return e, true
		}
	}
	return EnumInfo{}, false
}

// ReadEnum returns the choices of an enumerated parameter.
func ReadEnum(name string) ([]EnumInfo, error) {
	p, ok := LookupParam(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if p.Enum == nil {
		return nil, fmt.Errorf("%w: %s is not enumerated", ErrWrongType, name)
	}
	out := make([]EnumInfo, len(p.Enum.Values))
	copy(out, p.Enum.Values)
	return out, nil
}
