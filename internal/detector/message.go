package detector

import (
	"fmt"
	"strconv"
	"strings"
)

// Command identifies the operation carried by a Message.
type Command uint8

// Protocol sentinels.
const (
	NoOp Command = iota
	Ok
	Error
	Exit
	Invalid
	Timeout
	Failed
)

// Detector operations.
const (
	CheckOnline Command = iota + Failed + 1
	ReadHostname
	ReadDetType
	ReadRunStatus
	ReadNumDetectors
	ReadSerialnum
	ReadFirmwareVer
	ReadSoftwareVer
	ReadFpgaTemp
	ReadAdcTemp
	ReadTempThreshold
	WriteTempThreshold
	ReadTempControl
	WriteTempControl
	ReadTempEvent
	WriteTempEvent
	ReadPowerChip
	WritePowerChip
	ReadHighVoltage
	WriteHighVoltage
	ReadClockDivider
	WriteClockDivider
	ReadGainMode
	WriteGainMode

	// numCommands must stay last.
	numCommands
)

var commandNames = [numCommands]string{
	NoOp:               "NoOp",
	Ok:                 "Ok",
	Error:              "Error",
	Exit:               "Exit",
	Invalid:            "Invalid",
	Timeout:            "Timeout",
	Failed:             "Failed",
	CheckOnline:        "CheckOnline",
	ReadHostname:       "ReadHostname",
	ReadDetType:        "ReadDetType",
	ReadRunStatus:      "ReadRunStatus",
	ReadNumDetectors:   "ReadNumDetectors",
	ReadSerialnum:      "ReadSerialnum",
	ReadFirmwareVer:    "ReadFirmwareVer",
	ReadSoftwareVer:    "ReadSoftwareVer",
	ReadFpgaTemp:       "ReadFpgaTemp",
	ReadAdcTemp:        "ReadAdcTemp",
	ReadTempThreshold:  "ReadTempThreshold",
	WriteTempThreshold: "WriteTempThreshold",
	ReadTempControl:    "ReadTempControl",
	WriteTempControl:   "WriteTempControl",
	ReadTempEvent:      "ReadTempEvent",
	WriteTempEvent:     "WriteTempEvent",
	ReadPowerChip:      "ReadPowerChip",
	WritePowerChip:     "WritePowerChip",
	ReadHighVoltage:    "ReadHighVoltage",
	WriteHighVoltage:   "WriteHighVoltage",
	ReadClockDivider:   "ReadClockDivider",
	WriteClockDivider:  "WriteClockDivider",
	ReadGainMode:       "ReadGainMode",
	WriteGainMode:      "WriteGainMode",
}

// String returns the command name, or "Unknown" for values outside the set.
func (c Command) String() string {
	if c >= numCommands {
		return "Unknown"
	}
	return commandNames[c]
}

// valid reports whether c is a member of the closed command set.
func (c Command) valid() bool {
	return c < numCommands
}

// ParseCommand looks up a command by its name (case-insensitive).
func ParseCommand(name string) (Command, bool) {
	for i, n := range commandNames {
		if strings.EqualFold(n, name) {
			return Command(i), true
		}
	}
	return NoOp, false
}

// DataType identifies which payload variant a Message carries.
type DataType uint8

const (
	None DataType = iota
	Int32
	Int64
	Float64
	String

	numDataTypes
)

var dataTypeNames = [numDataTypes]string{
	None:    "None",
	Int32:   "Int32",
	Int64:   "Int64",
	Float64: "Float64",
	String:  "String",
}

// String returns the data type name, or "Unknown" for values outside the set.
func (t DataType) String() string {
	if t >= numDataTypes {
		return "Unknown"
	}
	return dataTypeNames[t]
}

// Message is the envelope exchanged between callers and a driver's actor.
//
// The kind is fixed at construction and decides which accessor is legal.
// Setters for another kind report false and leave the message untouched;
// getters for another kind return the zero value. Messages are plain values
// and are safe to copy and compare.
type Message struct {
	command Command
	kind    DataType
	ival    int64
	dval    float64
	sval    string
}

// NewMessage creates a message with no payload.
func NewMessage(cmd Command) Message {
	return Message{command: cmd, kind: None}
}

// NewTypedMessage creates a message of the given kind holding the kind's zero value.
func NewTypedMessage(cmd Command, kind DataType) Message {
	return Message{command: cmd, kind: kind}
}

// Int32Message creates an Int32 message holding v.
func Int32Message(cmd Command, v int32) Message {
	m := NewTypedMessage(cmd, Int32)
	m.SetInt32(v)
	return m
}

// Int64Message creates an Int64 message holding v.
func Int64Message(cmd Command, v int64) Message {
	m := NewTypedMessage(cmd, Int64)
	m.SetInt64(v)
	return m
}

// Float64Message creates a Float64 message holding v.
func Float64Message(cmd Command, v float64) Message {
	m := NewTypedMessage(cmd, Float64)
	m.SetFloat64(v)
	return m
}

// StringMessage creates a String message holding a copy of v.
func StringMessage(cmd Command, v string) Message {
	m := NewTypedMessage(cmd, String)
	m.SetString(v)
	return m
}

// Command returns the message command.
func (m Message) Command() Command { return m.command }

// Kind returns the payload kind.
func (m Message) Kind() DataType { return m.kind }

// SetInt32 stores v if the message kind is Int32.
func (m *Message) SetInt32(v int32) bool {
	if m.kind != Int32 {
		return false
	}
	m.ival = int64(v)
	return true
}

// SetInt64 stores v if the message kind is Int64.
func (m *Message) SetInt64(v int64) bool {
	if m.kind != Int64 {
		return false
	}
	m.ival = v
	return true
}

// SetFloat64 stores v if the message kind is Float64.
func (m *Message) SetFloat64(v float64) bool {
	if m.kind != Float64 {
		return false
	}
	m.dval = v
	return true
}

// SetString stores v if the message kind is String.
func (m *Message) SetString(v string) bool {
	if m.kind != String {
		return false
	}
	m.sval = strings.Clone(v)
	return true
}

// GetInt32 returns the Int32 payload and whether the kind matched.
func (m Message) GetInt32() (int32, bool) {
	if m.kind != Int32 {
		return 0, false
	}
	return int32(m.ival), true //nolint:gosec // only ever set from an int32
}

// GetInt64 returns the Int64 payload and whether the kind matched.
func (m Message) GetInt64() (int64, bool) {
	if m.kind != Int64 {
		return 0, false
	}
	return m.ival, true
}

// GetFloat64 returns the Float64 payload and whether the kind matched.
func (m Message) GetFloat64() (float64, bool) {
	if m.kind != Float64 {
		return 0, false
	}
	return m.dval, true
}

// GetString returns the String payload and whether the kind matched.
func (m Message) GetString() (string, bool) {
	if m.kind != String {
		return "", false
	}
	return m.sval, true
}

// AsInt32 returns the Int32 payload, or 0 for any other kind.
func (m Message) AsInt32() int32 {
	v, _ := m.GetInt32() //nolint:errcheck // zero value on mismatch
	return v
}

// AsInt64 returns the Int64 payload, or 0 for any other kind.
func (m Message) AsInt64() int64 {
	v, _ := m.GetInt64() //nolint:errcheck // zero value on mismatch
	return v
}

// AsFloat64 returns the Float64 payload, or 0 for any other kind.
func (m Message) AsFloat64() float64 {
	v, _ := m.GetFloat64() //nolint:errcheck // zero value on mismatch
	return v
}

// AsString returns the String payload, or "" for any other kind.
func (m Message) AsString() string {
	v, _ := m.GetString() //nolint:errcheck // zero value on mismatch
	return v
}

// Value returns the payload as an untyped value, or nil for kind None.
// Used by the front end when storing replies into parameters.
func (m Message) Value() any {
	switch m.kind {
	case Int32:
		return m.AsInt32()
	case Int64:
		return m.ival
	case Float64:
		return m.dval
	case String:
		return m.sval
	default:
		return nil
	}
}

// wellFormed reports whether the message could have been produced by this
// package. A reply that fails the check is treated as transport corruption.
func (m Message) wellFormed() bool {
	if !m.command.valid() || m.kind >= numDataTypes {
		return false
	}
	switch m.kind {
	case None:
		return m.ival == 0 && m.dval == 0 && m.sval == ""
	case Int32:
		return m.ival == int64(int32(m.ival)) && m.dval == 0 && m.sval == "" //nolint:gosec // range check
	case Int64:
		return m.dval == 0 && m.sval == ""
	case Float64:
		return m.ival == 0 && m.sval == ""
	default:
		return m.ival == 0 && m.dval == 0
	}
}

// Dump renders the message for diagnostics as
// "Message(<command>, <kind>[, <value>])".
func (m Message) Dump() string {
	var b strings.Builder
	b.WriteString("Message(")
	b.WriteString(m.command.String())
	b.WriteString(", ")
	b.WriteString(m.kind.String())
	switch m.kind {
	case Int32, Int64:
		b.WriteString(", ")
		b.WriteString(strconv.FormatInt(m.ival, 10))
	case Float64:
		b.WriteString(", ")
		b.WriteString(strconv.FormatFloat(m.dval, 'g', -1, 64))
	case String:
		b.WriteString(", ")
		b.WriteString(m.sval)
	}
	b.WriteString(")")
	return b.String()
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return m.Dump()
}

var _ fmt.Stringer = Message{}
