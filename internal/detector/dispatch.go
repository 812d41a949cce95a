package detector

import (
	"fmt"
	"math"
	"strconv"
)

// access is an explicit read or write of a get/set control.
type access struct {
	write bool
	value int
}

func readAccess() access { return access{} }

func writeAccess(v int) access { return access{write: true, value: v} }

// arg maps the access to the library's signed convention.
func (a access) arg() int {
	if !a.write {
		return -1
	}
	return a.value
}

// control describes one get/set family on the hardware.
type control struct {
	name string
	call func(h Hardware, arg, pos int) int
	// verify makes a write reply Failed unless the hardware echoes the value.
	verify bool
	// temperature replies read in degrees; the hardware works in milli-degrees.
	temperature bool
}

var (
	ctlTempThreshold = control{
		name:        "ThresholdTemperature",
		call:        func(h Hardware, v, pos int) int { return h.ThresholdTemperature(v, pos) },
		temperature: true,
	}
	ctlTempControl = control{
		name: "TemperatureControl",
		call: func(h Hardware, v, pos int) int { return h.TemperatureControl(v, pos) },
	}
	ctlTempEvent = control{
		name: "TemperatureEvent",
		call: func(h Hardware, v, pos int) int { return h.TemperatureEvent(v, pos) },
	}
	ctlPowerChip = control{
		name:   "PowerChip",
		call:   func(h Hardware, v, _ int) int { return h.PowerChip(v) },
		verify: true,
	}
	ctlHighVoltage = control{
		name:   "HighVoltage",
		call:   func(h Hardware, v, _ int) int { return h.HighVoltage(v) },
		verify: true,
	}
	ctlClockDivider = control{
		name:   "ClockDivider",
		call:   func(h Hardware, v, _ int) int { return h.ClockDivider(v) },
		verify: true,
	}
	ctlGainMode = control{
		name:   "Settings",
		call:   func(h Hardware, v, pos int) int { return int(h.Settings(Settings(v), pos)) }, //nolint:gosec // settings fit in int32
		verify: true,
	}
)

// readControls maps payload-less read commands onto their control.
var readControls = map[Command]control{
	ReadTempThreshold: ctlTempThreshold,
	ReadTempControl:   ctlTempControl,
	ReadTempEvent:     ctlTempEvent,
	ReadPowerChip:     ctlPowerChip,
	ReadHighVoltage:   ctlHighVoltage,
	ReadClockDivider:  ctlClockDivider,
	ReadGainMode:      ctlGainMode,
}

// writeControls maps Int32 write commands onto their control.
var writeControls = map[Command]control{
	WriteTempControl:  ctlTempControl,
	WriteTempEvent:    ctlTempEvent,
	WritePowerChip:    ctlPowerChip,
	WriteHighVoltage:  ctlHighVoltage,
	WriteClockDivider: ctlClockDivider,
	WriteGainMode:     ctlGainMode,
}

// dispatch runs one request against the handle and builds the reply.
func (d *Driver) dispatch(req Message) (rep Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("hardware call panicked",
				"port", d.portName,
				"address", d.addr,
				"request", req.Dump(),
				"panic", fmt.Sprint(r))
			rep = NewMessage(Error)
		}
	}()

	switch req.Kind() {
	case None:
		return d.dispatchRead(req)
	case Int32:
		// Negative values are the hardware's read marker, never a setpoint.
		if ctl, ok := writeControls[req.Command()]; ok && req.AsInt32() >= 0 {
			return d.runControl(ctl, writeAccess(int(req.AsInt32())))
		}
	case Float64:
		if req.Command() == WriteTempThreshold {
			return d.runControl(ctlTempThreshold, writeAccess(thresholdArg(req.AsFloat64())))
		}
	}

	return d.invalid(req)
}

func (d *Driver) dispatchRead(req Message) Message {
	switch req.Command() {
	case CheckOnline:
		return d.checkOnline()
	case ReadHostname:
		return d.readString("Hostname", func(h Hardware) string { return h.Hostname(d.pos) })
	case ReadDetType:
		return d.readInt("DetectorType", func(h Hardware) int { return int(h.DetectorType(d.pos)) })
	case ReadRunStatus:
		return d.readInt("RunStatus", func(h Hardware) int { return int(h.RunStatus()) })
	case ReadNumDetectors:
		return d.readInt("NumberOfDetectors", func(h Hardware) int { return h.NumberOfDetectors() })
	case ReadSerialnum:
		return d.readID(DetectorSerialNumber)
	case ReadFirmwareVer:
		return d.readID(DetectorFirmwareVersion)
	case ReadSoftwareVer:
		return d.readID(DetectorSoftwareVersion)
	case ReadFpgaTemp:
		return d.readTemperature(TemperatureFPGA)
	case ReadAdcTemp:
		return d.readTemperature(TemperatureADC)
	}

	if ctl, ok := readControls[req.Command()]; ok {
		return d.runControl(ctl, readAccess())
	}
	return d.invalid(req)
}

func (d *Driver) invalid(req Message) Message {
	d.logger.Warn("unsupported request",
		"port", d.portName,
		"address", d.addr,
		"request", req.Dump())
	return NewMessage(Invalid)
}

// thresholdArg converts a threshold in degrees to the hardware argument.
func thresholdArg(v float64) int {
	if v < 0 {
		return -1
	}
	return int(v * TempUnits)
}

func (d *Driver) checkOnline() Message {
	if d.det == nil {
		return NewMessage(Error)
	}
	offline := d.det.CheckOnline()
	d.logger.Debug("checkOnline returned", "port", d.portName, "address", d.addr, "offline", offline)
	if offline != "" {
		return NewMessage(Error)
	}
	return NewMessage(Ok)
}

func (d *Driver) readString(op string, fn func(Hardware) string) Message {
	if d.det == nil {
		return NewMessage(Error)
	}
	v := fn(d.det)
	if rep, ok := d.checkErrors(op); !ok {
		return rep
	}
	return StringMessage(Ok, v)
}

func (d *Driver) readInt(op string, fn func(Hardware) int) Message {
	if d.det == nil {
		return NewMessage(Error)
	}
	v := fn(d.det)
	if rep, ok := d.checkErrors(op); !ok {
		return rep
	}
	return Int32Message(Ok, clampInt32(v))
}

func (d *Driver) readID(mode IDMode) Message {
	return d.readString("ID", func(h Hardware) string {
		return "0x" + strconv.FormatUint(uint64(h.ID(mode, d.pos)), 16) //nolint:gosec // printed as raw bits
	})
}

func (d *Driver) readTemperature(dac DACIndex) Message {
	if d.det == nil {
		return NewMessage(Error)
	}
	raw := d.det.ADC(dac, d.pos)
	if rep, ok := d.checkErrors("ADC"); !ok {
		return rep
	}
	return Float64Message(Ok, float64(raw)/TempUnits)
}

// runControl performs a get/set call and shapes the reply.
func (d *Driver) runControl(ctl control, a access) Message {
	if d.det == nil {
		return NewMessage(Error)
	}

	ret := ctl.call(d.det, a.arg(), d.pos)
	if rep, ok := d.checkErrors(ctl.name); !ok {
		return rep
	}

	if !a.write {
		if ctl.temperature {
			return Float64Message(Ok, float64(ret)/TempUnits)
		}
		return Int32Message(Ok, clampInt32(ret))
	}

	d.logger.Debug("write returned",
		"port", d.portName,
		"address", d.addr,
		"op", ctl.name,
		"value", a.value,
		"returned", ret)
	if ctl.verify && ret != a.value {
		return NewMessage(Failed)
	}
	return NewMessage(Ok)
}

// checkErrors inspects the handle's error mask after a call. A failure of
// this address alone is cleared and reported as Failed; anything wider is
// an Error.
func (d *Driver) checkErrors(op string) (Message, bool) {
	mask := d.det.ErrorMask()
	switch {
	case mask == 0:
		return Message{}, true
	case mask == 1<<d.pos:
		d.det.ClearAllErrorMask()
		d.logger.Warn("detector call failed",
			"port", d.portName,
			"address", d.addr,
			"op", op)
		return NewMessage(Failed), false
	default:
		msg, critical := d.det.ErrorMessage()
		d.logger.Error("detector call error",
			"port", d.portName,
			"address", d.addr,
			"op", op,
			"mask", mask,
			"critical", critical,
			"message", msg)
		return NewMessage(Error), false
	}
}

func clampInt32(v int) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
