package detector

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimOp names a Hardware call for fault injection.
type SimOp string

// Injectable operations.
const (
	OpHostname             SimOp = "Hostname"
	OpDetectorType         SimOp = "DetectorType"
	OpRunStatus            SimOp = "RunStatus"
	OpNumberOfDetectors    SimOp = "NumberOfDetectors"
	OpID                   SimOp = "ID"
	OpADC                  SimOp = "ADC"
	OpPowerChip            SimOp = "PowerChip"
	OpHighVoltage          SimOp = "HighVoltage"
	OpClockDivider         SimOp = "ClockDivider"
	OpSettings             SimOp = "Settings"
	OpThresholdTemperature SimOp = "ThresholdTemperature"
	OpTemperatureControl   SimOp = "TemperatureControl"
	OpTemperatureEvent     SimOp = "TemperatureEvent"
)

// Valid high voltage range; 0 switches the supply off.
const (
	simMinHighVoltage = 60
	simMaxHighVoltage = 200
)

// SimDetector is the state of one simulated detector module.
type SimDetector struct {
	mu sync.Mutex

	hostname     string
	detType      DetectorType
	runStatus    RunStatus
	serial       int64
	firmware     int64
	software     int64
	fpgaTemp     int
	adcTemp      int
	powerChip    int
	highVoltage  int
	clockDivider int
	settings     Settings
	threshold    int
	tempControl  int
	tempEvent    int

	unreachable bool
	faults      map[SimOp]int64
}

func newSimDetector(hostname string, serial int64) *SimDetector {
	return &SimDetector{
		hostname:     hostname,
		detType:      Jungfrau,
		runStatus:    StatusIdle,
		serial:       serial,
		firmware:     0x180220,
		software:     0x190218,
		fpgaTemp:     42500,
		adcTemp:      38250,
		clockDivider: 1,
		settings:     DynamicGain,
		threshold:    65000,
		faults:       make(map[SimOp]int64),
	}
}

// SetUnreachable makes the module ignore connection attempts.
func (s *SimDetector) SetUnreachable(v bool) {
	s.mu.Lock()
	s.unreachable = v
	s.mu.Unlock()
}

// InjectError makes every following call of op set mask on the handle's
// error mask. A zero mask removes the fault.
func (s *SimDetector) InjectError(op SimOp, mask int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mask == 0 {
		delete(s.faults, op)
		return
	}
	s.faults[op] = mask
}

// SetRunStatus sets the reported acquisition state.
func (s *SimDetector) SetRunStatus(st RunStatus) {
	s.mu.Lock()
	s.runStatus = st
	s.mu.Unlock()
}

// SetTemperatures sets the FPGA and ADC readings in milli-degrees.
func (s *SimDetector) SetTemperatures(fpga, adc int) {
	s.mu.Lock()
	s.fpgaTemp, s.adcTemp = fpga, adc
	s.mu.Unlock()
}

// Simulator is an in-memory Backend serving simulated detectors by hostname.
//
// Thread Safety: All methods are safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	hosts    map[string]*SimDetector
	latency  time.Duration
	openErr  error
	opens    map[int]int
	frees    map[int]int
	nextSer  int64
	attached map[int]int
}

// NewSimulator creates a simulator with one reachable module per hostname.
func NewSimulator(hostnames ...string) *Simulator {
	sim := &Simulator{
		hosts:    make(map[string]*SimDetector),
		opens:    make(map[int]int),
		frees:    make(map[int]int),
		attached: make(map[int]int),
		nextSer:  0x1a2b0000,
	}
	for _, h := range hostnames {
		sim.AddDetector(h)
	}
	return sim
}

// AddDetector registers a module for hostname, or returns the existing one.
func (sim *Simulator) AddDetector(hostname string) *SimDetector {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if det, ok := sim.hosts[hostname]; ok {
		return det
	}
	det := newSimDetector(hostname, sim.nextSer)
	sim.nextSer++
	sim.hosts[hostname] = det
	return det
}

// Detector returns the module registered for hostname.
func (sim *Simulator) Detector(hostname string) (*SimDetector, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	det, ok := sim.hosts[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, hostname)
	}
	return det, nil
}

// SetLatency delays every hardware call by d.
func (sim *Simulator) SetLatency(d time.Duration) {
	sim.mu.Lock()
	sim.latency = d
	sim.mu.Unlock()
}

// SetOpenError makes Open fail with err until cleared with nil.
func (sim *Simulator) SetOpenError(err error) {
	sim.mu.Lock()
	sim.openErr = err
	sim.mu.Unlock()
}

// OpenCount returns how many handles were opened for id.
func (sim *Simulator) OpenCount(id int) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.opens[id]
}

// FreedCount returns how many times the shared memory of id was freed.
func (sim *Simulator) FreedCount(id int) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.frees[id]
}

// Attached returns the number of open handles for id.
func (sim *Simulator) Attached(id int) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.attached[id]
}

// Open implements Backend.
func (sim *Simulator) Open(id int) (Hardware, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.openErr != nil {
		return nil, sim.openErr
	}
	sim.opens[id]++
	sim.attached[id]++
	return &simHandle{sim: sim, id: id}, nil
}

// FreeSharedMemory implements Backend.
func (sim *Simulator) FreeSharedMemory(id int) error {
	sim.mu.Lock()
	sim.frees[id]++
	sim.mu.Unlock()
	return nil
}

func (sim *Simulator) lookup(hostname string) (*SimDetector, bool) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	det, ok := sim.hosts[hostname]
	return det, ok
}

func (sim *Simulator) delay() {
	sim.mu.Lock()
	d := sim.latency
	sim.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// simHandle is a Hardware handle onto simulated modules.
type simHandle struct {
	sim     *Simulator
	id      int
	dets    []*SimDetector
	offline []string
	mask    int64
	lastErr string
	closed  bool
}

var _ Hardware = (*simHandle)(nil)

func (h *simHandle) SetHostname(hostname string) {
	h.dets = h.dets[:0]
	h.offline = h.offline[:0]
	for _, name := range strings.Split(hostname, "+") {
		if name == "" {
			continue
		}
		det, ok := h.sim.lookup(name)
		if !ok {
			h.offline = append(h.offline, name)
			continue
		}
		det.mu.Lock()
		reachable := !det.unreachable
		det.mu.Unlock()
		if !reachable {
			h.offline = append(h.offline, name)
			continue
		}
		h.dets = append(h.dets, det)
	}
}

func (h *simHandle) NumberOfDetectors() int {
	if len(h.dets) > 0 {
		h.with(OpNumberOfDetectors, 0, func(*SimDetector) {})
	}
	return len(h.dets)
}

func (h *simHandle) CheckOnline() string {
	h.sim.delay()
	var offline []string
	offline = append(offline, h.offline...)
	for _, det := range h.dets {
		det.mu.Lock()
		if det.unreachable {
			offline = append(offline, det.hostname)
		}
		det.mu.Unlock()
	}
	return strings.Join(offline, "+")
}

// with runs fn against the module at pos under its lock, applying any
// injected fault for op. It reports false if the call failed.
func (h *simHandle) with(op SimOp, pos int, fn func(det *SimDetector)) bool {
	h.sim.delay()
	if pos < 0 || pos >= len(h.dets) {
		h.fail(op, 1<<uint(max(pos, 0)), "no detector at position")
		return false
	}
	det := h.dets[pos]
	det.mu.Lock()
	defer det.mu.Unlock()
	if det.unreachable {
		h.fail(op, 1<<uint(pos), "detector not responding")
		return false
	}
	if mask, ok := det.faults[op]; ok {
		h.fail(op, mask, "simulated fault")
		return false
	}
	fn(det)
	return true
}

func (h *simHandle) fail(op SimOp, mask int64, reason string) {
	h.mask |= mask
	h.lastErr = fmt.Sprintf("%s: %s", op, reason)
}

func (h *simHandle) Hostname(pos int) string {
	var v string
	h.with(OpHostname, pos, func(det *SimDetector) { v = det.hostname })
	return v
}

func (h *simHandle) DetectorType(pos int) DetectorType {
	v := Generic
	h.with(OpDetectorType, pos, func(det *SimDetector) { v = det.detType })
	return v
}

func (h *simHandle) RunStatus() RunStatus {
	v := StatusError
	h.with(OpRunStatus, 0, func(det *SimDetector) { v = det.runStatus })
	return v
}

func (h *simHandle) ID(mode IDMode, pos int) int64 {
	var v int64
	h.with(OpID, pos, func(det *SimDetector) {
		switch mode {
		case DetectorSerialNumber:
			v = det.serial
		case DetectorFirmwareVersion:
			v = det.firmware
		case DetectorSoftwareVersion:
			v = det.software
		}
	})
	return v
}

func (h *simHandle) ADC(dac DACIndex, pos int) int {
	var v int
	h.with(OpADC, pos, func(det *SimDetector) {
		switch dac {
		case TemperatureFPGA:
			v = det.fpgaTemp
		case TemperatureADC:
			v = det.adcTemp
		}
	})
	return v
}

func (h *simHandle) PowerChip(v int) int {
	ret := -1
	h.with(OpPowerChip, 0, func(det *SimDetector) {
		if v >= 0 {
			det.powerChip = min(v, 1)
		}
		ret = det.powerChip
	})
	return ret
}

func (h *simHandle) HighVoltage(v int) int {
	ret := -1
	h.with(OpHighVoltage, 0, func(det *SimDetector) {
		if v == 0 || (v >= simMinHighVoltage && v <= simMaxHighVoltage) {
			det.highVoltage = v
		}
		ret = det.highVoltage
	})
	return ret
}

func (h *simHandle) ClockDivider(v int) int {
	ret := -1
	h.with(OpClockDivider, 0, func(det *SimDetector) {
		if v >= 0 && v <= 2 {
			det.clockDivider = v
		}
		ret = det.clockDivider
	})
	return ret
}

func (h *simHandle) Settings(v Settings, pos int) Settings {
	ret := GetSettings
	h.with(OpSettings, pos, func(det *SimDetector) {
		switch v {
		case DynamicGain, DynamicHG0, FixGain1, FixGain2, ForceSwitchG1, ForceSwitchG2:
			det.settings = v
		}
		ret = det.settings
	})
	return ret
}

func (h *simHandle) ThresholdTemperature(v, pos int) int {
	ret := -1
	h.with(OpThresholdTemperature, pos, func(det *SimDetector) {
		if v >= 0 {
			det.threshold = v
		}
		ret = det.threshold
	})
	return ret
}

func (h *simHandle) TemperatureControl(v, pos int) int {
	ret := -1
	h.with(OpTemperatureControl, pos, func(det *SimDetector) {
		if v >= 0 {
			det.tempControl = min(v, 1)
		}
		ret = det.tempControl
	})
	return ret
}

func (h *simHandle) TemperatureEvent(v, pos int) int {
	ret := -1
	h.with(OpTemperatureEvent, pos, func(det *SimDetector) {
		if v >= 0 {
			det.tempEvent = min(v, 1)
		}
		ret = det.tempEvent
	})
	return ret
}

func (h *simHandle) ErrorMask() int64 { return h.mask }

func (h *simHandle) ClearAllErrorMask() {
	h.mask = 0
	h.lastErr = ""
}

func (h *simHandle) ErrorMessage() (string, bool) {
	msg, critical := h.lastErr, h.mask&^1 != 0
	h.ClearAllErrorMask()
	return msg, critical
}

func (h *simHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.sim.mu.Lock()
	h.sim.attached[h.id]--
	h.sim.mu.Unlock()
	return nil
}
