package port

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/detector"
)

func newTestPort(t *testing.T, hostname string, sim *detector.Simulator) *Port {
	t.Helper()

	p, err := New(Config{
		Name:           "SLS",
		Hostname:       hostname,
		ID:             10,
		Timeout:        time.Second,
		ConnectTimeout: 500 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ExitWait:       200 * time.Millisecond,
	}, sim)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// connectEventually retries Connect while the driver is still opening
// its handle.
func connectEventually(t *testing.T, p *Port, addr int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = p.Connect(addr); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Connect(%d) error = %v", addr, err)
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) record(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) find(addr int, param string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Address == addr && r.updates[i].Param == param {
			return r.updates[i], true
		}
	}
	return Update{}, false
}

func TestParseHostnames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"jf1", []string{"jf1"}},
		{"jf1+jf2", []string{"jf1", "jf2"}},
		{"+jf1++jf2+", []string{"jf1", "jf2"}},
		{"", nil},
		{"+", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseHostnames(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseHostnames(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseHostnames(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Hostname: "jf1"}, nil); !errors.Is(err, detector.ErrNoBackend) {
		t.Errorf("New(nil backend) error = %v, want %v", err, detector.ErrNoBackend)
	}
	if _, err := New(Config{Hostname: "+"}, detector.NewSimulator()); !errors.Is(err, ErrNoHostnames) {
		t.Errorf("New(empty hostnames) error = %v, want %v", err, ErrNoHostnames)
	}
}

func TestNew_InitialValues(t *testing.T) {
	p := newTestPort(t, "jf1+jf2", detector.NewSimulator("jf1", "jf2"))

	if p.NumAddresses() != 2 {
		t.Fatalf("NumAddresses() = %d, want 2", p.NumAddresses())
	}
	for addr := 0; addr < 2; addr++ {
		snap, err := p.Snapshot(addr)
		if err != nil {
			t.Fatalf("Snapshot(%d) error = %v", addr, err)
		}
		if snap[ParamInit] != int32(0) {
			t.Errorf("addr %d SLS_INIT = %v, want 0", addr, snap[ParamInit])
		}
		if snap[ParamConnStatus] != Disconnected {
			t.Errorf("addr %d SLS_CONN_STATUS = %v, want Disconnected", addr, snap[ParamConnStatus])
		}
		if snap[ParamNumDets] != int32(0) {
			t.Errorf("SLS_NUM_DETS = %v, want 0", snap[ParamNumDets])
		}
	}
	if h, _ := p.Hostname(1); h != "jf2" { //nolint:errcheck // address is valid
		t.Errorf("Hostname(1) = %q, want jf2", h)
	}
}

func TestPort_ConnectAndRead(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p := newTestPort(t, "jf1", sim)
	rec := &recorder{}
	p.SetOnUpdate(rec.record)

	connectEventually(t, p, 0)

	if !p.IsConnected(0) {
		t.Fatal("IsConnected(0) = false after Connect")
	}
	if p.NumConnected() != 1 {
		t.Errorf("NumConnected() = %d, want 1", p.NumConnected())
	}
	if u, ok := rec.find(0, ParamConnStatus); !ok || u.Value != Connected {
		t.Errorf("conn status update = %+v, want Connected", u)
	}

	host, err := p.ReadOctet(0, ParamHostname)
	if err != nil || host != "jf1" {
		t.Errorf("ReadOctet(SLS_HOSTNAME) = (%q, %v), want (jf1, nil)", host, err)
	}

	temp, err := p.ReadFloat64(0, ParamFpgaTemp)
	if err != nil || temp != 42.5 {
		t.Errorf("ReadFloat64(SLS_FPGA_TEMP) = (%v, %v), want (42.5, nil)", temp, err)
	}

	detType, err := p.ReadInt32(0, ParamDetType)
	if err != nil || detType != int32(detector.Jungfrau) {
		t.Errorf("ReadInt32(SLS_DET_TYPE) = (%d, %v), want (%d, nil)", detType, err, detector.Jungfrau)
	}

	serial, err := p.ReadOctet(0, ParamSerialNum)
	if err != nil || serial != "0x1a2b0000" {
		t.Errorf("ReadOctet(SLS_SERIALNUM) = (%q, %v)", serial, err)
	}

	if u, ok := rec.find(0, ParamFpgaTemp); !ok || u.Value != 42.5 || u.Port != "SLS" {
		t.Errorf("fpga temp update = %+v", u)
	}
}

func TestPort_ReadDisconnected(t *testing.T) {
	p := newTestPort(t, "jf1", detector.NewSimulator("jf1"))

	_, err := p.ReadFloat64(0, ParamFpgaTemp)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("ReadFloat64() error = %v, want %v", err, ErrDisconnected)
	}
}

func TestPort_LookupErrors(t *testing.T) {
	p := newTestPort(t, "jf1", detector.NewSimulator("jf1"))

	if _, err := p.Read(0, "SLS_BOGUS"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("Read(unknown) error = %v, want %v", err, ErrUnknownParam)
	}
	if _, err := p.Read(5, ParamHostname); !errors.Is(err, ErrBadAddress) {
		t.Errorf("Read(addr 5) error = %v, want %v", err, ErrBadAddress)
	}
	if _, err := p.ReadInt32(0, ParamFpgaTemp); !errors.Is(err, ErrWrongType) {
		t.Errorf("ReadInt32(float param) error = %v, want %v", err, ErrWrongType)
	}
	if err := p.WriteInt32(0, ParamConnStatus, 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteInt32(SLS_CONN_STATUS) error = %v, want %v", err, ErrReadOnly)
	}
	if err := p.WriteInt32(0, ParamChipPowerRBV, 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteInt32(SLS_CHIP_POWER_RBV) error = %v, want %v", err, ErrReadOnly)
	}
	if _, err := p.Read(0, ParamChipPower); !errors.Is(err, ErrUndefined) {
		t.Errorf("Read(unset setpoint) error = %v, want %v", err, ErrUndefined)
	}
}

func TestPort_WriteThenReadBack(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p := newTestPort(t, "jf1", sim)
	connectEventually(t, p, 0)

	if err := p.WriteInt32(0, ParamChipPower, 1); err != nil {
		t.Fatalf("WriteInt32(SLS_CHIP_POWER) error = %v", err)
	}
	v, err := p.ReadInt32(0, ParamChipPowerRBV)
	if err != nil || v != 1 {
		t.Errorf("ReadInt32(SLS_CHIP_POWER_RBV) = (%d, %v), want (1, nil)", v, err)
	}
	if sp, _ := p.ReadInt32(0, ParamChipPower); sp != 1 { //nolint:errcheck // checked by value
		t.Errorf("setpoint = %d, want 1", sp)
	}

	if err := p.WriteFloat64(0, ParamTempThreshold, 55.5); err != nil {
		t.Fatalf("WriteFloat64(SLS_TEMP_THRESHOLD) error = %v", err)
	}
	th, err := p.ReadFloat64(0, ParamTempThresholdRBV)
	if err != nil || th != 55.5 {
		t.Errorf("ReadFloat64(SLS_TEMP_THRESHOLD_RBV) = (%v, %v), want (55.5, nil)", th, err)
	}
}

func TestPort_WriteValueConversion(t *testing.T) {
	p := newTestPort(t, "jf1", detector.NewSimulator("jf1"))
	connectEventually(t, p, 0)

	if err := p.WriteValue(0, ParamHighVoltage, float64(120)); err != nil {
		t.Errorf("WriteValue(120.0) error = %v", err)
	}
	if err := p.WriteValue(0, ParamHighVoltage, 120.5); !errors.Is(err, ErrWrongType) {
		t.Errorf("WriteValue(120.5) error = %v, want %v", err, ErrWrongType)
	}
	if err := p.WriteValue(0, ParamTempThreshold, 60); err != nil {
		t.Errorf("WriteValue(int on float) error = %v", err)
	}
	if err := p.WriteValue(0, ParamInit, float64(1)); err != nil {
		t.Errorf("WriteValue(SLS_INIT) error = %v", err)
	}
	if v, _ := p.Value(0, ParamInit); v != int32(1) { //nolint:errcheck // checked by value
		t.Errorf("SLS_INIT = %v, want 1", v)
	}
	if err := p.WriteValue(0, ParamHostname, "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteValue(SLS_HOSTNAME) error = %v, want %v", err, ErrReadOnly)
	}
}

func TestPort_NegativeWriteRejected(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p := newTestPort(t, "jf1", sim)
	connectEventually(t, p, 0)

	if err := p.WriteInt32(0, ParamTempControl, 1); err != nil {
		t.Fatalf("WriteInt32(SLS_TEMP_CONTROL, 1) error = %v", err)
	}
	if err := p.WriteInt32(0, ParamTempControl, -7); !errors.Is(err, ErrInvalid) {
		t.Errorf("WriteInt32(SLS_TEMP_CONTROL, -7) error = %v, want %v", err, ErrInvalid)
	}
	if v, _ := p.Value(0, ParamTempControl); v != int32(1) { //nolint:errcheck // checked by value
		t.Errorf("SLS_TEMP_CONTROL = %v, want 1", v)
	}
	rbv, err := p.ReadInt32(0, ParamTempControlRBV)
	if err != nil || rbv != 1 {
		t.Errorf("ReadInt32(SLS_TEMP_CONTROL_RBV) = (%d, %v), want (1, nil)", rbv, err)
	}
	if !p.IsConnected(0) {
		t.Error("address disconnected after Invalid")
	}
}

func TestPort_FailedStaysConnected(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p := newTestPort(t, "jf1", sim)
	connectEventually(t, p, 0)

	err := p.WriteInt32(0, ParamHighVoltage, 30)
	if !errors.Is(err, ErrFailed) {
		t.Errorf("WriteInt32(out of range) error = %v, want %v", err, ErrFailed)
	}
	if !p.IsConnected(0) {
		t.Error("address disconnected after Failed")
	}
}

func TestPort_ErrorDisconnects(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	det, _ := sim.Detector("jf1") //nolint:errcheck // registered above
	p := newTestPort(t, "jf1", sim)
	connectEventually(t, p, 0)

	det.InjectError(detector.OpADC, 1<<4)
	_, err := p.ReadFloat64(0, ParamAdcTemp)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("ReadFloat64() error = %v, want %v", err, ErrDisconnected)
	}
	if p.IsConnected(0) {
		t.Error("address still connected after Error")
	}
	if p.NumConnected() != 0 {
		t.Errorf("NumConnected() = %d, want 0", p.NumConnected())
	}

	det.InjectError(detector.OpADC, 0)
	connectEventually(t, p, 0)
	if _, err := p.ReadFloat64(0, ParamAdcTemp); err != nil {
		t.Errorf("ReadFloat64() after reconnect error = %v", err)
	}
}

func TestPort_TimeoutDisconnects(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p, err := New(Config{
		Name:         "SLS",
		Hostname:     "jf1",
		Timeout:      20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		ExitWait:     100 * time.Millisecond,
	}, sim)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	connectEventually(t, p, 0)

	sim.SetLatency(100 * time.Millisecond)
	_, err = p.ReadInt32(0, ParamRunStatus)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadInt32() error = %v, want %v", err, ErrTimeout)
	}
	if p.IsConnected(0) {
		t.Error("address still connected after Timeout")
	}
	sim.SetLatency(0)
}

func TestPort_ConnectAll(t *testing.T) {
	sim := detector.NewSimulator("jf1", "jf2", "jf3")
	det, _ := sim.Detector("jf3") //nolint:errcheck // registered above
	det.SetUnreachable(true)
	p := newTestPort(t, "jf1+jf2+jf3", sim)

	deadline := time.Now().Add(2 * time.Second)
	n := 0
	for time.Now().Before(deadline) && n < 2 {
		var err error
		n, err = p.ConnectAll(context.Background())
		if err != nil {
			t.Fatalf("ConnectAll() error = %v", err)
		}
	}
	if n != 2 {
		t.Fatalf("ConnectAll() connected %d, want 2", n)
	}
	if p.IsConnected(2) {
		t.Error("unreachable address connected")
	}
	if v, _ := p.Value(1, ParamNumDets); v != int32(2) { //nolint:errcheck // checked by value
		t.Errorf("SLS_NUM_DETS = %v, want 2", v)
	}
}

func TestPort_ShutdownDisables(t *testing.T) {
	sim := detector.NewSimulator("jf1")
	p := newTestPort(t, "jf1", sim)
	connectEventually(t, p, 0)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	p.Shutdown()

	if err := p.Connect(0); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() after Close error = %v, want %v", err, ErrDisabled)
	}
	if got := sim.FreedCount(10); got != 1 {
		t.Errorf("FreedCount(10) = %d, want 1", got)
	}
	if p.IsConnected(0) {
		t.Error("address connected after Close")
	}
}

func TestReadEnum(t *testing.T) {
	enums, err := ReadEnum(ParamConnStatus)
	if err != nil {
		t.Fatalf("ReadEnum() error = %v", err)
	}
	if len(enums) != 2 || enums[0].Name != "Disconnected" || enums[0].Severity != SevMajor {
		t.Errorf("ConnStatus enums = %+v", enums)
	}

	enums, err = ReadEnum(ParamRunStatus)
	if err != nil || len(enums) != 7 {
		t.Fatalf("ReadEnum(SLS_RUN_STATUS) = (%d entries, %v), want 7", len(enums), err)
	}
	if enums[1].Severity != SevMajor {
		t.Errorf("error run status severity = %v, want major", enums[1].Severity)
	}

	if _, err := ReadEnum(ParamFpgaTemp); !errors.Is(err, ErrWrongType) {
		t.Errorf("ReadEnum(float) error = %v, want %v", err, ErrWrongType)
	}
	if _, err := ReadEnum("NOPE"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("ReadEnum(unknown) error = %v, want %v", err, ErrUnknownParam)
	}
}

func TestParams_Table(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range Params() {
		if seen[p.Name] {
			t.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		if p.Readable() && p.Writable() {
			t.Errorf("%s is both read-back and setpoint", p.Name)
		}
	}
	if len(seen) != 25 {
		t.Errorf("parameter count = %d, want 25", len(seen))
	}

	gain, ok := LookupParam(ParamGainMode)
	if !ok || gain.Write != detector.WriteGainMode || gain.Enum != &GainEnums {
		t.Errorf("SLS_GAIN_MODE = %+v", gain)
	}
	if e, ok := GainEnums.Lookup(int32(detector.FixGain1)); !ok || e.Name != "Fix Gain 1" {
		t.Errorf("GainEnums.Lookup(FixGain1) = (%+v, %v)", e, ok)
	}
}
