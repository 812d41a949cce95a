package detector

import (
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testTimeout = time.Second
	testPoll    = 10 * time.Millisecond
)

func newTestDriver(t *testing.T, backend Backend, hostname string, id int) *Driver {
	t.Helper()

	d, err := NewDriver(hostname, id, 0, Options{
		Backend:      backend,
		PortName:     "TEST",
		PollInterval: testPoll,
		ExitWait:     200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	t.Cleanup(d.Shutdown)
	return d
}

func waitForState(t *testing.T, d *Driver, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", d.State(), want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func servingDriver(t *testing.T) (*Driver, *Simulator, *SimDetector) {
	t.Helper()

	sim := NewSimulator("jf1")
	det, err := sim.Detector("jf1")
	if err != nil {
		t.Fatalf("Detector() error = %v", err)
	}
	d := newTestDriver(t, sim, "jf1", 1)
	waitForState(t, d, StateServing)
	return d, sim, det
}

func TestNewDriver_RequiresBackend(t *testing.T) {
	_, err := NewDriver("jf1", 0, 0, Options{})
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("NewDriver() error = %v, want %v", err, ErrNoBackend)
	}
}

func TestDriver_PowerChipWriteThenRead(t *testing.T) {
	d, _, _ := servingDriver(t)

	rep := d.Request(Int32Message(WritePowerChip, 1), testTimeout)
	if rep.Command() != Ok || rep.Kind() != None {
		t.Fatalf("write reply = %s, want Message(Ok, None)", rep.Dump())
	}

	rep = d.RequestCommand(ReadPowerChip, testTimeout)
	if rep.Command() != Ok {
		t.Fatalf("read reply = %s, want Ok", rep.Dump())
	}
	if v, ok := rep.GetInt32(); !ok || v != 1 {
		t.Errorf("read value = (%d, %v), want (1, true)", v, ok)
	}
}

func TestDriver_WrongPayloadIsInvalid(t *testing.T) {
	d, _, _ := servingDriver(t)

	tests := []struct {
		name string
		msg  Message
	}{
		{"float on int write", Float64Message(WritePowerChip, 1)},
		{"int on float write", Int32Message(WriteTempThreshold, 60)},
		{"payload on read", Int32Message(ReadHostname, 0)},
		{"write without payload", NewMessage(WriteHighVoltage)},
		{"string payload", StringMessage(WriteGainMode, "fixgain1")},
		{"sentinel command", NewMessage(Ok)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := d.Request(tt.msg, testTimeout)
			if rep.Command() != Invalid {
				t.Errorf("reply = %s, want Invalid", rep.Dump())
			}
		})
	}
}

func TestDriver_Reads(t *testing.T) {
	d, _, _ := servingDriver(t)

	tests := []struct {
		cmd  Command
		want Message
	}{
		{CheckOnline, NewMessage(Ok)},
		{ReadHostname, StringMessage(Ok, "jf1")},
		{ReadDetType, Int32Message(Ok, int32(Jungfrau))},
		{ReadRunStatus, Int32Message(Ok, int32(StatusIdle))},
		{ReadNumDetectors, Int32Message(Ok, 1)},
		{ReadSerialnum, StringMessage(Ok, "0x1a2b0000")},
		{ReadFirmwareVer, StringMessage(Ok, "0x180220")},
		{ReadSoftwareVer, StringMessage(Ok, "0x190218")},
		{ReadFpgaTemp, Float64Message(Ok, 42.5)},
		{ReadAdcTemp, Float64Message(Ok, 38.25)},
		{ReadTempThreshold, Float64Message(Ok, 65)},
		{ReadClockDivider, Int32Message(Ok, 1)},
		{ReadGainMode, Int32Message(Ok, int32(DynamicGain))},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			rep := d.RequestCommand(tt.cmd, testTimeout)
			if rep != tt.want {
				t.Errorf("reply = %s, want %s", rep.Dump(), tt.want.Dump())
			}
		})
	}
}

func TestDriver_ThresholdWrite(t *testing.T) {
	d, _, _ := servingDriver(t)

	rep := d.Request(Float64Message(WriteTempThreshold, 70.5), testTimeout)
	if rep != NewMessage(Ok) {
		t.Fatalf("write reply = %s, want Message(Ok, None)", rep.Dump())
	}

	rep = d.RequestCommand(ReadTempThreshold, testTimeout)
	if v, ok := rep.GetFloat64(); rep.Command() != Ok || !ok || v != 70.5 {
		t.Errorf("read reply = %s, want Message(Ok, Float64, 70.5)", rep.Dump())
	}

	// A negative threshold is sent as a read and leaves the value alone.
	rep = d.Request(Float64Message(WriteTempThreshold, -3), testTimeout)
	if rep != NewMessage(Ok) {
		t.Fatalf("negative write reply = %s, want Message(Ok, None)", rep.Dump())
	}
	rep = d.RequestCommand(ReadTempThreshold, testTimeout)
	if rep.AsFloat64() != 70.5 {
		t.Errorf("threshold after negative write = %v, want 70.5", rep.AsFloat64())
	}
}

func TestDriver_NegativeInt32WriteIsInvalid(t *testing.T) {
	d, _, _ := servingDriver(t)

	if rep := d.Request(Int32Message(WriteTempControl, 1), testTimeout); rep != NewMessage(Ok) {
		t.Fatalf("write reply = %s, want Message(Ok, None)", rep.Dump())
	}

	for _, cmd := range []Command{WriteTempControl, WriteTempEvent, WritePowerChip, WriteHighVoltage, WriteClockDivider, WriteGainMode} {
		rep := d.Request(Int32Message(cmd, -7), testTimeout)
		if rep != NewMessage(Invalid) {
			t.Errorf("%v(-7) reply = %s, want Message(Invalid, None)", cmd, rep.Dump())
		}
	}

	rep := d.RequestCommand(ReadTempControl, testTimeout)
	if rep != Int32Message(Ok, 1) {
		t.Errorf("temp control after negative write = %s, want Message(Ok, Int32, 1)", rep.Dump())
	}
}

func TestDriver_VerifiedWriteMismatchFails(t *testing.T) {
	d, _, _ := servingDriver(t)

	tests := []struct {
		name string
		msg  Message
		want Command
	}{
		{"power chip out of range", Int32Message(WritePowerChip, 5), Failed},
		{"high voltage out of range", Int32Message(WriteHighVoltage, 30), Failed},
		{"high voltage accepted", Int32Message(WriteHighVoltage, 120), Ok},
		{"clock divider out of range", Int32Message(WriteClockDivider, 7), Failed},
		{"gain accepted", Int32Message(WriteGainMode, int32(FixGain2)), Ok},
		{"gain rejected", Int32Message(WriteGainMode, int32(Fast)), Failed},
		{"temp control unverified", Int32Message(WriteTempControl, 5), Ok},
		{"temp event unverified", Int32Message(WriteTempEvent, 1), Ok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := d.Request(tt.msg, testTimeout)
			if rep.Command() != tt.want {
				t.Errorf("reply = %s, want %v", rep.Dump(), tt.want)
			}
		})
	}
}

func TestDriver_ErrorMaskClassification(t *testing.T) {
	d, _, det := servingDriver(t)

	det.InjectError(OpHighVoltage, 1)
	rep := d.Request(Int32Message(WriteHighVoltage, 120), testTimeout)
	if rep.Command() != Failed {
		t.Errorf("own-address fault reply = %s, want Failed", rep.Dump())
	}

	// The mask was cleared, so the next call succeeds once the fault is gone.
	det.InjectError(OpHighVoltage, 0)
	rep = d.RequestCommand(ReadHighVoltage, testTimeout)
	if rep.Command() != Ok {
		t.Errorf("reply after clear = %s, want Ok", rep.Dump())
	}

	det.InjectError(OpADC, 1<<3)
	rep = d.RequestCommand(ReadFpgaTemp, testTimeout)
	if rep.Command() != Error {
		t.Errorf("wider fault reply = %s, want Error", rep.Dump())
	}
}

func TestDriver_CheckOnlineOffline(t *testing.T) {
	d, _, det := servingDriver(t)

	det.SetUnreachable(true)
	rep := d.RequestCommand(CheckOnline, testTimeout)
	if rep.Command() != Error {
		t.Errorf("CheckOnline reply = %s, want Error", rep.Dump())
	}
}

func TestDriver_UnreachableTimesOutAndRetries(t *testing.T) {
	sim := NewSimulator("jf1")
	det, _ := sim.Detector("jf1") //nolint:errcheck // registered above
	det.SetUnreachable(true)

	d := newTestDriver(t, sim, "jf1", 4)

	for i := 0; i < 2; i++ {
		rep := d.RequestCommand(ReadPowerChip, 20*time.Millisecond)
		if rep.Command() != Timeout {
			t.Errorf("reply %d = %s, want Timeout", i, rep.Dump())
		}
	}
	if d.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", d.State())
	}

	waitFor(t, "connection retries", func() bool { return sim.OpenCount(4) >= 3 })
	if sim.FreedCount(4) < 2 {
		t.Errorf("FreedCount(4) = %d, want at least 2", sim.FreedCount(4))
	}
}

func TestDriver_QueuedRequestsFlushedAfterConnect(t *testing.T) {
	sim := NewSimulator("jf1")
	det, _ := sim.Detector("jf1") //nolint:errcheck // registered above
	det.SetUnreachable(true)

	d := newTestDriver(t, sim, "jf1", 5)

	rep := d.RequestCommand(ReadHostname, 20*time.Millisecond)
	if rep.Command() != Timeout {
		t.Fatalf("reply = %s, want Timeout", rep.Dump())
	}
	if d.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", d.Pending())
	}

	det.SetUnreachable(false)
	waitForState(t, d, StateServing)

	rep = d.RequestCommand(ReadDetType, testTimeout)
	if rep != Int32Message(Ok, int32(Jungfrau)) {
		t.Errorf("reply = %s, want Message(Ok, Int32, 3)", rep.Dump())
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDriver_FlushAfterTimeout(t *testing.T) {
	d, sim, _ := servingDriver(t)

	sim.SetLatency(100 * time.Millisecond)
	rep := d.RequestCommand(ReadRunStatus, 10*time.Millisecond)
	if rep.Command() != Timeout {
		t.Fatalf("reply = %s, want Timeout", rep.Dump())
	}
	if d.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", d.Pending())
	}

	sim.SetLatency(0)
	rep = d.RequestCommand(ReadNumDetectors, testTimeout)
	if rep != Int32Message(Ok, 1) {
		t.Errorf("reply = %s, want Message(Ok, Int32, 1)", rep.Dump())
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDriver_FlushStopsAtExit(t *testing.T) {
	d, _, _ := servingDriver(t)

	// A caller gave up, then Close posted Exit before the late reply arrived.
	d.pending.Add(1)
	t.Cleanup(func() { d.pending.Add(-1) })
	if err := post(d.reply, NewMessage(Exit)); err != nil {
		t.Fatalf("post() error = %v", err)
	}

	start := time.Now()
	if d.flush(time.Second) {
		t.Error("flush() = true after Exit, want false")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("flush() took %v, want prompt return on Exit", elapsed)
	}
	if d.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 (Exit is not a reply)", d.Pending())
	}
}

func TestDriver_FIFO(t *testing.T) {
	d, _, _ := servingDriver(t)

	for _, v := range []int32{0, 2, 1} {
		if rep := d.Request(Int32Message(WriteClockDivider, v), testTimeout); rep.Command() != Ok {
			t.Fatalf("write %d reply = %s", v, rep.Dump())
		}
	}
	rep := d.RequestCommand(ReadClockDivider, testTimeout)
	if rep.AsInt32() != 1 {
		t.Errorf("clock divider = %d, want 1 (last write)", rep.AsInt32())
	}
}

func TestDriver_ConcurrentCallers(t *testing.T) {
	d, _, _ := servingDriver(t)

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep := d.RequestCommand(ReadHostname, testTimeout)
			if rep != StringMessage(Ok, "jf1") {
				errs <- rep.Dump()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("unexpected reply %s", e)
	}
}

func TestDriver_DoubleShutdownFreesOnce(t *testing.T) {
	d, sim, _ := servingDriver(t)

	d.Shutdown()
	d.Shutdown()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not exit")
	}
	if d.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", d.State())
	}
	if got := sim.FreedCount(1); got != 1 {
		t.Errorf("FreedCount(1) = %d, want 1", got)
	}
	if got := sim.Attached(1); got != 0 {
		t.Errorf("Attached(1) = %d, want 0", got)
	}
}

func TestDriver_ShutdownWhileConnecting(t *testing.T) {
	sim := NewSimulator()
	d := newTestDriver(t, sim, "nowhere", 6)

	waitFor(t, "first attempt", func() bool { return sim.OpenCount(6) >= 1 })

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not exit")
	}
	if got := sim.Attached(6); got != 0 {
		t.Errorf("Attached(6) = %d, want 0", got)
	}
}

func TestDriver_RequestAfterClose(t *testing.T) {
	d, _, _ := servingDriver(t)

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	start := time.Now()
	rep := d.RequestCommand(ReadHostname, testTimeout)
	if rep.Command() != Timeout {
		t.Errorf("reply = %s, want Timeout", rep.Dump())
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Request after Close took %v", time.Since(start))
	}
}

func TestDriver_CloseBoundedWhenBusy(t *testing.T) {
	d, sim, _ := servingDriver(t)

	sim.SetLatency(500 * time.Millisecond)
	rep := d.RequestCommand(ReadRunStatus, 10*time.Millisecond)
	if rep.Command() != Timeout {
		t.Fatalf("reply = %s, want Timeout", rep.Dump())
	}

	start := time.Now()
	err := d.Close()
	if !errors.Is(err, ErrExitTimeout) {
		t.Errorf("Close() error = %v, want %v", err, ErrExitTimeout)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Close() took %v, want bounded by exit wait", elapsed)
	}

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not exit after the hardware call returned")
	}
	if got := sim.FreedCount(1); got != 1 {
		t.Errorf("FreedCount(1) = %d, want 1", got)
	}
}

func TestDriver_CompoundHostnameNeverServes(t *testing.T) {
	sim := NewSimulator("a", "b")
	d := newTestDriver(t, sim, "a+b", 7)

	waitFor(t, "retries", func() bool { return sim.OpenCount(7) >= 2 })
	if d.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", d.State())
	}
}

type panicBackend struct {
	mu    sync.Mutex
	opens int
}

func (b *panicBackend) Open(int) (Hardware, error) {
	b.mu.Lock()
	b.opens++
	b.mu.Unlock()
	panic("library exploded")
}

func (b *panicBackend) FreeSharedMemory(int) error { return nil }

func (b *panicBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func TestDriver_OpenPanicRetries(t *testing.T) {
	b := &panicBackend{}
	d := newTestDriver(t, b, "jf1", 8)

	waitFor(t, "retries after panic", func() bool { return b.count() >= 3 })
	if d.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", d.State())
	}
}

func TestDriver_OpenErrorRetries(t *testing.T) {
	sim := NewSimulator("jf1")
	sim.SetOpenError(errors.New("no shared memory"))

	d := newTestDriver(t, sim, "jf1", 9)
	time.Sleep(5 * testPoll)
	if d.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", d.State())
	}

	sim.SetOpenError(nil)
	waitForState(t, d, StateServing)
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateConnecting:  "connecting",
		StateServing:     "serving",
		StateTerminating: "terminating",
		StateStopped:     "stopped",
		State(42):        "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
