package detector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Driver constants.
const (
	// QueueCapacity is the number of slots in each direction.
	QueueCapacity = 4

	// DefaultPollInterval is the delay between connection attempts.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultExitWait bounds how long Close waits for a busy actor.
	DefaultExitWait = 2 * time.Second

	// TempUnits converts hardware milli-degrees to degrees.
	TempUnits = 1000.0

	// detectorPos is the sub-detector position addressed on the handle.
	detectorPos = 0

	// maxDetectors is the number of sub-detectors a handle must report.
	maxDetectors = 1
)

// State is the lifecycle state of a Driver's actor.
type State int32

// Actor states.
const (
	StateConnecting State = iota
	StateServing
	StateTerminating
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateServing:
		return "serving"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Logger defines the logging interface for the driver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Driver.
type Options struct {
	// Backend opens hardware handles. Required.
	Backend Backend

	// SharedMemory is the registry shared by drivers of one port.
	// If nil, the driver creates its own around Backend.FreeSharedMemory.
	SharedMemory *SharedMemory

	// PortName labels log lines.
	PortName string

	// PollInterval is the connection retry delay (default 250ms).
	PollInterval time.Duration

	// ExitWait bounds Close when the actor may be busy (default 2s).
	ExitWait time.Duration

	// Logger is optional.
	Logger Logger
}

// Driver serializes all access to one detector address.
//
// A single goroutine owns the hardware handle. Callers talk to it through
// Request, which may be called from any goroutine; calls on one driver are
// served one at a time in FIFO order.
type Driver struct {
	hostname     string
	id           int
	addr         int
	pos          int
	maxDets      int
	portName     string
	pollInterval time.Duration
	exitWait     time.Duration

	backend Backend
	shm     *SharedMemory
	logger  Logger

	// det is owned by the actor goroutine.
	det Hardware

	request chan Message
	reply   chan Message

	reqMu   sync.Mutex
	pending atomic.Int64
	state   atomic.Int32

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewDriver creates a driver for one address and starts its actor, which
// begins connecting immediately.
//
// Parameters:
//   - hostname: detector hostname passed to the hardware handle
//   - id: shared-memory id of the handle
//   - addr: front-end address, used for logging
//   - opts: backend and tuning
//
// Returns:
//   - *Driver: running driver
//   - error: ErrNoBackend if opts.Backend is nil
func NewDriver(hostname string, id, addr int, opts Options) (*Driver, error) {
	if opts.Backend == nil {
		return nil, ErrNoBackend
	}

	d := &Driver{
		hostname:     hostname,
		id:           id,
		addr:         addr,
		pos:          detectorPos,
		maxDets:      maxDetectors,
		portName:     opts.PortName,
		pollInterval: opts.PollInterval,
		exitWait:     opts.ExitWait,
		backend:      opts.Backend,
		shm:          opts.SharedMemory,
		logger:       opts.Logger,
		request:      make(chan Message, QueueCapacity),
		reply:        make(chan Message, QueueCapacity),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.exitWait <= 0 {
		d.exitWait = DefaultExitWait
	}
	if d.shm == nil {
		d.shm = NewSharedMemory(opts.Backend.FreeSharedMemory)
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	d.state.Store(int32(StateConnecting))

	go d.run()

	return d, nil
}

// Hostname returns the detector hostname.
func (d *Driver) Hostname() string { return d.hostname }

// ID returns the shared-memory id.
func (d *Driver) ID() int { return d.id }

// Addr returns the front-end address.
func (d *Driver) Addr() int { return d.addr }

// State returns the actor's lifecycle state.
func (d *Driver) State() State { return State(d.state.Load()) }

// Done is closed once the actor has exited and released the handle.
func (d *Driver) Done() <-chan struct{} { return d.done }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

func (d *Driver) stopping() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// run is the actor goroutine.
func (d *Driver) run() {
	defer close(d.done)
	defer d.setState(StateStopped)
	defer d.shutdownHandle()

	d.logger.Debug("actor started", "port", d.portName, "address", d.addr, "hostname", d.hostname)

	if !d.connect() {
		d.setState(StateTerminating)
		d.logger.Debug("actor stopped before connecting", "port", d.portName, "address", d.addr)
		return
	}

	d.setState(StateServing)
	d.logger.Info("detector initialized",
		"port", d.portName,
		"address", d.addr,
		"hostname", d.hostname,
		"queued", len(d.request))

	for {
		var req Message
		select {
		case <-d.quit:
			d.setState(StateTerminating)
			return
		case req = <-d.request:
		}

		if req.Command() == Exit && req.Kind() == None {
			d.setState(StateTerminating)
			d.logger.Debug("exit received", "port", d.portName, "address", d.addr)
			return
		}

		d.logger.Debug("request received", "port", d.portName, "address", d.addr, "request", req.Dump())
		rep := d.dispatch(req)
		d.logger.Debug("reply sent", "port", d.portName, "address", d.addr, "reply", rep.Dump())

		select {
		case d.reply <- rep:
		case <-d.quit:
			d.setState(StateTerminating)
			return
		}
	}
}

// connect retries initialize every poll interval until it succeeds or the
// driver is stopped.
func (d *Driver) connect() bool {
	for {
		if d.stopping() {
			return false
		}
		if d.initialize() {
			return true
		}
		select {
		case <-d.quit:
			return false
		case <-time.After(d.pollInterval):
		}
	}
}

// initialize opens a handle and checks it reports the expected number of
// sub-detectors. On any failure the handle is torn down again.
func (d *Driver) initialize() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("failed to initialize detector",
				"port", d.portName,
				"address", d.addr,
				"panic", fmt.Sprint(r))
			d.shutdownHandle()
			ok = false
		}
	}()

	det, err := d.backend.Open(d.id)
	if err != nil {
		d.logger.Debug("failed to open detector",
			"port", d.portName,
			"address", d.addr,
			"error", err)
		return false
	}
	d.det = det
	d.shm.Acquire(d.id)

	det.SetHostname(d.hostname)
	if n := det.NumberOfDetectors(); n != d.maxDets {
		// Either the detector did not answer or the hostname was compound.
		d.shutdownHandle()
		d.logger.Debug("sub-detector count mismatch",
			"port", d.portName,
			"address", d.addr,
			"configured", n,
			"expected", d.maxDets)
		return false
	}

	return true
}

// shutdownHandle closes the handle and releases its shared memory. Only the
// actor calls it, so a nil handle means there is nothing left to release.
func (d *Driver) shutdownHandle() {
	if d.det == nil {
		return
	}
	if err := d.det.Close(); err != nil {
		d.logger.Warn("failed to close detector handle", "port", d.portName, "address", d.addr, "error", err)
	}
	d.det = nil
	if err := d.shm.Release(d.id); err != nil {
		d.logger.Warn("failed to free shared memory", "port", d.portName, "address", d.addr, "error", err)
	}
}
