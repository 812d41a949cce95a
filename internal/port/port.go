package port

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/detector"
	"golang.org/x/sync/errgroup"
)

// Port defaults.
const (
	// DefaultTimeout is the per-request timeout for parameter access.
	DefaultTimeout = time.Second

	// DefaultConnectTimeout bounds the CheckOnline probe on connect.
	DefaultConnectTimeout = 500 * time.Millisecond
)

// Config holds the settings of one port.
type Config struct {
	// Name labels the port in logs and updates.
	Name string

	// Hostname is a '+'-separated list; one address per entry.
	Hostname string

	// ID is the shared-memory id of address 0; address n uses ID+n.
	ID int

	// Timeout bounds parameter reads and writes.
	Timeout time.Duration

	// ConnectTimeout bounds the connection probe.
	ConnectTimeout time.Duration

	// PollInterval and ExitWait are passed to each driver.
	PollInterval time.Duration
	ExitWait     time.Duration
}

// Logger defines the logging interface for the port.
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

// Update reports a parameter value change.
type Update struct {
	Port    string    `json:"port"`
	Address int       `json:"address"`
	Param   string    `json:"param"`
	Value   any       `json:"value"`
	Time    time.Time `json:"time"`
}

// address is the front-end state of one detector.
type address struct {
	// mu serializes detector access for this address.
	mu        sync.Mutex
	index     int
	hostname  string
	driver    *detector.Driver
	connected bool
}

// Port exposes the detectors behind one '+'-separated hostname as a table
// of named parameters per address.
//
// Thread Safety: All methods are safe for concurrent use. Operations on
// different addresses run in parallel; operations on one address are
// serialized.
type Port struct {
	cfg     Config
	backend detector.Backend
	shm     *detector.SharedMemory
	logger  Logger

	addrs []*address

	valMu   sync.RWMutex
	values  []map[string]any
	global  map[string]any
	numDets int32

	cbMu     sync.RWMutex
	onUpdate func(Update)

	closeOnce sync.Once
	closed    chan struct{}
}

// ParseHostnames splits a '+'-separated hostname list, skipping empty entries.
func ParseHostnames(s string) []string {
	var out []string
	for _, h := range strings.Split(s, "+") {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// New creates a port with one address per hostname. Drivers are created
// lazily on the first Connect.
//
// Parameters:
//   - cfg: port settings; Hostname must name at least one detector
//   - backend: opens hardware handles for the drivers
//
// Returns:
//   - *Port: ready port, all addresses disconnected
//   - error: ErrNoHostnames, or detector.ErrNoBackend if backend is nil
func New(cfg Config, backend detector.Backend) (*Port, error) {
	if backend == nil {
		return nil, detector.ErrNoBackend
	}
	hostnames := ParseHostnames(cfg.Hostname)
	if len(hostnames) == 0 {
		return nil, ErrNoHostnames
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	p := &Port{
		cfg:     cfg,
		backend: backend,
		shm:     detector.NewSharedMemory(backend.FreeSharedMemory),
		logger:  noopLogger{},
		addrs:   make([]*address, len(hostnames)),
		values:  make([]map[string]any, len(hostnames)),
		global:  map[string]any{ParamNumDets: int32(0)},
		closed:  make(chan struct{}),
	}
	for i, h := range hostnames {
		p.addrs[i] = &address{index: i, hostname: h}
		p.values[i] = map[string]any{
			ParamInit:       int32(0),
			ParamConnStatus: Disconnected,
		}
	}
	return p, nil
}

// SetLogger sets the logger for the port and its drivers.
func (p *Port) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// SetOnUpdate registers fn to be called after each parameter change.
// fn runs on the goroutine that made the change and must not block.
func (p *Port) SetOnUpdate(fn func(Update)) {
	p.cbMu.Lock()
	p.onUpdate = fn
	p.cbMu.Unlock()
}

// Name returns the port name.
func (p *Port) Name() string { return p.cfg.Name }

// NumAddresses returns the number of detector addresses.
func (p *Port) NumAddresses() int { return len(p.addrs) }

// Hostname returns the hostname of addr.
func (p *Port) Hostname(addr int) (string, error) {
	a, err := p.address(addr)
	if err != nil {
		return "", err
	}
	return a.hostname, nil
}

func (p *Port) address(addr int) (*address, error) {
	if addr < 0 || addr >= len(p.addrs) {
		return nil, fmt.Errorf("%w: %d", ErrBadAddress, addr)
	}
	return p.addrs[addr], nil
}

func (p *Port) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Connect creates the driver for addr if needed and probes the detector.
// On success the address is marked connected and SLS_NUM_DETS counts it.
func (p *Port) Connect(addr int) error {
	a, err := p.address(addr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.isClosed() {
		return ErrDisabled
	}

	if a.driver == nil {
		d, err := detector.NewDriver(a.hostname, p.cfg.ID+addr, addr, detector.Options{
			Backend:      p.backend,
			SharedMemory: p.shm,
			PortName:     p.cfg.Name,
			PollInterval: p.cfg.PollInterval,
			ExitWait:     p.cfg.ExitWait,
			Logger:       p.logger,
		})
		if err != nil {
			p.logger.Error("failed to initialize detector", "port", p.cfg.Name, "address", addr, "error", err)
			return fmt.Errorf("%w: %w", ErrDisabled, err)
		}
		a.driver = d
		p.set(addr, ParamConnStatus, Disconnected)
	}

	if a.connected {
		return nil
	}

	rep := a.driver.RequestCommand(detector.CheckOnline, p.cfg.ConnectTimeout)
	if rep.Command() != detector.Ok {
		p.logger.Debug("failed to connect to detector",
			"port", p.cfg.Name,
			"address", addr,
			"reply", rep.Dump())
		return fmt.Errorf("%w: connect %s: %s", ErrDisconnected, a.hostname, rep.Command())
	}

	a.connected = true
	p.set(addr, ParamConnStatus, Connected)
	p.adjustNumDets(1)
	p.logger.Info("connected to detector", "port", p.cfg.Name, "address", addr, "hostname", a.hostname)
	return nil
}

// Disconnect marks addr disconnected. The driver keeps running and the
// next Connect probes it again.
func (p *Port) Disconnect(addr int) error {
	a, err := p.address(addr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p.uninitialize(a)
	return nil
}

// uninitialize marks a disconnected. Caller holds a.mu.
func (p *Port) uninitialize(a *address) {
	if !a.connected {
		return
	}
	a.connected = false
	p.set(a.index, ParamConnStatus, Disconnected)
	p.adjustNumDets(-1)
	p.logger.Info("disconnected from detector", "port", p.cfg.Name, "address", a.index)
}

// IsConnected reports whether addr is connected.
func (p *Port) IsConnected(addr int) bool {
	a, err := p.address(addr)
	if err != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ConnectAll connects every address concurrently. Addresses that do not
// answer stay disconnected and are not an error.
//
// Returns the number of connected addresses, or ctx.Err() if ctx was
// cancelled first.
func (p *Port) ConnectAll(ctx context.Context) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range p.addrs {
		addr := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.Connect(addr); err != nil {
				if errors.Is(err, ErrDisabled) {
					return err
				}
				p.logger.Debug("address not connected", "port", p.cfg.Name, "address", addr, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return p.NumConnected(), err
	}
	return p.NumConnected(), nil
}

// NumConnected returns the SLS_NUM_DETS value.
func (p *Port) NumConnected() int {
	p.valMu.RLock()
	defer p.valMu.RUnlock()
	return int(p.numDets)
}

func (p *Port) adjustNumDets(delta int32) {
	p.valMu.Lock()
	p.numDets += delta
	v := p.numDets
	p.global[ParamNumDets] = v
	p.valMu.Unlock()

	p.notify(Update{Port: p.cfg.Name, Address: 0, Param: ParamNumDets, Value: v, Time: time.Now()})
}

// set stores a value and reports it if it changed.
func (p *Port) set(addr int, name string, v any) {
	p.valMu.Lock()
	old, had := p.values[addr][name]
	p.values[addr][name] = v
	p.valMu.Unlock()

	if had && old == v {
		return
	}
	p.notify(Update{Port: p.cfg.Name, Address: addr, Param: name, Value: v, Time: time.Now()})
}

func (p *Port) notify(u Update) {
	p.cbMu.RLock()
	fn := p.onUpdate
	p.cbMu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

// Value returns the cached value of a parameter without touching the detector.
func (p *Port) Value(addr int, name string) (any, bool) {
	param, ok := LookupParam(name)
	if !ok || addr < 0 || addr >= len(p.addrs) {
		return nil, false
	}
	p.valMu.RLock()
	defer p.valMu.RUnlock()
	if param.PortWide {
		v, ok := p.global[name]
		return v, ok
	}
	v, ok := p.values[addr][name]
	return v, ok
}

// Snapshot returns a copy of the cached values of addr, including
// port-wide parameters.
func (p *Port) Snapshot(addr int) (map[string]any, error) {
	if _, err := p.address(addr); err != nil {
		return nil, err
	}
	p.valMu.RLock()
	defer p.valMu.RUnlock()
	out := make(map[string]any, len(p.values[addr])+len(p.global))
	for k, v := range p.values[addr] {
		out[k] = v
	}
	for k, v := range p.global {
		out[k] = v
	}
	return out, nil
}

// Read fetches a parameter. Parameters backed by a detector read are
// requested from the detector; others return the cached value.
func (p *Port) Read(addr int, name string) (any, error) {
	param, ok := LookupParam(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	a, err := p.address(addr)
	if err != nil {
		return nil, err
	}

	if param.Readable() {
		a.mu.Lock()
		err := p.readDetector(a, param)
		a.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	v, ok := p.Value(addr, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	return v, nil
}

// ReadInt32 reads an int32 parameter.
func (p *Port) ReadInt32(addr int, name string) (int32, error) {
	if err := p.checkType(name, TypeInt32); err != nil {
		return 0, err
	}
	v, err := p.Read(addr, name)
	if err != nil {
		return 0, err
	}
	return v.(int32), nil //nolint:forcetypeassert // stored by type
}

// ReadFloat64 reads a float64 parameter.
func (p *Port) ReadFloat64(addr int, name string) (float64, error) {
	if err := p.checkType(name, TypeFloat64); err != nil {
		return 0, err
	}
	v, err := p.Read(addr, name)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil //nolint:forcetypeassert // stored by type
}

// ReadOctet reads a string parameter.
func (p *Port) ReadOctet(addr int, name string) (string, error) {
	if err := p.checkType(name, TypeOctet); err != nil {
		return "", err
	}
	v, err := p.Read(addr, name)
	if err != nil {
		return "", err
	}
	return v.(string), nil //nolint:forcetypeassert // stored by type
}

func (p *Port) checkType(name string, want ParamType) error {
	param, ok := LookupParam(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if param.Type != want {
		return fmt.Errorf("%w: %s is %s", ErrWrongType, name, param.Type)
	}
	return nil
}

// readDetector requests param from the detector and stores the reply.
// Caller holds a.mu.
func (p *Port) readDetector(a *address, param Param) error {
	if !a.connected {
		return ErrDisconnected
	}

	rep := a.driver.RequestCommand(param.Read, p.cfg.Timeout)
	p.logger.Debug("detector read",
		"port", p.cfg.Name,
		"address", a.index,
		"param", param.Name,
		"reply", rep.Dump())

	if err := p.replyError(a, rep); err != nil {
		return fmt.Errorf("read %s: %w", param.Name, err)
	}

	v, err := convertReply(param, rep)
	if err != nil {
		return err
	}
	p.set(a.index, param.Name, v)
	return nil
}

// replyError maps a non-Ok reply to its status error, disconnecting the
// address where the reply says the detector is gone. Caller holds a.mu.
func (p *Port) replyError(a *address, rep detector.Message) error {
	switch rep.Command() {
	case detector.Ok:
		return nil
	case detector.Invalid:
		return ErrInvalid
	case detector.Failed:
		return ErrFailed
	case detector.Timeout:
		p.uninitialize(a)
		return ErrTimeout
	default:
		p.uninitialize(a)
		return ErrDisconnected
	}
}

func convertReply(param Param, rep detector.Message) (any, error) {
	switch rep.Kind() {
	case detector.None:
		return nil, fmt.Errorf("%w: %s", ErrProtocol, rep.Dump())
	case detector.Int32, detector.Int64:
		var v int64
		if rep.Kind() == detector.Int32 {
			v = int64(rep.AsInt32())
		} else {
			v = rep.AsInt64()
		}
		switch param.Type {
		case TypeInt32:
			if v > math.MaxInt32 || v < math.MinInt32 {
				return nil, fmt.Errorf("%w: %s out of range", ErrProtocol, rep.Dump())
			}
			return int32(v), nil
		case TypeFloat64:
			return float64(v), nil
		}
	case detector.Float64:
		if param.Type == TypeFloat64 {
			return rep.AsFloat64(), nil
		}
	case detector.String:
		if param.Type == TypeOctet {
			return rep.AsString(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s for %s parameter %s", ErrProtocol, rep.Dump(), param.Type, param.Name)
}

// WriteInt32 writes an int32 parameter.
func (p *Port) WriteInt32(addr int, name string, v int32) error {
	if err := p.checkType(name, TypeInt32); err != nil {
		return err
	}
	return p.write(addr, name, v)
}

// WriteFloat64 writes a float64 parameter.
func (p *Port) WriteFloat64(addr int, name string, v float64) error {
	if err := p.checkType(name, TypeFloat64); err != nil {
		return err
	}
	return p.write(addr, name, v)
}

// WriteValue writes a loosely typed value, as decoded from JSON, converting
// it to the parameter's type. Whole float64 values are accepted for int32
// parameters.
func (p *Port) WriteValue(addr int, name string, v any) error {
	param, ok := LookupParam(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	switch param.Type {
	case TypeInt32:
		i, err := toInt32(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrongType, name, err)
		}
		return p.write(addr, name, i)
	case TypeFloat64:
		f, err := toFloat64(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrongType, name, err)
		}
		return p.write(addr, name, f)
	default:
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
}

func (p *Port) write(addr int, name string, v any) error {
	param, _ := LookupParam(name) //nolint:errcheck // checked by callers
	a, err := p.address(addr)
	if err != nil {
		return err
	}

	if !param.Writable() {
		if !param.Settable {
			return fmt.Errorf("%w: %s", ErrReadOnly, name)
		}
		p.set(addr, name, v)
		return nil
	}

	var msg detector.Message
	switch x := v.(type) {
	case int32:
		msg = detector.Int32Message(param.Write, x)
	case float64:
		msg = detector.Float64Message(param.Write, x)
	default:
		return fmt.Errorf("%w: %T", ErrWrongType, v)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return ErrDisconnected
	}

	rep := a.driver.Request(msg, p.cfg.Timeout)
	p.logger.Debug("detector write",
		"port", p.cfg.Name,
		"address", addr,
		"param", name,
		"request", msg.Dump(),
		"reply", rep.Dump())

	if err := p.replyError(a, rep); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.set(addr, name, v)
	return nil
}

func toInt32(v any) (int32, error) {
	switch x := v.(type) {
	case int32:
		return x, nil
	case int:
		if x > math.MaxInt32 || x < math.MinInt32 {
			return 0, fmt.Errorf("value %d out of range", x)
		}
		return int32(x), nil
	case int64:
		if x > math.MaxInt32 || x < math.MinInt32 {
			return 0, fmt.Errorf("value %d out of range", x)
		}
		return int32(x), nil
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt32 || x < math.MinInt32 {
			return 0, fmt.Errorf("value %v is not an int32", x)
		}
		return int32(x), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// Shutdown stops every driver and releases its hardware. The port rejects
// further connects. Safe to call more than once.
func (p *Port) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})

	var wg sync.WaitGroup
	for _, a := range p.addrs {
		a.mu.Lock()
		d := a.driver
		a.mu.Unlock()
		if d == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Shutdown()
		}()
	}
	wg.Wait()
}

// Close shuts the port down and marks every address disconnected.
func (p *Port) Close() error {
	p.Shutdown()
	for _, a := range p.addrs {
		a.mu.Lock()
		p.uninitialize(a)
		a.mu.Unlock()
	}
	p.logger.Info("port closed", "port", p.cfg.Name)
	return nil
}
