package slsdet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-slsdet/internal/history"
	"github.com/nerrad567/gray-logic-slsdet/internal/port"
)

// Bridge operation constants.
const (
	// topicParts is the number of segments in graylogic/{category}/slsdet/{id}.
	topicParts = 4

	// recordTimeout bounds a history insert.
	recordTimeout = 2 * time.Second

	// updateQueueSize is the number of parameter updates buffered between
	// the detectors and the MQTT publisher.
	updateQueueSize = 256

	defaultPollInterval = 2 * time.Second
)

// Bridge connects the detector port to MQTT.
// It handles:
//   - Parameter writes from graylogic/command/slsdet/{address}
//   - Reads and connection changes from graylogic/request/slsdet/{id}
//   - Periodic polling with retained state, history and telemetry
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       Config
	mqtt      MQTTClient
	port      Detectors
	history   HistoryRecorder
	telemetry Telemetry
	health    *HealthReporter

	updates chan port.Update

	commandsReceived atomic.Uint64
	requestsReceived atomic.Uint64
	statesPublished  atomic.Uint64
	errorCount       atomic.Uint64
	updatesDropped   atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // cancelled on Stop()
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Config holds the bridge settings.
type Config struct {
	// ID identifies the bridge in health messages.
	ID string

	// Version is reported in health messages.
	Version string

	// PollInterval is the time between poll rounds. Default: 2 seconds.
	PollInterval time.Duration

	// HealthInterval is the time between health messages. Default: 30 seconds.
	HealthInterval time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Detectors is the part of *port.Port the bridge drives.
type Detectors interface {
	DetectorCounter
	Hostname(addr int) (string, error)
	Connect(addr int) error
	Disconnect(addr int) error
	IsConnected(addr int) bool
	Read(addr int, name string) (any, error)
	WriteValue(addr int, name string, v any) error
	Value(addr int, name string) (any, bool)
	Snapshot(addr int) (map[string]any, error)
}

// HistoryRecorder stores parameter values. Satisfied by *history.Store.
type HistoryRecorder interface {
	Record(ctx context.Context, r history.Reading) error
}

// Telemetry receives numeric readings and connection changes. Satisfied
// by *influxdb.Client.
type Telemetry interface {
	WriteReading(port string, addr int, param string, value float64, ts time.Time)
	WriteConnection(port string, addr int, hostname string, connected bool)
}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	Config Config

	// Port is the detector port. Required.
	Port Detectors

	// MQTTClient is optional; without it the bridge only polls and records.
	MQTTClient MQTTClient

	// History and Telemetry are optional sinks for value changes.
	History   HistoryRecorder
	Telemetry Telemetry

	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation and route
// port updates to HandleUpdate.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Port == nil {
		return nil, fmt.Errorf("detector port is required")
	}

	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		port:      opts.Port,
		history:   opts.History,
		telemetry: opts.Telemetry,
		updates:   make(chan port.Update, updateQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	hcfg := HealthReporterConfig{
		BridgeID:  cfg.ID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Detectors: opts.Port,
		Stats:     b.Statistics,
	}
	if opts.MQTTClient != nil {
		hcfg.Publisher = opts.MQTTClient
	}
	b.health = NewHealthReporter(hcfg)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command and request topics and starts the poll,
// publish and health loops.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if b.mqtt != nil {
		commandTopic := CommandSubscribeTopic()
		if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", commandTopic)

		requestTopic := RequestSubscribeTopic()
		if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to requests: %w", err)
		}
		b.logInfo("subscribed to requests", "topic", requestTopic)
	}

	b.wg.Add(2)
	go b.publishLoop()
	go b.pollLoop(ctx)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"port", b.port.Name(),
		"addresses", b.port.NumAddresses(),
		"poll_interval", b.cfg.PollInterval)
	return nil
}

// Stop gracefully shuts down the bridge. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Abort in-flight reads and history writes
		b.ctxCancel()

		// Publishes "stopping"
		b.health.Stop()

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// HandleUpdate queues a parameter change for publishing and recording.
// It never blocks: when the queue is full the update is dropped.
func (b *Bridge) HandleUpdate(u port.Update) {
	select {
	case b.updates <- u:
	default:
		if b.updatesDropped.Add(1) == 1 {
			b.logWarn("update queue full, dropping updates", "param", u.Param, "address", u.Address)
		}
	}
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		RequestsReceived: b.requestsReceived.Load(),
		StatesPublished:  b.statesPublished.Load(),
		Errors:           b.errorCount.Load(),
	}
}

// Health returns the current bridge status without publishing it.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.determineStatus()
	return b.health.buildMessage(status, reason)
}

// LWTPayload returns the will payload for the bridge health topic.
func (b *Bridge) LWTPayload() ([]byte, error) {
	return b.health.LWTPayload()
}

// pollLoop polls every address once immediately and then every PollInterval.
func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		b.PollAll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

// PollAll runs one poll round, one goroutine per address.
func (b *Bridge) PollAll(ctx context.Context) {
	ctx, cancel := mergeDone(ctx, b.ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for addr := range b.port.NumAddresses() {
		g.Go(func() error {
			if _, err := b.pollAddress(gctx, addr); err != nil && gctx.Err() == nil {
				b.logDebug("poll incomplete", "address", addr, "error", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return an error
}

// pollAddress connects addr if needed and reads every readable parameter.
// It stops at the first error that disconnected the address and returns
// the number of failed reads.
func (b *Bridge) pollAddress(ctx context.Context, addr int) (int, error) {
	if !b.port.IsConnected(addr) {
		if err := b.port.Connect(addr); err != nil {
			return 0, err
		}
	}

	failed := 0
	for _, p := range port.Params() {
		if !p.Readable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if _, err := b.port.Read(addr, p.Name); err != nil {
			failed++
			if errors.Is(err, port.ErrDisconnected) || errors.Is(err, port.ErrTimeout) {
				return failed, err
			}
			b.logDebug("parameter read failed", "address", addr, "param", p.Name, "error", err)
		}
	}
	return failed, nil
}

// publishLoop drains queued updates, coalescing whatever is pending into
// one state message per address.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case u := <-b.updates:
			batch := map[int]map[string]any{}
			b.collect(batch, u)
		drain:
			for {
				select {
				case u := <-b.updates:
					b.collect(batch, u)
				default:
					break drain
				}
			}
			for addr, state := range batch {
				b.publishState(addr, state)
			}
		}
	}
}

func (b *Bridge) collect(batch map[int]map[string]any, u port.Update) {
	state, ok := batch[u.Address]
	if !ok {
		state = map[string]any{}
		batch[u.Address] = state
	}
	state[u.Param] = u.Value
	b.recordUpdate(u)
}

// recordUpdate sends an observed value to history and telemetry.
// Setpoints are recorded by the write path with its own source.
func (b *Bridge) recordUpdate(u port.Update) {
	param, ok := port.LookupParam(u.Param)
	if !ok {
		return
	}
	hostname, _ := b.port.Hostname(u.Address) //nolint:errcheck // updates carry valid addresses

	if b.telemetry != nil {
		switch v := u.Value.(type) {
		case int32:
			if u.Param == port.ParamConnStatus {
				b.telemetry.WriteConnection(u.Port, u.Address, hostname, v == port.Connected)
			} else {
				b.telemetry.WriteReading(u.Port, u.Address, u.Param, float64(v), u.Time)
			}
		case float64:
			b.telemetry.WriteReading(u.Port, u.Address, u.Param, v, u.Time)
		}
	}

	if param.Writable() || param.Settable {
		return
	}
	b.record(history.Reading{
		Port:       u.Port,
		Address:    u.Address,
		Hostname:   hostname,
		Param:      u.Param,
		Value:      u.Value,
		Source:     history.SourcePoll,
		RecordedAt: u.Time,
	})
}

func (b *Bridge) record(r history.Reading) {
	if b.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()
	if err := b.history.Record(ctx, r); err != nil {
		b.errorCount.Add(1)
		b.logError("failed to record history", err)
	}
}

func (b *Bridge) publishState(addr int, state map[string]any) {
	if b.mqtt == nil {
		return
	}
	hostname, _ := b.port.Hostname(addr) //nolint:errcheck // updates carry valid addresses
	msg := NewStateMessage(b.port.Name(), addr, hostname, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(addr), payload, 1, true); err != nil {
		b.errorCount.Add(1)
		b.logError("failed to publish state", err)
		return
	}
	b.statesPublished.Add(1)
}

// handleMQTTMessage routes a message by the category segment of its topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[2] != Protocol {
		b.errorCount.Add(1)
		b.logError("invalid topic format", fmt.Errorf("%w: %s", ErrInvalidTopic, topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

func (b *Bridge) handleCommand(segment string, payload []byte) {
	b.commandsReceived.Add(1)

	addr, err := parseTopicAddress(segment)
	if err != nil {
		b.errorCount.Add(1)
		b.logError("invalid command topic", err)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.ID = uuid.NewString()
		b.publishAckError(cmd, addr, ErrCodeInvalidCommand, fmt.Sprintf("%v: %v", ErrInvalidMessage, err))
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", addr,
		"param", cmd.Param)

	if cmd.Param == "" {
		b.publishAckError(cmd, addr, ErrCodeInvalidParameters, "param is required")
		return
	}

	if err := b.port.WriteValue(addr, cmd.Param, cmd.Value); err != nil {
		b.publishAckError(cmd, addr, ErrorCode(err), err.Error())
		return
	}

	if v, ok := b.port.Value(addr, cmd.Param); ok {
		hostname, _ := b.port.Hostname(addr) //nolint:errcheck // write succeeded, address is valid
		b.record(history.Reading{
			Port:     b.port.Name(),
			Address:  addr,
			Hostname: hostname,
			Param:    cmd.Param,
			Value:    v,
			Source:   history.SourceCommand,
		})
	}
	b.publishAck(cmd, addr, AckAccepted)
}

func (b *Bridge) publishAck(cmd CommandMessage, addr int, status AckStatus) {
	b.publishJSON(AckTopic(addr), NewAckMessage(cmd, addr, status), false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, addr int, code, message string) {
	b.errorCount.Add(1)
	b.publishJSON(AckTopic(addr), NewAckError(cmd, addr, code, message), false)
	b.logError("command failed",
		fmt.Errorf("command_id=%s code=%s message=%s", cmd.ID, code, message))
}

func (b *Bridge) handleRequest(segment string, payload []byte) {
	b.requestsReceived.Add(1)

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.errorCount.Add(1)
		b.publishResponse(errorResponse(segment, ErrCodeInvalidCommand,
			fmt.Sprintf("%v: %v", ErrInvalidMessage, err)))
		return
	}
	if req.RequestID == "" {
		req.RequestID = segment
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action,
		"address", req.Address)

	var resp ResponseMessage
	switch req.Action {
	case ActionRead:
		resp = b.handleRead(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	case ActionConnect:
		resp = b.handleConnect(req)
	case ActionDisconnect:
		resp = b.handleDisconnect(req)
	default:
		resp = errorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("%v: %s", ErrUnknownAction, req.Action))
	}
	if !resp.Success {
		b.errorCount.Add(1)
	}
	b.publishResponse(resp)
}

func (b *Bridge) handleRead(req RequestMessage) ResponseMessage {
	if req.Param == "" {
		return errorResponse(req.RequestID, ErrCodeInvalidParameters, "param is required")
	}
	v, err := b.port.Read(req.Address, req.Param)
	if err != nil {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"address": req.Address,
		"param":   req.Param,
		"value":   v,
	})
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	if _, err := b.port.Hostname(req.Address); err != nil {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}

	failed, err := b.pollAddress(b.ctx, req.Address)
	if err != nil && !b.port.IsConnected(req.Address) {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}

	values, err := b.port.Snapshot(req.Address)
	if err != nil {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"address":      req.Address,
		"values":       values,
		"failed_reads": failed,
	})
}

func (b *Bridge) handleConnect(req RequestMessage) ResponseMessage {
	if err := b.port.Connect(req.Address); err != nil {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"address":   req.Address,
		"connected": true,
	})
}

func (b *Bridge) handleDisconnect(req RequestMessage) ResponseMessage {
	if err := b.port.Disconnect(req.Address); err != nil {
		return errorResponse(req.RequestID, ErrorCode(err), err.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"address":   req.Address,
		"connected": false,
	})
}

func (b *Bridge) publishResponse(resp ResponseMessage) {
	b.publishJSON(ResponseTopic(resp.RequestID), resp, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.errorCount.Add(1)
		b.logError("failed to publish message", fmt.Errorf("topic=%s: %w", topic, err))
	}
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
