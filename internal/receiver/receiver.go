package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/config"
)

// Status is the lifecycle state of the receiver process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second

	healthCheckTimeout = 5 * time.Second
	killWait           = 5 * time.Second

	// maxHealthFailures consecutive failed checks kill the process.
	maxHealthFailures = 3
)

// Config describes how to run slsReceiver.
type Config struct {
	Binary    string
	Host      string
	TCPPort   int
	ExtraArgs []string

	RestartOnFailure bool

	// RestartDelay is the first restart delay; it doubles per attempt up
	// to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL.
	GracefulTimeout time.Duration

	HealthCheckInterval time.Duration

	// HealthCheck overrides the default TCP probe of Host:TCPPort.
	HealthCheck func(ctx context.Context) error
}

// FromConfig converts the receiver section of the application config.
func FromConfig(c config.ReceiverConfig) Config {
	return Config{
		Binary:              c.Binary,
		Host:                c.Host,
		TCPPort:             c.TCPPort,
		ExtraArgs:           c.ExtraArgs,
		RestartOnFailure:    c.RestartOnFailure,
		RestartDelay:        c.RestartDelay,
		MaxRestartAttempts:  c.MaxRestartAttempts,
		GracefulTimeout:     c.GracefulTimeout,
		HealthCheckInterval: c.HealthCheckInterval,
	}
}

// Args returns the command line of the receiver.
func (c Config) Args() []string {
	args := []string{"--rx_tcpport", strconv.Itoa(c.TCPPort)}
	return append(args, c.ExtraArgs...)
}

// Address is the receiver's TCP control endpoint.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor runs slsReceiver as a child process, restarts it when it
// exits or stops answering on its TCP port, and stops it with SIGTERM
// followed by SIGKILL.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time
	stopping  bool
	stop      chan struct{}
	done      chan struct{}
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("%w: binary is required", ErrInvalidConfig)
	}
	if cfg.TCPPort < 1 || cfg.TCPPort > 65535 {
		return nil, fmt.Errorf("%w: tcp port %d out of range", ErrInvalidConfig, cfg.TCPPort)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.HealthCheck == nil {
		addr := cfg.Address()
		cfg.HealthCheck = func(ctx context.Context) error { return CheckTCP(ctx, addr) }
	}

	return &Supervisor{cfg: cfg, logger: noopLogger{}, status: StatusStopped}, nil
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// CheckTCP dials addr and closes the connection.
func CheckTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing receiver %s: %w", addr, err)
	}
	return conn.Close()
}

// Start launches the receiver and supervises it until Stop or until ctx
// is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopping = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx)
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	args := s.cfg.Args()
	s.logger.Info("starting slsReceiver", "binary", s.cfg.Binary, "args", args)

	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...) //nolint:gosec // binary comes from operator config
	// Own process group so shutdown reaches the receiver's children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting slsReceiver: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	stopping := s.stopping
	s.mu.Unlock()

	if stopping {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM) //nolint:errcheck // Stop raced with a restart
	}

	go s.logOutput("stdout", stdout)
	go s.logOutput("stderr", stderr)

	s.logger.Info("slsReceiver started", "pid", cmd.Process.Pid, "address", s.cfg.Address())
	return nil
}

// logOutput forwards the receiver's output line by line.
func (s *Supervisor) logOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("slsReceiver output", "stream", stream, "line", sc.Text())
	}
}

// supervise waits for each run to end and restarts the receiver with
// exponential backoff until Stop, ctx cancellation or the attempt limit.
func (s *Supervisor) supervise(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		done := s.done
		s.mu.RUnlock()
		close(done)
	}()

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		if s.stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			s.logger.Info("slsReceiver stopped")
			return
		}
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()

		s.logger.Warn("slsReceiver exited unexpectedly", "error", err)

		if !s.cfg.RestartOnFailure || !s.relaunch(ctx) {
			return
		}
	}
}

// relaunch restarts the receiver after the backoff delay, retrying failed
// launches. It reports false when supervision should end.
func (s *Supervisor) relaunch(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if s.cfg.MaxRestartAttempts > 0 && s.restarts >= s.cfg.MaxRestartAttempts {
			s.mu.Unlock()
			s.logger.Error("slsReceiver restart limit reached", "attempts", s.cfg.MaxRestartAttempts)
			return false
		}
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		delay := s.backoff(attempt)
		s.logger.Info("restarting slsReceiver", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return false
		case <-s.stop:
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			return false
		}
		s.mu.Unlock()

		err := s.launch(ctx)
		if err == nil {
			return true
		}
		s.logger.Error("failed to restart slsReceiver", "error", err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

// backoff returns RestartDelay * 2^(attempt-1), capped at MaxRestartDelay.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxRestartDelay {
			return s.cfg.MaxRestartDelay
		}
	}
	return min(delay, s.cfg.MaxRestartDelay)
}

// wait returns when the process exits. After maxHealthFailures
// consecutive failed health checks the process is killed.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.cfg.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.logger.Info("slsReceiver health recovered", "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("slsReceiver health check failed", "error", err, "consecutive_failures", failures)
			if failures < maxHealthFailures {
				continue
			}

			s.logger.Error("slsReceiver unresponsive, killing", "failures", failures)
			_ = cmd.Process.Kill() //nolint:errcheck // exit is observed below
			select {
			case exitErr := <-exited:
				return fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, failures, errors.Join(err, exitErr))
			case <-time.After(killWait):
				return fmt.Errorf("%w: process did not exit after kill", ErrUnhealthy)
			}
		}
	}
}

// Stop sends SIGTERM to the receiver's process group, waits up to
// GracefulTimeout and then sends SIGKILL. Stopping a receiver that is not
// running is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.stopping && s.stop != nil {
		close(s.stop)
	}
	s.stopping = true
	cmd := s.cmd
	done := s.done
	running := s.status == StatusRunning || s.status == StatusStarting
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping slsReceiver", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("slsReceiver ignored SIGTERM, sending SIGKILL", "timeout", s.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing slsReceiver: %w", err)
	}
	<-done
	return nil
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats is a snapshot of the supervised receiver.
type Stats struct {
	Binary        string `json:"binary"`
	Address       string `json:"address"`
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RestartCount  int    `json:"restart_count"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns a snapshot for the API.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Binary:       s.cfg.Binary,
		Address:      s.cfg.Address(),
		Status:       s.status,
		RestartCount: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil && s.status == StatusRunning {
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
