package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const maxOutputLine = 64 * 1024

// Config describes the process to supervise. NewManager fills zero timings.
type Config struct {
	Name   string // used in logs and Stats
	Binary string
	Args   []string

	RestartOnFailure   bool
	RestartDelay       time.Duration // doubled per attempt up to MaxRestartDelay
	MaxRestartDelay    time.Duration
	StableThreshold    time.Duration // a run this long resets the attempt count
	MaxRestartAttempts int           // 0 retries forever
	FatalExitCodes     []int         // exits with these codes are never restarted

	GracefulTimeout time.Duration // between SIGTERM and SIGKILL

	OnExit     func(err error) // err is nil when the exit was requested
	OnRestart  func(attempt int)
	OnRelaunch func(attempt int) // after a restart launched the process again
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 5 * time.Second
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = 5 * time.Minute
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = 2 * time.Minute
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 10 * time.Second
	}
}

// Logger is satisfied by *logging.Logger.
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

// Manager runs one subprocess and restarts it with exponential backoff.
type Manager struct {
	cfg Config

	logMu  sync.RWMutex
	logger Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	attempts int
	lastErr  error
	started  time.Time
	stopping bool
	stopCh   chan struct{}
	done     chan struct{} // closed when supervision ends
}

func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logMu.Lock()
	m.logger = logger
	m.logMu.Unlock()
}

func (m *Manager) log() Logger {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	return m.logger
}

// Start launches the process and supervises it until Stop or ctx ends.
// Only a failed first launch is returned; later failures are handled by the
// restart policy.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%s is already running", m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopping = false
	m.attempts = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status, m.lastErr = StatusFailed, err
		close(m.done)
		m.mu.Unlock()
		return err
	}
	go m.supervise(ctx)
	return nil
}

func (m *Manager) launch(ctx context.Context) error {
	m.log().Info("starting process", "name", m.cfg.Name, "binary", m.cfg.Binary, "args", redactArgs(m.cfg.Args))

	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from validated config
	// A process group of its own lets Stop signal any children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s stdout: %w", m.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s stderr: %w", m.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd, m.status, m.started = cmd, StatusRunning, time.Now()
	m.mu.Unlock()

	go m.logOutput("stdout", stdout)
	go m.logOutput("stderr", stderr)
	m.log().Info("process started", "name", m.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) logOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxOutputLine)
	for sc.Scan() {
		m.log().Debug("process output", "name", m.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// redactArgs masks the value following any password flag.
func redactArgs(args []string) []string {
	out := slices.Clone(args)
	for i := 0; i < len(out)-1; i++ {
		if strings.Contains(out[i], "password") {
			out[i+1] = "***"
			i++
		}
	}
	return out
}

// backoff returns the delay before restart attempt n, counting from 1.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.RestartDelay
	for range attempt - 1 {
		delay *= 2
		if delay >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	return delay
}

// fatal reports whether err is an exit the restart policy must not retry.
func (m *Manager) fatal(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && slices.Contains(m.cfg.FatalExitCodes, exitErr.ExitCode())
}

func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.Lock()
		cmd := m.cmd
		m.mu.Unlock()

		err := cmd.Wait()

		m.mu.Lock()
		if m.stopping || ctx.Err() != nil {
			m.status = StatusStopped
			m.mu.Unlock()
			m.log().Info("process stopped", "name", m.cfg.Name)
			m.exited(nil)
			return
		}
		m.status, m.lastErr = StatusFailed, err
		if time.Since(m.started) >= m.cfg.StableThreshold {
			m.attempts = 0
		}
		m.mu.Unlock()

		m.log().Warn("process exited unexpectedly", "name", m.cfg.Name, "error", err)
		m.exited(err)

		switch {
		case !m.cfg.RestartOnFailure:
			return
		case m.fatal(err):
			m.log().Error("process exit is not retryable", "name", m.cfg.Name, "error", err)
			return
		case !m.restart(ctx):
			return
		}
	}
}

func (m *Manager) exited(err error) {
	if m.cfg.OnExit != nil {
		m.cfg.OnExit(err)
	}
}

// restart waits out the backoff and relaunches until a launch succeeds, the
// attempts run out or a stop arrives. It reports whether a process runs.
func (m *Manager) restart(ctx context.Context) bool {
	for {
		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if limit := m.cfg.MaxRestartAttempts; limit > 0 && attempt > limit {
			m.log().Error("giving up on process", "name", m.cfg.Name, "attempts", limit)
			return false
		}

		delay := m.backoff(attempt)
		m.log().Info("restarting process", "name", m.cfg.Name, "attempt", attempt, "delay", delay)
		if m.cfg.OnRestart != nil {
			m.cfg.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return false
		case <-m.stopCh:
			m.setStatus(StatusStopped)
			return false
		case <-time.After(delay):
		}

		if err := m.launch(ctx); err != nil {
			m.log().Error("relaunch failed", "name", m.cfg.Name, "error", err)
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			continue
		}
		if m.cfg.OnRelaunch != nil {
			m.cfg.OnRelaunch(attempt)
		}
		return true
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout, and waits for supervision to end. It does nothing when
// the manager was never started.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopping {
		m.stopping = true
		close(m.stopCh)
	}
	cmd, done := m.cmd, m.done
	running := m.status == StatusRunning || m.status == StatusStarting
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pgid := -cmd.Process.Pid
	m.log().Info("stopping process", "name", m.cfg.Name, "pid", cmd.Process.Pid)
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.log().Warn("SIGTERM failed", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.log().Warn("process ignored SIGTERM, killing", "name", m.cfg.Name, "timeout", m.cfg.GracefulTimeout)
	}
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the error that ended the most recent run.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// RestartCount returns the restart attempts since the last stable run.
func (m *Manager) RestartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Stats describes the managed process for /metrics.
type Stats struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	RestartCount  int    `json:"restart_count"`
	LastError     string `json:"last_error,omitempty"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Name: m.cfg.Name, Status: m.status, RestartCount: m.attempts}
	if m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		s.UptimeSeconds = int64(time.Since(m.started) / time.Second)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
