package buildserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/Norgate-AV/csx/internal/logging"
)

// Manager starts, stops and inspects the daemon for one port
type Manager struct {
	port     int
	client   *Client
	registry *Registry
	exe      string
	logger   *slog.Logger

	// spawn starts a detached process and returns its pid
	spawn func(exe string, args []string) (int, error)
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithExecutable sets the binary started as the daemon
func WithExecutable(path string) ManagerOption {
	return func(m *Manager) {
		m.exe = path
	}
}

// WithClient replaces the client used to reach the daemon
func WithClient(c *Client) ManagerOption {
	return func(m *Manager) {
		m.client = c
	}
}

// WithManagerLogger sets the manager logger
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a lifecycle manager for the daemon on port
func NewManager(port int, registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		port:     port,
		registry: registry,
		spawn:    spawnDetached,
	}

	if exe, err := os.Executable(); err == nil {
		m.exe = exe
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = NewClient(port)
	}

	m.logger = logging.OrDiscard(m.logger).With("component", "buildserver")

	return m
}

// Client returns the client used to reach the daemon
func (m *Manager) Client() *Client {
	return m.client
}

// ServerArgs is the command line that runs the daemon in the foreground
func ServerArgs(port int) []string {
	return []string{"server", "run", "--port", strconv.Itoa(port)}
}

// EnsureRunning starts the daemon unless it already answers a ping. It
// reports whether a new process was spawned.
func (m *Manager) EnsureRunning(ctx context.Context) (bool, error) {
	if _, err := m.client.Ping(ctx); err == nil {
		return false, nil
	}

	if _, err := m.Start(); err != nil {
		return false, err
	}

	return true, nil
}

// Start spawns the daemon and returns its pid without waiting for it
func (m *Manager) Start() (int, error) {
	if m.exe == "" {
		return 0, errors.New("cannot locate the csx executable")
	}

	pid, err := m.spawn(m.exe, ServerArgs(m.port))
	if err != nil {
		return 0, fmt.Errorf("failed to start build server: %w", err)
	}

	m.logger.Info("build server spawned", "pid", pid, "port", m.port)

	return pid, nil
}

// Stop asks the daemon to exit. A daemon that is already gone counts as stopped.
func (m *Manager) Stop(ctx context.Context) (string, error) {
	resp, err := m.client.Stop(ctx)
	if errors.Is(err, ErrUnavailable) {
		return "", nil
	}

	return resp, err
}

// Restart stops the daemon, waits for its port to close and starts a new one
func (m *Manager) Restart(ctx context.Context) (int, error) {
	if _, err := m.Stop(ctx); err != nil {
		return 0, err
	}

	if err := m.waitFor(ctx, false, 2*time.Second); err != nil {
		m.logger.Warn("old build server still answering", "error", err)
	}

	return m.Start()
}

// WaitReady blocks until the daemon answers a ping or timeout elapses
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, true, timeout)
}

// Status pings the daemon and lists the live registry records
func (m *Manager) Status(ctx context.Context) (string, []Record, error) {
	var records []Record
	if m.registry != nil {
		var err error
		if records, err = m.registry.Live(); err != nil {
			return "", nil, err
		}
	}

	ping, err := m.client.Ping(ctx)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return "", records, err
	}

	return ping, records, nil
}

func (m *Manager) waitFor(ctx context.Context, up bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	probe := NewClient(m.port, WithRetry(1, 0), WithTimeout(time.Second))
	probe.addr = m.client.addr

	for {
		_, err := probe.Ping(ctx)
		if (err == nil) == up {
			return nil
		}

		if time.Now().After(deadline) {
			state := "down"
			if up {
				state = "up"
			}

			return fmt.Errorf("build server on %s did not come %s within %s", m.client.addr, state, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// spawnDetached starts a process that outlives the caller. Its standard
// streams are discarded.
func spawnDetached(exe string, args []string) (int, error) {
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	return pid, nil
}
