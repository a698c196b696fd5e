// Package listener maintains a long-lived subscription to a database
// notification channel and rebuilds it whenever it fails.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shineum/contact-relay/internal/metrics"
)

// closeTimeout bounds how long a discarded connection may take to close.
const closeTimeout = 5 * time.Second

// ErrAlreadyRunning is returned when Run is called on a Manager that is
// already running.
var ErrAlreadyRunning = errors.New("listener: manager already running")

// Config holds the configuration for a Manager.
type Config struct {
	// Channel is the notification channel to LISTEN on.
	Channel string

	// Dial opens a fresh connection.
	Dial Dialer

	// Policy decides reconnect delays. Defaults to DefaultPolicy().
	Policy Policy

	// Clock schedules reconnects. Defaults to SystemClock().
	Clock Clock

	// ProbeInterval is how often the connection is probed while listening.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single liveness probe.
	ProbeTimeout time.Duration

	// ConnectTimeout bounds dialing plus subscribing.
	ConnectTimeout time.Duration

	// OnConnect, if set, runs after every successful subscription.
	OnConnect ConnectHook
}

// Manager owns the database connection and drives the connection state
// machine. All connection I/O happens on the goroutine running Run; other
// goroutines only request transitions.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	state    State
	conn     Conn
	handler  Handler
	timer    Timer
	attempts int
	closed   bool

	running   bool
	cancelRun context.CancelFunc
	done      chan struct{}
	runErr    error

	// wake carries accepted connect requests to the run goroutine.
	wake chan struct{}
}

// New creates a Manager in the DISCONNECTED state.
func New(cfg Config) *Manager {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}

	m := &Manager{
		cfg:   cfg,
		state: StateDisconnected,
		wake:  make(chan struct{}, 1),
	}
	metrics.SetConnectionState(StateDisconnected.String(), stateNames())
	return m
}

// OnEvent registers the handler invoked for every notification.
func (m *Manager) OnEvent(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsListening reports whether the subscription is currently active.
func (m *Manager) IsListening() bool {
	return m.State() == StateListening
}

// Connect requests a connection attempt. It only takes effect from the
// DISCONNECTED or ERROR state; while an attempt is in flight or the
// subscription is active it is a no-op and returns false.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.state != StateDisconnected && m.state != StateError {
		slog.Debug("connect request ignored", "state", m.state)
		return false
	}

	m.setStateLocked(StateConnecting)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drives the state machine until ctx is cancelled or Disconnect is
// called. It then releases the connection and returns the error from closing
// it, if any.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.closed = false
	m.cancelRun = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	err := m.loop(ctx)

	m.mu.Lock()
	m.running = false
	m.runErr = err
	m.mu.Unlock()
	close(done)

	return err
}

// Disconnect stops a running Manager and waits for it to release the
// connection. If the Manager is not running, it releases any connection
// directly.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		cancel, done := m.cancelRun, m.done
		m.mu.Unlock()

		cancel()
		select {
		case <-done:
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.runErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Unlock()

	return m.release(ctx)
}

func (m *Manager) loop(ctx context.Context) error {
	m.Connect()

	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case <-m.wake:
		}

		conn, err := m.establish(ctx)
		if err == nil {
			err = m.listen(ctx, conn)
		}
		if ctx.Err() != nil {
			return m.shutdown()
		}

		var ce *ConnectError
		if !errors.As(err, &ce) {
			ce = &ConnectError{Kind: FailureConnectionLost, Err: err}
		}
		m.fail(ce)
	}
}

// establish dials a fresh connection and subscribes to the channel.
func (m *Manager) establish(ctx context.Context) (Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.cfg.Dial(connectCtx)
	if err != nil {
		return nil, &ConnectError{Kind: FailureConnect, Err: err}
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := conn.Listen(connectCtx, m.cfg.Channel); err != nil {
		return nil, &ConnectError{Kind: FailureSubscribe, Err: fmt.Errorf("listen %q: %w", m.cfg.Channel, err)}
	}

	m.mu.Lock()
	m.attempts = 0
	m.setStateLocked(StateListening)
	m.mu.Unlock()

	slog.Info("listening for notifications", "channel", m.cfg.Channel)

	if m.cfg.OnConnect != nil {
		m.cfg.OnConnect(ctx, conn)
	}
	return conn, nil
}

// listen waits for notifications and probes the connection once per probe
// interval. It returns when the connection fails or ctx is cancelled.
func (m *Manager) listen(ctx context.Context, conn Conn) error {
	for {
		due := make(chan struct{})
		t := m.cfg.Clock.AfterFunc(m.cfg.ProbeInterval, func() { close(due) })
		err := m.waitUntil(ctx, conn, due)
		t.Stop()
		if err != nil {
			return err
		}

		if err := m.probe(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ConnectError{Kind: FailureProbe, Err: err}
		}
	}
}

// waitUntil dispatches notifications until due is closed. An error from the
// connection before then means the connection is lost.
func (m *Manager) waitUntil(ctx context.Context, conn Conn, due <-chan struct{}) error {
	for {
		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-due:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		n, err := conn.WaitForNotification(waitCtx)
		cancel()

		var expired bool
		select {
		case <-due:
			expired = true
		default:
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil && n != nil:
			m.dispatch(ctx, *n)
		case err != nil && !expired:
			return &ConnectError{Kind: FailureConnectionLost, Err: err}
		}
		if expired {
			return nil
		}
	}
}

func (m *Manager) probe(ctx context.Context, conn Conn) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	if err := conn.Ping(probeCtx); err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	slog.Debug("liveness probe ok", "channel", m.cfg.Channel)
	return nil
}

func (m *Manager) dispatch(ctx context.Context, n Notification) {
	metrics.NotificationsReceived.Inc()

	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		slog.Warn("notification dropped, no handler registered", "channel", n.Channel)
		return
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = m.cfg.Clock.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification handler panicked", "channel", n.Channel, "panic", r)
		}
	}()
	h(ctx, n)
}

// fail discards the current connection, enters ERROR, and schedules the
// next attempt according to the policy.
func (m *Manager) fail(ce *ConnectError) {
	m.mu.Lock()
	old := m.conn
	m.conn = nil
	m.setStateLocked(StateError)
	delay := m.cfg.Policy.Delay(ce.Kind, m.attempts)
	m.attempts++
	m.mu.Unlock()

	slog.Error("database listener failure",
		"kind", ce.Kind.String(),
		"error", ce.Err,
		"retry_in", delay,
	)
	metrics.Reconnects.WithLabelValues(ce.Kind.String()).Inc()

	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := old.Close(ctx); err != nil {
			slog.Debug("error closing discarded connection", "error", err)
		}
		cancel()
	}

	t := m.cfg.Clock.AfterFunc(delay, func() { m.Connect() })

	m.mu.Lock()
	if m.closed {
		t.Stop()
	} else {
		m.timer = t
	}
	m.mu.Unlock()
}

// shutdown stops pending reconnects and releases the connection.
func (m *Manager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return m.release(ctx)
}

func (m *Manager) release(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var err error
	if conn != nil {
		if cerr := conn.Close(ctx); cerr != nil {
			err = fmt.Errorf("close connection: %w", cerr)
		}
	}

	m.mu.Lock()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if err == nil {
		slog.Info("database connection closed")
	}
	return err
}

// setStateLocked records a transition. The caller must hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	slog.Debug("connection state change", "from", m.state.String(), "to", s.String())
	m.state = s
	metrics.SetConnectionState(s.String(), stateNames())
}
