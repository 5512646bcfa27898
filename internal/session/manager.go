package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/wire"
)

// Default session parameters.
const (
	defaultHeartbeatInterval    = 30 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultReconnectBackoff     = 3 * time.Second
)

// ErrAlreadyEngaged is returned by Engage while a session cycle is running.
var ErrAlreadyEngaged = errors.New("session: already engaged")

// Conn is one open socket to the service. Implementations must allow
// concurrent Write calls with one Read loop.
type Conn interface {
	// Read returns the next text frame. It blocks until a frame arrives,
	// the connection drops, or ctx is cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Close tears the socket down. Idempotent.
	Close() error
}

// Dialer opens connections. Abstracted so tests can script connection
// behaviour without a network.
type Dialer interface {
	Dial(ctx context.Context, url, apiKey string) (Conn, error)
}

// Config carries session parameters. Zero values select the defaults above.
type Config struct {
	// URL is the websocket endpoint.
	URL string

	// APIKey is offered to the server during the websocket handshake.
	APIKey string

	// KnowledgeBaseID and Region are sent in the config handshake.
	KnowledgeBaseID string
	Region          string

	// HeartbeatInterval is the ping cadence while active.
	HeartbeatInterval time.Duration

	// MaxReconnectAttempts bounds reconnection after an unexpected close.
	MaxReconnectAttempts int

	// ReconnectBackoff is the fixed delay before each attempt.
	ReconnectBackoff time.Duration

	// OnState is invoked on every state transition. May be nil.
	OnState func(State)
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	return c
}

// Manager owns the socket and its timers. One Engage/Disengage cycle at a
// time; a terminated or failed manager can be engaged again.
//
// The manager is the explicit home of all reconnection state: the attempt
// counter lives here, resets only on a successful config handshake, and is
// abandoned without side effects on disengage.
type Manager struct {
	cfg     Config
	dialer  Dialer
	router  *Router
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	state    State
	conn     Conn
	done     chan struct{}
	stopOnce sync.Once
	failure  error
	id       string

	wg sync.WaitGroup
}

// NewManager creates a Manager. A nil logger selects slog.Default; nil
// metrics selects the package default instruments.
func NewManager(cfg Config, dialer Dialer, router *Router, logger *slog.Logger, metrics *observe.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		router:  router,
		logger:  logger,
		metrics: metrics,
		state:   StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ID returns the identifier of the current engagement cycle. Empty before
// the first Engage; stable across reconnects within one cycle.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Failure returns the user-visible terminal error, if any. Set when
// reconnection attempts are exhausted; cleared by the next Engage.
func (m *Manager) Failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Engage starts a session cycle: dial, config handshake, then background
// read and heartbeat loops. It returns once the session is active or the
// initial connect failed. ctx governs the whole cycle; cancelling it has
// the same effect as Disengage.
func (m *Manager) Engage(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateTerminated {
		m.mu.Unlock()
		return ErrAlreadyEngaged
	}
	m.done = make(chan struct{})
	m.stopOnce = sync.Once{}
	m.failure = nil
	m.id = uuid.NewString()
	done := m.done
	m.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.engage")
	defer span.End()

	conn, err := m.connect(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.wg.Add(2)
	go m.readLoop(ctx, conn, done)
	go m.heartbeatLoop(ctx, done)
	return nil
}

// Disengage tears the session down: timers cancelled, socket closed,
// playback cleared. Idempotent and safe from any state, including
// re-entrantly during error handling.
func (m *Manager) Disengage() {
	m.mu.Lock()
	engaged := m.state != StateDisconnected && m.state != StateTerminated
	m.stopOnce.Do(func() {
		if m.done != nil {
			close(m.done)
		}
	})
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateTerminated)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if m.router != nil {
		m.router.Shutdown()
	}
	if engaged {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// SendAudio transmits one captured PCM16 frame. Silently skipped unless the
// session is active; capture keeps running across reconnects without
// special-casing.
func (m *Manager) SendAudio(pcm []byte) {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()
	if state != StateActive || conn == nil {
		return
	}

	ctx := context.Background()
	if err := conn.Write(ctx, wire.EncodeAudio(pcm)); err != nil {
		// The read loop sees the same failure and drives reconnection.
		m.logger.Debug("audio frame dropped", "error", err)
		return
	}
	m.metrics.AudioSentSeconds.Add(ctx, audio.DefaultFormat().BlockDuration(len(pcm)/2).Seconds())
}

// connect dials and performs the config handshake. On success the session
// is active and exactly one config message has been written, before any
// audio.
func (m *Manager) connect(ctx context.Context) (Conn, error) {
	m.setState(StateConnecting)
	start := time.Now()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL, m.cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", m.cfg.URL, err)
	}

	m.setState(StateConfiguring)
	handshake, err := wire.EncodeConfig(m.cfg.KnowledgeBaseID, m.cfg.Region)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := conn.Write(ctx, handshake); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session: config handshake: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.setStateLocked(StateActive)
	m.mu.Unlock()

	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	m.logger.Info("session active",
		"session_id", m.ID(),
		"url", m.cfg.URL,
		"knowledge_base_id", m.cfg.KnowledgeBaseID,
		"region", m.cfg.Region)
	return conn, nil
}

// readLoop pumps inbound frames into the router. On an unexpected close it
// hands control to the reconnect loop and, if that succeeds, resumes on the
// new connection.
func (m *Manager) readLoop(ctx context.Context, conn Conn, done <-chan struct{}) {
	defer m.wg.Done()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if m.closing(ctx, done) {
				return
			}
			m.logger.Warn("connection lost", "error", err)
			next := m.reconnect(ctx, done)
			if next == nil {
				return
			}
			conn = next
			continue
		}

		msg := wire.Decode(data)
		m.metrics.RecordMessage(ctx, msg.Kind.String())
		m.router.Dispatch(ctx, msg)
	}
}

// reconnect runs the bounded fixed-backoff reconnection policy. It returns
// the new connection, or nil once attempts are exhausted or the session is
// shutting down. Exhaustion is the user-visible terminal failure.
func (m *Manager) reconnect(ctx context.Context, done <-chan struct{}) Conn {
	ctx, span := observe.StartSpan(ctx, "session.reconnect")
	defer span.End()

	m.setState(StateReconnecting)

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-time.After(m.cfg.ReconnectBackoff):
		}

		m.logger.Info("reconnecting",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"backoff", m.cfg.ReconnectBackoff)

		conn, err := m.connect(ctx)
		if err == nil {
			// The fresh config handshake succeeded, so the attempt counter
			// starts over for the next drop.
			m.metrics.RecordReconnect(ctx, "success")
			return conn
		}
		m.metrics.RecordReconnect(ctx, "failure")
		m.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
		m.setState(StateReconnecting)
	}

	err := fmt.Errorf("session: %d reconnection attempts exhausted", m.cfg.MaxReconnectAttempts)
	m.logger.Error("session failed", "error", err)
	m.mu.Lock()
	m.failure = err
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	return nil
}

// heartbeatLoop sends pings on a fixed interval strictly while active.
func (m *Manager) heartbeatLoop(ctx context.Context, done <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			m.mu.Lock()
			state, conn := m.state, m.conn
			m.mu.Unlock()
			if state != StateActive || conn == nil {
				continue
			}
			if err := conn.Write(ctx, wire.EncodePing()); err != nil {
				m.logger.Debug("heartbeat failed", "error", err)
				continue
			}
			m.metrics.Heartbeats.Add(ctx, 1)
		}
	}
}

// closing reports whether the session is shutting down, distinguishing a
// deliberate teardown from an unexpected close.
func (m *Manager) closing(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	m.logger.Debug("session state", "from", old.String(), "to", s.String())
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}
