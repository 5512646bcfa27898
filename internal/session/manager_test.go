package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/transcript"
)

// fakeConn is a scriptable connection. Inbound frames are queued on a
// channel; failing the connection makes Read and Write return errors, the
// way a dropped socket does.
type fakeConn struct {
	mu      sync.Mutex
	writes  [][]byte
	inbound chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fail simulates an unexpected drop; identical to Close but named for
// intent at call sites.
func (c *fakeConn) fail() { _ = c.Close() }

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer pops outcomes from a script; an exhausted script succeeds.
type fakeDialer struct {
	mu     sync.Mutex
	script []error
	conns  []*fakeConn
	calls  int
}

func (d *fakeDialer) Dial(context.Context, string, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestManager(t *testing.T, dialer *fakeDialer, cfg Config) (*Manager, *fakePlayer) {
	t.Helper()
	player := &fakePlayer{}
	router := NewRouter(player, transcript.NewRing(16), RouterConfig{}, nil, nil)

	cfg.URL = "wss://voice.test/ws"
	cfg.APIKey = "sk-test"
	cfg.KnowledgeBaseID = "KB12345"
	cfg.Region = "us-east-1"
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = time.Millisecond
	}
	return NewManager(cfg, dialer, router, nil, nil), player
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngage_SendsConfigBeforeAudio(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if got := m.State(); got != StateActive {
		t.Fatalf("State = %v, want active", got)
	}

	m.SendAudio([]byte{0x00, 0x40})

	writes := dialer.lastConn().written()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want config then audio", len(writes))
	}
	var handshake map[string]string
	if err := json.Unmarshal(writes[0], &handshake); err != nil {
		t.Fatalf("first write is not JSON: %v", err)
	}
	if handshake["type"] != "config" || handshake["knowledgeBaseId"] != "KB12345" {
		t.Errorf("unexpected handshake: %v", handshake)
	}
	if writes[1][0] == '{' {
		t.Error("audio frame is JSON wrapped")
	}
}

func TestEngage_Twice(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if err := m.Engage(ctx); !errors.Is(err, ErrAlreadyEngaged) {
		t.Fatalf("second Engage = %v, want ErrAlreadyEngaged", err)
	}
}

func TestSendAudio_SkippedWhenNotActive(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{})

	// No engage: nothing to write to, and no panic either.
	m.SendAudio([]byte{0x00, 0x40})
	if dialer.dialCalls() != 0 {
		t.Fatal("SendAudio dialed")
	}
}

func TestReconnect_BoundedAttemptsThenTerminalFailure(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{MaxReconnectAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	// Every further dial fails.
	dialer.mu.Lock()
	dialer.script = []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}
	dialer.mu.Unlock()

	dialer.lastConn().fail()

	waitFor(t, func() bool { return m.Failure() != nil }, "no terminal failure recorded")
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	// Initial engage dial plus exactly the configured attempts.
	if got := dialer.dialCalls(); got != 4 {
		t.Errorf("dial calls = %d, want 4", got)
	}
}

func TestReconnect_RecoversAndResetsCounter(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{MaxReconnectAttempts: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	// First drop: one failed attempt, then success on the last allowed one.
	dialer.mu.Lock()
	dialer.script = []error{errors.New("refused")}
	dialer.mu.Unlock()
	first := dialer.lastConn()
	first.fail()

	waitFor(t, func() bool {
		return m.State() == StateActive && dialer.lastConn() != first
	}, "did not recover from first drop")

	// Second drop with the same script: if the counter had not reset after
	// the successful handshake, these attempts would exhaust the budget.
	dialer.mu.Lock()
	dialer.script = []error{errors.New("refused")}
	dialer.mu.Unlock()
	second := dialer.lastConn()
	second.fail()

	waitFor(t, func() bool {
		return m.State() == StateActive && dialer.lastConn() != second
	}, "did not recover from second drop")
	if m.Failure() != nil {
		t.Fatalf("unexpected terminal failure: %v", m.Failure())
	}

	// Each new connection re-sends the config handshake.
	writes := dialer.lastConn().written()
	if len(writes) == 0 || writes[0][0] != '{' {
		t.Fatal("fresh connection missing config handshake")
	}
}

func TestDisengage_IdempotentAndClearsPlayback(t *testing.T) {
	dialer := &fakeDialer{}
	m, player := newTestManager(t, dialer, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	conn := dialer.lastConn()

	m.Disengage()
	m.Disengage()

	if got := m.State(); got != StateTerminated {
		t.Errorf("State = %v, want terminated", got)
	}
	select {
	case <-conn.closed:
	default:
		t.Error("connection not closed on disengage")
	}
	_, clears, _ := player.snapshot()
	if clears < 1 {
		t.Error("playback not cleared on disengage")
	}

	// Terminated is absorbing until a fresh engage.
	m.SendAudio([]byte{0x00, 0x40})
	if len(conn.written()) != 1 {
		t.Error("audio sent after disengage")
	}
}

func TestEngage_AfterDisengage(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	firstID := m.ID()
	if firstID == "" {
		t.Fatal("engaged session has no id")
	}
	m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("re-Engage: %v", err)
	}
	defer m.Disengage()
	if m.ID() == firstID {
		t.Error("re-engage reused the session id")
	}
	if got := m.State(); got != StateActive {
		t.Errorf("State = %v, want active", got)
	}
	if dialer.dialCalls() != 2 {
		t.Errorf("dial calls = %d, want 2", dialer.dialCalls())
	}
}

func TestHeartbeat_SentWhileActive(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{HeartbeatInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Disengage()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	conn := dialer.lastConn()
	waitFor(t, func() bool {
		for _, w := range conn.written() {
			var msg map[string]string
			if json.Unmarshal(w, &msg) == nil && msg["type"] == "ping" {
				return true
			}
		}
		return false
	}, "no heartbeat ping observed")
}

func TestStateTransitions_ReportedInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, Config{
		OnState: func(s State) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Engage(ctx); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	m.Disengage()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConfiguring, StateActive, StateTerminated}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}
