package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hackmate/realtime/internal/backoff"
	"github.com/hackmate/realtime/pkg/types"
)

type fakeConn struct {
	in     chan []byte
	errs   chan error
	writes chan []byte

	mu     sync.Mutex
	broken bool
	closed []websocket.StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		errs:   make(chan error, 1),
		writes: make(chan []byte, 64),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-f.in:
		return data, nil
	case err := <-f.errs:
		return nil, err
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("broken pipe")
	}
	f.writes <- data
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	f.closed = append(f.closed, code)
	f.mu.Unlock()
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	conns     []*fakeConn
	fail      int // dials to fail before succeeding
	breakNext int // successful dials handed out with a broken write side
	auth      bool
}

func (g *fakeGateway) dialer() Dialer {
	return func(ctx context.Context, wsURL string) (Conn, *http.Response, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.auth {
			return nil, &http.Response{StatusCode: http.StatusUnauthorized}, errors.New("401")
		}
		if g.fail > 0 {
			g.fail--
			return nil, nil, errors.New("connection refused")
		}
		c := newFakeConn()
		if g.breakNext > 0 {
			g.breakNext--
			c.broken = true
		}
		g.conns = append(g.conns, c)
		return c, nil, nil
	}
}

func (g *fakeGateway) dials() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *fakeGateway) conn(i int) *fakeConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[i]
}

type recorder struct {
	mu     sync.Mutex
	states []Status
	fatals []string
	frames [][]byte
}

func (r *recorder) ConnChanged(s Status, fatal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	if fatal != "" {
		r.fatals = append(r.fatals, fatal)
	}
}

func (r *recorder) Dispatch(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
}

func (r *recorder) lastFatal() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fatals) == 0 {
		return ""
	}
	return r.fatals[len(r.fatals)-1]
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func testPolicy() backoff.Policy {
	return backoff.Policy{Base: 2 * time.Millisecond, Growth: 1.5, Max: 20 * time.Millisecond, MaxAttempts: 10}
}

func newTestManager(t *testing.T, g *fakeGateway, rec *recorder, hb time.Duration) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if hb == 0 {
		hb = time.Hour // keep heartbeats out of the way unless a test wants them
	}
	m := NewManager(ctx, Config{
		URL:       "ws://gateway.test/ws",
		Heartbeat: hb,
		Backoff:   testPolicy(),
		Dialer:    g.dialer(),
	}, nil, rec, rec, nil)
	t.Cleanup(m.Destroy)
	return m
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func recvWrite(t *testing.T, c *fakeConn) map[string]any {
	t.Helper()
	select {
	case data := <-c.writes:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad outbound json: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound write")
		return nil // unreachable
	}
}

func TestCommandsQueuedWhileDisconnectedFlushInOrder(t *testing.T) {
	g := &fakeGateway{}
	rec := &recorder{}
	m := newTestManager(t, g, rec, 0)

	m.Send(types.NewSendTeamMessage("t1", "first", ""))
	m.Send(types.NewSendTeamMessage("t1", "second", ""))
	m.Send(types.NewSetTyping("t1", true))

	waitFor(t, func() bool { return m.State().QueueLen == 3 }, "commands to queue")

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	c := g.conn(0)
	if got := recvWrite(t, c); got["text"] != "first" {
		t.Fatalf("flush out of order: %v", got)
	}
	if got := recvWrite(t, c); got["text"] != "second" {
		t.Fatalf("flush out of order: %v", got)
	}
	if got := recvWrite(t, c); got["type"] != types.CmdSetTyping {
		t.Fatalf("flush out of order: %v", got)
	}
	if m.State().QueueLen != 0 {
		t.Fatalf("queue should be empty after flush")
	}
}

func TestSendTransmitsImmediatelyWhenConnected(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	m.Send(types.NewPresencePing())
	if got := recvWrite(t, g.conn(0)); got["type"] != types.CmdPresencePing {
		t.Fatalf("want immediate transmit, got %v", got)
	}
}

func TestConnectIsNoOpWhileConnected(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")
	m.Connect("tok")
	m.Connect("tok")

	// Give any wrongly triggered dial time to land.
	time.Sleep(20 * time.Millisecond)
	if g.dials() != 1 {
		t.Fatalf("connect while connected must be a no-op; dials=%d", g.dials())
	}
}

func TestHeartbeatPing(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 10*time.Millisecond)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	if got := recvWrite(t, g.conn(0)); got["type"] != types.CmdPresencePing {
		t.Fatalf("want heartbeat ping, got %v", got)
	}
}

func TestFailedHeartbeatIsNotReplayedOnReconnect(t *testing.T) {
	// The first connection's write side is dead, so the first heartbeat ping
	// fails and drops the connection. A keep-alive is ephemeral: it must not
	// be queued for the retry, and the fresh connection flushes nothing.
	g := &fakeGateway{breakNext: 1}
	m := newTestManager(t, g, &recorder{}, 50*time.Millisecond)

	m.Connect("tok")
	waitFor(t, func() bool { return g.dials() == 2 }, "redial after failed heartbeat")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "reconnect")

	if got := m.State().QueueLen; got != 0 {
		t.Fatalf("stale ping left in queue; len=%d", got)
	}
	select {
	case data := <-g.conn(1).writes:
		t.Fatalf("stale ping replayed on reconnect: %s", data)
	case <-time.After(15 * time.Millisecond):
	}
}

func TestInboundFramesDispatchedInArrivalOrder(t *testing.T) {
	g := &fakeGateway{}
	rec := &recorder{}
	m := newTestManager(t, g, rec, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	c := g.conn(0)
	c.in <- []byte(`{"type":"team.typing","n":1}`)
	c.in <- []byte(`{"type":"team.typing","n":2}`)
	c.in <- []byte(`{"type":"team.typing","n":3}`)

	waitFor(t, func() bool { return rec.frameCount() == 3 }, "frames to dispatch")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, f := range rec.frames {
		var v struct{ N int }
		_ = json.Unmarshal(f, &v)
		if v.N != i+1 {
			t.Fatalf("frame %d out of order: %s", i, f)
		}
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	g.conn(0).errs <- errors.New("read: connection reset")

	waitFor(t, func() bool { return g.dials() == 2 }, "redial")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "reconnect")
}

func TestMidFlushDropRequeuesRemainder(t *testing.T) {
	// The first connection's write side is already dead, so the flush fails
	// on its first command and must requeue everything for the retry.
	g := &fakeGateway{breakNext: 1}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Send(types.NewSendTeamMessage("t1", "a", ""))
	m.Send(types.NewSendTeamMessage("t1", "b", ""))
	waitFor(t, func() bool { return m.State().QueueLen == 2 }, "commands to queue")

	m.Connect("tok")
	waitFor(t, func() bool { return g.dials() == 2 }, "redial after broken flush")
	c := g.conn(1)
	if got := recvWrite(t, c); got["text"] != "a" {
		t.Fatalf("requeued commands lost order: %v", got)
	}
	if got := recvWrite(t, c); got["text"] != "b" {
		t.Fatalf("requeued commands lost order: %v", got)
	}
}

func TestAuthRejectionAbortsRetries(t *testing.T) {
	g := &fakeGateway{auth: true}
	rec := &recorder{}
	m := newTestManager(t, g, rec, 0)

	m.Connect("bad-token")
	waitFor(t, func() bool { return rec.lastFatal() == ErrAuthRejected.Error() }, "fatal auth error")

	time.Sleep(20 * time.Millisecond)
	if g.dials() != 0 {
		t.Fatalf("auth rejection must not retry")
	}
	if m.State().Status != StatusDisconnected {
		t.Fatalf("want disconnected after auth rejection")
	}
}

func TestExhaustedRetriesSurfaceFatalAndKeepQueue(t *testing.T) {
	g := &fakeGateway{fail: 1 << 30}
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(ctx, Config{
		URL:     "ws://gateway.test/ws",
		Backoff: backoff.Policy{Base: time.Millisecond, Growth: 1.5, Max: 2 * time.Millisecond, MaxAttempts: 3},
		Dialer:  g.dialer(),
	}, nil, rec, rec, nil)
	t.Cleanup(m.Destroy)

	m.Send(types.NewSendTeamMessage("t1", "held", ""))
	m.Connect("tok")

	waitFor(t, func() bool { return rec.lastFatal() == ErrRetriesExhausted.Error() }, "exhaustion")
	if got := m.State().QueueLen; got != 1 {
		t.Fatalf("queue must be retained after exhaustion; len=%d", got)
	}

	// A manual reconnect still flushes the held command.
	g.mu.Lock()
	g.fail = 0
	g.mu.Unlock()
	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "manual reconnect")
	if got := recvWrite(t, g.conn(0)); got["text"] != "held" {
		t.Fatalf("held command not flushed: %v", got)
	}
}

func TestDestroyClosesNormallyAndIsIdempotent(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	m.Destroy()
	m.Destroy() // second call must not panic or block

	c := g.conn(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closed) == 0 || c.closed[0] != websocket.StatusNormalClosure {
		t.Fatalf("want normal closure on destroy, got %v", c.closed)
	}
}

func TestNoReconnectAfterDestroy(t *testing.T) {
	g := &fakeGateway{}
	m := newTestManager(t, g, &recorder{}, 0)

	m.Connect("tok")
	waitFor(t, func() bool { return m.State().Status == StatusConnected }, "connect")

	m.Destroy()
	time.Sleep(20 * time.Millisecond)
	if g.dials() != 1 {
		t.Fatalf("destroyed session must not redial; dials=%d", g.dials())
	}
}
