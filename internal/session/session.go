// Package session owns the socket lifecycle: connect, heartbeat,
// reconnect-with-backoff, clean shutdown. The Manager is an actor; every
// socket event and timer becomes a message on its inbox, so all mutation is
// confined to one goroutine and handlers run to completion in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/hackmate/realtime/internal/backoff"
	"github.com/hackmate/realtime/internal/queue"
	"github.com/hackmate/realtime/pkg/types"
)

var (
	// ErrAuthRejected means the server refused the token at connect time.
	// Retrying cannot succeed; the session surfaces a fatal error instead.
	ErrAuthRejected = errors.New("session token rejected")

	// ErrRetriesExhausted means the reconnect budget ran out. The outbound
	// queue is retained so an explicit Connect can still flush it.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	defaultHeartbeat = 25 * time.Second
	writeTimeout     = 3 * time.Second
)

// FrameSink consumes inbound frames in arrival order.
type FrameSink interface {
	Dispatch(data []byte)
}

// Notifier receives connection-state transitions. fatal is non-empty only
// for unrecoverable failures (auth rejection, exhausted retries).
type Notifier interface {
	ConnChanged(status Status, fatal string)
}

// Conn is the minimal socket surface the manager needs; tests substitute
// their own.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a socket. The returned response is consulted for auth
// failures on handshake rejection.
type Dialer func(ctx context.Context, wsURL string) (Conn, *http.Response, error)

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

func defaultDialer(ctx context.Context, wsURL string) (Conn, *http.Response, error) {
	c, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, resp, err
	}
	return wsConn{c: c}, resp, nil
}

type Config struct {
	// URL is the socket endpoint without the token parameter.
	URL string

	Heartbeat time.Duration
	Backoff   backoff.Policy

	// Dialer defaults to a coder/websocket dial.
	Dialer Dialer
}

type msg interface{ isSessionMsg() }

type connectReq struct{ token string }

type sendReq struct{ cmd types.Command }

type destroyReq struct{ done chan struct{} }

type getInfo struct{ reply chan Info }

type dialDone struct {
	gen  int
	conn Conn
	err  error
}

type frameRecv struct {
	gen  int
	data []byte
}

type sockClosed struct {
	gen int
	err error
}

type retryTick struct{ token string }

func (connectReq) isSessionMsg() {}
func (sendReq) isSessionMsg()    {}
func (destroyReq) isSessionMsg() {}
func (getInfo) isSessionMsg()    {}
func (dialDone) isSessionMsg()   {}
func (frameRecv) isSessionMsg()  {}
func (sockClosed) isSessionMsg() {}
func (retryTick) isSessionMsg()  {}

// Info is the test-only reflection of the manager's state.
type Info struct {
	Status   Status
	Attempts int
	QueueLen int
}

type Manager struct {
	cfg    Config
	inbox  chan msg
	frames FrameSink
	notify Notifier
	queue  *queue.Queue
	log    *zap.Logger

	// All fields below are owned by the loop goroutine.
	status    Status
	conn      Conn
	gen       int // incremented per dial; stale reader events are ignored
	attempts  int
	token     string
	retry     *time.Timer
	heartbeat *time.Ticker
	hbC       <-chan time.Time
	destroyed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(parent context.Context, cfg Config, q *queue.Queue, frames FrameSink, notify Notifier, log *zap.Logger) *Manager {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}
	if log == nil {
		log = zap.NewNop()
	}
	if q == nil {
		q = queue.New(0, log)
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:    cfg,
		inbox:  make(chan msg, 64),
		frames: frames,
		notify: notify,
		queue:  q,
		log:    log,
		status: StatusDisconnected,
		ctx:    ctx,
		cancel: cancel,
	}
	go m.loop()
	return m
}

// Connect opens the session with the given token. No-op while already
// connected or connecting.
func (m *Manager) Connect(token string) {
	m.post(connectReq{token: token})
}

// Send transmits immediately when connected, otherwise buffers the command
// for the next flush.
func (m *Manager) Send(cmd types.Command) {
	m.post(sendReq{cmd: cmd})
}

// Destroy tears the session down: timers cancelled, socket closed with a
// normal closure, reconnect state cleared. Idempotent; returns once the
// loop has processed it.
func (m *Manager) Destroy() {
	done := make(chan struct{})
	m.post(destroyReq{done: done})
	select {
	case <-done:
	case <-m.ctx.Done():
	}
}

// State reports the manager's current status; used by tests and the façade.
func (m *Manager) State() Info {
	reply := make(chan Info, 1)
	m.post(getInfo{reply: reply})
	select {
	case info := <-reply:
		return info
	case <-m.ctx.Done():
		return Info{Status: StatusDisconnected}
	}
}

func (m *Manager) post(v msg) {
	select {
	case m.inbox <- v:
	case <-m.ctx.Done():
	}
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return

		case <-m.hbC:
			m.writeOrDrop(types.NewPresencePing())

		case v := <-m.inbox:
			switch ev := v.(type) {
			case connectReq:
				m.handleConnect(ev.token)

			case dialDone:
				m.handleDialDone(ev)

			case frameRecv:
				if ev.gen == m.gen {
					m.frames.Dispatch(ev.data)
				}

			case sockClosed:
				m.handleClosed(ev)

			case retryTick:
				if !m.destroyed && m.status == StatusDisconnected {
					m.dial(ev.token)
				}

			case sendReq:
				if m.status == StatusConnected {
					m.writeOrDrop(ev.cmd)
				} else {
					m.queue.Enqueue(ev.cmd)
				}

			case getInfo:
				ev.reply <- Info{Status: m.status, Attempts: m.attempts, QueueLen: m.queue.Len()}

			case destroyReq:
				m.teardown()
				close(ev.done)
				return
			}
		}
	}
}

func (m *Manager) handleConnect(token string) {
	if m.destroyed || m.status != StatusDisconnected {
		return
	}
	m.token = token
	m.attempts = 0
	m.stopRetry()
	m.dial(token)
}

func (m *Manager) dial(token string) {
	m.status = StatusConnecting
	m.changed("")
	m.gen++
	gen := m.gen

	wsURL, err := withToken(m.cfg.URL, token)
	if err != nil {
		m.handleDialDone(dialDone{gen: gen, err: err})
		return
	}

	go func() {
		conn, resp, err := m.cfg.Dialer(m.ctx, wsURL)
		if err != nil && authRejected(resp) {
			err = fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		m.post(dialDone{gen: gen, conn: conn, err: err})
	}()
}

func (m *Manager) handleDialDone(ev dialDone) {
	if ev.gen != m.gen || m.destroyed {
		if ev.conn != nil {
			_ = ev.conn.Close(websocket.StatusNormalClosure, "stale dial")
		}
		return
	}
	if ev.err != nil {
		m.status = StatusDisconnected
		if errors.Is(ev.err, ErrAuthRejected) {
			m.log.Error("connect rejected, not retrying", zap.Error(ev.err))
			m.changed(ErrAuthRejected.Error())
			return
		}
		m.log.Warn("connect failed", zap.Error(ev.err))
		m.scheduleRetry()
		return
	}

	m.conn = ev.conn
	m.status = StatusConnected
	m.attempts = 0
	m.changed("")
	m.log.Info("session connected")

	go m.readLoop(ev.conn, ev.gen)

	// Queue flush happens before any command enqueued after this point is
	// seen: both arrive through the same inbox.
	m.flush()
	if m.status != StatusConnected {
		return
	}

	m.heartbeat = time.NewTicker(m.cfg.Heartbeat)
	m.hbC = m.heartbeat.C
}

func (m *Manager) readLoop(c Conn, gen int) {
	for {
		data, err := c.Read(m.ctx)
		if err != nil {
			m.post(sockClosed{gen: gen, err: err})
			return
		}
		m.post(frameRecv{gen: gen, data: data})
	}
}

func (m *Manager) flush() {
	pending := m.queue.Drain()
	for i, cmd := range pending {
		if err := m.write(cmd); err != nil {
			// Connection dropped mid-flush: keep the remainder, in order.
			m.queue.Requeue(pending[i:])
			m.handleClosed(sockClosed{gen: m.gen, err: err})
			return
		}
	}
	if len(pending) > 0 {
		m.log.Info("flushed outbound queue", zap.Int("count", len(pending)))
	}
}

func (m *Manager) write(cmd types.Command) error {
	ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
	defer cancel()
	return m.conn.Write(ctx, cmd.Data)
}

func (m *Manager) writeOrDrop(cmd types.Command) {
	if err := m.write(cmd); err != nil {
		// Keep-alives are ephemeral; replaying one after reconnect is noise.
		if cmd.Type != types.CmdPresencePing {
			m.queue.Enqueue(cmd)
		}
		m.handleClosed(sockClosed{gen: m.gen, err: err})
	}
}

func (m *Manager) handleClosed(ev sockClosed) {
	// Only the live connection's first close event counts; the reader and a
	// failed write can both report the same drop.
	if ev.gen != m.gen || m.destroyed || m.status != StatusConnected {
		return
	}
	m.status = StatusDisconnected
	m.stopHeartbeat()
	m.conn = nil

	switch websocket.CloseStatus(ev.err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		m.changed("")
		return
	case websocket.StatusPolicyViolation:
		// The server closes with 1008 when the token stops being valid.
		m.log.Error("session closed for auth, not retrying", zap.Error(ev.err))
		m.changed(ErrAuthRejected.Error())
		return
	}

	m.log.Warn("connection lost", zap.Error(ev.err))
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	if m.cfg.Backoff.Exhausted(m.attempts) {
		m.log.Error("giving up on reconnect", zap.Int("attempts", m.attempts))
		m.changed(ErrRetriesExhausted.Error())
		return
	}
	delay := m.cfg.Backoff.Delay(m.attempts)
	m.attempts++
	m.changed("")
	m.log.Info("scheduling reconnect",
		zap.Int("attempt", m.attempts), zap.Duration("delay", delay))

	token := m.token
	m.stopRetry()
	m.retry = time.AfterFunc(delay, func() {
		m.post(retryTick{token: token})
	})
}

func (m *Manager) changed(fatal string) {
	if m.notify != nil {
		m.notify.ConnChanged(m.status, fatal)
	}
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
		m.hbC = nil
	}
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) teardown() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.stopHeartbeat()
	m.stopRetry()
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "client shutdown")
		m.conn = nil
	}
	m.gen++ // orphan any in-flight reader or dial
	m.status = StatusDisconnected
	m.changed("")
	m.cancel()
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("bad socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func authRejected(resp *http.Response) bool {
	return resp != nil &&
		(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}
