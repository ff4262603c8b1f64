// Package vrayzmq provides the client half of the V-Ray remote-rendering
// wire: it connects to the render server over a dealer-style message
// socket, performs the versioned handshake, keeps the link alive with
// periodic pings, drains an outbound message queue and dispatches inbound
// messages to a caller callback.
//
// A Client comes in one of two roles. The exporter carries scene and
// renderer traffic; the heartbeat carries nothing and exists only to
// detect peer death. Callers are expected to run one of each against the
// same server.
package vrayzmq

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/frame"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/message"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport/zmqsock"
)

// Liveness constants of the protocol. The exporter tolerates a quiet
// peer; the heartbeat role aborts after HeartbeatTimeout of silence.
const (
	ExporterTimeout  = 5000 * time.Millisecond
	HeartbeatTimeout = 2000 * time.Millisecond
)

const (
	// maxConsecMessages bounds how many frames one loop iteration moves
	// in each direction, so neither side can starve the other.
	maxConsecMessages = 10

	pollInterval     = 10 * time.Millisecond
	idleSleep        = 1 * time.Millisecond
	drainSendTimeout = 200 * time.Millisecond
)

// Callback receives one parsed inbound message. Callbacks run on the
// worker goroutine, one at a time; they may call Send but must never
// call SyncStop.
type Callback func(msg *message.Message, c *Client)

// Option configures a Client at construction.
type Option func(*Client)

// WithTransport substitutes the message socket, e.g. a transport.Pipe
// end in tests or a wstream tunnel.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger routes the client's log lines.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHook installs an observability hook, e.g. otelvray instrumentation.
func WithHook(h Hook) Option {
	return func(c *Client) { c.hook = h }
}

// WithPingTimeout overrides the role's liveness timeout. Shrinking it
// speeds up failure detection at the cost of more heartbeat traffic.
func WithPingTimeout(d time.Duration) Option {
	return func(c *Client) { c.pingTimeout = d }
}

// Client owns one worker goroutine and one socket. See the package
// comment for the lifecycle; Good and Connected observe it.
type Client struct {
	role        frame.Role
	pingTimeout time.Duration

	transport transport.Transport
	log       *slog.Logger
	hook      Hook

	queue   [][]byte
	queueMu sync.Mutex

	callback   Callback
	callbackMu sync.Mutex

	servingMu    sync.Mutex
	servingCond  *sync.Cond
	startServing atomic.Bool

	isWorking     atomic.Bool
	connectCalled atomic.Bool
	errorConnect  atomic.Bool
	flushOnExit   atomic.Bool

	wg sync.WaitGroup
}

// New creates a client of the given role and starts its worker. The
// worker parks until Connect; New returns once the socket is ready, so
// Connect is safe immediately.
func New(isHeartbeat bool, opts ...Option) *Client {
	c := &Client{
		role: frame.RoleExporter,
		log:  slog.Default(),
		hook: nopHook{},
	}
	if isHeartbeat {
		c.role = frame.RoleHeartbeat
		c.pingTimeout = HeartbeatTimeout
	} else {
		c.pingTimeout = ExporterTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = zmqsock.New()
	}
	c.servingCond = sync.NewCond(&c.servingMu)
	c.isWorking.Store(true)

	ready := make(chan struct{})
	c.wg.Add(1)
	go c.worker(ready)
	<-ready
	return c
}

// Connect assigns a fresh socket identity, dials the server and releases
// the worker into the handshake. A dial failure is returned and also
// stops the worker.
func (c *Client) Connect(addr string) error {
	id := uuid.New()
	c.transport.SetIdentity(id[:8])

	err := c.transport.Connect(addr)
	if err != nil {
		c.log.Warn("connect failed", "addr", addr, "error", err)
		c.errorConnect.Store(true)
	}
	c.connectCalled.Store(true)

	c.servingMu.Lock()
	c.startServing.Store(true)
	c.servingCond.Broadcast()
	c.servingMu.Unlock()
	return err
}

// Send queues payload for delivery. The bytes are copied; the caller may
// reuse the slice. Messages queue in Send order and may be enqueued
// before Connect — nothing leaves before the handshake completes.
func (c *Client) Send(payload []byte) error {
	if !c.isWorking.Load() {
		return ErrStopped
	}
	data := append([]byte(nil), payload...)
	c.queueMu.Lock()
	c.queue = append(c.queue, data)
	c.queueMu.Unlock()
	return nil
}

// SendMessage serialises and queues one logical message.
func (c *Client) SendMessage(m *message.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SetCallback installs the inbound message callback. Safe to call while
// the worker is dispatching; inbound messages are discarded while no
// callback is set.
func (c *Client) SetCallback(cb Callback) {
	c.callbackMu.Lock()
	c.callback = cb
	c.callbackMu.Unlock()
}

// SetFlushOnExit controls whether queued messages are sent best-effort
// when the worker stops.
func (c *Client) SetFlushOnExit(flush bool) { c.flushOnExit.Store(flush) }

// FlushOnExit reports the current flush-on-exit flag.
func (c *Client) FlushOnExit() bool { return c.flushOnExit.Load() }

// OutstandingMessages returns how many queued messages have not reached
// the transport yet.
func (c *Client) OutstandingMessages() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// Good reports whether the worker is serving (or still waiting to).
func (c *Client) Good() bool { return c.isWorking.Load() }

// Connected reports whether Connect succeeded.
func (c *Client) Connected() bool {
	return c.connectCalled.Load() && !c.errorConnect.Load()
}

// SyncStop stops the worker and joins it. Idempotent. Must not be called
// from inside a callback — the callback runs on the worker, and joining
// it from there deadlocks.
func (c *Client) SyncStop() {
	c.servingMu.Lock()
	c.isWorking.Store(false)
	c.startServing.Store(true)
	c.servingCond.Broadcast()
	c.servingMu.Unlock()

	// Without a flush to perform, abort any blocked transport call so
	// the join is immediate. With flush requested the worker closes the
	// socket itself once the queue is drained.
	if !c.flushOnExit.Load() {
		c.transport.Close()
	}
	c.wg.Wait()
}

func (c *Client) worker(ready chan<- struct{}) {
	defer c.wg.Done()

	// Socket setup happens on the worker so New can block until the
	// transport is usable.
	c.transport.SetSendTimeout(HeartbeatTimeout / 2)
	close(ready)

	c.servingMu.Lock()
	for !c.startServing.Load() {
		c.servingCond.Wait()
	}
	c.servingMu.Unlock()

	defer func() {
		c.transport.Close()
		c.isWorking.Store(false)
		c.hook.OnStopped()
	}()

	if c.errorConnect.Load() || !c.isWorking.Load() {
		return
	}

	if !c.handshake() {
		return
	}
	c.hook.OnConnected(c.role)
	c.log.Info("connected to render server", "role", c.role.String())

	c.serve()

	if c.flushOnExit.Load() {
		c.flush()
	}
}

// handshake announces this client and waits for the matching create
// acknowledgement. Any mismatch stops the worker.
func (c *Client) handshake() bool {
	connectCode := frame.ExporterConnect
	createCode := frame.RendererCreate
	if c.role == frame.RoleHeartbeat {
		connectCode = frame.HeartbeatConnect
		createCode = frame.HeartbeatCreate
	}

	if err := c.send(frame.New(c.role, connectCode), nil); err != nil {
		c.log.Warn("failed to send handshake", "error", err)
		return false
	}

	c.transport.SetRecvTimeout(ExporterTimeout)
	ctlData, _, err := c.transport.Recv()
	if err != nil {
		c.log.Warn("server did not respond within handshake timeout, stopping client", "error", err)
		return false
	}

	ctl, err := frame.Parse(ctlData)
	if err != nil {
		c.log.Warn("malformed handshake reply", "error", err)
		return false
	}
	if ctl.Role != c.role {
		c.log.Warn("server created mismatching worker role", "got", ctl.Role.String(), "want", c.role.String())
		return false
	}
	if ctl.Code != createCode {
		c.log.Warn("unexpected handshake control code", "got", ctl.Code.String(), "want", createCode.String())
		return false
	}

	// Inbound traffic is paced by the poll loop from here on.
	c.transport.SetRecvTimeout(pollInterval)
	return true
}

// serve is the steady-state loop: poll, consume, heartbeat, drain.
func (c *Client) serve() {
	lastHBRecv := time.Now()
	// Backdated so the first writable tick pings immediately.
	lastHBSend := lastHBRecv.Add(-2 * HeartbeatTimeout)

	for c.isWorking.Load() {
		didWork := false

		readable, writable, err := c.transport.Poll(pollInterval)
		if err != nil {
			c.fatal("poll", err)
			return
		}

		if readable {
			didWork = true
			if !c.consumeInbound(&lastHBRecv) {
				return
			}
		}

		if writable {
			if time.Since(lastHBSend) > c.pingTimeout/2 {
				err := c.send(frame.New(c.role, frame.Ping), nil)
				switch {
				case err == nil:
					lastHBSend = time.Now()
					didWork = true
				case err != transport.ErrTimeout:
					c.fatal("ping", err)
					return
				}
			}

			c.queueMu.Lock()
			queued := len(c.queue)
			c.queueMu.Unlock()
			didWork = didWork || queued > 0

			if ok := c.sendOutstanding(&lastHBSend); !ok {
				return
			}
		}

		if c.role == frame.RoleHeartbeat && time.Since(lastHBRecv) > c.pingTimeout {
			c.log.Warn("render server unresponsive, stopping client")
			return
		}

		if !didWork {
			time.Sleep(idleSleep)
		}
	}
}

// consumeInbound reads up to maxConsecMessages pending transmissions.
// Malformed frames are dropped with a warning; transport failures are
// fatal and return false.
func (c *Client) consumeInbound(lastHBRecv *time.Time) bool {
	for i := 0; i < maxConsecMessages && c.isWorking.Load(); i++ {
		if i > 0 {
			readable, _, err := c.transport.Poll(0)
			if err != nil {
				c.fatal("poll", err)
				return false
			}
			if !readable {
				break
			}
		}

		ctlData, payload, err := c.transport.Recv()
		if err == transport.ErrTimeout {
			break
		}
		if err != nil {
			c.fatal("recv", err)
			return false
		}

		ctl, err := frame.Parse(ctlData)
		if err != nil {
			c.log.Warn("dropping frame", "error", err)
			c.hook.OnFrameDropped("malformed")
			continue
		}
		if ctl.Role != c.role {
			c.log.Warn("dropping frame for mismatched role", "got", ctl.Role.String(), "want", c.role.String())
			c.hook.OnFrameDropped("role mismatch")
			continue
		}

		*lastHBRecv = time.Now()
		c.hook.OnFrameReceived(ctl.Code, len(payload))

		switch ctl.Code {
		case frame.Data:
			c.dispatch(payload)
		case frame.Ping, frame.Pong:
			if len(payload) != 0 {
				c.log.Warn("missing empty frame after ping")
			}
		default:
			c.log.Warn("dropping frame with unexpected control code", "code", ctl.Code.String())
			c.hook.OnFrameDropped("unexpected control")
		}
	}
	return true
}

// dispatch parses one DATA payload and runs the callback. A payload that
// does not parse is dropped; the connection continues.
func (c *Client) dispatch(payload []byte) {
	msg, err := message.Parse(payload)
	if err != nil {
		c.log.Warn("dropping malformed message", "error", err)
		c.hook.OnFrameDropped("malformed message")
		return
	}

	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	if c.callback != nil {
		c.callback(msg, c)
	}
}

// sendOutstanding transfers up to maxConsecMessages queued payloads.
// A send timeout leaves the message queued for the next tick; any other
// failure is fatal and returns false.
func (c *Client) sendOutstanding(lastHBSend *time.Time) bool {
	for i := 0; i < maxConsecMessages && c.isWorking.Load(); i++ {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			break
		}
		data := c.queue[0]
		c.queueMu.Unlock()

		err := c.send(frame.New(frame.RoleExporter, frame.Data), data)
		if err == transport.ErrTimeout {
			break
		}
		if err != nil {
			c.fatal("send", err)
			return false
		}

		*lastHBSend = time.Now()
		c.queueMu.Lock()
		c.queue = c.queue[1:]
		c.queueMu.Unlock()
	}
	return true
}

// flush drains the queue best-effort while stopping; the first failure
// abandons the rest.
func (c *Client) flush() {
	c.transport.SetSendTimeout(drainSendTimeout)

	c.queueMu.Lock()
	pending := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	for i, data := range pending {
		if err := c.send(frame.New(frame.RoleExporter, frame.Data), data); err != nil {
			c.log.Warn("flush on exit abandoned", "sent", i, "pending", len(pending)-i, "error", err)
			// Unsent messages stay counted by OutstandingMessages.
			c.queueMu.Lock()
			c.queue = append(pending[i:], c.queue...)
			c.queueMu.Unlock()
			return
		}
	}
}

// send transmits one control+payload pair and feeds the hook.
func (c *Client) send(ctl frame.Control, payload []byte) error {
	if err := c.transport.Send(ctl.Marshal(), payload); err != nil {
		return err
	}
	c.hook.OnFrameSent(ctl.Code, len(payload))
	return nil
}

// fatal logs a transport failure in the main loop and suppresses
// flush-on-exit: with the socket broken there is nothing to flush into.
func (c *Client) fatal(op string, err error) {
	c.log.Warn("transport failed, stopping client", "op", op, "error", err)
	c.flushOnExit.Store(false)
}
