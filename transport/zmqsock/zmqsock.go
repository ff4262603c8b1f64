// Package zmqsock adapts a go-zeromq dealer socket to the transport
// capability the client drives. This is the production transport: the
// render server binds a router socket and tells the two apart by the
// identity each client attaches before dialing.
package zmqsock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
)

type recvMsg struct {
	control []byte
	payload []byte
	err     error
}

// Socket is a dealer socket speaking two-part messages.
//
// The dealer has no per-send deadline of its own, so Send races the
// transfer against a timer: a send that reports ErrTimeout may still be
// delivered once the peer drains — the same at-least-once behaviour a
// retrying caller produces anyway.
type Socket struct {
	ctx    context.Context
	cancel context.CancelFunc

	identity []byte
	sock     zmq4.Socket

	recvCh  chan recvMsg
	pending *recvMsg

	// inflight serialises sends after a timeout abandoned one.
	inflight chan error

	sendTimeout atomic.Int64
	recvTimeout atomic.Int64

	closeOnce sync.Once
}

// New returns an unconnected dealer socket.
func New() *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		ctx:    ctx,
		cancel: cancel,
		recvCh: make(chan recvMsg, 64),
	}
}

// SetIdentity stores the identity attached when Connect creates the
// socket.
func (s *Socket) SetIdentity(id []byte) {
	s.identity = append([]byte(nil), id...)
}

// Connect creates the dealer with the assigned identity and dials addr
// (e.g. "tcp://127.0.0.1:5555").
func (s *Socket) Connect(addr string) error {
	opts := []zmq4.Option{}
	if len(s.identity) > 0 {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(s.identity)))
	}
	sock := zmq4.NewDealer(s.ctx, opts...)
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return err
	}
	s.sock = sock
	go s.pump()
	return nil
}

// pump moves inbound messages onto the receive channel until the socket
// dies.
func (s *Socket) pump() {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			select {
			case s.recvCh <- recvMsg{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		out := recvMsg{}
		if len(msg.Frames) > 0 {
			out.control = msg.Frames[0]
		}
		if len(msg.Frames) > 1 {
			out.payload = msg.Frames[1]
		}
		select {
		case s.recvCh <- out:
		case <-s.ctx.Done():
			return
		}
	}
}

func timer(nanos int64) <-chan time.Time {
	if nanos <= 0 {
		return nil
	}
	return time.After(time.Duration(nanos))
}

func (s *Socket) Send(control, payload []byte) error {
	if s.sock == nil {
		return transport.ErrClosed
	}

	// A previously abandoned send must finish before the next one, or
	// parts of two messages could interleave.
	if s.inflight != nil {
		select {
		case err := <-s.inflight:
			s.inflight = nil
			if err != nil {
				return err
			}
		case <-timer(s.sendTimeout.Load()):
			return transport.ErrTimeout
		case <-s.ctx.Done():
			return transport.ErrClosed
		}
	}

	msg := zmq4.NewMsgFrom(
		append([]byte(nil), control...),
		append([]byte(nil), payload...),
	)
	errc := make(chan error, 1)
	go func() { errc <- s.sock.Send(msg) }()

	select {
	case err := <-errc:
		return err
	case <-timer(s.sendTimeout.Load()):
		s.inflight = errc
		return transport.ErrTimeout
	case <-s.ctx.Done():
		return transport.ErrClosed
	}
}

func (s *Socket) Recv() (control, payload []byte, err error) {
	if msg := s.pending; msg != nil {
		s.pending = nil
		return msg.control, msg.payload, msg.err
	}
	select {
	case msg := <-s.recvCh:
		return msg.control, msg.payload, msg.err
	case <-timer(s.recvTimeout.Load()):
		return nil, nil, transport.ErrTimeout
	case <-s.ctx.Done():
		return nil, nil, transport.ErrClosed
	}
}

func (s *Socket) Poll(timeout time.Duration) (readable, writable bool, err error) {
	select {
	case <-s.ctx.Done():
		return false, false, transport.ErrClosed
	default:
	}
	readable = s.pending != nil || len(s.recvCh) > 0
	// The dealer buffers outbound messages; a send attempt is always
	// accepted (it may later time out).
	writable = true
	if readable || timeout <= 0 {
		return readable, writable, nil
	}
	select {
	case msg := <-s.recvCh:
		s.pending = &msg
		readable = true
	case <-time.After(timeout):
	case <-s.ctx.Done():
		return false, false, transport.ErrClosed
	}
	return readable, writable, nil
}

func (s *Socket) SetSendTimeout(d time.Duration) { s.sendTimeout.Store(int64(d)) }

func (s *Socket) SetRecvTimeout(d time.Duration) { s.recvTimeout.Store(int64(d)) }

// Close aborts blocked calls and discards queued messages. The dealer
// does not linger on unsent traffic.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.sock != nil {
			err = s.sock.Close()
		}
	})
	return err
}

var _ transport.Transport = (*Socket)(nil)
