// Package wstream tunnels the two-part renderer wire through a single
// binary WebSocket message per transmission, for deployments where only
// HTTP(S) egress is open. Each WebSocket message carries a u32
// little-endian length of the control part, the control part, then the
// payload part.
package wstream

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
)

type recvMsg struct {
	control []byte
	payload []byte
	err     error
}

// Tunnel is one WebSocket connection speaking the framed renderer wire.
// The send timeout maps onto the connection's write deadline. The receive
// timeout bounds the wait for the next message from the read pump; the
// connection itself carries no read deadline.
type Tunnel struct {
	conn net.Conn

	recvCh  chan recvMsg
	pending *recvMsg

	done      chan struct{}
	closeOnce sync.Once

	sendTimeout atomic.Int64
	recvTimeout atomic.Int64

	sendMu sync.Mutex
}

// New returns an unconnected tunnel.
func New() *Tunnel {
	return &Tunnel{
		recvCh: make(chan recvMsg, 64),
		done:   make(chan struct{}),
	}
}

// SetIdentity is accepted for interface compatibility. The tunnel needs
// no routing identity: the connection itself identifies the client.
func (t *Tunnel) SetIdentity(id []byte) {}

// Connect dials a WebSocket endpoint (e.g. "ws://render-host:9000/zmq").
func (t *Tunnel) Connect(addr string) error {
	conn, _, _, err := ws.Dial(context.Background(), addr)
	if err != nil {
		return err
	}
	t.conn = conn
	go t.pump()
	return nil
}

func (t *Tunnel) pump() {
	for {
		data, err := wsutil.ReadServerBinary(t.conn)
		if err != nil {
			select {
			case t.recvCh <- recvMsg{err: mapErr(err)}:
			case <-t.done:
			}
			return
		}
		msg, ok := split(data)
		if !ok {
			// A peer that cannot even frame correctly is not worth
			// keeping; surface it as a transport failure.
			select {
			case t.recvCh <- recvMsg{err: transport.ErrClosed}:
			case <-t.done:
			}
			return
		}
		select {
		case t.recvCh <- msg:
		case <-t.done:
			return
		}
	}
}

func join(control, payload []byte) []byte {
	out := make([]byte, 0, 4+len(control)+len(payload))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(control)))
	out = append(out, control...)
	out = append(out, payload...)
	return out
}

func split(data []byte) (recvMsg, bool) {
	if len(data) < 4 {
		return recvMsg{}, false
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n < 0 || 4+n > len(data) {
		return recvMsg{}, false
	}
	return recvMsg{
		control: append([]byte(nil), data[4:4+n]...),
		payload: append([]byte(nil), data[4+n:]...),
	}, true
}

func mapErr(err error) error {
	if os.IsTimeout(err) {
		return transport.ErrTimeout
	}
	return err
}

func (t *Tunnel) Send(control, payload []byte) error {
	if t.conn == nil {
		return transport.ErrClosed
	}
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if d := time.Duration(t.sendTimeout.Load()); d > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(d))
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}
	return mapErr(wsutil.WriteClientBinary(t.conn, join(control, payload)))
}

func timer(nanos int64) <-chan time.Time {
	if nanos <= 0 {
		return nil
	}
	return time.After(time.Duration(nanos))
}

func (t *Tunnel) Recv() (control, payload []byte, err error) {
	if msg := t.pending; msg != nil {
		t.pending = nil
		return msg.control, msg.payload, msg.err
	}
	select {
	case msg := <-t.recvCh:
		return msg.control, msg.payload, msg.err
	case <-timer(t.recvTimeout.Load()):
		return nil, nil, transport.ErrTimeout
	case <-t.done:
		return nil, nil, transport.ErrClosed
	}
}

func (t *Tunnel) Poll(timeout time.Duration) (readable, writable bool, err error) {
	select {
	case <-t.done:
		return false, false, transport.ErrClosed
	default:
	}
	readable = t.pending != nil || len(t.recvCh) > 0
	writable = t.conn != nil
	if readable || timeout <= 0 {
		return readable, writable, nil
	}
	select {
	case msg := <-t.recvCh:
		t.pending = &msg
		readable = true
	case <-time.After(timeout):
	case <-t.done:
		return false, false, transport.ErrClosed
	}
	return readable, writable, nil
}

func (t *Tunnel) SetSendTimeout(d time.Duration) { t.sendTimeout.Store(int64(d)) }

func (t *Tunnel) SetRecvTimeout(d time.Duration) { t.recvTimeout.Store(int64(d)) }

// Close drops the connection; blocked calls return ErrClosed.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.conn != nil {
			t.conn.Close()
		}
	})
	return nil
}

var _ transport.Transport = (*Tunnel)(nil)
