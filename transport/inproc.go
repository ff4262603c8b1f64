package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

type inprocMsg struct {
	control []byte
	payload []byte
}

// pipeDepth bounds each direction of an in-process pair. A full queue
// makes the writer block, which is what the send timeout is for.
const pipeDepth = 128

// Pipe is one end of an in-process transport pair. It implements
// Transport with channel-backed queues and is safe to drive from tests
// as a fake peer.
type Pipe struct {
	out chan inprocMsg
	in  chan inprocMsg

	// done and closeOnce are shared by both ends of the pair.
	done      chan struct{}
	closeOnce *sync.Once

	// pending holds a message popped by Poll ahead of Recv. Recv, Poll
	// and Drain run on the single goroutine driving this end, so no
	// lock is needed.
	pending *inprocMsg

	identity    atomic.Value // []byte
	sendTimeout atomic.Int64 // nanoseconds, <=0 blocks
	recvTimeout atomic.Int64
}

// NewPair returns two connected Pipes. What one end sends, the other
// receives, in order.
func NewPair() (*Pipe, *Pipe) {
	ab := make(chan inprocMsg, pipeDepth)
	ba := make(chan inprocMsg, pipeDepth)
	done := make(chan struct{})
	once := new(sync.Once)
	a := &Pipe{out: ab, in: ba, done: done, closeOnce: once}
	b := &Pipe{out: ba, in: ab, done: done, closeOnce: once}
	return a, b
}

// SetIdentity records the identity. In-process pairs have no routing
// layer, so it is observable but otherwise unused.
func (p *Pipe) SetIdentity(id []byte) {
	p.identity.Store(append([]byte(nil), id...))
}

// Identity returns the identity assigned by the last SetIdentity.
func (p *Pipe) Identity() []byte {
	id, _ := p.identity.Load().([]byte)
	return id
}

// Connect succeeds unless the pair is closed; the pair is born
// connected.
func (p *Pipe) Connect(addr string) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
		return nil
	}
}

func timer(nanos int64) <-chan time.Time {
	if nanos <= 0 {
		return nil // nil channel: block forever
	}
	return time.After(time.Duration(nanos))
}

func (p *Pipe) Send(control, payload []byte) error {
	msg := inprocMsg{
		control: append([]byte(nil), control...),
		payload: append([]byte(nil), payload...),
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-timer(p.sendTimeout.Load()):
		return ErrTimeout
	}
}

func (p *Pipe) Recv() (control, payload []byte, err error) {
	if msg := p.pending; msg != nil {
		p.pending = nil
		return msg.control, msg.payload, nil
	}
	// Queued messages are delivered before a close is reported.
	select {
	case msg := <-p.in:
		return msg.control, msg.payload, nil
	default:
	}
	select {
	case msg := <-p.in:
		return msg.control, msg.payload, nil
	case <-p.done:
		return nil, nil, ErrClosed
	case <-timer(p.recvTimeout.Load()):
		return nil, nil, ErrTimeout
	}
}

func (p *Pipe) Poll(timeout time.Duration) (readable, writable bool, err error) {
	select {
	case <-p.done:
		return false, false, ErrClosed
	default:
	}
	readable = p.pending != nil || len(p.in) > 0
	writable = len(p.out) < cap(p.out)
	if readable || writable || timeout <= 0 {
		return readable, writable, nil
	}
	// Neither side ready: wait for an inbound message or the deadline.
	select {
	case <-p.done:
		return false, false, ErrClosed
	case <-time.After(timeout):
	case msg := <-p.in:
		p.pending = &msg
		readable = true
	}
	return readable, len(p.out) < cap(p.out), nil
}

func (p *Pipe) SetSendTimeout(d time.Duration) { p.sendTimeout.Store(int64(d)) }
func (p *Pipe) SetRecvTimeout(d time.Duration) { p.recvTimeout.Store(int64(d)) }

// Close closes both ends of the pair; blocked calls on either end return
// ErrClosed. Closing either end again is a no-op. Messages already queued
// towards an end stay readable through Recv and Drain.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Drain returns the messages queued towards this end without blocking,
// for test assertions after the peer stopped.
func (p *Pipe) Drain() (controls, payloads [][]byte) {
	if msg := p.pending; msg != nil {
		p.pending = nil
		controls = append(controls, msg.control)
		payloads = append(payloads, msg.payload)
	}
	for {
		select {
		case msg := <-p.in:
			controls = append(controls, msg.control)
			payloads = append(payloads, msg.payload)
		default:
			return controls, payloads
		}
	}
}
