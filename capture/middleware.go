package capture

import (
	"time"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
)

// Wrap returns a transport that records every successful Send and Recv
// to w before handing the frames on. Recording failures are swallowed:
// a full disk must not take the render link down.
func Wrap(inner transport.Transport, w *Writer) transport.Transport {
	return &recording{inner: inner, w: w}
}

type recording struct {
	inner transport.Transport
	w     *Writer
}

func (r *recording) SetIdentity(id []byte) { r.inner.SetIdentity(id) }

func (r *recording) Connect(addr string) error { return r.inner.Connect(addr) }

func (r *recording) Send(control, payload []byte) error {
	if err := r.inner.Send(control, payload); err != nil {
		return err
	}
	r.w.Record(Outbound, control, payload)
	return nil
}

func (r *recording) Recv() (control, payload []byte, err error) {
	control, payload, err = r.inner.Recv()
	if err == nil {
		r.w.Record(Inbound, control, payload)
	}
	return control, payload, err
}

func (r *recording) Poll(timeout time.Duration) (readable, writable bool, err error) {
	return r.inner.Poll(timeout)
}

func (r *recording) SetSendTimeout(d time.Duration) { r.inner.SetSendTimeout(d) }

func (r *recording) SetRecvTimeout(d time.Duration) { r.inner.SetRecvTimeout(d) }

func (r *recording) Close() error { return r.inner.Close() }
