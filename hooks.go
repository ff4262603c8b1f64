package vrayzmq

import (
	"errors"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/frame"
)

// ErrStopped is returned by Send on a client whose worker has stopped.
var ErrStopped = errors.New("vrayzmq: client is stopped")

// Hook provides observability callpoints around the worker loop.
// Implementations must be cheap and must not block: they run on the
// worker goroutine between socket operations. The otelvray package
// provides an OpenTelemetry implementation.
type Hook interface {
	// OnConnected fires once after a successful handshake.
	OnConnected(role frame.Role)
	// OnFrameSent fires for every control+payload pair that reached the
	// transport, heartbeats included.
	OnFrameSent(code frame.Code, payloadBytes int)
	// OnFrameReceived fires for every inbound frame after the handshake
	// whose header parses and matches the client's role. The handshake
	// reply itself is not reported.
	OnFrameReceived(code frame.Code, payloadBytes int)
	// OnFrameDropped fires when an inbound frame is discarded. The
	// reason is a short stable label ("malformed", "role mismatch", …).
	OnFrameDropped(reason string)
	// OnStopped fires once when the worker exits.
	OnStopped()
}

type nopHook struct{}

func (nopHook) OnConnected(frame.Role) {}

func (nopHook) OnFrameSent(code frame.Code, payloadBytes int) {}

func (nopHook) OnFrameReceived(code frame.Code, payloadBytes int) {}

func (nopHook) OnFrameDropped(reason string) {}

func (nopHook) OnStopped() {}
