package vrayzmq

import (
	"bytes"
	"testing"
	"time"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/frame"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/message"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
)

// newTestClient wires a client to an in-process pair and returns the
// peer end acting as the render server.
func newTestClient(t *testing.T, heartbeat bool, opts ...Option) (*Client, *transport.Pipe) {
	t.Helper()
	end, peer := transport.NewPair()
	opts = append([]Option{WithTransport(end)}, opts...)
	c := New(heartbeat, opts...)
	t.Cleanup(func() {
		c.SetFlushOnExit(false)
		c.SyncStop()
	})
	peer.SetRecvTimeout(2 * time.Second)
	return c, peer
}

// accept performs the server half of the handshake and asserts the
// client announced itself correctly.
func accept(t *testing.T, peer *transport.Pipe, role frame.Role) {
	t.Helper()
	ctlData, payload, err := peer.Recv()
	if err != nil {
		t.Fatalf("handshake recv: %v", err)
	}
	ctl, err := frame.Parse(ctlData)
	if err != nil {
		t.Fatalf("handshake parse: %v", err)
	}
	wantConnect, create := frame.ExporterConnect, frame.RendererCreate
	if role == frame.RoleHeartbeat {
		wantConnect, create = frame.HeartbeatConnect, frame.HeartbeatCreate
	}
	if ctl.Code != wantConnect || ctl.Role != role {
		t.Fatalf("handshake frame: %s/%s", ctl.Role, ctl.Code)
	}
	if len(payload) != 0 {
		t.Fatalf("handshake payload not empty: %d bytes", len(payload))
	}
	if err := peer.Send(frame.New(role, create).Marshal(), nil); err != nil {
		t.Fatalf("handshake reply: %v", err)
	}
}

// recvData returns the next DATA payload, answering pings on the way.
func recvData(t *testing.T, peer *transport.Pipe, role frame.Role) []byte {
	t.Helper()
	for {
		ctlData, payload, err := peer.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		ctl, err := frame.Parse(ctlData)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		switch ctl.Code {
		case frame.Data:
			return payload
		case frame.Ping:
			peer.Send(frame.New(role, frame.Pong).Marshal(), nil)
		}
	}
}

func TestHandshakeGateAndFIFO(t *testing.T) {
	c, peer := newTestClient(t, false)

	// Queued before Connect: nothing may hit the wire before the
	// handshake completes.
	payloads := [][]byte{
		message.PluginCreate("teapot_01", "GeomMeshFile"),
		message.PluginRemove("teapot_01"),
		message.VRayLog(2, "third"),
	}
	for _, p := range payloads {
		if err := c.Send(p); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.OutstandingMessages(); got != len(payloads) {
		t.Fatalf("outstanding before connect: %d", got)
	}

	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}

	// The very first frame must be the connect announcement, not DATA.
	accept(t, peer, frame.RoleExporter)

	for i, want := range payloads {
		got := recvData(t, peer, frame.RoleExporter)
		if !bytes.Equal(got, want) {
			t.Fatalf("message %d out of order:\n got %x\nwant %x", i, got, want)
		}
	}
}

func TestSendOrderUnderLoad(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	const n = 50
	for i := 0; i < n; i++ {
		if err := c.Send(message.VRayLog(int32(i), "m")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		m, err := message.Parse(recvData(t, peer, frame.RoleExporter))
		if err != nil {
			t.Fatal(err)
		}
		if m.LogLevel != int32(i) {
			t.Fatalf("out of order: got %d, want %d", m.LogLevel, i)
		}
	}
}

func TestCallbackDispatch(t *testing.T) {
	c, peer := newTestClient(t, false)

	got := make(chan *message.Message, 1)
	c.SetCallback(func(m *message.Message, from *Client) {
		if from != c {
			t.Error("callback client mismatch")
		}
		got <- m
	})

	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	payload := message.VRayLog(4, "from server")
	if err := peer.Send(frame.New(frame.RoleExporter, frame.Data).Marshal(), payload); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m.Type != message.TypeVRayLog || m.LogLevel != 4 {
			t.Errorf("dispatched %s level %d", m.Type, m.LogLevel)
		}
		if text, _ := m.Value.AsString(); text != "from server" {
			t.Errorf("dispatched text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestVersionAndRoleIsolation(t *testing.T) {
	c, peer := newTestClient(t, false)

	got := make(chan *message.Message, 8)
	c.SetCallback(func(m *message.Message, _ *Client) { got <- m })

	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	// Wrong protocol version.
	bad := frame.Control{Version: 999, Role: frame.RoleExporter, Code: frame.Data}
	peer.Send(bad.Marshal(), message.VRayLog(1, "stale peer"))
	// Wrong role.
	peer.Send(frame.New(frame.RoleHeartbeat, frame.Data).Marshal(), message.VRayLog(2, "wrong role"))
	// Malformed message body.
	peer.Send(frame.New(frame.RoleExporter, frame.Data).Marshal(), []byte{0xff, 0x01})
	// And finally a good one.
	peer.Send(frame.New(frame.RoleExporter, frame.Data).Marshal(), message.VRayLog(3, "good"))

	select {
	case m := <-got:
		if m.LogLevel != 3 {
			t.Fatalf("a dropped frame reached the callback: level %d", m.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("good frame never arrived")
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected extra callback: level %d", m.LogLevel)
	case <-time.After(50 * time.Millisecond):
	}
	if !c.Good() {
		t.Error("malformed frames must not stop the worker")
	}
}

func TestHeartbeatCadence(t *testing.T) {
	c, peer := newTestClient(t, true, WithPingTimeout(200*time.Millisecond))
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleHeartbeat)

	var pings []time.Time
	deadline := time.Now().Add(650 * time.Millisecond)
	for time.Now().Before(deadline) {
		peer.SetRecvTimeout(100 * time.Millisecond)
		ctlData, _, err := peer.Recv()
		if err != nil {
			continue
		}
		ctl, err := frame.Parse(ctlData)
		if err != nil {
			t.Fatal(err)
		}
		if ctl.Code == frame.Ping {
			pings = append(pings, time.Now())
			peer.Send(frame.New(frame.RoleHeartbeat, frame.Pong).Marshal(), nil)
		}
	}

	// pingTimeout/2 = 100ms: expect roughly one ping per 100ms window,
	// with generous slack for scheduling.
	if len(pings) < 3 {
		t.Fatalf("expected steady pings, got %d", len(pings))
	}
	for i := 1; i < len(pings); i++ {
		if gap := pings[i].Sub(pings[i-1]); gap > 300*time.Millisecond {
			t.Errorf("ping gap %v far exceeds the cadence", gap)
		}
	}
	if !c.Good() {
		t.Error("client with answering peer must stay good")
	}
}

func TestHeartbeatTimeoutStopsClient(t *testing.T) {
	c, peer := newTestClient(t, true, WithPingTimeout(100*time.Millisecond))
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleHeartbeat)
	// Peer goes silent; the client must notice within pingTimeout.

	deadline := time.Now().Add(2 * time.Second)
	for c.Good() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Good() {
		t.Fatal("client did not stop after peer went silent")
	}
}

func TestExporterSurvivesSilence(t *testing.T) {
	c, peer := newTestClient(t, false, WithPingTimeout(100*time.Millisecond))
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	time.Sleep(300 * time.Millisecond)
	if !c.Good() {
		t.Fatal("exporter role must not abort on peer silence")
	}
}

// blockCallback parks the worker inside a callback so the test can stage
// the outbound queue deterministically.
func blockCallback(t *testing.T, c *Client, peer *transport.Pipe) (release func()) {
	t.Helper()
	entered := make(chan struct{})
	releaseCh := make(chan struct{})
	c.SetCallback(func(_ *message.Message, _ *Client) {
		close(entered)
		<-releaseCh
	})
	if err := peer.Send(frame.New(frame.RoleExporter, frame.Data).Marshal(), message.VRayLog(0, "block")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never entered the callback")
	}
	return func() { close(releaseCh) }
}

func TestFlushOnExitDeliversQueue(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	release := blockCallback(t, c, peer)

	want := [][]byte{
		message.PluginCreate("a", "T"),
		message.PluginRemove("a"),
		message.VRayLog(1, "bye"),
	}
	for _, p := range want {
		if err := c.Send(p); err != nil {
			t.Fatal(err)
		}
	}
	c.SetFlushOnExit(true)

	stopped := make(chan struct{})
	go func() {
		c.SyncStop()
		close(stopped)
	}()
	release()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("SyncStop did not return")
	}

	for i, p := range want {
		got := recvData(t, peer, frame.RoleExporter)
		if !bytes.Equal(got, p) {
			t.Fatalf("flushed message %d mismatch", i)
		}
	}
	if c.OutstandingMessages() != 0 {
		t.Error("queue not drained")
	}
}

func TestStopWithoutFlushDiscardsQueue(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	release := blockCallback(t, c, peer)

	for i := 0; i < 3; i++ {
		if err := c.Send(message.VRayLog(int32(i), "dropped")); err != nil {
			t.Fatal(err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		c.SyncStop()
		close(stopped)
	}()
	// Release the worker only once the stop is under way, so the queue
	// cannot drain through the normal serve loop first.
	for c.Good() {
		time.Sleep(time.Millisecond)
	}
	release()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("SyncStop did not return")
	}

	_, payloads := peer.Drain()
	for _, p := range payloads {
		if len(p) > 0 {
			m, err := message.Parse(p)
			if err == nil && m.Type == message.TypeVRayLog {
				if text, _ := m.Value.AsString(); text == "dropped" {
					t.Fatal("discarded message reached the peer")
				}
			}
		}
	}
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	release := blockCallback(t, c, peer)

	for i := 0; i < 3; i++ {
		if err := c.Send(message.VRayLog(int32(i), "x")); err != nil {
			t.Fatal(err)
		}
	}
	c.SetFlushOnExit(true)
	// Peer goes away before the flush starts.
	peer.Close()

	stopped := make(chan struct{})
	start := time.Now()
	go func() {
		c.SyncStop()
		close(stopped)
	}()
	release()
	select {
	case <-stopped:
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("abandoned flush took %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("SyncStop did not return after failed flush")
	}
}

func TestSyncStopIdempotent(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	c.SyncStop()
	c.SyncStop()
	if c.Good() {
		t.Error("stopped client reports good")
	}
	if err := c.Send([]byte{1}); err != ErrStopped {
		t.Errorf("send after stop: %v", err)
	}
}

func TestStopBeforeConnect(t *testing.T) {
	c, _ := newTestClient(t, false)
	c.SyncStop()
	if c.Good() {
		t.Error("stopped client reports good")
	}
	if c.Connected() {
		t.Error("never-connected client reports connected")
	}
}

func TestConnectError(t *testing.T) {
	end, peer := transport.NewPair()
	peer.Close() // tears down both ends: the dial fails

	c := New(false, WithTransport(end))
	defer c.SyncStop()

	if err := c.Connect("inproc://render"); err == nil {
		t.Fatal("expected connect error")
	}
	if c.Connected() {
		t.Error("failed connect reports connected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Good() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Good() {
		t.Error("worker kept serving after connect error")
	}
}

func TestHandshakeRejection(t *testing.T) {
	cases := []struct {
		name  string
		reply frame.Control
	}{
		{"wrong code", frame.New(frame.RoleExporter, frame.HeartbeatCreate)},
		{"wrong role", frame.New(frame.RoleHeartbeat, frame.RendererCreate)},
		{"wrong version", frame.Control{Version: 999, Role: frame.RoleExporter, Code: frame.RendererCreate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, peer := newTestClient(t, false)
			if err := c.Connect("inproc://render"); err != nil {
				t.Fatal(err)
			}
			// Consume the announcement, reply wrongly.
			if _, _, err := peer.Recv(); err != nil {
				t.Fatal(err)
			}
			peer.Send(tc.reply.Marshal(), nil)

			deadline := time.Now().Add(2 * time.Second)
			for c.Good() && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			if c.Good() {
				t.Fatal("worker accepted a bad handshake reply")
			}
		})
	}
}

func TestSendMessage(t *testing.T) {
	c, peer := newTestClient(t, false)
	if err := c.Connect("inproc://render"); err != nil {
		t.Fatal(err)
	}
	accept(t, peer, frame.RoleExporter)

	m, err := message.Parse(message.PluginCreate("cam_01", "CameraPhysical"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage(m); err != nil {
		t.Fatal(err)
	}
	got, err := message.Parse(recvData(t, peer, frame.RoleExporter))
	if err != nil {
		t.Fatal(err)
	}
	if got.Plugin != "cam_01" || got.PluginType != "CameraPhysical" {
		t.Errorf("parsed %q/%q", got.Plugin, got.PluginType)
	}

	if err := c.SendMessage(&message.Message{}); err == nil {
		t.Error("unserialisable message must fail")
	}
}
