package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/attr"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/wire"
)

func str(s string) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
	return append(out, s...)
}

func TestPluginCreateBytes(t *testing.T) {
	got := PluginCreate("teapot_01", "GeomMeshFile")

	var want []byte
	want = append(want, 0x02)
	want = append(want, str("teapot_01")...)
	want = append(want, 0x01)
	want = append(want, str("GeomMeshFile")...)

	if !bytes.Equal(got, want) {
		t.Fatalf("payload:\n got %x\nwant %x", got, want)
	}

	m, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeChangePlugin || m.PluginAction != PluginActionCreate {
		t.Errorf("parsed %s/%s", m.Type, m.PluginAction)
	}
	if m.Plugin != "teapot_01" || m.PluginType != "GeomMeshFile" {
		t.Errorf("parsed plugin %q type %q", m.Plugin, m.PluginType)
	}
}

func TestPluginCreateDefaultType(t *testing.T) {
	m, err := Parse(PluginCreate("teapot_01", ""))
	if err != nil {
		t.Fatal(err)
	}
	if m.PluginType != "" {
		t.Errorf("expected implicit default type, got %q", m.PluginType)
	}
}

func TestPluginUpdateBytes(t *testing.T) {
	got, err := PluginUpdate("cam_01", "fov", attr.Float(0.7854), SetterDefault)
	if err != nil {
		t.Fatal(err)
	}

	var want []byte
	want = append(want, 0x02)
	want = append(want, str("cam_01")...)
	want = append(want, 0x03)
	want = append(want, str("fov")...)
	want = append(want, 0x01, 0x02)
	want = binary.LittleEndian.AppendUint32(want, math.Float32bits(0.7854))

	if !bytes.Equal(got, want) {
		t.Fatalf("payload:\n got %x\nwant %x", got, want)
	}

	m, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if m.Property != "fov" || m.Setter != SetterDefault {
		t.Errorf("parsed property %q setter %d", m.Property, m.Setter)
	}
	if f, err := m.Value.AsFloat(); err != nil || f != 0.7854 {
		t.Errorf("parsed value %v %v", f, err)
	}
}

func TestRendererInitBytes(t *testing.T) {
	got := RendererInit(RendererRT, DREnable)

	want := []byte{0x03, 0x09, 0x01}
	want = binary.LittleEndian.AppendUint32(want, 0x0201)

	if !bytes.Equal(got, want) {
		t.Fatalf("payload:\n got %x\nwant %x", got, want)
	}

	m, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if m.Action != ActionInit {
		t.Fatalf("parsed action %d", m.Action)
	}
	if m.RendererType != RendererRT || m.DRFlags != DREnable {
		t.Errorf("unpacked type %d flags %d", m.RendererType, m.DRFlags)
	}
}

func TestRendererResizeBytes(t *testing.T) {
	got := RendererResize(1920, 1080)

	want := []byte{0x03, 0x06}
	want = binary.LittleEndian.AppendUint32(want, 1920)
	want = binary.LittleEndian.AppendUint32(want, 1080)

	if !bytes.Equal(got, want) {
		t.Fatalf("payload:\n got %x\nwant %x", got, want)
	}

	m, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if m.Width != 1920 || m.Height != 1080 {
		t.Errorf("parsed size %dx%d", m.Width, m.Height)
	}
}

func TestPluginReplace(t *testing.T) {
	m, err := Parse(PluginReplace("old_node", "new_node"))
	if err != nil {
		t.Fatal(err)
	}
	if m.PluginAction != PluginActionReplace || m.Plugin != "old_node" {
		t.Fatalf("parsed %s %q", m.PluginAction, m.Plugin)
	}
	name, err := m.NewName()
	if err != nil || name != "new_node" {
		t.Errorf("NewName: %q %v", name, err)
	}
}

func TestPluginRemove(t *testing.T) {
	m, err := Parse(PluginRemove("teapot_01"))
	if err != nil {
		t.Fatal(err)
	}
	if m.PluginAction != PluginActionRemove || m.Plugin != "teapot_01" {
		t.Errorf("parsed %s %q", m.PluginAction, m.Plugin)
	}
}

func TestVRayLog(t *testing.T) {
	got := VRayLog(3, "render started")
	m, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeVRayLog || m.LogLevel != 3 {
		t.Errorf("parsed %s level %d", m.Type, m.LogLevel)
	}
	if text, err := m.Value.AsString(); err != nil || text != "render started" {
		t.Errorf("parsed text %q %v", text, err)
	}
}

func TestVRayLogRequiresString(t *testing.T) {
	w := wire.NewWriter(16)
	w.PutUint8(uint8(TypeVRayLog))
	w.PutInt32(1)
	attr.Int(42).MarshalTo(w)
	if _, err := Parse(w.Bytes()); err != ErrLogNotString {
		t.Fatalf("expected ErrLogNotString, got %v", err)
	}
}

func TestImageSetRoundTrip(t *testing.T) {
	set := attr.NewImageSet(attr.SourceBucketImageReady)
	set.Images[attr.ChannelVfbColor] = attr.NewBucket(attr.ImageJPG, 64, 64, 128, 0, []byte{0xff, 0xd8})

	data, err := ImageSet(set)
	if err != nil {
		t.Fatal(err)
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeImage {
		t.Fatalf("parsed type %s", m.Type)
	}
	got, err := m.Value.AsImageSet()
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != attr.SourceBucketImageReady {
		t.Errorf("source %d", got.Source)
	}
	img := got.Images[attr.ChannelVfbColor]
	if !img.IsBucket() || img.X != 128 || !bytes.Equal(img.Data, []byte{0xff, 0xd8}) {
		t.Errorf("bucket image mismatch: %+v", img)
	}
}

func TestArgumentDiscipline(t *testing.T) {
	if _, err := RendererAction(ActionLoadScene); err == nil {
		t.Error("argument-bearing action without argument must fail")
	} else {
		var argErr *ArgumentError
		if !errors.As(err, &argErr) {
			t.Errorf("expected *ArgumentError, got %T", err)
		}
	}
	if _, err := RendererActionValue(ActionStart, attr.Int(1)); err == nil {
		t.Error("argument-less action with argument must fail")
	}
	if _, err := RendererAction(ActionStart); err != nil {
		t.Errorf("Start: %v", err)
	}
	if _, err := RendererActionValue(ActionLoadScene, attr.String("/tmp/scene.vrscene")); err != nil {
		t.Errorf("LoadScene: %v", err)
	}
}

func TestSetRendererState(t *testing.T) {
	data, err := RendererSetState(StateProgress, attr.Float(0.5))
	if err != nil {
		t.Fatal(err)
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if m.Action != ActionSetRendererState || m.RendererState != StateProgress {
		t.Fatalf("parsed action %d state %d", m.Action, m.RendererState)
	}
	if f, _ := m.Value.AsFloat(); f != 0.5 {
		t.Errorf("state value %v", f)
	}
}

func TestUnknownCodes(t *testing.T) {
	if _, err := Parse([]byte{99}); err == nil {
		t.Error("unknown message type must fail")
	} else {
		var typeErr *UnknownTypeError
		if !errors.As(err, &typeErr) || typeErr.Code != 99 {
			t.Errorf("expected *UnknownTypeError(99), got %v", err)
		}
	}

	// A renderer action from a future protocol revision.
	w := wire.NewWriter(2)
	w.PutUint8(uint8(TypeChangeRenderer))
	w.PutUint8(200)
	if _, err := Parse(w.Bytes()); err == nil {
		t.Error("unknown renderer action must fail")
	} else {
		var actErr *UnknownActionError
		if !errors.As(err, &actErr) || actErr.Code != 200 {
			t.Errorf("expected *UnknownActionError(200), got %v", err)
		}
	}
}

func TestUpdateRequiresValue(t *testing.T) {
	w := wire.NewWriter(16)
	w.PutUint8(uint8(TypeChangePlugin))
	w.PutString("node")
	w.PutUint8(uint8(PluginActionUpdate))
	w.PutString("prop")
	w.PutUint8(uint8(SetterDefault))
	if _, err := Parse(w.Bytes()); err != ErrMissingValue {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	data := PluginCreate("teapot_01", "GeomMeshFile")
	if _, err := Parse(data[:3]); err == nil {
		t.Error("truncated frame must fail")
	}
	if _, err := Parse(nil); err == nil {
		t.Error("empty frame must fail")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	payloads := [][]byte{
		PluginCreate("a", "T"),
		PluginCreate("a", ""),
		PluginRemove("a"),
		PluginReplace("a", "b"),
		VRayLog(2, "msg"),
		RendererResize(10, 20),
		RendererInit(RendererAnimation, DRRenderOnlyOnHosts),
		RendererSetCommitAction(CommitAutoOn),
		RendererSetRenderMode(RenderModeProduction),
	}
	if p, err := PluginUpdate("a", "p", attr.Bool(true), SetterDefault); err == nil {
		payloads = append(payloads, p)
	}
	if p, err := RendererAction(ActionStop); err == nil {
		payloads = append(payloads, p)
	}
	if p, err := RendererSetState(StateAbort, attr.Int(0)); err == nil {
		payloads = append(payloads, p)
	}

	for _, data := range payloads {
		m, err := Parse(data)
		if err != nil {
			t.Fatalf("parse %x: %v", data, err)
		}
		again, err := m.Marshal()
		if err != nil {
			t.Fatalf("marshal %x: %v", data, err)
		}
		if !bytes.Equal(data, again) {
			t.Errorf("marshal not stable:\n got %x\nwant %x", again, data)
		}
	}
}
