package wire

import (
	"bytes"
	"testing"
)

func TestWriterLayout(t *testing.T) {
	w := NewWriter(32)
	w.PutUint8(0x7f)
	w.PutInt32(-2)
	w.PutFloat32(1.0)
	w.PutString("ab")

	want := []byte{
		0x7f,
		0xfe, 0xff, 0xff, 0xff,
		0x00, 0x00, 0x80, 0x3f,
		0x02, 0x00, 0x00, 0x00, 'a', 'b',
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("layout mismatch:\n got %x\nwant %x", w.Bytes(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.PutUint8(5)
	w.PutInt16(-300)
	w.PutInt32(1 << 20)
	w.PutUint32(0xdeadbeef)
	w.PutInt64(-1)
	w.PutFloat32(0.7854)
	w.PutFloat64(3.14159265358979)
	w.PutString("teapot_01")
	w.PutString("")
	w.PutBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	if got := r.Uint8(); got != 5 {
		t.Errorf("uint8: got %d", got)
	}
	if got := r.Int16(); got != -300 {
		t.Errorf("int16: got %d", got)
	}
	if got := r.Int32(); got != 1<<20 {
		t.Errorf("int32: got %d", got)
	}
	if got := r.Uint32(); got != 0xdeadbeef {
		t.Errorf("uint32: got %x", got)
	}
	if got := r.Int64(); got != -1 {
		t.Errorf("int64: got %d", got)
	}
	if got := r.Float32(); got != 0.7854 {
		t.Errorf("float32: got %v", got)
	}
	if got := r.Float64(); got != 3.14159265358979 {
		t.Errorf("float64: got %v", got)
	}
	if got := r.String(); got != "teapot_01" {
		t.Errorf("string: got %q", got)
	}
	if got := r.String(); got != "" {
		t.Errorf("empty string: got %q", got)
	}
	if got := r.Bytes(3); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("bytes: got %v", got)
	}
	if r.HasMore() {
		t.Error("expected reader drained")
	}
	if err := r.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnderrunIsSticky(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if got := r.Int32(); got != 0 {
		t.Errorf("expected zero on underrun, got %d", got)
	}
	if r.Err() != ErrUnderrun {
		t.Fatalf("expected ErrUnderrun, got %v", r.Err())
	}
	// Cursor unchanged, later reads are no-ops.
	if got := r.Uint8(); got != 0 {
		t.Errorf("read after underrun should return zero, got %d", got)
	}
	if r.Remaining() != 2 {
		t.Errorf("cursor should not move on underrun, remaining %d", r.Remaining())
	}
}

func TestForwardBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if !r.Forward(3) {
		t.Fatal("forward to end should succeed")
	}
	if r.HasMore() {
		t.Error("expected no more data")
	}
	if r.Forward(1) {
		t.Error("forward past end should fail")
	}
	if r.Err() != ErrUnderrun {
		t.Errorf("expected ErrUnderrun, got %v", r.Err())
	}
}

func TestStringUnderrun(t *testing.T) {
	// Length prefix claims 100 bytes, only 2 present.
	r := NewReader([]byte{100, 0, 0, 0, 'a', 'b'})
	if got := r.String(); got != "" {
		t.Errorf("expected empty string on underrun, got %q", got)
	}
	if r.Err() != ErrUnderrun {
		t.Errorf("expected ErrUnderrun, got %v", r.Err())
	}
}
