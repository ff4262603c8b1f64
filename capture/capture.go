// Package capture records wire traffic to a compressed log for
// diagnostics and offline replay. A capture file starts with a plain
// header naming the session, followed by a zstd stream of records; each
// record is one two-part transmission with its direction and timestamp.
//
// Wrap instruments any transport so every frame that crosses it is
// recorded; `vrayctl capture` pretty-prints the result.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Direction says which way a recorded frame travelled.
type Direction uint8

const (
	Outbound Direction = 0
	Inbound  Direction = 1
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

var magic = [4]byte{'V', 'R', 'Z', 'C'}

const formatVersion = 1

// maxRecordPart guards the reader against a corrupt length prefix.
const maxRecordPart = 1 << 30

var (
	ErrBadMagic   = errors.New("capture: not a capture file")
	ErrBadVersion = errors.New("capture: unsupported capture format version")
)

// Record is one captured transmission.
type Record struct {
	Dir     Direction
	Time    time.Time
	Control []byte
	Payload []byte
}

// Writer appends records to a capture stream. Safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	zw      *zstd.Encoder
	closer  io.Closer
	session uuid.UUID
}

// Create opens a capture file at path, truncating any previous one.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter starts a capture stream on w with a fresh session id.
func NewWriter(w io.Writer) (*Writer, error) {
	session := uuid.New()

	header := make([]byte, 0, 21)
	header = append(header, magic[:]...)
	header = append(header, formatVersion)
	header = append(header, session[:]...)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &Writer{zw: zw, session: session}, nil
}

// Session returns the capture's session id.
func (w *Writer) Session() uuid.UUID { return w.session }

// Record appends one transmission.
func (w *Writer) Record(dir Direction, control, payload []byte) error {
	buf := make([]byte, 0, 17+len(control)+len(payload))
	buf = append(buf, uint8(dir))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(time.Now().UnixMilli()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(control)))
	buf = append(buf, control...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.zw.Write(buf)
	return err
}

// Close flushes the compressed stream and closes the underlying file if
// the Writer opened it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.zw.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates the records of a capture stream.
type Reader struct {
	zr      *zstd.Decoder
	closer  io.Closer
	session uuid.UUID
}

// Open reads a capture file created by Create.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader validates the header and prepares record iteration.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, 21)
	if _, err := io.ReadFull(r, header[:4]); err != nil {
		return nil, fmt.Errorf("capture: reading header: %w", err)
	}
	if [4]byte(header[:4]) != magic {
		return nil, ErrBadMagic
	}
	if _, err := io.ReadFull(r, header[4:]); err != nil {
		return nil, fmt.Errorf("capture: reading header: %w", err)
	}
	if header[4] != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, header[4])
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	out := &Reader{zr: zr}
	copy(out.session[:], header[5:21])
	return out, nil
}

// Session returns the capture's session id.
func (r *Reader) Session() uuid.UUID { return r.session }

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var fixed [13]byte
	if _, err := io.ReadFull(r.zr, fixed[:1]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return Record{}, err
	}
	if _, err := io.ReadFull(r.zr, fixed[1:]); err != nil {
		return Record{}, fmt.Errorf("capture: truncated record: %w", err)
	}

	rec := Record{
		Dir:  Direction(fixed[0]),
		Time: time.UnixMilli(int64(binary.LittleEndian.Uint64(fixed[1:9]))),
	}
	controlLen := binary.LittleEndian.Uint32(fixed[9:13])
	if controlLen > maxRecordPart {
		return Record{}, fmt.Errorf("capture: corrupt control length %d", controlLen)
	}
	rec.Control = make([]byte, controlLen)
	if _, err := io.ReadFull(r.zr, rec.Control); err != nil {
		return Record{}, fmt.Errorf("capture: truncated control: %w", err)
	}

	var plen [4]byte
	if _, err := io.ReadFull(r.zr, plen[:]); err != nil {
		return Record{}, fmt.Errorf("capture: truncated record: %w", err)
	}
	payloadLen := binary.LittleEndian.Uint32(plen[:])
	if payloadLen > maxRecordPart {
		return Record{}, fmt.Errorf("capture: corrupt payload length %d", payloadLen)
	}
	rec.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r.zr, rec.Payload); err != nil {
		return Record{}, fmt.Errorf("capture: truncated payload: %w", err)
	}
	return rec, nil
}

// Close releases the decoder and closes the underlying file if the
// Reader opened it.
func (r *Reader) Close() error {
	r.zr.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
