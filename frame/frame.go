// Package frame implements the 9-byte control header that precedes every
// payload on the renderer wire.
//
// Header layout (9 bytes, little-endian):
//
//	[0-3] version  int32  (current protocol version is 1000)
//	[4]   role     uint8  (None / Exporter / Heartbeat)
//	[5-8] control  int32  (DATA, handshake and heartbeat codes)
//
// The header always travels as the first part of a two-part transport
// message; the second part is the payload and may be empty.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is spoken by this client. A peer announcing anything
// else is ignored frame by frame.
const ProtocolVersion int32 = 1000

// HeaderSize is the encoded size of a Control header.
const HeaderSize = 9

// Role identifies what a client is on the wire.
type Role uint8

const (
	RoleNone Role = iota
	RoleExporter
	RoleHeartbeat
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleExporter:
		return "exporter"
	case RoleHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Code is the control code of a frame.
type Code int32

const (
	Data Code = 0

	ExporterConnect  Code = 1000
	HeartbeatConnect Code = 1001

	RendererCreate  Code = 2000
	HeartbeatCreate Code = 2001

	Ping Code = 3000
	Pong Code = 3001
)

func (c Code) String() string {
	switch c {
	case Data:
		return "DATA"
	case ExporterConnect:
		return "EXPORTER_CONNECT"
	case HeartbeatConnect:
		return "HEARTBEAT_CONNECT"
	case RendererCreate:
		return "RENDERER_CREATE"
	case HeartbeatCreate:
		return "HEARTBEAT_CREATE"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	}
	return fmt.Sprintf("control(%d)", int32(c))
}

var (
	ErrShortFrame      = errors.New("frame: control frame shorter than header")
	ErrVersionMismatch = errors.New("frame: protocol version mismatch")
)

// Control is the decoded header.
type Control struct {
	Version int32
	Role    Role
	Code    Code
}

// New returns a header for this client's protocol version.
func New(role Role, code Code) Control {
	return Control{Version: ProtocolVersion, Role: role, Code: code}
}

// Marshal encodes the header into a fresh 9-byte slice.
func (c Control) Marshal() []byte {
	out := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(c.Version))
	out[4] = uint8(c.Role)
	binary.LittleEndian.PutUint32(out[5:9], uint32(c.Code))
	return out
}

// Parse decodes a control header. A short frame or a version other than
// ProtocolVersion is an error; the caller drops the whole transmission.
func Parse(data []byte) (Control, error) {
	if len(data) < HeaderSize {
		return Control{}, ErrShortFrame
	}
	c := Control{
		Version: int32(binary.LittleEndian.Uint32(data[0:4])),
		Role:    Role(data[4]),
		Code:    Code(binary.LittleEndian.Uint32(data[5:9])),
	}
	if c.Version != ProtocolVersion {
		return Control{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, c.Version, ProtocolVersion)
	}
	return c, nil
}

// IsData reports whether the frame carries a logical message payload.
func (c Control) IsData() bool { return c.Code == Data }
