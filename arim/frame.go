// Package arim encodes and decodes ARIM frames, the pipe delimited text
// protocol carried inside ARDOP FEC payloads:
//
//	|B01|FROM|GRID|SIZE|payload
//	|M01|FROM|TO|SIZE|CHECK|payload    (also Q and R)
//	|A01|FROM|TO|                      (also N)
//
// SIZE is the payload length and CHECK the payload Checksum, both as four
// upper-case hex digits.
package arim

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ProtocolVersion is the only ARIM protocol version understood.
	ProtocolVersion = 1

	// MaxPayload is the largest payload a four digit hex size can
	// describe.
	MaxPayload = 0xffff
)

var (
	ErrMalformed    = errors.New("malformed ARIM frame")
	ErrVersion      = errors.New("unsupported ARIM protocol version")
	ErrIncomplete   = errors.New("incomplete ARIM frame")
	ErrPayloadSize  = errors.New("ARIM payload too large")
	ErrMissingField = errors.New("missing ARIM frame field")
)

// Type is the frame type letter.
type Type byte

const (
	TypeBeacon   Type = 'B'
	TypeMessage  Type = 'M'
	TypeQuery    Type = 'Q'
	TypeResponse Type = 'R'
	TypeAck      Type = 'A'
	TypeNak      Type = 'N'
)

// ParseType maps a frame type letter to a Type.
func ParseType(c byte) (Type, bool) {
	switch t := Type(upper(c)); t {
	case TypeBeacon, TypeMessage, TypeQuery, TypeResponse, TypeAck,
		TypeNak:

		return t, true

	default:
		return 0, false
	}
}

func (t Type) String() string {
	switch t {
	case TypeBeacon:
		return "Beacon"
	case TypeMessage:
		return "Message"
	case TypeQuery:
		return "Query"
	case TypeResponse:
		return "Response"
	case TypeAck:
		return "Ack"
	case TypeNak:
		return "Nak"
	default:
		return fmt.Sprintf("Type(%q)", byte(t))
	}
}

func (t Type) hasTo() bool {
	return t != TypeBeacon
}

func (t Type) hasGrid() bool {
	return t == TypeBeacon
}

func (t Type) hasSize() bool {
	return t != TypeAck && t != TypeNak
}

func (t Type) hasCheck() bool {
	return t == TypeMessage || t == TypeQuery || t == TypeResponse
}

// Frame is one ARIM frame. Size and Check are the values carried on the wire;
// for a received frame Check may disagree with the payload.
type Frame struct {
	Type    Type
	Version int

	From Call
	To   Call
	Grid GridSquare

	Size    int
	Check   uint16
	Payload []byte
}

// NewFrame builds a Message, Query or Response frame with size and checksum
// filled in.
func NewFrame(t Type, from, to Call, payload []byte) *Frame {
	return &Frame{
		Type:    t,
		Version: ProtocolVersion,
		From:    from,
		To:      to,
		Size:    len(payload),
		Check:   Checksum(payload),
		Payload: payload,
	}
}

// NewBeacon builds a beacon frame. grid may be empty.
func NewBeacon(from Call, grid GridSquare, payload []byte) *Frame {
	return &Frame{
		Type:    TypeBeacon,
		Version: ProtocolVersion,
		From:    from,
		Grid:    grid,
		Size:    len(payload),
		Payload: payload,
	}
}

// NewAck builds the acknowledgement sent by from for a frame received from
// to.
func NewAck(from, to Call) *Frame {
	return &Frame{
		Type:    TypeAck,
		Version: ProtocolVersion,
		From:    from,
		To:      to,
	}
}

// NewNak builds the negative acknowledgement sent by from for a frame
// received from to.
func NewNak(from, to Call) *Frame {
	return &Frame{
		Type:    TypeNak,
		Version: ProtocolVersion,
		From:    from,
		To:      to,
	}
}

// ChecksumOK reports whether the payload matches the carried checksum.
// Frames without a checksum field always match.
func (f *Frame) ChecksumOK() bool {
	if !f.Type.hasCheck() {
		return true
	}

	return Checksum(f.Payload) == f.Check
}

// Encode produces the exact wire form of the frame.
func (f *Frame) Encode() ([]byte, error) {
	if _, ok := ParseType(byte(f.Type)); !ok {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, byte(f.Type))
	}
	if f.From == "" {
		return nil, fmt.Errorf("%w: from", ErrMissingField)
	}
	if f.Type.hasTo() && f.To == "" {
		return nil, fmt.Errorf("%w: to", ErrMissingField)
	}
	if len(f.Payload) > MaxPayload {
		return nil, ErrPayloadSize
	}

	version := f.Version
	if version == 0 {
		version = ProtocolVersion
	}

	var b strings.Builder
	b.Grow(32 + len(f.Payload))

	fmt.Fprintf(&b, "|%c%02d|%s|", byte(f.Type), version, f.From)

	if f.Type.hasTo() {
		b.WriteString(string(f.To))
		b.WriteByte('|')
	}
	if f.Type.hasGrid() {
		b.WriteString(string(f.Grid))
		b.WriteByte('|')
	}
	if f.Type.hasSize() {
		fmt.Fprintf(&b, "%04X|", len(f.Payload))
	}
	if f.Type.hasCheck() {
		fmt.Fprintf(&b, "%04X|", f.Check)
	}
	if f.Type.hasSize() {
		b.Write(f.Payload)
	}

	return []byte(b.String()), nil
}

// String renders the header for log lines.
func (f *Frame) String() string {
	switch {
	case f.Type.hasGrid():
		return fmt.Sprintf("%v %s [%s] %d bytes", f.Type, f.From,
			f.Grid, len(f.Payload))

	case f.Type.hasSize():
		return fmt.Sprintf("%v %s>%s %d bytes", f.Type, f.From, f.To,
			len(f.Payload))

	default:
		return fmt.Sprintf("%v %s>%s", f.Type, f.From, f.To)
	}
}

// IsFrameStart reports whether p begins with an ARIM frame signature: a pipe,
// a type letter, two version digits and a pipe.
func IsFrameStart(p []byte) bool {
	if len(p) < 5 || p[0] != '|' || p[4] != '|' {
		return false
	}
	if _, ok := ParseType(p[1]); !ok {
		return false
	}

	return isDigit(p[2]) && isDigit(p[3])
}

// FindFrameStart returns the offset of the first frame signature in p, or -1.
func FindFrameStart(p []byte) int {
	for i := 0; i+5 <= len(p); i++ {
		if p[i] == '|' && IsFrameStart(p[i:]) {
			return i
		}
	}

	return -1
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f'
}
