package ardop

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// frameHeaderLen is the length prefix plus the tag.
	frameHeaderLen = 5

	tagLen = 3
)

// TncFrame is one frame read from the data channel:
// [len_hi][len_lo][3 byte tag][payload], where len counts the tag and the
// payload.
type TncFrame struct {
	Tag     string
	Payload []byte
}

// Serialize produces the wire form of the frame.
func (f *TncFrame) Serialize() ([]byte, error) {
	if !knownTag(f.Tag) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, f.Tag)
	}

	size := tagLen + len(f.Payload)
	if size > 0xffff {
		return nil, ErrBlockTooLarge
	}

	var buf bytes.Buffer
	buf.Grow(2 + size)

	var lenField [2]byte
	binary.BigEndian.PutUint16(lenField[:], uint16(size))
	buf.Write(lenField[:])
	buf.WriteString(f.Tag)
	buf.Write(f.Payload)

	return buf.Bytes(), nil
}

// ParseTncFrame decodes exactly one complete frame. Bytes past the declared
// length are ignored.
func ParseTncFrame(b []byte) (*TncFrame, error) {
	if len(b) < frameHeaderLen {
		return nil, ErrShortFrame
	}

	tag := string(b[2:frameHeaderLen])
	if !knownTag(tag) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}

	size := int(binary.BigEndian.Uint16(b[:2]))
	if size < tagLen {
		return nil, ErrBadLength
	}
	if size > len(b)-2 {
		return nil, ErrShortFrame
	}

	payload := make([]byte, size-tagLen)
	copy(payload, b[frameHeaderLen:2+size])

	return &TncFrame{Tag: tag, Payload: payload}, nil
}

// EncodeData prefixes one host-to-TNC data block with its 2 byte big-endian
// length.
func EncodeData(p []byte) ([]byte, error) {
	if len(p) > 0xffff {
		return nil, ErrBlockTooLarge
	}

	out := make([]byte, 2+len(p))
	binary.BigEndian.PutUint16(out, uint16(len(p)))
	copy(out[2:], p)

	return out, nil
}

func knownTag(tag string) bool {
	switch tag {
	case TagARQ, TagFEC, TagERR, TagIDF:
		return true
	default:
		return false
	}
}
