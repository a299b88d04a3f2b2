package ardop

import (
	"encoding/binary"
)

// FrameHandler receives complete data channel frames.
type FrameHandler interface {
	HandleFrame(f *TncFrame)
}

// FrameHandlerFunc adapts a function to the FrameHandler interface.
type FrameHandlerFunc func(f *TncFrame)

// HandleFrame calls fn(f).
func (fn FrameHandlerFunc) HandleFrame(f *TncFrame) {
	fn(f)
}

// DataDecoder reassembles data channel frames from arbitrary sized reads.
// Exactly one frame is taken from each accumulator cycle: after a frame is
// dispatched the whole accumulator is cleared, including any bytes beyond the
// frame. Corruption (unknown tag, non-positive length, overflow) discards the
// accumulator and decoding resumes with the next read.
type DataDecoder struct {
	handler FrameHandler

	buf []byte

	// discarded counts bytes thrown away because of corruption.
	discarded uint64
}

// NewDataDecoder creates a decoder delivering frames to handler.
func NewDataDecoder(handler FrameHandler) *DataDecoder {
	return &DataDecoder{
		handler: handler,
		buf:     make([]byte, 0, MaxDataLen),
	}
}

// Reset drops any partial frame.
func (d *DataDecoder) Reset() {
	d.buf = d.buf[:0]
}

// Discarded returns the number of bytes dropped because of corruption.
func (d *DataDecoder) Discarded() uint64 {
	return d.discarded
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *DataDecoder) Buffered() int {
	return len(d.buf)
}

// Write feeds bytes read from the data socket. It never fails.
func (d *DataDecoder) Write(p []byte) (int, error) {
	if len(d.buf)+len(p) > MaxDataLen {
		log.Warnf("Data accumulator overflow (%d + %d bytes), "+
			"discarding", len(d.buf), len(p))
		d.discard()

		// A single read larger than the accumulator cannot hold a
		// valid frame either.
		if len(p) > MaxDataLen {
			d.discarded += uint64(len(p))
			return len(p), nil
		}
	}
	d.buf = append(d.buf, p...)

	d.process()

	return len(p), nil
}

func (d *DataDecoder) discard() {
	d.discarded += uint64(len(d.buf))
	d.buf = d.buf[:0]
}

func (d *DataDecoder) process() {
	if len(d.buf) < frameHeaderLen {
		return
	}

	tag := string(d.buf[2:frameHeaderLen])
	size := int(binary.BigEndian.Uint16(d.buf[:2]))

	if !knownTag(tag) || size <= 0 {
		log.Warnf("Corrupt data frame header % x, discarding %d bytes",
			d.buf[:frameHeaderLen], len(d.buf))
		d.discard()
		return
	}

	if size < tagLen {
		log.Warnf("Data frame length %d shorter than its tag, "+
			"discarding", size)
		d.discard()
		return
	}

	if size > len(d.buf)-2 {
		log.Tracef("Partial %s frame, have %d of %d bytes", tag,
			len(d.buf)-2, size)
		return
	}

	payload := make([]byte, size-tagLen)
	copy(payload, d.buf[frameHeaderLen:2+size])

	if extra := len(d.buf) - 2 - size; extra > 0 {
		log.Debugf("Dropping %d bytes after %s frame", extra, tag)
	}
	d.buf = d.buf[:0]

	log.Tracef("Data frame %s, %d bytes", tag, len(payload))

	if d.handler != nil {
		d.handler.HandleFrame(&TncFrame{Tag: tag, Payload: payload})
	}
}
