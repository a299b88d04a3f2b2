package queue

import (
	"time"
	"unicode/utf8"
)

const (
	// MaxLineLen is the longest text a Line record carries. Longer text is
	// cut by NewLine to fit, marker included.
	MaxLineLen = 512

	// TruncMark ends text cut by NewLine.
	TruncMark = "..."

	// DefaultLineCap is the default capacity of a line ring.
	DefaultLineCap = 256

	// DefaultDataCap is the default capacity of a data ring.
	DefaultDataCap = 32
)

// Stream names the consumer a Line record is meant for.
type Stream uint8

const (
	StreamTraffic Stream = iota
	StreamDebug
	StreamHeard
	StreamPing
	StreamConn
	StreamFile
	StreamStatus
)

var streamNames = map[Stream]string{
	StreamTraffic: "traffic",
	StreamDebug:   "debug",
	StreamHeard:   "heard",
	StreamPing:    "ping",
	StreamConn:    "conn",
	StreamFile:    "file",
	StreamStatus:  "status",
}

// String returns the lower case name of the stream.
func (s Stream) String() string {
	if name, ok := streamNames[s]; ok {
		return name
	}

	return "unknown"
}

// Streams returns every defined stream in declaration order.
func Streams() []Stream {
	return []Stream{
		StreamTraffic, StreamDebug, StreamHeard, StreamPing, StreamConn,
		StreamFile, StreamStatus,
	}
}

// Line is a short text record: a command line for the TNC or a line for one
// of the UI/log streams.
type Line struct {
	Stream Stream
	Time   time.Time
	Text   string
}

// NewLine builds a Line. Text longer than MaxLineLen is cut on a rune
// boundary and ends in TruncMark.
func NewLine(stream Stream, at time.Time, text string) Line {
	if len(text) > MaxLineLen {
		cut := MaxLineLen - len(TruncMark)
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + TruncMark
	}

	return Line{Stream: stream, Time: at, Text: text}
}

// DataKind identifies which transfer context a Data record feeds.
type DataKind uint8

const (
	// KindLine is generic line data: ARQ text and FEC frames.
	KindLine DataKind = iota

	// KindFile is file content sent in an ARQ session.
	KindFile

	// KindMessage is message content sent in an ARQ session.
	KindMessage
)

// String returns a short name for the kind.
func (k DataKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindFile:
		return "file"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Data is an outbound payload waiting for the transmission scheduler.
type Data struct {
	Kind DataKind

	// Name is the file name for KindFile, otherwise a short description
	// used in log lines.
	Name string

	Payload []byte

	// FEC marks payloads that must be followed by a FECSEND command once
	// they are handed to the TNC.
	FEC bool
}
