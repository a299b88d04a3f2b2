package arim

import (
	"fmt"
	"strconv"
	"time"
)

// parseState is the header field the parser expects next.
type parseState uint8

const (
	stateIdle parseState = iota
	stateType
	stateVersion
	stateVersionEnd
	stateFrom
	stateTo
	stateGrid
	stateSize
	stateCheck
	statePayload
	stateDone
	stateError
)

var parseStateNames = map[parseState]string{
	stateIdle:       "lead",
	stateType:       "type",
	stateVersion:    "version",
	stateVersionEnd: "version end",
	stateFrom:       "from",
	stateTo:         "to",
	stateGrid:       "grid",
	stateSize:       "size",
	stateCheck:      "check",
	statePayload:    "payload",
	stateDone:       "done",
	stateError:      "error",
}

func (s parseState) String() string {
	return parseStateNames[s]
}

// Result is the outcome of feeding bytes to a Parser.
type Result uint8

const (
	// NeedMore means every byte was consumed and the frame is not yet
	// complete.
	NeedMore Result = iota

	// Complete means a frame ended. Frame returns it.
	Complete

	// Failed means a malformed field was found. Err returns the cause and
	// Partial what was parsed up to that point.
	Failed
)

func (r Result) String() string {
	switch r {
	case NeedMore:
		return "NeedMore"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Parser is a streaming ARIM frame decoder. Bytes may arrive in pieces of any
// size. After Complete or Failed the parser stays put until Reset or Start.
type Parser struct {
	state parseState
	frame Frame
	field []byte

	err error

	started      time.Time
	lastActivity time.Time
}

// NewParser returns an idle parser.
func NewParser() *Parser {
	p := &Parser{}
	p.Reset()

	return p
}

// Reset abandons any frame in progress.
func (p *Parser) Reset() {
	p.state = stateIdle
	p.frame = Frame{}
	p.field = p.field[:0]
	p.err = nil
	p.started = time.Time{}
	p.lastActivity = time.Time{}
}

// Start resets the parser for a new frame that begins at now. A frame in
// progress is dropped.
func (p *Parser) Start(now time.Time) {
	if p.InProgress() {
		log.Debugf("New frame start drops partial %v frame in %v",
			p.frame.Type, p.state)
	}

	p.Reset()
	p.started = now
	p.lastActivity = now
}

// InProgress reports whether a frame has started and not yet ended.
func (p *Parser) InProgress() bool {
	switch p.state {
	case stateDone, stateError:
		return false
	case stateIdle:
		return !p.started.IsZero()
	default:
		return true
	}
}

// Progress returns how many payload bytes have arrived and how many are
// expected. Both are zero before the size field is known.
func (p *Parser) Progress() (int, int) {
	if p.state < statePayload {
		return 0, 0
	}

	return len(p.frame.Payload), p.frame.Size
}

// Receiving reports whether the parser is reading payload bytes.
func (p *Parser) Receiving() bool {
	return p.state == statePayload
}

// Stale reports whether a frame in progress has seen no bytes for longer
// than timeout.
func (p *Parser) Stale(now time.Time, timeout time.Duration) bool {
	return p.InProgress() && now.Sub(p.lastActivity) > timeout
}

// Frame returns the frame after Complete.
func (p *Parser) Frame() *Frame {
	if p.state != stateDone {
		return nil
	}

	f := p.frame
	return &f
}

// Partial returns whatever fields were parsed so far.
func (p *Parser) Partial() Frame {
	return p.frame
}

// Err returns the cause of Failed.
func (p *Parser) Err() error {
	return p.err
}

// Feed consumes bytes until the frame completes, fails or b runs out. It
// returns the number of bytes consumed; bytes after a completed frame are
// left for the caller.
func (p *Parser) Feed(now time.Time, b []byte) (int, Result) {
	switch p.state {
	case stateDone:
		return 0, Complete
	case stateError:
		return 0, Failed
	}

	if len(b) > 0 {
		if p.started.IsZero() {
			p.started = now
		}
		p.lastActivity = now
	}

	for i := 0; i < len(b); i++ {
		if p.state == statePayload {
			want := p.frame.Size - len(p.frame.Payload)
			n := len(b) - i
			if n > want {
				n = want
			}
			p.frame.Payload = append(p.frame.Payload, b[i:i+n]...)
			i += n - 1

			if len(p.frame.Payload) == p.frame.Size {
				p.state = stateDone
				return i + 1, Complete
			}
			continue
		}

		p.step(b[i])

		switch p.state {
		case stateDone:
			return i + 1, Complete
		case stateError:
			return i + 1, Failed
		}
	}

	return len(b), NeedMore
}

func (p *Parser) fail(c byte) {
	p.failWith(fmt.Errorf("%w: unexpected %q in %v field", ErrMalformed,
		c, p.state))
}

func (p *Parser) failWith(err error) {
	p.err = err
	log.Debugf("ARIM parse error after %q: %v", p.frame.String(), err)
	p.state = stateError
}

// step advances the header state machine by one byte.
func (p *Parser) step(c byte) { // nolint:gocyclo
	switch p.state {
	case stateIdle:
		if c != '|' {
			p.fail(c)
			return
		}
		p.state = stateType

	case stateType:
		t, ok := ParseType(c)
		if !ok {
			p.fail(c)
			return
		}
		p.frame.Type = t
		p.state = stateVersion

	case stateVersion:
		if !isDigit(c) {
			p.fail(c)
			return
		}
		p.field = append(p.field, c)
		if len(p.field) < 2 {
			return
		}

		v, _ := strconv.Atoi(string(p.field))
		p.field = p.field[:0]
		if v != ProtocolVersion {
			p.failWith(fmt.Errorf("%w: %02d", ErrVersion, v))
			return
		}
		p.frame.Version = v
		p.state = stateVersionEnd

	case stateVersionEnd:
		if c != '|' {
			p.fail(c)
			return
		}
		p.state = stateFrom

	case stateFrom, stateTo:
		if c != '|' {
			if !isCallByte(c) || len(p.field) >= MaxCallLen {
				p.fail(c)
				return
			}
			p.field = append(p.field, c)
			return
		}

		call, err := ParseCall(string(p.field))
		p.field = p.field[:0]
		if err != nil {
			p.failWith(err)
			return
		}

		if p.state == stateFrom {
			p.frame.From = call
			switch {
			case p.frame.Type.hasTo():
				p.state = stateTo
			default:
				p.state = stateGrid
			}
			return
		}

		p.frame.To = call
		if p.frame.Type.hasSize() {
			p.state = stateSize
		} else {
			p.state = stateDone
		}

	case stateGrid:
		if c != '|' {
			if !isGridByte(c) || len(p.field) >= MaxGridLen {
				p.fail(c)
				return
			}
			p.field = append(p.field, c)
			return
		}

		if len(p.field) > 0 {
			grid, err := ParseGridSquare(string(p.field))
			if err != nil {
				p.field = p.field[:0]
				p.failWith(err)
				return
			}
			p.frame.Grid = grid
		}
		p.field = p.field[:0]
		p.state = stateSize

	case stateSize, stateCheck:
		if len(p.field) < 4 {
			if !isHex(c) {
				p.fail(c)
				return
			}
			p.field = append(p.field, c)
			return
		}
		if c != '|' {
			p.fail(c)
			return
		}

		v, _ := strconv.ParseUint(string(p.field), 16, 16)
		p.field = p.field[:0]

		if p.state == stateSize {
			p.frame.Size = int(v)
			if p.frame.Type.hasCheck() {
				p.state = stateCheck
				return
			}
		} else {
			p.frame.Check = uint16(v)
		}

		p.frame.Payload = make([]byte, 0, p.frame.Size)
		if p.frame.Size == 0 {
			p.state = stateDone
		} else {
			p.state = statePayload
		}
	}
}

// Decode parses exactly one frame from b.
func Decode(b []byte) (*Frame, error) {
	p := NewParser()

	_, res := p.Feed(time.Now(), b)
	switch res {
	case Complete:
		return p.Frame(), nil
	case Failed:
		return nil, p.Err()
	default:
		return nil, ErrIncomplete
	}
}
