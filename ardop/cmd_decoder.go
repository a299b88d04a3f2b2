package ardop

import (
	"strconv"
	"strings"
)

// EventKind names the events raised by the command channel decoder.
type EventKind uint8

const (
	// EventOther is raised for records that only update the TncState or
	// are not recognized.
	EventOther EventKind = iota
	EventConnected
	EventDisconnected
	EventPending
	EventCancelPending
	EventRejectedBusy
	EventRejectedBW
	EventNewState
	EventTarget
	EventPTT
	EventBusy
	EventBuffer
	EventPing
	EventPingAck
	EventPingReply
	EventVersion
	EventFault
)

var eventNames = map[EventKind]string{
	EventOther:         "OTHER",
	EventConnected:     "CONNECTED",
	EventDisconnected:  "DISCONNECTED",
	EventPending:       "PENDING",
	EventCancelPending: "CANCELPENDING",
	EventRejectedBusy:  "REJECTEDBUSY",
	EventRejectedBW:    "REJECTEDBW",
	EventNewState:      "TNC_NEWSTATE",
	EventTarget:        "TARGET",
	EventPTT:           "TNC_PTT",
	EventBusy:          "TNC_BUSY",
	EventBuffer:        "TNC_BUFFER",
	EventPing:          "PING",
	EventPingAck:       "PINGACK",
	EventPingReply:     "PINGREPLY",
	EventVersion:       "VERSION",
	EventFault:         "FAULT",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}

	return "UNKNOWN"
}

// Event is one classified command channel record.
type Event struct {
	Kind EventKind

	// Call is the remote call for CONNECTED, the target for TARGET and
	// the caller for PING.
	Call string

	// Target is the called station for PING.
	Target string

	Grid      string
	Bandwidth string
	State     State

	// On carries the flag of PTT and BUSY.
	On bool

	// Count carries BUFFER occupancy.
	Count int

	SNR     int
	Quality int

	Version Version

	// Raw is the complete record as received, without the CR.
	Raw string
}

// EventHandler receives decoded command channel events. It is called from the
// goroutine feeding the decoder.
type EventHandler interface {
	HandleEvent(ev Event)
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f EventHandlerFunc) HandleEvent(ev Event) {
	f(ev)
}

// CommandSender writes one command line to the TNC.
type CommandSender interface {
	SendCommand(cmd string) error
}

// CmdDecoder splits the command channel byte stream into CR terminated
// records, applies them to the TncState and raises events.
type CmdDecoder struct {
	state   *TncState
	sender  CommandSender
	handler EventHandler

	// negotiateBW is the value sent with NEGOTIATEBW to TNCs that support
	// it.
	negotiateBW bool

	// negotiated is set once NEGOTIATEBW has been sent for the current
	// attach.
	negotiated bool

	buf []byte
}

// NewCmdDecoder creates a decoder bound to the given TNC state.
func NewCmdDecoder(state *TncState, sender CommandSender,
	handler EventHandler, negotiateBW bool) *CmdDecoder {

	return &CmdDecoder{
		state:       state,
		sender:      sender,
		handler:     handler,
		negotiateBW: negotiateBW,
		buf:         make([]byte, 0, MaxCmdLen),
	}
}

// Reset drops any partial record and re-arms the one-time version
// negotiation. It is called on every new attach.
func (d *CmdDecoder) Reset() {
	d.buf = d.buf[:0]
	d.negotiated = false
}

// Write feeds bytes read from the command socket. It never fails: a record
// that overruns the accumulator is discarded and decoding resumes with the
// next byte.
func (d *CmdDecoder) Write(p []byte) (int, error) {
	for _, b := range p {
		switch b {
		case '\r':
			record := string(d.buf)
			d.buf = d.buf[:0]
			if record != "" {
				d.dispatch(record)
			}
			continue

		case '\n', 0:
			continue
		}

		if len(d.buf) >= MaxCmdLen {
			log.Warnf("Command record exceeds %d bytes, "+
				"discarding", MaxCmdLen)
			d.buf = d.buf[:0]
		}
		d.buf = append(d.buf, b)
	}

	return len(p), nil
}

func (d *CmdDecoder) send(cmd string) {
	if d.sender == nil {
		return
	}

	if err := d.sender.SendCommand(cmd); err != nil {
		log.Errorf("Unable to send %q: %v", cmd, err)
	}
}

// dispatch classifies one record by its leading token.
func (d *CmdDecoder) dispatch(record string) { // nolint:gocyclo
	log.Tracef("<< %s", record)

	fields := strings.Fields(record)
	if len(fields) == 0 {
		return
	}

	token := strings.ToUpper(fields[0])
	args := fields[1:]
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	ev := Event{Kind: EventOther, Raw: record}

	switch token {
	case "BUFFER":
		n, err := strconv.Atoi(arg)
		if err != nil {
			log.Warnf("Bad BUFFER record %q", record)
			break
		}
		d.state.SetBuffer(n)
		ev.Kind = EventBuffer
		ev.Count = n

	case "NEWSTATE", "STATE":
		st, _ := ParseState(arg)
		d.state.Update(func(info *TncInfo) {
			info.TncState = st
		})
		ev.Kind = EventNewState
		ev.State = st

	case "CANCELPENDING":
		ev.Kind = EventCancelPending

	case "PENDING":
		ev.Kind = EventPending

	case "DISCONNECTED":
		d.state.Update(func(info *TncInfo) {
			info.RemoteCall = ""
			info.RemoteGrid = ""
			info.ConnectedBW = ""
		})
		ev.Kind = EventDisconnected

	case "CONNECTED":
		ev.Kind = EventConnected
		ev.Call, ev.Bandwidth, ev.Grid = d.parseConnected(args)
		d.state.Update(func(info *TncInfo) {
			info.RemoteCall = ev.Call
			info.RemoteGrid = ev.Grid
			info.ConnectedBW = ev.Bandwidth
		})

	case "TARGET":
		d.state.Update(func(info *TncInfo) {
			info.TargetCall = strings.ToUpper(arg)
		})
		ev.Kind = EventTarget
		ev.Call = strings.ToUpper(arg)

	case "REJECTEDBUSY":
		ev.Kind = EventRejectedBusy
		ev.Call = strings.ToUpper(arg)

	case "REJECTEDBW":
		ev.Kind = EventRejectedBW
		ev.Call = strings.ToUpper(arg)

	case "LISTEN":
		if on, ok := parseBoolArg(arg); ok {
			d.state.Update(func(info *TncInfo) {
				info.Listen = on
			})
		}

	case "ENABLEPINGACK":
		if on, ok := parseBoolArg(arg); ok {
			d.state.Update(func(info *TncInfo) {
				info.PingAck = on
			})
		}

	case "PINGACK":
		ev.Kind = EventPingAck
		if len(args) >= 2 {
			ev.SNR, _ = strconv.Atoi(args[0])
			ev.Quality, _ = strconv.Atoi(args[1])
		}

	case "PINGREPLY":
		ev.Kind = EventPingReply

	case "PING":
		// PING caller>target snr quality
		ev.Kind = EventPing
		if calls := strings.SplitN(arg, ">", 2); len(calls) == 2 {
			ev.Call = strings.ToUpper(calls[0])
			ev.Target = strings.ToUpper(calls[1])
		}
		if len(args) >= 3 {
			ev.SNR, _ = strconv.Atoi(args[1])
			ev.Quality, _ = strconv.Atoi(args[2])
		}

	case "PTT":
		on, ok := parseBoolArg(arg)
		if !ok {
			break
		}
		d.state.Update(func(info *TncInfo) {
			info.PTT = on
		})
		ev.Kind = EventPTT
		ev.On = on

	case "BUSY":
		on, ok := parseBoolArg(arg)
		if !ok {
			break
		}
		d.state.Update(func(info *TncInfo) {
			info.Busy = on
		})
		ev.Kind = EventBusy
		ev.On = on

	case "FECMODE":
		d.state.Update(func(info *TncInfo) {
			info.FECMode = strings.ToUpper(arg)
		})

	case "FECREPEATS":
		if n, err := strconv.Atoi(arg); err == nil {
			d.state.Update(func(info *TncInfo) {
				info.FECRepeats = n
			})
		}

	case "FECID":
		if on, ok := parseBoolArg(arg); ok {
			d.state.Update(func(info *TncInfo) {
				info.FECID = on
			})
		}

	case "MYCALL":
		d.state.Update(func(info *TncInfo) {
			info.MyCall = strings.ToUpper(arg)
		})

	case "GRIDSQUARE":
		d.state.Update(func(info *TncInfo) {
			info.GridSquare = arg
		})

	case "SQUELCH", "BUSYDET", "LEADER", "TRAILER":
		n, err := strconv.Atoi(arg)
		if err != nil {
			break
		}
		d.state.Update(func(info *TncInfo) {
			switch token {
			case "SQUELCH":
				info.Squelch = n
			case "BUSYDET":
				info.BusyDet = n
			case "LEADER":
				info.Leader = n
			case "TRAILER":
				info.Trailer = n
			}
		})

	case "ARQBW":
		d.state.SetARQBandwidth(strings.ToUpper(arg))

	case "VERSION":
		ver, err := ParseVersion(strings.Join(args, " "))
		if err != nil {
			log.Warnf("Bad VERSION record %q: %v", record, err)
			break
		}
		d.state.Update(func(info *TncInfo) {
			info.Version = ver
		})
		ev.Kind = EventVersion
		ev.Version = ver
		d.negotiate(ver)

	case "FAULT":
		ev.Kind = EventFault
		log.Warnf("TNC fault: %s", record)

	default:
		log.Debugf("Unhandled command record %q", record)
	}

	if d.handler != nil {
		d.handler.HandleEvent(ev)
	}
}

// parseConnected splits "CONNECTED <call> <bw> [<grid>]". The bracketed grid
// square is only sent by protocol version 2 TNCs.
func (d *CmdDecoder) parseConnected(args []string) (string, string, string) {
	tokens := strings.FieldsFunc(strings.Join(args, " "), func(r rune) bool {
		return r == ' ' || r == '[' || r == ']'
	})

	var call, bw, grid string
	if len(tokens) > 0 {
		call = strings.ToUpper(tokens[0])
	}
	if len(tokens) > 1 {
		bw = tokens[1]
	}
	if len(tokens) > 2 && d.state.Version().Major >= 2 {
		grid = tokens[2]
	}

	return call, bw, grid
}

// negotiate sends NEGOTIATEBW once per attach to TNCs that support it and
// then replaces cached FEC mode and ARQ bandwidth settings the TNC version
// does not accept, re-emitting both.
func (d *CmdDecoder) negotiate(ver Version) {
	if ver.SupportsNegotiateBW() && !d.negotiated {
		d.negotiated = true
		d.send(CmdNegotiateBW + " " + BoolArg(d.negotiateBW))
	}

	var fecMode, arqBW string
	d.state.Update(func(info *TncInfo) {
		if !ValidFECMode(ver.Major, info.FECMode) {
			log.Infof("FEC mode %q not valid for TNC version %v, "+
				"using %s", info.FECMode, ver,
				DefaultFECMode(ver.Major))
			info.FECMode = DefaultFECMode(ver.Major)
		}
		if !ValidARQBandwidth(ver.Major, info.ARQBandwidth) {
			log.Infof("ARQ bandwidth %q not valid for TNC version "+
				"%v, using %s", info.ARQBandwidth, ver,
				DefaultARQBandwidth(ver.Major))
			info.ARQBandwidth = DefaultARQBandwidth(ver.Major)
			info.ARQBandwidthHz = BandwidthHz(info.ARQBandwidth)
		}
		fecMode = info.FECMode
		arqBW = info.ARQBandwidth
	})

	d.send(CmdFECMode + " " + fecMode)
	d.send(CmdARQBW + " " + arqBW)
}
