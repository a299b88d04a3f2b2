// Package ardop talks to an ARDOP TNC over its two TCP sockets: the CR
// terminated command channel and the length prefixed data channel.
package ardop

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultAddr = "localhost:8515" // The default command port address of the TNC

	// PollInterval is the read deadline used by both socket loops.
	PollInterval = 200 * time.Millisecond

	// MaxCmdLen is the size of the command channel accumulator. A record
	// longer than this has lost sync and is discarded.
	MaxCmdLen = 1024

	// MaxDataLen is the size of the data channel accumulator.
	MaxDataLen = 8192

	// BlockSize is the largest host-to-TNC data block and also the buffer
	// occupancy at which the TNC is considered full.
	BlockSize = 2048
)

// Data channel frame tags.
const (
	TagARQ = "ARQ"
	TagFEC = "FEC"
	TagERR = "ERR"
	TagIDF = "IDF"
)

var (
	ErrTNCClosed     = errors.New("TNC closed")
	ErrNotAttached   = errors.New("TNC not attached")
	ErrShortFrame    = errors.New("data frame too short")
	ErrUnknownTag    = errors.New("unknown data frame tag")
	ErrBadLength     = errors.New("bad data frame length")
	ErrBlockTooLarge = errors.New("data block exceeds 65535 bytes")
)

// Command names sent to the TNC.
const (
	CmdInitialize    = "INITIALIZE"
	CmdMyCall        = "MYCALL"
	CmdGridSquare    = "GRIDSQUARE"
	CmdProtocolMode  = "PROTOCOLMODE"
	CmdListen        = "LISTEN"
	CmdEnablePingAck = "ENABLEPINGACK"
	CmdFECMode       = "FECMODE"
	CmdFECRepeats    = "FECREPEATS"
	CmdFECID         = "FECID"
	CmdFECSend       = "FECSEND"
	CmdARQBW         = "ARQBW"
	CmdARQCall       = "ARQCALL"
	CmdBusyDet       = "BUSYDET"
	CmdLeader        = "LEADER"
	CmdTrailer       = "TRAILER"
	CmdSquelch       = "SQUELCH"
	CmdVersion       = "VERSION"
	CmdNegotiateBW   = "NEGOTIATEBW"
	CmdDisconnect    = "DISCONNECT"
	CmdAbort         = "ABORT"
	CmdPing          = "PING"
	CmdState         = "STATE"
	CmdBuffer        = "BUFFER"
)

// TNC states as reported by NEWSTATE and STATE.
const (
	Unknown      State = iota
	Offline            // Sound card disabled
	Disconnected       // No session, sound card active
	ISS                // Information Sending Station
	IRS                // Information Receiving Station
	Idle               // Connected, no data flowing
	FECSend            // Sending FEC data
	FECReceive         // Receiving FEC data
)

// State is the protocol state the TNC reports.
type State uint8

var stateMap = map[string]State{
	"":        Unknown,
	"OFFLINE": Offline,
	"DISC":    Disconnected,
	"ISS":     ISS,
	"IRS":     IRS,
	"IDLE":    Idle,
	"QUIET":   Idle,
	"FECSEND": FECSend,
	"FECRCV":  FECReceive,
}

var stateNames = map[State]string{
	Unknown:      "UNKNOWN",
	Offline:      "OFFLINE",
	Disconnected: "DISC",
	ISS:          "ISS",
	IRS:          "IRS",
	Idle:         "IDLE",
	FECSend:      "FECSend",
	FECReceive:   "FECRcv",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}

// ParseState maps a TNC state name to a State.
func ParseState(str string) (State, bool) {
	state, ok := stateMap[strings.ToUpper(str)]
	return state, ok
}

// BoolArg formats a boolean the way the TNC expects it.
func BoolArg(b bool) string {
	if b {
		return "TRUE"
	}

	return "FALSE"
}

// parseBoolArg reads TRUE/FALSE arguments case-insensitively.
func parseBoolArg(s string) (bool, bool) {
	switch strings.ToUpper(s) {
	case "TRUE":
		return true, true
	case "FALSE":
		return false, true
	default:
		return false, false
	}
}
