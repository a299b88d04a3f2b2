package arq

import (
	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/queue"
)

// EventKind names what happened.
type EventKind uint8

const (
	// TNC events.
	EvConnected EventKind = iota
	EvDisconnected
	EvPending
	EvCancelPending
	EvRejectedBusy
	EvRejectedBW
	EvNewState
	EvPeriodic
	EvPTT
	EvData
	EvTxComplete

	// User requests.
	EvConnectReq
	EvDisconnectReq
	EvCancel
	EvSendFile
	EvGetFile
	EvGetListing
	EvSendMessage
	EvGetMessages
	EvListMessages
	EvSendText
	EvAuthReq

	// Raised by the machine itself.
	EvAuthOK
	EvAuthError
	EvCancelWait
	EvFileError

	// Raised by the engine when queued bytes could not be written.
	EvSendError
)

var eventNames = map[EventKind]string{
	EvConnected:     "CONNECTED",
	EvDisconnected:  "DISCONNECTED",
	EvPending:       "PENDING",
	EvCancelPending: "CANCELPENDING",
	EvRejectedBusy:  "REJECTEDBUSY",
	EvRejectedBW:    "REJECTEDBW",
	EvNewState:      "TNC_NEWSTATE",
	EvPeriodic:      "PERIODIC",
	EvPTT:           "PTT",
	EvData:          "DATA",
	EvTxComplete:    "TX_COMPLETE",
	EvConnectReq:    "CONNECT_REQ",
	EvDisconnectReq: "DISCONNECT_REQ",
	EvCancel:        "CANCEL",
	EvSendFile:      "SEND_FILE",
	EvGetFile:       "GET_FILE",
	EvGetListing:    "GET_LISTING",
	EvSendMessage:   "SEND_MESSAGE",
	EvGetMessages:   "GET_MESSAGES",
	EvListMessages:  "LIST_MESSAGES",
	EvSendText:      "SEND_TEXT",
	EvAuthReq:       "AUTH_REQ",
	EvAuthOK:        "ARQ_AUTH_OK",
	EvAuthError:     "ARQ_AUTH_ERROR",
	EvCancelWait:    "ARQ_CANCEL_WAIT",
	EvFileError:     "ARQ_FILE_ERROR",
	EvSendError:     "ARQ_SEND_ERROR",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}

	return "UNKNOWN"
}

// Event is one input to Step. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Call is the remote call of CONNECTED and the target of a connect
	// request.
	Call string
	Grid string

	// Bandwidth is the negotiated bandwidth of CONNECTED or the requested
	// one of a connect request, where BandwidthAny asks for downshift.
	Bandwidth string

	Repeats int

	// On is the PTT flag.
	On bool

	TncState ardop.State

	// Name is a file name, a directory or a message ID.
	Name string

	// Data is received ARQ bytes, file content or a message body.
	Data []byte

	// Text is free text to send or an error description.
	Text string

	// DataKind is the scheduler context a TxComplete refers to.
	DataKind queue.DataKind
}

// BandwidthAny requests the version specific downshift list.
const BandwidthAny = "any"

// EffectKind names what Step asks its caller to do.
type EffectKind uint8

const (
	// EffSendCommand sends Text on the TNC command channel.
	EffSendCommand EffectKind = iota

	// EffSendData hands Data to the transmission scheduler as DataKind.
	EffSendData

	// EffCancelTx resets the transmission scheduler.
	EffCancelTx

	// EffPost writes Text to Stream.
	EffPost

	// EffStoreMessage stores Data as a message from Call.
	EffStoreMessage

	// EffStoreFile saves Data as download Name.
	EffStoreFile

	// EffMarkSent moves outbound message Name to the sent folder.
	EffMarkSent

	// EffNotify reports a session milestone in Text, with Call the remote
	// station.
	EffNotify
)

// Effect is one action requested by Step.
type Effect struct {
	Kind EffectKind

	Text     string
	Data     []byte
	DataKind queue.DataKind
	Stream   queue.Stream
	Name     string
	Call     string
}

// Notification texts carried by EffNotify.
const (
	NotifyConnected    = "connected"
	NotifyDisconnected = "disconnected"
	NotifyFailed       = "failed"
	NotifyAuthOK       = "authenticated"
	NotifyAuthFailed   = "auth failed"
)
