package session

import (
	"github.com/arimnet/arimgo/arq"
)

// RequestKind names a user request.
type RequestKind uint8

const (
	// FEC requests.
	ReqMessage RequestKind = iota
	ReqQuery
	ReqBeacon
	ReqPing

	// ARQ requests.
	ReqConnect
	ReqDisconnect
	ReqAbort
	ReqSendFile
	ReqGetFile
	ReqListFiles
	ReqPutMessage
	ReqGetMessages
	ReqListMessages
	ReqAuth
	ReqText

	// ReqCancel stops everything in progress.
	ReqCancel
)

var requestNames = map[RequestKind]string{
	ReqMessage:      "message",
	ReqQuery:        "query",
	ReqBeacon:       "beacon",
	ReqPing:         "ping",
	ReqConnect:      "connect",
	ReqDisconnect:   "disconnect",
	ReqAbort:        "abort",
	ReqSendFile:     "send file",
	ReqGetFile:      "get file",
	ReqListFiles:    "list files",
	ReqPutMessage:   "put message",
	ReqGetMessages:  "get messages",
	ReqListMessages: "list messages",
	ReqAuth:         "auth",
	ReqText:         "text",
	ReqCancel:       "cancel",
}

func (k RequestKind) String() string {
	if name, ok := requestNames[k]; ok {
		return name
	}

	return "unknown"
}

// Request is one user command for the engine.
type Request struct {
	Kind RequestKind

	// Call is the remote station.
	Call string

	// Text is a query, a beacon text or a line of ARQ text.
	Text string

	// Name is a file name or directory.
	Name string

	// Data is a message body or file content.
	Data []byte

	// ID is the outbox ID of a message, moved to the sent folder once the
	// message is acknowledged.
	ID string

	// Bandwidth and Repeats apply to ReqConnect. Count applies to
	// ReqPing.
	Bandwidth string
	Repeats   int
	Count     int
}

// arqEvents maps ARQ requests onto machine events.
var arqEvents = map[RequestKind]arq.EventKind{
	ReqDisconnect:   arq.EvDisconnectReq,
	ReqAbort:        arq.EvCancel,
	ReqSendFile:     arq.EvSendFile,
	ReqGetFile:      arq.EvGetFile,
	ReqListFiles:    arq.EvGetListing,
	ReqPutMessage:   arq.EvSendMessage,
	ReqGetMessages:  arq.EvGetMessages,
	ReqListMessages: arq.EvListMessages,
	ReqAuth:         arq.EvAuthReq,
	ReqText:         arq.EvSendText,
}

func (r *Request) arqEvent() (arq.Event, bool) {
	kind, ok := arqEvents[r.Kind]
	if !ok {
		return arq.Event{}, false
	}

	name := r.Name
	if r.Kind == ReqPutMessage {
		name = r.ID
	}

	return arq.Event{
		Kind: kind,
		Name: name,
		Data: r.Data,
		Text: r.Text,
	}, true
}
