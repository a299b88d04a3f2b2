// Package arq runs the ARQ session and authentication state machine. All
// transitions go through Step, a pure function of the current Session, one
// Event and a read-only Env. Step never performs I/O; what should happen is
// returned as a list of Effects for the caller to carry out.
package arq

// State is the ARQ session state.
type State uint8

const (
	StateIdle State = iota
	StateOutConnectWait
	StateInConnectWait
	StateConnected
	StateDisconnectWait

	StateAuthSendA1
	StateAuthSendA2
	StateAuthSendA3
	StateAuthRcvA2Wait
	StateAuthRcvA3Wait
	StateAuthRcvA4Wait

	StateFileSend
	StateFileSendAckWait
	StateFileRcvWait
	StateFileRcv

	StateFListSend
	StateFListSendAckWait
	StateFListRcvWait
	StateFListRcv

	StateMsgSend
	StateMsgSendAckWait
	StateMsgRcvWait
	StateMsgRcv
)

var stateNames = map[State]string{
	StateIdle:             "Idle",
	StateOutConnectWait:   "OutConnectWait",
	StateInConnectWait:    "InConnectWait",
	StateConnected:        "Connected",
	StateDisconnectWait:   "DisconnectWait",
	StateAuthSendA1:       "AuthSendA1",
	StateAuthSendA2:       "AuthSendA2",
	StateAuthSendA3:       "AuthSendA3",
	StateAuthRcvA2Wait:    "AuthRcvA2Wait",
	StateAuthRcvA3Wait:    "AuthRcvA3Wait",
	StateAuthRcvA4Wait:    "AuthRcvA4Wait",
	StateFileSend:         "FileSend",
	StateFileSendAckWait:  "FileSendAckWait",
	StateFileRcvWait:      "FileRcvWait",
	StateFileRcv:          "FileRcv",
	StateFListSend:        "FListSend",
	StateFListSendAckWait: "FListSendAckWait",
	StateFListRcvWait:     "FListRcvWait",
	StateFListRcv:         "FListRcv",
	StateMsgSend:          "MsgSend",
	StateMsgSendAckWait:   "MsgSendAckWait",
	StateMsgRcvWait:       "MsgRcvWait",
	StateMsgRcv:           "MsgRcv",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "Unknown"
}

// InSession reports whether a link to a remote station is up.
func (s State) InSession() bool {
	return s >= StateConnected && s != StateDisconnectWait
}

// sending reports whether outbound bytes are being handed to the TNC. Each
// sending state has a matching wait state entered on TxComplete.
func (s State) sending() bool {
	switch s {
	case StateAuthSendA1, StateAuthSendA2, StateAuthSendA3,
		StateFileSend, StateFListSend, StateMsgSend:

		return true
	}

	return false
}

// afterSend returns the state entered once a sending state's bytes are all
// with the TNC.
func (s State) afterSend() State {
	switch s {
	case StateAuthSendA1:
		return StateAuthRcvA2Wait
	case StateAuthSendA2:
		return StateAuthRcvA3Wait
	case StateAuthSendA3:
		return StateAuthRcvA4Wait
	case StateFileSend:
		return StateFileSendAckWait
	case StateFListSend:
		return StateFListSendAckWait
	case StateMsgSend:
		return StateMsgSendAckWait
	default:
		return s
	}
}

// waiting reports whether the remote station owes a reply.
func (s State) waiting() bool {
	switch s {
	case StateAuthRcvA2Wait, StateAuthRcvA3Wait, StateAuthRcvA4Wait,
		StateFileSendAckWait, StateFileRcvWait,
		StateFListSendAckWait, StateFListRcvWait,
		StateMsgSendAckWait, StateMsgRcvWait:

		return true
	}

	return false
}

// receiving reports whether raw transfer bytes are being collected.
func (s State) receiving() bool {
	return s == StateFileRcv || s == StateFListRcv || s == StateMsgRcv
}

// isAuth reports whether s belongs to the authentication exchange.
func (s State) isAuth() bool {
	return s >= StateAuthSendA1 && s <= StateAuthRcvA4Wait
}

// transferWait reports whether s waits for the remote side of a transfer
// this station started.
func (s State) transferWait() bool {
	switch s {
	case StateFileRcvWait, StateFListRcvWait, StateMsgRcvWait:
		return true
	}

	return false
}
