package arq

import (
	"fmt"
	"strings"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/queue"
)

const defaultRepeats = 5

// stepper collects the effects of one Step call.
type stepper struct {
	s       Session
	env     *Env
	effects []Effect
}

// Step applies ev to s and returns the new session and the effects to carry
// out, in order. s is not modified.
func Step(s Session, ev Event, env Env) (Session, []Effect) {
	st := &stepper{
		s: Session{
			State:    s.State,
			Deadline: s.Deadline,
			Conn:     s.Conn.clone(),
		},
		env: &env,
	}

	st.handle(ev)

	return st.s, st.effects
}

func (st *stepper) handle(ev Event) { // nolint:gocyclo
	if ev.Kind != EvPeriodic && ev.Kind != EvData {
		log.Tracef("Event %v in %v", ev.Kind, st.s.State)
	}

	switch ev.Kind {
	case EvPeriodic:
		st.periodic()

	case EvConnectReq:
		st.connectReq(ev)

	case EvPending:
		if st.s.State != StateIdle {
			return
		}
		st.s.Conn = &Connection{
			Direction:       Inbound,
			CachedBandwidth: st.env.TncBandwidth,
		}
		st.post(queue.StreamConn, "Incoming connection pending")
		st.enter(StateInConnectWait)

	case EvCancelPending:
		if st.s.State == StateInConnectWait {
			st.post(queue.StreamConn, "Incoming connection cancelled")
			st.toIdle()
		}

	case EvConnected:
		st.connected(ev)

	case EvDisconnected:
		st.disconnected()

	case EvRejectedBusy:
		if st.s.State == StateOutConnectWait {
			st.post(queue.StreamConn, "Call to %s rejected: "+
				"channel busy", st.s.Conn.RemoteCall)
			st.fail()
		}

	case EvRejectedBW:
		if st.s.State == StateOutConnectWait {
			st.rejectedBW()
		}

	case EvNewState:
		if ev.TncState == ardop.Disconnected &&
			st.s.State == StateDisconnectWait {

			st.disconnected()
		}

	case EvPTT:
		// The radio is still transmitting, so the remote side cannot
		// have answered yet.
		if ev.On && !st.s.Deadline.IsZero() && st.s.Conn != nil &&
			st.s.State >= StateAuthSendA1 {

			st.reload()
		}

	case EvTxComplete:
		if st.s.State.sending() && ev.DataKind == st.sendKind() {
			st.enter(st.s.State.afterSend())
		}

	case EvData:
		st.receive(ev.Data)

	case EvDisconnectReq:
		st.disconnectReq()

	case EvCancel:
		st.cancel()

	case EvSendFile, EvGetFile, EvGetListing, EvSendMessage,
		EvGetMessages, EvListMessages, EvSendText, EvAuthReq:

		st.request(ev)

	case EvAuthOK:
		st.authOK(ev.Text == implicitAuth)

	case EvAuthError:
		st.authError(ev.Text)

	case EvCancelWait:
		if st.s.Conn != nil {
			st.post(queue.StreamDebug, "Cancelled stale %v", st.s.State)
			st.s.Conn.xfer = nil
			st.enter(StateConnected)
		}

	case EvFileError:
		st.post(queue.StreamFile, "File error: %s", ev.Text)
		switch st.s.State {
		case StateFileSend, StateFileSendAckWait, StateFileRcvWait,
			StateFileRcv:

			st.emit(Effect{Kind: EffCancelTx})
			st.s.Conn.xfer = nil
			st.enter(StateConnected)
		}

	case EvSendError:
		st.sendFailed(ev.Text)
	}
}

func (st *stepper) emit(e Effect) {
	st.effects = append(st.effects, e)
}

func (st *stepper) command(format string, args ...interface{}) {
	st.emit(Effect{
		Kind: EffSendCommand,
		Text: fmt.Sprintf(format, args...),
	})
}

func (st *stepper) post(stream queue.Stream, format string,
	args ...interface{}) {

	st.emit(Effect{
		Kind:   EffPost,
		Stream: stream,
		Text:   fmt.Sprintf(format, args...),
	})
}

func (st *stepper) notify(text string) {
	call := ""
	if st.s.Conn != nil {
		call = st.s.Conn.RemoteCall
	}
	st.emit(Effect{Kind: EffNotify, Text: text, Call: call})
}

// sendData queues bytes for the remote station.
func (st *stepper) sendData(kind queue.DataKind, name string, data []byte) {
	if st.s.Conn != nil {
		st.s.Conn.BytesOut += len(data)
	}
	st.emit(Effect{
		Kind:     EffSendData,
		DataKind: kind,
		Name:     name,
		Data:     data,
	})
}

// sendLine queues one LF terminated line.
func (st *stepper) sendLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	st.sendData(queue.KindLine, "line", []byte(line+"\n"))
}

// sendKind is the scheduler context the current sending state waits on.
func (st *stepper) sendKind() queue.DataKind {
	switch st.s.State {
	case StateFileSend:
		return queue.KindFile
	case StateMsgSend:
		return queue.KindMessage
	default:
		return queue.KindLine
	}
}

// enter switches state and arms the state's timeout.
func (st *stepper) enter(state State) {
	if state != st.s.State {
		log.Debugf("ARQ %v -> %v", st.s.State, state)
	}
	st.s.State = state
	st.reload()
}

func (st *stepper) reload() {
	d := st.env.Config.Timeouts.For(st.s.State)
	if d == 0 {
		st.s.Deadline = time.Time{}
		return
	}

	st.s.Deadline = st.env.Now.Add(d)
}

// restoreBandwidth puts back the ARQBW setting from before the call.
func (st *stepper) restoreBandwidth() {
	c := st.s.Conn
	if c == nil || c.Candidate == "" || c.CachedBandwidth == "" {
		return
	}

	if !strings.EqualFold(c.Candidate, c.CachedBandwidth) {
		st.command("%s %s", ardop.CmdARQBW, c.CachedBandwidth)
	}
}

func (st *stepper) toIdle() {
	st.s.Conn = nil
	st.enter(StateIdle)
}

// fail ends an unsuccessful outbound call.
func (st *stepper) fail() {
	st.post(queue.StreamConn, "Connection to %s failed",
		st.s.Conn.RemoteCall)
	st.notify(NotifyFailed)
	st.restoreBandwidth()
	st.toIdle()
}

func (st *stepper) connectReq(ev Event) {
	if st.s.State != StateIdle {
		st.post(queue.StreamConn, "Cannot connect to %s: session "+
			"busy (%v)", ev.Call, st.s.State)
		return
	}

	call, err := arim.ParseCall(ev.Call)
	if err != nil {
		st.post(queue.StreamConn, "Cannot connect: %v", err)
		return
	}

	repeats := ev.Repeats
	if repeats <= 0 {
		repeats = defaultRepeats
	}

	major := st.env.TncMajor
	if major == 0 {
		major = 1
	}

	c := &Connection{
		Direction:       Outbound,
		RemoteCall:      string(call),
		CachedBandwidth: st.env.TncBandwidth,
		Repeats:         repeats,
	}

	bw := strings.TrimSpace(ev.Bandwidth)
	switch {
	case strings.EqualFold(bw, BandwidthAny):
		c.Downshift = st.env.Config.Bandwidths[major]
		c.Candidate = c.CachedBandwidth
		if c.Candidate == "" {
			c.Candidate = ardop.DefaultARQBandwidth(major)
		}

		seq := DownshiftSequence(c.Downshift, c.Candidate)
		if len(seq) > 0 {
			st.post(queue.StreamDebug, "Bandwidths after %s: %s",
				c.Candidate, strings.Join(seq, ","))
		}

	case bw == "":
		c.Candidate = c.CachedBandwidth
		if c.Candidate == "" {
			c.Candidate = ardop.DefaultARQBandwidth(major)
		}

	default:
		bw = strings.ToUpper(bw)
		if !ardop.ValidARQBandwidth(major, bw) {
			st.post(queue.StreamConn, "Cannot connect: bandwidth "+
				"%s not valid for ARDOP v%d", bw, major)
			return
		}
		c.Candidate = bw
	}

	c.StartBandwidth = c.Candidate
	st.s.Conn = c
	st.call()
}

// call emits the bandwidth and call commands for the current candidate.
func (st *stepper) call() {
	c := st.s.Conn

	st.command("%s %s", ardop.CmdARQBW, c.Candidate)
	st.command("%s %s %d", ardop.CmdARQCall, c.RemoteCall, c.Repeats)
	st.post(queue.StreamConn, "Calling %s at %s", c.RemoteCall,
		c.Candidate)
	st.enter(StateOutConnectWait)
}

func (st *stepper) rejectedBW() {
	c := st.s.Conn

	if c.Downshift == nil {
		st.post(queue.StreamConn, "Bandwidth %s rejected by %s",
			c.Candidate, c.RemoteCall)
		st.fail()
		return
	}

	c.Attempts++

	next, ok := Downshift(c.Downshift, c.Candidate)
	switch {
	case !ok, strings.EqualFold(next, c.StartBandwidth):
		st.post(queue.StreamConn, "No further bandwidth to try with %s",
			c.RemoteCall)
		st.fail()
		return

	case c.Attempts >= c.Repeats:
		st.post(queue.StreamConn, "Out of retries calling %s",
			c.RemoteCall)
		st.fail()
		return
	}

	log.Infof("Bandwidth %s rejected by %s, trying %s", c.Candidate,
		c.RemoteCall, next)

	c.Candidate = next
	st.call()
}

func (st *stepper) connected(ev Event) {
	switch st.s.State {
	case StateIdle, StateOutConnectWait, StateInConnectWait:
	default:
		log.Warnf("CONNECTED %s while %v, ignoring", ev.Call,
			st.s.State)
		return
	}

	c := st.s.Conn
	if c == nil {
		c = &Connection{
			Direction:       Inbound,
			CachedBandwidth: st.env.TncBandwidth,
		}
		st.s.Conn = c
	}

	remote := strings.ToUpper(ev.Call)
	c.RemoteCall = remote
	c.RemoteGrid = ev.Grid
	c.Bandwidth = ev.Bandwidth

	call, err := arim.ParseCall(remote)
	if err != nil || !st.env.Config.ACL.Permit(call) {
		st.post(queue.StreamConn, "Connection with %s refused by "+
			"access list", remote)
		st.command(ardop.CmdDisconnect)
		st.enter(StateDisconnectWait)
		return
	}

	c.BytesIn = 0
	c.BytesOut = 0
	c.Authenticated = false
	c.Attempts = 0
	c.rx = nil
	c.xfer = nil
	c.pending = nil
	c.lastRequest = nil

	st.enter(StateConnected)

	if c.RemoteGrid != "" {
		st.post(queue.StreamConn, "Connected to %s [%s] %s at %s",
			remote, c.RemoteGrid, c.Direction, c.Bandwidth)
	} else {
		st.post(queue.StreamConn, "Connected to %s %s at %s", remote,
			c.Direction, c.Bandwidth)
	}
	st.notify(NotifyConnected)
}

func (st *stepper) disconnected() {
	if st.s.State == StateIdle {
		return
	}

	st.emit(Effect{Kind: EffCancelTx})

	c := st.s.Conn
	switch st.s.State {
	case StateOutConnectWait:
		st.fail()
		return

	case StateInConnectWait:
		st.post(queue.StreamConn, "Incoming connection failed")
		st.toIdle()
		return
	}

	st.post(queue.StreamConn, "Disconnected from %s (%d bytes in, %d "+
		"bytes out)", c.RemoteCall, c.BytesIn, c.BytesOut)
	st.notify(NotifyDisconnected)
	st.restoreBandwidth()
	st.toIdle()
}

func (st *stepper) disconnectReq() {
	switch {
	case st.s.State == StateOutConnectWait:
		st.command(ardop.CmdAbort)
		st.post(queue.StreamConn, "Call to %s aborted",
			st.s.Conn.RemoteCall)
		st.notify(NotifyFailed)
		st.restoreBandwidth()
		st.toIdle()

	case st.s.State.InSession():
		st.emit(Effect{Kind: EffCancelTx})
		st.command(ardop.CmdDisconnect)
		st.enter(StateDisconnectWait)

	default:
		st.post(queue.StreamConn, "Not connected")
	}
}

func (st *stepper) cancel() {
	if st.s.State == StateIdle {
		return
	}

	st.emit(Effect{Kind: EffCancelTx})
	st.command(ardop.CmdAbort)
	st.post(queue.StreamConn, "Session with %s cancelled in %v",
		st.s.Conn.RemoteCall, st.s.State)
	st.notify(NotifyDisconnected)
	st.restoreBandwidth()
	st.toIdle()
}

func (st *stepper) periodic() {
	if st.s.Deadline.IsZero() || st.env.Now.Before(st.s.Deadline) {
		return
	}

	state := st.s.State
	c := st.s.Conn

	switch {
	case state == StateOutConnectWait:
		st.command(ardop.CmdAbort)
		st.post(queue.StreamConn, "Call to %s timed out", c.RemoteCall)
		st.fail()

	case state == StateInConnectWait:
		st.post(queue.StreamConn, "Incoming connection timed out")
		st.toIdle()

	case state == StateDisconnectWait:
		st.command(ardop.CmdAbort)
		st.post(queue.StreamConn, "Disconnect from %s timed out, "+
			"aborting", c.RemoteCall)
		st.notify(NotifyDisconnected)
		st.restoreBandwidth()
		st.toIdle()

	case state.sending():
		st.emit(Effect{Kind: EffCancelTx})
		st.post(queue.StreamTraffic, "Timed out sending to %s in %v",
			c.RemoteCall, state)
		st.timedOut()

	case state.waiting(), state.receiving():
		st.post(queue.StreamTraffic, "Timed out waiting for %s in %v",
			c.RemoteCall, state)
		st.timedOut()
	}
}

// sendFailed rolls a sending state back once its bytes could not be handed to
// the TNC.
func (st *stepper) sendFailed(text string) {
	if st.s.Conn == nil || !st.s.State.sending() {
		return
	}

	st.emit(Effect{Kind: EffCancelTx})
	st.post(queue.StreamTraffic, "Send to %s failed in %v: %s",
		st.s.Conn.RemoteCall, st.s.State, text)
	st.timedOut()
}

// timedOut rolls back to the connected state.
func (st *stepper) timedOut() {
	c := st.s.Conn
	if st.s.State.isAuth() {
		c.Authenticated = false
		c.pending = nil
		st.notify(NotifyAuthFailed)
	}
	c.xfer = nil
	c.rx = nil
	st.enter(StateConnected)
}
