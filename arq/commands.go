package arq

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/store"
)

// In-session command verbs, without the leading slash.
const (
	verbFPut  = "FPUT"
	verbFGet  = "FGET"
	verbFLPut = "FLPUT"
	verbFLGet = "FLGET"
	verbMPut  = "MPUT"
	verbMGet  = "MGET"
	verbMList = "MLIST"
	verbA1    = "A1"
	verbA2    = "A2"
	verbA3    = "A3"
	verbAuth  = "AUTH"
	verbEAuth = "EAUTH"
	verbOK    = "OK"
	verbError = "ERROR"
)

var errBadHeader = errors.New("bad transfer header")

func isTransferVerb(verb string) bool {
	switch verb {
	case verbFPut, verbFGet, verbFLPut, verbFLGet, verbMPut, verbMGet,
		verbMList:

		return true
	}

	return false
}

// expects reports whether verb is the reply the wait state s is waiting
// for.
func expects(s State, verb string) bool {
	switch s {
	case StateFileRcvWait:
		return verb == verbFPut
	case StateFListRcvWait:
		return verb == verbFLPut
	case StateMsgRcvWait:
		return verb == verbMPut
	}

	return false
}

// transferStale reports whether a transfer command in state s supersedes
// what s is waiting for.
func transferStale(s State, verb string) bool {
	switch s {
	case StateFileRcvWait, StateFListRcvWait, StateMsgRcvWait,
		StateFileSendAckWait, StateFListSendAckWait,
		StateMsgSendAckWait:

		return !expects(s, verb)
	}

	return false
}

// transferHeader renders "size check" for a transfer body.
func transferHeader(body []byte) string {
	return fmt.Sprintf("%d %04X", len(body), arim.Checksum(body))
}

// parseTransfer reads the "[name] size check" arguments of FPUT, FLPUT and
// MPUT.
func parseTransfer(fields []string, withName bool) (*transfer, error) {
	want := 2
	if withName {
		want = 3
	}
	if len(fields) != want {
		return nil, errBadHeader
	}

	x := &transfer{}
	if withName {
		x.name = fields[0]
		fields = fields[1:]
	}

	size, err := strconv.Atoi(fields[0])
	if err != nil || size < 0 {
		return nil, errBadHeader
	}

	check, err := strconv.ParseUint(fields[1], 16, 16)
	if err != nil {
		return nil, errBadHeader
	}

	x.size = size
	x.check = uint16(check)

	return x, nil
}

// request handles a user request.
func (st *stepper) request(ev Event) {
	if !st.s.State.InSession() {
		st.post(queue.StreamTraffic, "Not connected")
		return
	}
	if st.s.State != StateConnected {
		st.post(queue.StreamTraffic, "Busy (%v), request ignored",
			st.s.State)
		return
	}

	c := st.s.Conn
	if ev.Kind != EvAuthReq {
		req := ev
		c.lastRequest = &req
	}

	switch ev.Kind {
	case EvSendFile:
		name := path.Base(strings.ReplaceAll(ev.Name, " ", "_"))
		body := append([]byte(fmt.Sprintf("/%s %s %s\n", verbFPut,
			name, transferHeader(ev.Data))), ev.Data...)

		c.xfer = &transfer{name: name, size: len(ev.Data)}
		st.sendData(queue.KindFile, name, body)
		st.post(queue.StreamFile, "Sending %s (%d bytes) to %s", name,
			len(ev.Data), c.RemoteCall)
		st.enter(StateFileSend)

	case EvGetFile:
		c.xfer = &transfer{name: ev.Name}
		st.sendLine("/%s %s", verbFGet, ev.Name)
		st.enter(StateFileRcvWait)

	case EvGetListing:
		st.sendLine(strings.TrimSpace("/" + verbFLGet + " " + ev.Name))
		st.enter(StateFListRcvWait)

	case EvSendMessage:
		body := append([]byte(fmt.Sprintf("/%s %s\n", verbMPut,
			transferHeader(ev.Data))), ev.Data...)

		c.xfer = &transfer{id: ev.Name, size: len(ev.Data)}
		st.sendData(queue.KindMessage, ev.Name, body)
		st.post(queue.StreamTraffic, "Sending message (%d bytes) to %s",
			len(ev.Data), c.RemoteCall)
		st.enter(StateMsgSend)

	case EvGetMessages:
		st.sendLine("/" + verbMGet)
		st.enter(StateMsgRcvWait)

	case EvListMessages:
		st.sendLine("/" + verbMList)
		st.enter(StateFListRcvWait)

	case EvSendText:
		st.sendLine("%s", ev.Text)
		st.post(queue.StreamTraffic, ">> %s", ev.Text)

	case EvAuthReq:
		st.startAuth()
	}
}

// receive splits ARQ bytes into transfer bodies and command lines.
func (st *stepper) receive(data []byte) {
	c := st.s.Conn
	if c == nil || !st.s.State.InSession() {
		log.Debugf("Dropping %d ARQ bytes in %v", len(data),
			st.s.State)
		return
	}

	c.BytesIn += len(data)
	c.rx = append(c.rx, data...)

	for {
		c = st.s.Conn
		if c == nil || len(c.rx) == 0 {
			return
		}

		if st.s.State.receiving() {
			x := c.xfer
			n := x.size - x.got
			if n > len(c.rx) {
				n = len(c.rx)
			}
			if !x.discard {
				x.body = append(x.body, c.rx[:n]...)
			}
			x.got += n
			c.rx = c.rx[n:]
			st.reload()

			if x.got == x.size {
				st.finishReceive()
			}
			continue
		}

		i := bytes.IndexByte(c.rx, '\n')
		if i < 0 {
			if len(c.rx) > MaxLineLen {
				line := string(c.rx)
				c.rx = nil
				st.handleLine(line)
			}
			return
		}

		line := strings.TrimRight(string(c.rx[:i]), "\r")
		c.rx = c.rx[i+1:]
		st.handleLine(line)
	}
}

func (st *stepper) handleLine(line string) {
	if line == "" {
		return
	}

	if len(line) >= 2 && line[0] == '/' && isLetter(line[1]) {
		st.dispatch(line)
		return
	}

	st.post(queue.StreamTraffic, "<< %s", line)
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// dispatch runs the handler of one slash command.
func (st *stepper) dispatch(line string) { // nolint:gocyclo
	verbField, args, _ := strings.Cut(line[1:], " ")
	verb := strings.ToUpper(verbField)
	args = strings.TrimSpace(args)
	fields := strings.Fields(args)

	log.Debugf("Command /%s in %v", verb, st.s.State)

	if isTransferVerb(verb) {
		switch {
		case st.s.State == StateAuthRcvA4Wait:
			st.handle(Event{Kind: EvAuthOK, Text: implicitAuth})

		case transferStale(st.s.State, verb):
			st.handle(Event{Kind: EvCancelWait})
		}
	}

	switch verb {
	case verbFPut:
		st.onPut(verb, fields, StateFileRcvWait, StateFileRcv, true)

	case verbFLPut:
		st.onPut(verb, fields, StateFListRcvWait, StateFListRcv, false)

	case verbMPut:
		st.onPut(verb, fields, StateMsgRcvWait, StateMsgRcv, false)

	case verbFGet:
		st.onFGet(args)

	case verbFLGet:
		st.onFLGet(args)

	case verbMGet:
		st.onMGet()

	case verbMList:
		st.onMList()

	case verbA1:
		st.onA1(fields)

	case verbA2:
		st.onA2(fields)

	case verbA3:
		st.onA3(fields)

	case verbAuth:
		st.onAuthRequired()

	case verbEAuth:
		st.handle(Event{Kind: EvAuthError, Text: "rejected by " +
			st.s.Conn.RemoteCall})

	case verbOK:
		st.onOK(args)

	case verbError:
		st.onError(args)

	default:
		st.onQuery(line)
	}
}

// busy refuses a remote request that arrives while this station is in the
// middle of something else.
func (st *stepper) busy(verb string) bool {
	if st.s.State == StateConnected {
		return false
	}

	st.post(queue.StreamDebug, "/%s from %s refused in %v", verb,
		st.s.Conn.RemoteCall, st.s.State)
	st.sendLine("/%s Busy", verbError)

	return true
}

// onPut starts receiving a FPUT, FLPUT or MPUT body. wait is the state in
// which the put answers a request of ours.
func (st *stepper) onPut(verb string, fields []string, wait, rcv State,
	withName bool) {

	c := st.s.Conn
	if st.s.State != wait && st.s.State != StateConnected {
		st.busy(verb)
		return
	}
	if rcv == StateFListRcv && st.s.State != wait {
		// Listings are only accepted as a reply.
		st.sendLine("/%s Unexpected %s", verbError, verb)
		return
	}

	x, err := parseTransfer(fields, withName)
	if err != nil {
		st.post(queue.StreamTraffic, "Bad /%s from %s", verb,
			c.RemoteCall)
		st.sendLine("/%s Bad %s header", verbError, verb)
		c.xfer = nil
		st.enter(StateConnected)
		return
	}

	if x.size > st.env.maxTransfer() {
		x.discard = true
		switch rcv {
		case StateMsgRcv:
			x.reason = "Message too large"
		case StateFListRcv:
			x.reason = "Listing too large"
		default:
			x.reason = "File too large"
		}
	}
	if withName {
		x.name = path.Base(x.name)
	}

	c.xfer = x
	st.enter(rcv)

	switch rcv {
	case StateFileRcv:
		st.post(queue.StreamFile, "Receiving %s (%d bytes) from %s",
			x.name, x.size, c.RemoteCall)
	case StateMsgRcv:
		st.post(queue.StreamTraffic, "Receiving message (%d bytes) "+
			"from %s", x.size, c.RemoteCall)
	}

	if x.size == 0 {
		st.finishReceive()
	}
}

// finishReceive completes the body collected in one of the receive states.
func (st *stepper) finishReceive() {
	c := st.s.Conn
	x := c.xfer
	state := st.s.State

	c.xfer = nil
	st.enter(StateConnected)

	if x.discard {
		st.post(queue.StreamTraffic, "Refused %d byte transfer from "+
			"%s: %s", x.size, c.RemoteCall, x.reason)
		st.sendLine("/%s %s", verbError, x.reason)
		return
	}

	if arim.Checksum(x.body) != x.check {
		st.post(queue.StreamTraffic, "Checksum error in transfer "+
			"from %s", c.RemoteCall)
		st.sendLine("/%s Checksum error", verbError)
		return
	}

	switch state {
	case StateFileRcv:
		st.emit(Effect{
			Kind: EffStoreFile,
			Name: x.name,
			Data: x.body,
			Call: c.RemoteCall,
		})
		st.post(queue.StreamFile, "Received %s (%d bytes) from %s",
			x.name, x.size, c.RemoteCall)
		st.sendLine("/%s File received", verbOK)

	case StateFListRcv:
		for _, line := range strings.Split(
			strings.TrimRight(string(x.body), "\n"), "\n",
		) {
			st.post(queue.StreamTraffic, "%s", line)
		}
		st.sendLine("/%s Listing received", verbOK)

	case StateMsgRcv:
		st.emit(Effect{
			Kind: EffStoreMessage,
			Data: x.body,
			Call: c.RemoteCall,
		})
		st.post(queue.StreamTraffic, "Message (%d bytes) from %s "+
			"stored", x.size, c.RemoteCall)
		st.sendLine("/%s Message received", verbOK)
	}
}

// sendError answers a failed remote request.
func (st *stepper) sendError(verb string, err error) {
	res := query.FromError(err)
	st.post(queue.StreamTraffic, "/%s from %s: %v", verb,
		st.s.Conn.RemoteCall, err)
	st.sendLine("%s", res.Reply())
}

func (st *stepper) onFGet(name string) {
	if st.busy(verbFGet) {
		return
	}

	c := st.s.Conn
	if st.env.Files == nil {
		st.sendError(verbFGet, store.ErrNotFound)
		return
	}

	data, err := st.env.Files.ReadShared(name, c.Authenticated)
	if err != nil {
		st.sendError(verbFGet, err)
		return
	}

	base := path.Base(name)
	body := append([]byte(fmt.Sprintf("/%s %s %s\n", verbFPut, base,
		transferHeader(data))), data...)

	c.xfer = &transfer{name: base, size: len(data)}
	st.sendData(queue.KindFile, base, body)
	st.post(queue.StreamFile, "Sending %s (%d bytes) to %s", base,
		len(data), c.RemoteCall)
	st.enter(StateFileSend)
}

// sendListing answers FLGET and MLIST.
func (st *stepper) sendListing(listing string) {
	body := append([]byte(fmt.Sprintf("/%s %s\n", verbFLPut,
		transferHeader([]byte(listing)))), listing...)

	st.sendData(queue.KindLine, "listing", body)
	st.enter(StateFListSend)
}

func (st *stepper) onFLGet(dir string) {
	if st.busy(verbFLGet) {
		return
	}

	if st.env.Files == nil {
		st.sendError(verbFLGet, store.ErrDirNotFound)
		return
	}

	listing, err := st.env.Files.ListShared(dir, st.s.Conn.Authenticated)
	if err != nil {
		st.sendError(verbFLGet, err)
		return
	}

	st.sendListing(listing)
}

func (st *stepper) onMList() {
	if st.busy(verbMList) {
		return
	}

	listing := "0 message(s)\n"
	if st.env.Messages != nil {
		var err error
		listing, err = st.env.Messages.ListOutbound(
			st.s.Conn.RemoteCall,
		)
		if err != nil {
			st.sendError(verbMList, err)
			return
		}
	}

	st.sendListing(listing)
}

func (st *stepper) onMGet() {
	if st.busy(verbMGet) {
		return
	}

	c := st.s.Conn

	var (
		msg store.Message
		ok  bool
		err error
	)
	if st.env.Messages != nil {
		msg, ok, err = st.env.Messages.NextOutbound(c.RemoteCall)
	}
	switch {
	case err != nil:
		st.sendError(verbMGet, err)
		return

	case !ok:
		st.sendLine("/%s No messages", verbOK)
		return
	}

	body := append([]byte(fmt.Sprintf("/%s %s\n", verbMPut,
		transferHeader(msg.Body))), msg.Body...)

	c.xfer = &transfer{id: msg.ID, size: len(msg.Body)}
	st.sendData(queue.KindMessage, msg.ID, body)
	st.post(queue.StreamTraffic, "Sending message %s to %s", msg.ID,
		c.RemoteCall)
	st.enter(StateMsgSend)
}

func (st *stepper) onOK(text string) {
	c := st.s.Conn

	switch st.s.State {
	case StateFileSend, StateFileSendAckWait:
		st.post(queue.StreamFile, "%s delivered to %s", c.xfer.name,
			c.RemoteCall)
		c.xfer = nil
		st.enter(StateConnected)

	case StateMsgSend, StateMsgSendAckWait:
		if c.xfer.id != "" {
			st.emit(Effect{Kind: EffMarkSent, Name: c.xfer.id})
		}
		st.post(queue.StreamTraffic, "Message delivered to %s",
			c.RemoteCall)
		c.xfer = nil
		st.enter(StateConnected)

	case StateFListSend, StateFListSendAckWait:
		st.enter(StateConnected)

	case StateAuthSendA3, StateAuthRcvA4Wait:
		st.handle(Event{Kind: EvAuthOK})

	case StateFileRcvWait, StateFListRcvWait, StateMsgRcvWait:
		st.post(queue.StreamTraffic, "%s: %s", c.RemoteCall, text)
		c.xfer = nil
		st.enter(StateConnected)

	default:
		st.post(queue.StreamTraffic, "<< /%s %s", verbOK, text)
	}
}

func (st *stepper) onError(text string) {
	c := st.s.Conn

	switch {
	case st.s.State.isAuth():
		st.handle(Event{Kind: EvAuthError, Text: text})

	case st.s.State.waiting(), st.s.State.sending():
		st.post(queue.StreamTraffic, "%s reports error in %v: %s",
			c.RemoteCall, st.s.State, text)
		if st.s.State.sending() {
			st.emit(Effect{Kind: EffCancelTx})
		}
		c.xfer = nil
		c.pending = nil
		st.enter(StateConnected)

	default:
		st.post(queue.StreamTraffic, "<< /%s %s", verbError, text)
	}
}

// onQuery answers a slash command that is not part of the transfer set.
func (st *stepper) onQuery(line string) {
	if st.busy(strings.Fields(line)[0][1:]) {
		return
	}

	c := st.s.Conn
	if st.env.Query == nil {
		st.sendLine("%s", query.Result{Status: query.StatusUnknown}.Reply())
		return
	}

	res := st.env.Query.Process(c.RemoteCall, line, c.Authenticated)
	st.post(queue.StreamTraffic, "Query %q from %s: %v", line,
		c.RemoteCall, res.Status)
	st.sendLine("%s", strings.TrimRight(res.Reply(), "\n"))
}
