package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/metrics"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/store"
)

// fecState is the progress of an outgoing connectionless frame.
type fecState uint8

const (
	fecIdle fecState = iota

	// fecPingWait waits for the pilot ping to be answered.
	fecPingWait

	// fecSendWait waits for the TNC to finish transmitting our frame.
	fecSendWait

	// fecAckWait waits for the ACK or NAK of a message.
	fecAckWait

	// fecResponseWait waits for the response to a query.
	fecResponseWait
)

var fecStateNames = map[fecState]string{
	fecIdle:         "idle",
	fecPingWait:     "ping wait",
	fecSendWait:     "send wait",
	fecAckWait:      "ack wait",
	fecResponseWait: "response wait",
}

func (s fecState) String() string {
	if name, ok := fecStateNames[s]; ok {
		return name
	}

	return "unknown"
}

// fecOp is one outgoing frame and its repeats.
type fecOp struct {
	req      Request
	frame    *arim.Frame
	attempts int

	// tag names the queued copy of the frame so its completion can be
	// told apart from replies queued meanwhile.
	tag string
}

type fecSession struct {
	state    fecState
	op       *fecOp
	deadline time.Time

	// handedOff is set once FECSEND has been issued for op.
	handedOff bool

	pingTarget string
	afterPing  func()
}

func (e *Engine) myCall() arim.Call {
	return arim.Call(strings.ToUpper(e.tnc.MyCall()))
}

// buildFrame turns a user request into the frame to send.
func (e *Engine) buildFrame(req Request) (*arim.Frame, error) {
	from, err := arim.ParseCall(e.tnc.MyCall())
	if err != nil {
		return nil, fmt.Errorf("my call: %w", err)
	}

	if req.Kind == ReqBeacon {
		var grid arim.GridSquare
		if g := e.tnc.Snapshot().GridSquare; g != "" {
			grid, err = arim.ParseGridSquare(g)
			if err != nil {
				return nil, err
			}
		}

		text := req.Text
		if text == "" {
			text = e.cfg.FEC.BeaconText
		}

		return arim.NewBeacon(from, grid, []byte(text)), nil
	}

	to, err := arim.ParseCall(req.Call)
	if err != nil {
		return nil, err
	}

	var (
		t       arim.Type
		payload []byte
	)
	switch req.Kind {
	case ReqMessage:
		t, payload = arim.TypeMessage, req.Data
	case ReqQuery:
		t, payload = arim.TypeQuery, []byte(req.Text)
	default:
		return nil, fmt.Errorf("not an FEC request: %v", req.Kind)
	}

	if len(payload) > e.cfg.FEC.MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d",
			arim.ErrPayloadSize, len(payload), e.cfg.FEC.MaxPayload)
	}

	return arim.NewFrame(t, from, to, payload), nil
}

// startFEC begins sending a message, query or beacon.
func (e *Engine) startFEC(req Request) {
	frame, err := e.buildFrame(req)
	if err != nil {
		e.post(queue.StreamTraffic, "Cannot send %v: %v", req.Kind, err)
		return
	}

	op := &fecOp{req: req, frame: frame}
	if req.Kind == ReqBeacon {
		e.transmit(op)
		return
	}

	e.pilot(req.Call, func() {
		e.transmit(op)
	})
}

// pilot runs next directly, or after a pilot ping to call is answered when
// pilot pings are enabled.
func (e *Engine) pilot(call string, next func()) {
	if !e.cfg.FEC.PilotPing {
		next()
		return
	}

	call = strings.ToUpper(call)
	e.fec = fecSession{
		state:      fecPingWait,
		deadline:   e.clock.Now().Add(e.cfg.FEC.PingTimeout),
		pingTarget: call,
		afterPing:  next,
	}

	e.post(queue.StreamPing, "Pilot ping to %s", call)
	e.sendCommand(fmt.Sprintf("%s %s %d", ardop.CmdPing, call,
		e.cfg.FEC.PingCount))
}

func (e *Engine) fecPingAck() {
	if e.fec.state != fecPingWait {
		return
	}

	next := e.fec.afterPing
	e.fecDone()

	if next != nil {
		next()
	}
}

// transmit queues one attempt of op.
func (e *Engine) transmit(op *fecOp) {
	payload, err := op.frame.Encode()
	if err != nil {
		e.post(queue.StreamTraffic, "Cannot encode %v: %v",
			op.frame.String(), err)
		e.fecDone()
		return
	}

	op.attempts++
	op.tag = fmt.Sprintf("%v #%d", op.frame.String(), op.attempts)

	e.lines.Push(queue.Data{
		Kind:    queue.KindLine,
		Name:    op.tag,
		Payload: payload,
		FEC:     true,
	})

	e.fec = fecSession{
		state:    fecSendWait,
		op:       op,
		deadline: e.clock.Now().Add(e.cfg.FEC.SendTimeout),
	}

	if op.attempts > 1 {
		e.post(queue.StreamTraffic, "Repeating %v, attempt %d",
			op.frame.String(), op.attempts)
	} else {
		e.post(queue.StreamTraffic, "Sending %v", op.frame.String())
	}
}

// fecHandedOff is called when a queued FEC payload has been written.
func (e *Engine) fecHandedOff(tag string) {
	if e.fec.state == fecSendWait && e.fec.op != nil &&
		e.fec.op.tag == tag {

		e.fec.handedOff = true
	}
}

// fecPTT moves on once the transmitter drops after our frame.
func (e *Engine) fecPTT(on bool) {
	if on || e.fec.state != fecSendWait || !e.fec.handedOff {
		return
	}

	now := e.clock.Now()
	op := e.fec.op

	switch op.frame.Type {
	case arim.TypeMessage:
		e.fec.state = fecAckWait
		e.fec.deadline = now.Add(e.cfg.FEC.AckTimeout)

	case arim.TypeQuery:
		e.fec.state = fecResponseWait
		e.fec.deadline = now.Add(e.cfg.FEC.ResponseTimeout)

	default:
		e.post(queue.StreamTraffic, "Sent %v", op.frame.String())
		e.fecDone()
		return
	}

	e.post(queue.StreamDebug, "Waiting %v for reply from %s",
		e.fec.deadline.Sub(now), op.frame.To)
}

func (e *Engine) fecTimeouts(now time.Time) {
	if e.fec.state == fecIdle || now.Before(e.fec.deadline) {
		return
	}

	switch e.fec.state {
	case fecPingWait:
		e.post(queue.StreamPing, "No answer to pilot ping from %s",
			e.fec.pingTarget)
		e.fecDone()

	case fecSendWait:
		e.post(queue.StreamTraffic, "Timed out sending %v",
			e.fec.op.frame.String())
		e.fecDone()

	case fecAckWait:
		e.post(queue.StreamTraffic, "No ACK from %s",
			e.fec.op.frame.To)
		e.retry()

	case fecResponseWait:
		e.post(queue.StreamTraffic, "No response from %s",
			e.fec.op.frame.To)
		e.retry()
	}
}

// retry repeats the current op while repeats remain.
func (e *Engine) retry() {
	op := e.fec.op
	if op.attempts > e.cfg.FEC.SendRetries {
		e.post(queue.StreamTraffic, "Giving up on %v after %d "+
			"attempts", op.frame.String(), op.attempts)
		e.fecDone()
		return
	}

	e.transmit(op)
}

func (e *Engine) fecDone() {
	e.fec = fecSession{}
}

// receiveFEC feeds FEC payload bytes to the ARIM parser.
func (e *Engine) receiveFEC(payload []byte) {
	now := e.clock.Now()

	switch {
	case arim.IsFrameStart(payload):
		e.parser.Start(now)

	case !e.parser.InProgress():
		// Text ahead of a frame is shown as plain FEC traffic.
		start := arim.FindFrameStart(payload)
		if start < 0 {
			e.post(queue.StreamTraffic, "FEC: %s", printable(payload))
			return
		}
		e.post(queue.StreamTraffic, "FEC: %s",
			printable(payload[:start]))
		payload = payload[start:]
		e.parser.Start(now)
	}

	n, res := e.parser.Feed(now, payload)

	switch res {
	case arim.NeedMore:
		if e.parser.Receiving() {
			got, want := e.parser.Progress()
			e.post(queue.StreamDebug, "Receiving %d of %d bytes",
				got, want)
		}
		return

	case arim.Failed:
		partial := e.parser.Partial()
		e.post(queue.StreamDebug, "Bad ARIM frame %v: %v",
			partial.String(), e.parser.Err())
		e.metrics.Frame(partial.Type.String(), metrics.ResultMalformed)
		e.parser.Reset()

	case arim.Complete:
		f := e.parser.Frame()
		e.parser.Reset()
		e.handleARIM(f)
	}

	if rest := payload[n:]; len(rest) > 0 {
		e.post(queue.StreamTraffic, "FEC: %s", printable(rest))
	}
}

// handleARIM acts on one complete received frame.
func (e *Engine) handleARIM(f *arim.Frame) { // nolint:gocyclo
	my := e.myCall()
	toMe := f.To == my
	label := f.Type.String()

	switch f.Type {
	case arim.TypeBeacon:
		e.metrics.Frame(label, metrics.ResultOK)
		e.post(queue.StreamHeard, "%s [%s] beacon", f.From, f.Grid)
		e.post(queue.StreamTraffic, "%v: %s", f.String(),
			printable(f.Payload))
		return

	case arim.TypeAck, arim.TypeNak:
		e.metrics.Frame(label, metrics.ResultOK)
		if !toMe {
			e.post(queue.StreamTraffic, "%v", f.String())
			return
		}
		e.fecReply(f)
		return
	}

	if !toMe {
		mark, result := "", metrics.ResultOK
		if !f.ChecksumOK() {
			mark, result = "!", metrics.ResultCorrupt
		}
		e.metrics.Frame(label, result)
		e.post(queue.StreamTraffic, "%s%v: %s", mark, f.String(),
			printable(f.Payload))
		return
	}

	if f.Type != arim.TypeResponse && !e.cfg.FEC.ACL.Permit(f.From) {
		e.metrics.Frame(label, metrics.ResultDenied)
		e.post(queue.StreamTraffic, "%v denied by access list",
			f.String())
		return
	}

	if !f.ChecksumOK() {
		e.metrics.Frame(label, metrics.ResultCorrupt)
		e.post(queue.StreamTraffic, "!%v: checksum error", f.String())

		if f.Type != arim.TypeResponse {
			e.sendReply(arim.NewNak(my, f.From))
		}
		return
	}

	switch f.Type {
	case arim.TypeMessage:
		key := fmt.Sprintf("%s|%s|%04X|%d", f.From, f.To, f.Check, f.Size)
		if e.seen.TestString(key) {
			e.metrics.Frame(label, metrics.ResultDuplicate)
			e.post(queue.StreamTraffic, "Repeated %v, acknowledging "+
				"again", f.String())
			e.sendReply(arim.NewAck(my, f.From))
			return
		}

		ok := e.storeMessage(store.Message{
			From: string(f.From),
			To:   string(f.To),
			Time: e.clock.Now(),
			Body: f.Payload,
		})
		if !ok {
			return
		}

		e.seen.AddString(key)
		e.metrics.Frame(label, metrics.ResultOK)
		e.sendReply(arim.NewAck(my, f.From))

	case arim.TypeQuery:
		e.metrics.Frame(label, metrics.ResultOK)
		e.answerQuery(f)

	case arim.TypeResponse:
		e.metrics.Frame(label, metrics.ResultOK)
		e.fecReply(f)
	}
}

func (e *Engine) answerQuery(f *arim.Frame) {
	text := string(f.Payload)
	e.post(queue.StreamTraffic, "Query from %s: %s", f.From,
		printable(f.Payload))

	if e.cfg.Query == nil {
		return
	}

	res := e.cfg.Query.Process(string(f.From), text, false)
	reply := []byte(res.Reply())
	if len(reply) > e.cfg.FEC.MaxPayload {
		reply = reply[:e.cfg.FEC.MaxPayload]
	}

	e.sendReply(arim.NewFrame(arim.TypeResponse, e.myCall(), f.From,
		reply))
}

// sendReply queues an ACK, NAK or response frame.
func (e *Engine) sendReply(f *arim.Frame) {
	payload, err := f.Encode()
	if err != nil {
		log.Errorf("Unable to encode %v: %v", f.String(), err)
		return
	}

	e.lines.Push(queue.Data{
		Kind:    queue.KindLine,
		Name:    f.String(),
		Payload: payload,
		FEC:     true,
	})
}

// fecReply matches an ACK, NAK or response against the frame we are
// waiting on.
func (e *Engine) fecReply(f *arim.Frame) {
	op := e.fec.op

	switch f.Type {
	case arim.TypeResponse:
		e.post(queue.StreamTraffic, "Response from %s: %s", f.From,
			printable(f.Payload))

		if e.fec.state == fecResponseWait && op.frame.To == f.From {
			e.fecDone()
		}

	case arim.TypeAck:
		if e.fec.state != fecAckWait || op.frame.To != f.From {
			e.post(queue.StreamTraffic, "Unexpected %v", f.String())
			return
		}

		e.post(queue.StreamTraffic, "Message to %s acknowledged",
			f.From)
		if op.req.ID != "" && e.cfg.Mailbox != nil {
			if err := e.cfg.Mailbox.MarkSent(op.req.ID); err != nil {
				log.Errorf("Unable to mark message %s sent: %v",
					op.req.ID, err)
			}
		}
		e.fecDone()

	case arim.TypeNak:
		if e.fec.state != fecAckWait || op.frame.To != f.From {
			e.post(queue.StreamTraffic, "Unexpected %v", f.String())
			return
		}

		e.post(queue.StreamTraffic, "Message to %s rejected with NAK",
			f.From)
		e.retry()
	}
}
