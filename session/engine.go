// Package session ties one attached TNC to the ARIM and ARQ protocol
// machines. An Engine owns every piece of per-TNC state and mutates it from a
// single event loop; other goroutines talk to it through Submit.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/arq"
	"github.com/arimnet/arimgo/metrics"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/store"
	"github.com/arimnet/arimgo/txsched"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// seenCapacity and seenFalsePositive size the filter that recognizes
	// repeated messages.
	seenCapacity      = 10000
	seenFalsePositive = 0.001
)

// Engine runs the protocol machines of one TNC slot.
type Engine struct {
	cfg Config

	clock      clock.Clock
	ticker     ticker.Ticker
	metrics    *metrics.Metrics
	nonce      func() string
	backlogCap int

	tnc *ardop.TncState

	events   chan ardop.Event
	frames   chan *ardop.TncFrame
	requests chan Request

	// Everything below is only touched by the event loop.
	conn TNC

	parser *arim.Parser
	arq    arq.Session
	fec    fecSession

	sched    *txsched.Scheduler
	files    *queue.Ring[queue.Data]
	messages *queue.Ring[queue.Data]
	lines    *queue.Ring[queue.Data]

	backlog    *queue.Ring[Request]
	seen       *bloom.BloomFilter
	nextBeacon time.Time
	bytesIn    prometheus.Counter
}

// New creates an engine for one TNC slot. It does nothing until Run.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		backlogCap: defaultBacklog,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = clock.NewDefaultClock()
	}
	if e.ticker == nil {
		e.ticker = ticker.New(TickInterval)
	}
	e.cfg.FEC = e.cfg.FEC.withDefaults()

	e.tnc = ardop.NewTncState(cfg.Info)
	e.events = make(chan ardop.Event, defaultBacklog)
	e.frames = make(chan *ardop.TncFrame, defaultBacklog)
	e.requests = make(chan Request, defaultBacklog)

	e.parser = arim.NewParser()
	e.files = e.dataRing("file")
	e.messages = e.dataRing("message")
	e.lines = e.dataRing("line")
	e.backlog = queue.NewRing[Request](cfg.Name+"-backlog", e.backlogCap,
		queue.WithOverflowCounter[Request](
			e.metrics.QueueOverflow(cfg.Name+"-backlog"),
		),
	)
	e.seen = bloom.NewWithEstimates(seenCapacity, seenFalsePositive)
	e.bytesIn = e.metrics.BytesIn(cfg.Name)

	e.sched = txsched.New(txsched.Config{
		Writer:     writerFunc(e.writeData),
		Files:      e.files,
		Messages:   e.messages,
		Lines:      e.lines,
		Settle:     cfg.Settle,
		OnComplete: e.onComplete,
		BytesSent:  e.metrics.BytesOut(cfg.Name),
	})

	return e
}

func (e *Engine) dataRing(kind string) *queue.Ring[queue.Data] {
	name := e.cfg.Name + "-" + kind

	return queue.NewRing[queue.Data](name, queue.DefaultDataCap,
		queue.WithOverflowCounter[queue.Data](
			e.metrics.QueueOverflow(name),
		),
	)
}

func (c FECConfig) withDefaults() FECConfig {
	def := DefaultFECConfig()

	if c.AckTimeout == 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = def.FrameTimeout
	}
	if c.PingCount == 0 {
		c.PingCount = def.PingCount
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.MaxPayload <= 0 || c.MaxPayload > arim.MaxPayload {
		c.MaxPayload = def.MaxPayload
	}

	return c
}

// writerFunc adapts a function to io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

func (e *Engine) writeData(p []byte) (int, error) {
	if e.conn == nil {
		return 0, ardop.ErrNotAttached
	}

	return e.conn.Write(p)
}

// Name returns the TNC slot name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// TncState returns the live state record of the TNC.
func (e *Engine) TncState() *ardop.TncState {
	return e.tnc
}

// Submit hands a request to the event loop.
func (e *Engine) Submit(ctx context.Context, req Request) error {
	select {
	case e.requests <- req:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run attaches the engine to conn and processes events until ctx is
// cancelled or the TNC connection fails. Run may be called again with a new
// connection after it returns.
func (e *Engine) Run(ctx context.Context, conn TNC) error {
	e.conn = conn
	e.resetAttach()

	g, ctx := errgroup.WithContext(ctx)

	events := ardop.EventHandlerFunc(func(ev ardop.Event) {
		select {
		case e.events <- ev:
		case <-ctx.Done():
		}
	})
	frames := ardop.FrameHandlerFunc(func(f *ardop.TncFrame) {
		select {
		case e.frames <- f:
		case <-ctx.Done():
		}
	})

	cmdDec := ardop.NewCmdDecoder(e.tnc, conn, events, e.cfg.NegotiateBW)
	dataDec := ardop.NewDataDecoder(frames)

	if err := conn.Initialize(e.tnc.Snapshot()); err != nil {
		return fmt.Errorf("unable to initialize TNC %s: %w",
			e.cfg.Name, err)
	}

	log.Infof("TNC %s attached as %s", e.cfg.Name, e.tnc.MyCall())
	e.post(queue.StreamStatus, "TNC %s attached", e.cfg.Name)

	g.Go(func() error {
		return conn.Run(ctx, cmdDec, dataDec)
	})
	g.Go(func() error {
		return e.loop(ctx)
	})

	err := g.Wait()

	e.post(queue.StreamStatus, "TNC %s detached", e.cfg.Name)
	e.conn = nil

	return err
}

// Stop releases the ticker. The engine cannot be run again afterwards.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// resetAttach drops everything left over from a previous attach.
func (e *Engine) resetAttach() {
	e.arq = arq.Session{}
	e.fec = fecSession{}
	e.parser.Reset()
	e.cancelTx()
	e.tnc.ResetSession()

	if e.cfg.FEC.BeaconInterval > 0 {
		e.nextBeacon = e.clock.Now().Add(e.cfg.FEC.BeaconInterval)
	}
}

func (e *Engine) loop(ctx context.Context) error {
	e.ticker.Resume()
	defer e.ticker.Pause()

	for {
		select {
		case ev := <-e.events:
			e.handleEvent(ev)

		case f := <-e.frames:
			e.handleFrame(f)

		case req := <-e.requests:
			e.handleRequest(req)

		case <-e.ticker.Ticks():
			e.tick()

		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) tick() {
	now := e.clock.Now()

	e.stepARQ(arq.Event{Kind: arq.EvPeriodic})
	e.fecTimeouts(now)

	if err := e.sched.Pass(now, e.tnc.Buffer()); err != nil {
		log.Errorf("TNC %s: %v", e.cfg.Name, err)
		e.post(queue.StreamDebug, "Data write failed: %v", err)
		e.fecDone()
		e.stepARQ(arq.Event{Kind: arq.EvSendError, Text: err.Error()})
	}

	if e.parser.Stale(now, e.cfg.FEC.FrameTimeout) {
		partial := e.parser.Partial()
		e.post(queue.StreamTraffic, "Timed out receiving %v",
			partial.String())
		e.metrics.Frame(partial.Type.String(), metrics.ResultTimeout)
		e.parser.Reset()
	}

	if !e.nextBeacon.IsZero() && !now.Before(e.nextBeacon) {
		e.nextBeacon = now.Add(e.cfg.FEC.BeaconInterval)
		e.handleRequest(Request{Kind: ReqBeacon})
	}

	if !e.busy() {
		if req, ok := e.backlog.Pop(); ok {
			e.startFEC(req)
		}
	}

	e.metrics.Buffer(e.cfg.Name, e.tnc.Buffer())
}

// busy reports whether the channel is in use by this station.
func (e *Engine) busy() bool {
	return e.fec.state != fecIdle || e.arq.State != arq.StateIdle ||
		e.sched.Active()
}

func (e *Engine) handleRequest(req Request) {
	log.Debugf("TNC %s request: %v", e.cfg.Name, req.Kind)

	if ev, ok := req.arqEvent(); ok {
		e.stepARQ(ev)
		return
	}

	switch req.Kind {
	case ReqMessage, ReqQuery, ReqBeacon:
		if e.busy() {
			e.queueBacklog(req)
			return
		}
		e.startFEC(req)

	case ReqPing:
		count := req.Count
		if count <= 0 {
			count = e.cfg.FEC.PingCount
		}
		e.sendCommand(fmt.Sprintf("%s %s %d", ardop.CmdPing,
			strings.ToUpper(req.Call), count))

	case ReqConnect:
		if e.fec.state != fecIdle {
			e.post(queue.StreamConn, "Cannot connect to %s: FEC "+
				"transfer in progress", req.Call)
			return
		}

		ev := arq.Event{
			Kind:      arq.EvConnectReq,
			Call:      req.Call,
			Bandwidth: req.Bandwidth,
			Repeats:   req.Repeats,
		}
		e.pilot(req.Call, func() {
			e.stepARQ(ev)
		})

	case ReqCancel:
		e.cancelAll()

	default:
		log.Warnf("TNC %s: unhandled request %v", e.cfg.Name, req.Kind)
	}
}

// queueBacklog holds req until the channel is free. The backlog never
// overwrites: a request arriving when it is full is handed back through
// Config.Rejected.
func (e *Engine) queueBacklog(req Request) {
	if e.backlog.Len() >= e.backlog.Cap() {
		e.post(queue.StreamTraffic, "Channel busy, backlog full, %v to "+
			"%s not queued", req.Kind, req.Call)
		if e.cfg.Rejected != nil {
			e.cfg.Rejected(req)
		}
		return
	}

	e.backlog.Push(req)
	e.post(queue.StreamTraffic, "Channel busy, %v to %s queued",
		req.Kind, req.Call)
}

// cancelAll stops every transfer in progress.
func (e *Engine) cancelAll() {
	e.cancelTx()
	e.parser.Reset()
	e.backlog.Reset()

	if e.fec.state != fecIdle {
		e.post(queue.StreamTraffic, "FEC %v cancelled", e.fec.state)
		e.fecDone()
	}
	if e.arq.State != arq.StateIdle {
		e.stepARQ(arq.Event{Kind: arq.EvCancel})
	}
}

func (e *Engine) cancelTx() {
	e.sched.Cancel()
	e.files.Reset()
	e.messages.Reset()
	e.lines.Reset()
}

func (e *Engine) handleEvent(ev ardop.Event) { // nolint:gocyclo
	switch ev.Kind {
	case ardop.EventConnected:
		e.tnc.ResetSession()
		e.stepARQ(arq.Event{
			Kind:      arq.EvConnected,
			Call:      ev.Call,
			Grid:      ev.Grid,
			Bandwidth: ev.Bandwidth,
		})

	case ardop.EventDisconnected:
		e.stepARQ(arq.Event{Kind: arq.EvDisconnected})

	case ardop.EventPending:
		e.stepARQ(arq.Event{Kind: arq.EvPending})

	case ardop.EventCancelPending:
		e.stepARQ(arq.Event{Kind: arq.EvCancelPending})

	case ardop.EventRejectedBusy:
		e.stepARQ(arq.Event{Kind: arq.EvRejectedBusy, Call: ev.Call})

	case ardop.EventRejectedBW:
		e.stepARQ(arq.Event{Kind: arq.EvRejectedBW, Call: ev.Call})

	case ardop.EventNewState:
		e.stepARQ(arq.Event{Kind: arq.EvNewState, TncState: ev.State})

	case ardop.EventPTT:
		e.stepARQ(arq.Event{Kind: arq.EvPTT, On: ev.On})
		e.fecPTT(ev.On)

	case ardop.EventBuffer:
		e.metrics.Buffer(e.cfg.Name, ev.Count)

	case ardop.EventTarget:
		e.post(queue.StreamConn, "Target %s", ev.Call)

	case ardop.EventPing:
		e.post(queue.StreamPing, "PING %s>%s SNR %d Q %d", ev.Call,
			ev.Target, ev.SNR, ev.Quality)

	case ardop.EventPingAck:
		e.post(queue.StreamPing, "PINGACK SNR %d Q %d", ev.SNR,
			ev.Quality)
		e.fecPingAck()

	case ardop.EventPingReply:
		e.post(queue.StreamPing, "PINGREPLY")

	case ardop.EventVersion:
		e.post(queue.StreamStatus, "TNC %s version %v", e.cfg.Name,
			ev.Version)

	case ardop.EventFault:
		e.post(queue.StreamDebug, "TNC fault: %s", ev.Raw)

	case ardop.EventBusy:
		log.Tracef("TNC %s busy=%v", e.cfg.Name, ev.On)

	default:
		log.Tracef("TNC %s: %s", e.cfg.Name, ev.Raw)
	}
}

func (e *Engine) handleFrame(f *ardop.TncFrame) {
	e.tnc.AddBytesIn(len(f.Payload))
	if e.bytesIn != nil {
		e.bytesIn.Add(float64(len(f.Payload)))
	}

	switch f.Tag {
	case ardop.TagARQ:
		e.stepARQ(arq.Event{Kind: arq.EvData, Data: f.Payload})

	case ardop.TagFEC:
		e.receiveFEC(f.Payload)

	case ardop.TagIDF:
		e.heardID(f.Payload)

	case ardop.TagERR:
		e.post(queue.StreamDebug, "TNC %s error frame: %s",
			e.cfg.Name, printable(f.Payload))
	}
}

// heardID records an ID frame, "ID: CALL [GRID]:".
func (e *Engine) heardID(payload []byte) {
	text := strings.TrimSpace(string(payload))
	text = strings.TrimPrefix(text, "ID:")
	text = strings.TrimSuffix(strings.TrimSpace(text), ":")

	fields := strings.Fields(text)
	if len(fields) == 0 {
		e.post(queue.StreamDebug, "Bad ID frame: %s", printable(payload))
		return
	}

	call := fields[0]
	grid := ""
	if len(fields) > 1 {
		grid = strings.Trim(fields[1], "[]")
	}

	e.post(queue.StreamHeard, "%s [%s] ID", call, grid)
}

// stepARQ runs the ARQ machine and applies its effects.
func (e *Engine) stepARQ(ev arq.Event) {
	env := arq.Env{
		Now:          e.clock.Now(),
		Config:       e.cfg.ARQ,
		MyCall:       e.tnc.MyCall(),
		TncMajor:     e.tnc.Version().Major,
		TncBandwidth: e.tnc.ARQBandwidth(),
		Query:        e.cfg.Query,
		Nonce:        e.nonce,
	}
	if e.cfg.Files != nil {
		env.Files = e.cfg.Files
	}
	if e.cfg.Mailbox != nil {
		env.Messages = e.cfg.Mailbox
	}

	next, effects := arq.Step(e.arq, ev, env)
	if next.State != e.arq.State {
		log.Debugf("TNC %s ARQ %v -> %v on %v", e.cfg.Name,
			e.arq.State, next.State, ev.Kind)
	}
	e.arq = next

	for _, eff := range effects {
		e.apply(eff)
	}
}

func (e *Engine) apply(eff arq.Effect) { // nolint:gocyclo
	switch eff.Kind {
	case arq.EffSendCommand:
		e.sendCommand(eff.Text)

	case arq.EffSendData:
		e.ring(eff.DataKind).Push(queue.Data{
			Kind:    eff.DataKind,
			Name:    eff.Name,
			Payload: eff.Data,
		})

	case arq.EffCancelTx:
		e.cancelTx()

	case arq.EffPost:
		e.post(eff.Stream, "%s", eff.Text)

	case arq.EffStoreMessage:
		e.storeMessage(store.Message{
			From: eff.Call,
			To:   e.tnc.MyCall(),
			Time: e.clock.Now(),
			Body: eff.Data,
		})

	case arq.EffStoreFile:
		if e.cfg.Files == nil {
			e.stepARQ(arq.Event{
				Kind: arq.EvFileError,
				Text: "no download directory",
			})
			return
		}

		path, err := e.cfg.Files.SaveDownload(eff.Name, eff.Data)
		if err != nil {
			e.stepARQ(arq.Event{
				Kind: arq.EvFileError,
				Text: err.Error(),
			})
			return
		}
		e.post(queue.StreamFile, "Saved %s", path)

	case arq.EffMarkSent:
		if e.cfg.Mailbox == nil {
			return
		}
		if err := e.cfg.Mailbox.MarkSent(eff.Name); err != nil {
			log.Errorf("Unable to mark message %s sent: %v",
				eff.Name, err)
		}

	case arq.EffNotify:
		e.metrics.Session(eff.Text)
		e.post(queue.StreamStatus, "ARQ %s %s", eff.Text, eff.Call)
	}
}

func (e *Engine) ring(kind queue.DataKind) *queue.Ring[queue.Data] {
	switch kind {
	case queue.KindFile:
		return e.files
	case queue.KindMessage:
		return e.messages
	default:
		return e.lines
	}
}

func (e *Engine) storeMessage(msg store.Message) bool {
	if e.cfg.Mailbox == nil {
		e.post(queue.StreamTraffic, "No mailbox, message from %s "+
			"dropped", msg.From)
		return false
	}

	id, err := e.cfg.Mailbox.Append(msg)
	if err != nil {
		log.Errorf("Unable to store message from %s: %v", msg.From, err)
		e.post(queue.StreamTraffic, "Unable to store message from "+
			"%s: %v", msg.From, err)
		return false
	}

	e.post(queue.StreamTraffic, "Message %s from %s, %d bytes", id,
		msg.From, len(msg.Body))

	return true
}

// onComplete is called by the scheduler once a payload is fully handed to
// the TNC.
func (e *Engine) onComplete(d queue.Data) {
	e.tnc.AddBytesOut(len(d.Payload))

	if d.FEC {
		e.sendCommand(ardop.CmdFECSend + " " + ardop.BoolArg(true))
		e.fecHandedOff(d.Name)
		return
	}

	e.stepARQ(arq.Event{Kind: arq.EvTxComplete, DataKind: d.Kind})
}

func (e *Engine) sendCommand(cmd string) {
	if e.conn == nil {
		log.Warnf("TNC %s not attached, dropping %q", e.cfg.Name, cmd)
		return
	}

	if err := e.conn.SendCommand(cmd); err != nil {
		log.Errorf("TNC %s: unable to send %q: %v", e.cfg.Name, cmd,
			err)
		e.post(queue.StreamDebug, "Command %q failed: %v", cmd, err)
	}
}

func (e *Engine) post(stream queue.Stream, format string,
	args ...interface{}) {

	text := fmt.Sprintf(format, args...)
	log.Debugf("[%v] %s", stream, text)

	if e.cfg.Sink != nil {
		e.cfg.Sink.Post(queue.NewLine(stream, e.clock.Now(), text))
	}
}

// printable replaces control bytes for log lines.
func printable(b []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '.'
		}
		return r
	}, string(b))
}
