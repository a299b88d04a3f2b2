package arq

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/store"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFiles struct {
	files     map[string][]byte
	protected map[string]bool
}

func (f *fakeFiles) ReadShared(name string, authed bool) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	if f.protected[name] && !authed {
		return nil, store.ErrAuthRequired
	}

	return data, nil
}

func (f *fakeFiles) ListShared(dir string, authed bool) (string, error) {
	if dir != "" {
		return "", store.ErrDirNotFound
	}

	var sb strings.Builder
	for name, data := range f.files {
		fmt.Fprintf(&sb, "%s %d\n", name, len(data))
	}

	return sb.String(), nil
}

type fakeMessages struct {
	msgs []store.Message
}

func (f *fakeMessages) NextOutbound(to string) (store.Message, bool, error) {
	for _, m := range f.msgs {
		if m.To == to {
			return m, true, nil
		}
	}

	return store.Message{}, false, nil
}

func (f *fakeMessages) ListOutbound(to string) (string, error) {
	n := 0
	for _, m := range f.msgs {
		if m.To == to {
			n++
		}
	}

	return fmt.Sprintf("%d message(s)\n", n), nil
}

func testEnv(myCall string) Env {
	return Env{
		Now: testStart,
		Config: Config{
			Timeouts:   NewTimeouts(),
			Bandwidths: DefaultBandwidths(),
			Passwords:  map[string]string{},
		},
		MyCall:       myCall,
		TncMajor:     2,
		TncBandwidth: "200",
	}
}

// peer is one station driven through Step.
type peer struct {
	t   *testing.T
	s   Session
	env Env

	// out collects effects not yet delivered to the other station.
	out []Effect
}

func newPeer(t *testing.T, myCall string) *peer {
	return &peer{t: t, env: testEnv(myCall)}
}

func (p *peer) do(ev Event) []Effect {
	var effects []Effect
	p.s, effects = Step(p.s, ev, p.env)
	p.out = append(p.out, effects...)

	return effects
}

// data feeds in-session bytes.
func (p *peer) data(format string, args ...interface{}) []Effect {
	return p.do(Event{Kind: EvData, Data: []byte(fmt.Sprintf(format,
		args...))})
}

// flush completes everything p queued for transmission and delivers it to
// the other station, returning the effects of the delivery.
func (p *peer) flush(to *peer) []Effect {
	var (
		payload []byte
		kinds   []queue.DataKind
	)
	for _, e := range p.out {
		if e.Kind == EffSendData {
			payload = append(payload, e.Data...)
			kinds = append(kinds, e.DataKind)
		}
	}
	p.out = nil

	for _, kind := range kinds {
		p.do(Event{Kind: EvTxComplete, DataKind: kind})
	}
	require.NotEmpty(p.t, payload, "nothing to flush")

	return to.do(Event{Kind: EvData, Data: payload})
}

func (p *peer) advance(d time.Duration) []Effect {
	p.env.Now = p.env.Now.Add(d)
	return p.do(Event{Kind: EvPeriodic})
}

func filterEffects(effects []Effect, kind EffectKind) []Effect {
	var out []Effect
	for _, e := range effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}

	return out
}

func commands(effects []Effect) []string {
	var out []string
	for _, e := range filterEffects(effects, EffSendCommand) {
		out = append(out, e.Text)
	}

	return out
}

func sentLines(effects []Effect) []string {
	var out []string
	for _, e := range filterEffects(effects, EffSendData) {
		if e.DataKind == queue.KindLine {
			out = append(out, strings.TrimSuffix(string(e.Data), "\n"))
		}
	}

	return out
}

func notifications(effects []Effect) []string {
	var out []string
	for _, e := range filterEffects(effects, EffNotify) {
		out = append(out, e.Text)
	}

	return out
}

func header(verb, name string, body []byte) string {
	if name != "" {
		verb += " " + name
	}

	return fmt.Sprintf("/%s %d %04X\n", verb, len(body),
		arim.Checksum(body))
}

// connect brings p into a session with remote, as if the TNC reported
// CONNECTED.
func (p *peer) connect(remote string) {
	p.do(Event{Kind: EvConnected, Call: remote, Bandwidth: "500"})
	require.Equal(p.t, StateConnected, p.s.State)
	p.out = nil
}

func TestDownshift(t *testing.T) {
	v2 := DefaultBandwidths()[2]
	v1 := DefaultBandwidths()[1]

	next, ok := Downshift(v2, "200")
	require.True(t, ok)
	require.Equal(t, "2500", next)

	_, ok = Downshift(v2, "1000")
	require.False(t, ok)

	require.Equal(t, []string{"2500", "500"}, DownshiftSequence(v2, "200"))
	require.Equal(t, []string{"200", "2500"}, DownshiftSequence(v2, "500"))
	require.Equal(t, []string{"1000MAX", "500MAX", "200MAX"},
		DownshiftSequence(v1, "2000MAX"))
	require.Empty(t, DownshiftSequence(v2, "1000"))
}

// TestRejectedBandwidthDownshift walks a call through every bandwidth of the
// list until it is back at its start, after which it fails and the cached
// setting is restored.
func TestRejectedBandwidthDownshift(t *testing.T) {
	p := newPeer(t, "K1ABC")

	effects := p.do(Event{
		Kind:      EvConnectReq,
		Call:      "w1aw",
		Bandwidth: BandwidthAny,
		Repeats:   5,
	})
	require.Equal(t, StateOutConnectWait, p.s.State)
	require.Equal(t, []string{"ARQBW 200", "ARQCALL W1AW 5"},
		commands(effects))

	posts := filterEffects(effects, EffPost)
	require.Equal(t, queue.StreamDebug, posts[0].Stream)
	require.Equal(t, "Bandwidths after 200: 2500,500", posts[0].Text)

	effects = p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, StateOutConnectWait, p.s.State)
	require.Equal(t, []string{"ARQBW 2500", "ARQCALL W1AW 5"},
		commands(effects))

	effects = p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, []string{"ARQBW 500", "ARQCALL W1AW 5"},
		commands(effects))

	// NEWSTATE DISC follows every rejection and must not end the call.
	effects = p.do(Event{Kind: EvNewState, TncState: ardop.Disconnected})
	require.Empty(t, effects)
	require.Equal(t, StateOutConnectWait, p.s.State)

	effects = p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, StateIdle, p.s.State)
	require.Nil(t, p.s.Conn)
	require.Equal(t, []string{"ARQBW 200"}, commands(effects))
	require.Equal(t, []string{NotifyFailed}, notifications(effects))
}

func TestRejectedBandwidthRepeatLimit(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.env.TncMajor = 1
	p.env.TncBandwidth = "2000MAX"

	p.do(Event{
		Kind:      EvConnectReq,
		Call:      "W1AW",
		Bandwidth: BandwidthAny,
		Repeats:   2,
	})

	effects := p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, []string{"ARQBW 1000MAX", "ARQCALL W1AW 2"},
		commands(effects))

	effects = p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, StateIdle, p.s.State)
	require.Equal(t, []string{"ARQBW 2000MAX"}, commands(effects))
}

func TestFixedBandwidthRejected(t *testing.T) {
	p := newPeer(t, "K1ABC")

	effects := p.do(Event{Kind: EvConnectReq, Call: "W1AW",
		Bandwidth: "2500"})
	require.Equal(t, []string{"ARQBW 2500", "ARQCALL W1AW 5"},
		commands(effects))

	effects = p.do(Event{Kind: EvRejectedBW})
	require.Equal(t, StateIdle, p.s.State)
	require.Equal(t, []string{"ARQBW 200"}, commands(effects))

	// A bandwidth the TNC does not know is refused up front.
	effects = p.do(Event{Kind: EvConnectReq, Call: "W1AW",
		Bandwidth: "2000MAX"})
	require.Empty(t, commands(effects))
	require.Equal(t, StateIdle, p.s.State)
}

func TestConnectTimeout(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.do(Event{Kind: EvConnectReq, Call: "W1AW"})

	effects := p.advance(p.env.Config.Timeouts.Connect - time.Second)
	require.Empty(t, effects)

	effects = p.advance(time.Second)
	require.Equal(t, StateIdle, p.s.State)
	require.Equal(t, []string{"ABORT"}, commands(effects))
	require.Equal(t, []string{NotifyFailed}, notifications(effects))
}

func TestConnectedAccessList(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.env.Config.ACL = arim.NewAccessList(nil, []string{"N0BAD*"})

	effects := p.do(Event{Kind: EvPending})
	require.Equal(t, StateInConnectWait, p.s.State)
	require.Empty(t, commands(effects))

	effects = p.do(Event{Kind: EvConnected, Call: "N0BAD-7",
		Bandwidth: "500"})
	require.Equal(t, StateDisconnectWait, p.s.State)
	require.Equal(t, []string{"DISCONNECT"}, commands(effects))
	require.Empty(t, notifications(effects))

	p.do(Event{Kind: EvNewState, TncState: ardop.Disconnected})
	require.Equal(t, StateIdle, p.s.State)

	effects = p.do(Event{Kind: EvConnected, Call: "W1AW", Grid: "FN31",
		Bandwidth: "500"})
	require.Equal(t, StateConnected, p.s.State)
	require.Equal(t, Inbound, p.s.Conn.Direction)
	require.Equal(t, "FN31", p.s.Conn.RemoteGrid)
	require.Equal(t, []string{NotifyConnected}, notifications(effects))
}

func TestDisconnectAndCancel(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	effects := p.do(Event{Kind: EvDisconnectReq})
	require.Equal(t, StateDisconnectWait, p.s.State)
	require.Equal(t, []string{"DISCONNECT"}, commands(effects))

	effects = p.advance(p.env.Config.Timeouts.Disconnect)
	require.Equal(t, StateIdle, p.s.State)
	require.Equal(t, []string{"ABORT"}, commands(effects))

	p.connect("W1AW")
	p.do(Event{Kind: EvGetFile, Name: "a.txt"})

	effects = p.do(Event{Kind: EvCancel})
	require.Equal(t, StateIdle, p.s.State)
	require.Len(t, filterEffects(effects, EffCancelTx), 1)
	require.Equal(t, []string{"ABORT"}, commands(effects))
}

func TestReceiveFile(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	body := []byte("hello\nworld\n")
	wire := header("FPUT", "notes.txt", body) + string(body) + "after\n"

	// Deliver in small pieces to exercise reassembly.
	var effects []Effect
	for i := 0; i < len(wire); i += 5 {
		end := i + 5
		if end > len(wire) {
			end = len(wire)
		}
		effects = append(effects, p.data("%s", wire[i:end])...)
	}

	require.Equal(t, StateConnected, p.s.State)

	stored := filterEffects(effects, EffStoreFile)
	require.Len(t, stored, 1)
	require.Equal(t, "notes.txt", stored[0].Name)
	require.Equal(t, body, stored[0].Data)
	require.Equal(t, "W1AW", stored[0].Call)

	require.Equal(t, []string{"/OK File received"}, sentLines(effects))

	var traffic []string
	for _, e := range filterEffects(effects, EffPost) {
		if e.Stream == queue.StreamTraffic {
			traffic = append(traffic, e.Text)
		}
	}
	require.Contains(t, traffic, "<< after")
	require.Equal(t, len(wire), p.s.Conn.BytesIn)
}

func TestReceiveFileErrors(t *testing.T) {
	body := []byte("payload")

	tests := []struct {
		name        string
		wire        string
		maxTransfer int
		reply       string
	}{{
		name:  "checksum",
		wire:  "/FPUT a.bin 7 0000\n" + string(body),
		reply: "/ERROR Checksum error",
	}, {
		name:        "too large",
		wire:        header("FPUT", "a.bin", body) + string(body),
		maxTransfer: 4,
		reply:       "/ERROR File too large",
	}, {
		name:        "message too large",
		wire:        header("MPUT", "", body) + string(body),
		maxTransfer: 4,
		reply:       "/ERROR Message too large",
	}, {
		name:  "bad header",
		wire:  "/FPUT a.bin seven 0000\n",
		reply: "/ERROR Bad FPUT header",
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			p := newPeer(t, "K1ABC")
			p.env.Config.MaxTransfer = test.maxTransfer
			p.connect("W1AW")

			effects := p.data("%s", test.wire)
			require.Equal(t, StateConnected, p.s.State)
			require.Empty(t, filterEffects(effects, EffStoreFile))
			require.Empty(t, filterEffects(effects, EffStoreMessage))
			require.Equal(t, []string{test.reply}, sentLines(effects))
		})
	}
}

func TestSendFile(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	effects := p.do(Event{Kind: EvSendFile, Name: "dir/my file.txt",
		Data: []byte("hi")})
	require.Equal(t, StateFileSend, p.s.State)

	sent := filterEffects(effects, EffSendData)
	require.Len(t, sent, 1)
	require.Equal(t, queue.KindFile, sent[0].DataKind)
	require.Equal(t, header("FPUT", "my_file.txt", []byte("hi"))+"hi",
		string(sent[0].Data))

	// A completed line transmission says nothing about the file.
	p.do(Event{Kind: EvTxComplete, DataKind: queue.KindLine})
	require.Equal(t, StateFileSend, p.s.State)

	p.do(Event{Kind: EvTxComplete, DataKind: queue.KindFile})
	require.Equal(t, StateFileSendAckWait, p.s.State)
	require.Equal(t, testStart.Add(p.env.Config.Timeouts.Reply),
		p.s.Deadline)

	p.data("/OK File received\n")
	require.Equal(t, StateConnected, p.s.State)
	require.True(t, p.s.Deadline.IsZero())
}

func TestSendFileRemoteError(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	p.do(Event{Kind: EvSendFile, Name: "a.txt", Data: []byte("abc")})

	effects := p.data("/ERROR Checksum error\n")
	require.Equal(t, StateConnected, p.s.State)
	require.Len(t, filterEffects(effects, EffCancelTx), 1)
}

// TestSendFileWriteFailed checks that a failed write to the TNC ends the
// transfer instead of leaving the session stuck in a sending state.
func TestSendFileWriteFailed(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	p.do(Event{Kind: EvSendFile, Name: "a.txt", Data: []byte("abc")})
	require.Equal(t, StateFileSend, p.s.State)

	effects := p.do(Event{Kind: EvSendError, Text: "broken pipe"})
	require.Equal(t, StateConnected, p.s.State)
	require.Len(t, filterEffects(effects, EffCancelTx), 1)

	posts := filterEffects(effects, EffPost)
	require.Len(t, posts, 1)
	require.Equal(t, "Send to W1AW failed in FileSend: broken pipe",
		posts[0].Text)

	// Outside a sending state the error is ignored.
	effects = p.do(Event{Kind: EvSendError, Text: "broken pipe"})
	require.Empty(t, effects)
	require.Equal(t, StateConnected, p.s.State)
}

func TestAuthWriteFailed(t *testing.T) {
	a, b := authPair(t)

	a.do(Event{Kind: EvGetFile, Name: "secret.txt"})
	a.flush(b)
	b.flush(a)
	require.Equal(t, StateAuthSendA1, a.s.State)

	effects := a.do(Event{Kind: EvSendError, Text: "broken pipe"})
	require.Equal(t, StateConnected, a.s.State)
	require.False(t, a.s.Conn.Authenticated)
	require.Len(t, filterEffects(effects, EffCancelTx), 1)
	require.Equal(t, []string{NotifyAuthFailed}, notifications(effects))
}

func TestFileRequest(t *testing.T) {
	a := newPeer(t, "K1ABC")
	b := newPeer(t, "W1AW")
	b.env.Files = &fakeFiles{files: map[string][]byte{
		"readme.txt": []byte("read me"),
	}}

	a.connect("W1AW")
	b.connect("K1ABC")

	effects := a.do(Event{Kind: EvGetFile, Name: "readme.txt"})
	require.Equal(t, StateFileRcvWait, a.s.State)
	require.Equal(t, []string{"/FGET readme.txt"}, sentLines(effects))

	a.flush(b)
	require.Equal(t, StateFileSend, b.s.State)

	effects = b.flush(a)
	require.Equal(t, StateConnected, a.s.State)
	stored := filterEffects(effects, EffStoreFile)
	require.Len(t, stored, 1)
	require.Equal(t, []byte("read me"), stored[0].Data)

	require.Equal(t, StateFileSendAckWait, b.s.State)
	a.flush(b)
	require.Equal(t, StateConnected, b.s.State)

	// A missing file is reported.
	a.do(Event{Kind: EvGetFile, Name: "missing.txt"})
	a.flush(b)
	require.Equal(t, []string{"/ERROR File not found"}, sentLines(b.out))
	b.flush(a)
	require.Equal(t, StateConnected, a.s.State)
}

func TestListing(t *testing.T) {
	a := newPeer(t, "K1ABC")
	b := newPeer(t, "W1AW")
	b.env.Files = &fakeFiles{files: map[string][]byte{
		"x.txt": []byte("12345"),
	}}

	a.connect("W1AW")
	b.connect("K1ABC")

	a.do(Event{Kind: EvGetListing})
	require.Equal(t, StateFListRcvWait, a.s.State)

	a.flush(b)
	require.Equal(t, StateFListSend, b.s.State)

	effects := b.flush(a)
	require.Equal(t, StateConnected, a.s.State)
	require.Equal(t, []string{"/OK Listing received"}, sentLines(effects))

	var posts []string
	for _, e := range filterEffects(effects, EffPost) {
		posts = append(posts, e.Text)
	}
	require.Contains(t, posts, "x.txt 5")

	a.flush(b)
	require.Equal(t, StateConnected, b.s.State)

	// Unsolicited listings are refused.
	effects = a.data("%s", header("FLPUT", "", []byte("x\n"))+"x\n")
	require.Equal(t, []string{"/ERROR Unexpected FLPUT"},
		sentLines(effects))
}

func TestMessages(t *testing.T) {
	a := newPeer(t, "K1ABC")
	b := newPeer(t, "W1AW")
	b.env.Messages = &fakeMessages{msgs: []store.Message{{
		ID:   "20240301-0001",
		From: "W1AW",
		To:   "K1ABC",
		Body: []byte("see you on 40m"),
	}}}

	a.connect("W1AW")
	b.connect("K1ABC")

	a.do(Event{Kind: EvGetMessages})
	require.Equal(t, StateMsgRcvWait, a.s.State)

	a.flush(b)
	require.Equal(t, StateMsgSend, b.s.State)
	require.Equal(t, queue.KindMessage, b.out[0].DataKind)

	effects := b.flush(a)
	stored := filterEffects(effects, EffStoreMessage)
	require.Len(t, stored, 1)
	require.Equal(t, []byte("see you on 40m"), stored[0].Data)
	require.Equal(t, "W1AW", stored[0].Call)

	effects = a.flush(b)
	sent := filterEffects(effects, EffMarkSent)
	require.Len(t, sent, 1)
	require.Equal(t, "20240301-0001", sent[0].Name)
	require.Equal(t, StateConnected, b.s.State)

	// Nothing queued for the other direction.
	b.do(Event{Kind: EvGetMessages})
	b.flush(a)
	require.Equal(t, []string{"/OK No messages"}, sentLines(a.out))
	a.flush(b)
	require.Equal(t, StateConnected, b.s.State)
}

func TestSendMessage(t *testing.T) {
	a := newPeer(t, "K1ABC")
	b := newPeer(t, "W1AW")
	a.connect("W1AW")
	b.connect("K1ABC")

	body := []byte("hello from K1ABC")
	a.do(Event{Kind: EvSendMessage, Name: "20240301-0002", Data: body})
	require.Equal(t, StateMsgSend, a.s.State)

	effects := a.flush(b)
	stored := filterEffects(effects, EffStoreMessage)
	require.Len(t, stored, 1)
	require.Equal(t, body, stored[0].Data)
	require.Equal(t, StateMsgSendAckWait, a.s.State)

	effects = b.flush(a)
	require.Len(t, filterEffects(effects, EffMarkSent), 1)
	require.Equal(t, StateConnected, a.s.State)
}

// authPair returns two connected stations sharing a password, with one
// protected file on the second station.
func authPair(t *testing.T) (*peer, *peer) {
	a := newPeer(t, "K1ABC")
	a.env.Config.Passwords["W1AW"] = "sesame"
	a.env.Nonce = func() string { return "a1a1a1a1" }

	b := newPeer(t, "W1AW")
	b.env.Config.Passwords["K1ABC"] = "sesame"
	b.env.Nonce = func() string { return "b2b2b2b2" }
	b.env.Files = &fakeFiles{
		files:     map[string][]byte{"secret.txt": []byte("42")},
		protected: map[string]bool{"secret.txt": true},
	}

	a.do(Event{Kind: EvConnectReq, Call: "W1AW"})
	a.connect("W1AW")
	b.connect("K1ABC")

	return a, b
}

// authToA4 runs the exchange up to the point where a waits for the final
// confirmation.
func authToA4(t *testing.T, a, b *peer) {
	a.do(Event{Kind: EvGetFile, Name: "secret.txt"})
	a.flush(b)
	require.Equal(t, []string{"/AUTH"}, sentLines(b.out))

	b.flush(a)
	require.Equal(t, StateAuthSendA1, a.s.State)
	require.Equal(t, []string{"/A1 a1a1a1a1"}, sentLines(a.out))

	a.flush(b)
	require.Equal(t, StateAuthRcvA2Wait, a.s.State)
	require.Equal(t, StateAuthSendA2, b.s.State)

	b.flush(a)
	require.Equal(t, StateAuthRcvA3Wait, b.s.State)
	require.Equal(t, StateAuthSendA3, a.s.State)

	a.flush(b)
	require.Equal(t, StateAuthRcvA4Wait, a.s.State)
}

func TestAuthentication(t *testing.T) {
	a, b := authPair(t)
	authToA4(t, a, b)

	require.True(t, b.s.Conn.Authenticated)
	require.Equal(t, StateConnected, b.s.State)
	require.Equal(t, []string{"/OK Authenticated"}, sentLines(b.out))
	require.Equal(t, []string{NotifyAuthOK}, notifications(b.out))

	// The confirmation repeats the request that needed authentication.
	effects := b.flush(a)
	require.True(t, a.s.Conn.Authenticated)
	require.Equal(t, []string{NotifyAuthOK}, notifications(effects))
	require.Equal(t, []string{"/FGET secret.txt"}, sentLines(effects))
	require.Equal(t, StateFileRcvWait, a.s.State)

	a.flush(b)
	effects = b.flush(a)
	stored := filterEffects(effects, EffStoreFile)
	require.Len(t, stored, 1)
	require.Equal(t, []byte("42"), stored[0].Data)
}

func TestAuthenticationWrongPassword(t *testing.T) {
	a, b := authPair(t)
	b.env.Config.Passwords["K1ABC"] = "wrong"

	a.do(Event{Kind: EvAuthReq})
	require.Equal(t, StateAuthSendA1, a.s.State)
	require.Nil(t, a.s.Conn.lastRequest)

	a.flush(b)
	effects := b.flush(a)
	require.Equal(t, []string{"/EAUTH"}, sentLines(effects))
	require.Equal(t, []string{NotifyAuthFailed}, notifications(effects))
	require.Equal(t, StateConnected, a.s.State)
	require.False(t, a.s.Conn.Authenticated)

	effects = a.flush(b)
	require.Equal(t, []string{NotifyAuthFailed}, notifications(effects))
	require.Equal(t, StateConnected, b.s.State)
	require.False(t, b.s.Conn.Authenticated)
}

func TestAuthenticationNoPassword(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	effects := p.do(Event{Kind: EvAuthReq})
	require.Equal(t, StateConnected, p.s.State)
	require.Empty(t, sentLines(effects))
	require.Equal(t, []string{NotifyAuthFailed}, notifications(effects))
}

func TestAuthKeySymmetric(t *testing.T) {
	k1, err := authKey("pw", "K1ABC", "W1AW")
	require.NoError(t, err)
	k2, err := authKey("pw", "w1aw", "k1abc")
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := authKey("other", "K1ABC", "W1AW")
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	proof := authProof(k1, labelA2, "1234")
	require.Len(t, proof, authProofLen)
	require.True(t, proofOK(k1, labelA2, "1234", strings.ToUpper(proof)))
	require.False(t, proofOK(k1, labelA3, "1234", proof))
}

// TestImplicitAuthAccept covers a responder that skips the final
// confirmation and goes straight to a transfer command.
func TestImplicitAuthAccept(t *testing.T) {
	a, b := authPair(t)
	authToA4(t, a, b)
	require.NotNil(t, a.s.Conn.pending)

	effects := a.data("/FLGET\n")
	require.True(t, a.s.Conn.Authenticated)
	require.Nil(t, a.s.Conn.pending)
	require.Equal(t, StateConnected, a.s.State)
	require.Equal(t, []string{NotifyAuthOK}, notifications(effects))
	require.Equal(t, []string{"/ERROR Directory not found"},
		sentLines(effects))
}

func TestStaleWaitCancelled(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	p.do(Event{Kind: EvGetFile, Name: "a.txt"})
	require.Equal(t, StateFileRcvWait, p.s.State)

	// The remote side asks for messages instead of answering.
	effects := p.data("/MGET\n")
	require.Equal(t, StateConnected, p.s.State)
	require.Equal(t, []string{"/OK No messages"}, sentLines(effects))

	// The expected reply does not cancel the wait.
	p.do(Event{Kind: EvGetFile, Name: "a.txt"})
	effects = p.data("%s", header("FPUT", "a.txt", []byte("A"))+"A")
	require.Len(t, filterEffects(effects, EffStoreFile), 1)
}

func TestBusy(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	p.do(Event{Kind: EvGetFile, Name: "a.txt"})

	effects := p.data("/VERSION\n")
	require.Equal(t, StateFileRcvWait, p.s.State)
	require.Equal(t, []string{"/ERROR Busy"}, sentLines(effects))

	// User requests are refused while busy.
	effects = p.do(Event{Kind: EvGetListing})
	require.Empty(t, sentLines(effects))
	require.Equal(t, StateFileRcvWait, p.s.State)
}

type staticQuery struct{}

func (staticQuery) Process(from, text string, _ bool) query.Result {
	return query.Result{Text: "ARIM " + from + " " + text}
}

func TestQueryAndText(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.env.Query = staticQuery{}
	p.connect("W1AW")

	effects := p.data("/VERSION\r\n")
	require.Equal(t, []string{"ARIM W1AW /VERSION"}, sentLines(effects))

	effects = p.do(Event{Kind: EvSendText, Text: "hello there"})
	require.Equal(t, []string{"hello there"}, sentLines(effects))

	long := strings.Repeat("x", MaxLineLen+1)
	effects = p.data("%s", long)
	posts := filterEffects(effects, EffPost)
	require.Len(t, posts, 1)
	require.Equal(t, "<< "+long, posts[0].Text)
}

func TestReplyTimeoutAndPTT(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.connect("W1AW")

	reply := p.env.Config.Timeouts.Reply
	p.do(Event{Kind: EvGetFile, Name: "a.txt"})
	require.Equal(t, testStart.Add(reply), p.s.Deadline)

	// Keying the transmitter pushes the deadline out.
	p.env.Now = testStart.Add(reply / 2)
	p.do(Event{Kind: EvPTT, On: true})
	require.Equal(t, testStart.Add(reply/2+reply), p.s.Deadline)

	effects := p.advance(reply / 2)
	require.Empty(t, effects)
	require.Equal(t, StateFileRcvWait, p.s.State)

	effects = p.advance(reply / 2)
	require.Equal(t, StateConnected, p.s.State)
	require.Empty(t, notifications(effects))
}

func TestAuthTimeout(t *testing.T) {
	a, b := authPair(t)
	a.do(Event{Kind: EvAuthReq})
	a.flush(b)
	require.Equal(t, StateAuthRcvA2Wait, a.s.State)

	effects := a.advance(a.env.Config.Timeouts.Auth)
	require.Equal(t, StateConnected, a.s.State)
	require.Equal(t, []string{NotifyAuthFailed}, notifications(effects))
}

func TestDisconnectedInSession(t *testing.T) {
	p := newPeer(t, "K1ABC")
	p.env.TncBandwidth = "2500"
	p.do(Event{Kind: EvConnectReq, Call: "W1AW", Bandwidth: "500"})
	p.connect("W1AW")

	effects := p.do(Event{Kind: EvDisconnected})
	require.Equal(t, StateIdle, p.s.State)
	require.Equal(t, []string{NotifyDisconnected}, notifications(effects))
	require.Equal(t, []string{"ARQBW 2500"}, commands(effects))
}
