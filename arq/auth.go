package arq

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/queue"
	"golang.org/x/crypto/hkdf"
)

const (
	authInfo     = "arim-auth"
	authKeyLen   = 32
	authProofLen = 32
	nonceLen     = 8

	labelA2 = "A2"
	labelA3 = "A3"

	// implicitAuth marks an EvAuthOK raised because the remote station
	// started a transfer instead of confirming with /OK.
	implicitAuth = "implicit"
)

// authKey derives the session key both stations compute from the shared
// password. The salt is the call pair in sorted order, so the key does not
// depend on who called.
func authKey(password, callA, callB string) ([]byte, error) {
	calls := []string{strings.ToUpper(callA), strings.ToUpper(callB)}
	if calls[0] > calls[1] {
		calls[0], calls[1] = calls[1], calls[0]
	}
	salt := []byte(calls[0] + ":" + calls[1])

	key := make([]byte, authKeyLen)
	r := hkdf.New(sha256.New, []byte(password), salt, []byte(authInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	return key, nil
}

// authProof answers the challenge nonce for one step of the exchange.
func authProof(key []byte, label, nonce string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(label + ":" + nonce))

	return hex.EncodeToString(mac.Sum(nil))[:authProofLen]
}

func proofOK(key []byte, label, nonce, proof string) bool {
	want := authProof(key, label, nonce)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(proof)))
}

func randomNonce() string {
	var b [nonceLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Errorf("Unable to read random nonce: %v", err)
	}

	return hex.EncodeToString(b[:])
}

func (st *stepper) nonce() string {
	if st.env.Nonce != nil {
		return st.env.Nonce()
	}

	return randomNonce()
}

// password returns the secret shared with the remote station, looked up by
// full call first and base call second.
func (st *stepper) password() (string, bool) {
	c := st.s.Conn
	if pw, ok := st.env.Config.Passwords[c.RemoteCall]; ok {
		return pw, true
	}

	base := string(arim.Call(c.RemoteCall).Base())
	pw, ok := st.env.Config.Passwords[base]

	return pw, ok
}

func (st *stepper) key() ([]byte, bool) {
	pw, ok := st.password()
	if !ok {
		return nil, false
	}

	key, err := authKey(pw, st.env.MyCall, st.s.Conn.RemoteCall)
	if err != nil {
		log.Errorf("Unable to derive key for %s: %v",
			st.s.Conn.RemoteCall, err)
		return nil, false
	}

	return key, true
}

// startAuth opens the exchange as initiator.
func (st *stepper) startAuth() {
	c := st.s.Conn
	if _, ok := st.password(); !ok {
		st.post(queue.StreamTraffic, "No password for %s, cannot "+
			"authenticate", c.RemoteCall)
		c.pending = nil
		st.notify(NotifyAuthFailed)
		st.enter(StateConnected)
		return
	}

	c.nonceA = st.nonce()
	c.nonceB = ""
	st.sendLine("/%s %s", verbA1, c.nonceA)
	st.post(queue.StreamTraffic, "Authenticating with %s", c.RemoteCall)
	st.enter(StateAuthSendA1)
}

// onAuthRequired handles /AUTH, the remote refusal of a request that needs
// authentication.
func (st *stepper) onAuthRequired() {
	c := st.s.Conn

	switch {
	case st.s.State == StateConnected, st.s.State.waiting():
	default:
		st.post(queue.StreamDebug, "Ignoring /%s in %v", verbAuth,
			st.s.State)
		return
	}

	if st.s.State.isAuth() {
		st.handle(Event{Kind: EvAuthError, Text: "authentication " +
			"required again"})
		return
	}

	c.xfer = nil
	c.pending = nil
	if c.lastRequest != nil {
		req := *c.lastRequest
		c.pending = &req
	}

	st.post(queue.StreamTraffic, "%s requires authentication",
		c.RemoteCall)
	st.startAuth()
}

// onA1 answers the challenge of an initiating station.
func (st *stepper) onA1(fields []string) {
	if st.busy(verbA1) {
		return
	}

	c := st.s.Conn
	if len(fields) != 1 {
		st.sendLine("/%s", verbEAuth)
		st.handle(Event{Kind: EvAuthError, Text: "malformed /A1"})
		return
	}

	key, ok := st.key()
	if !ok {
		st.post(queue.StreamTraffic, "No password for %s, refusing "+
			"authentication", c.RemoteCall)
		st.sendLine("/%s", verbEAuth)
		st.notify(NotifyAuthFailed)
		return
	}

	c.nonceA = fields[0]
	c.nonceB = st.nonce()
	st.sendLine("/%s %s %s", verbA2, authProof(key, labelA2, c.nonceA),
		c.nonceB)
	st.enter(StateAuthSendA2)
}

// onA2 checks the responder's proof and answers its challenge.
func (st *stepper) onA2(fields []string) {
	if st.s.State != StateAuthRcvA2Wait && st.s.State != StateAuthSendA1 {
		st.post(queue.StreamDebug, "Unexpected /%s in %v", verbA2,
			st.s.State)
		return
	}

	c := st.s.Conn
	key, ok := st.key()
	if !ok || len(fields) != 2 ||
		!proofOK(key, labelA2, c.nonceA, fields[0]) {

		st.sendLine("/%s", verbEAuth)
		st.handle(Event{Kind: EvAuthError, Text: c.RemoteCall +
			" failed the challenge"})
		return
	}

	c.nonceB = fields[1]
	st.sendLine("/%s %s", verbA3, authProof(key, labelA3, c.nonceB))
	st.enter(StateAuthSendA3)
}

// onA3 checks the initiator's proof and completes the exchange on the
// responding side.
func (st *stepper) onA3(fields []string) {
	if st.s.State != StateAuthRcvA3Wait && st.s.State != StateAuthSendA2 {
		st.post(queue.StreamDebug, "Unexpected /%s in %v", verbA3,
			st.s.State)
		return
	}

	c := st.s.Conn
	key, ok := st.key()
	if !ok || len(fields) != 1 ||
		!proofOK(key, labelA3, c.nonceB, fields[0]) {

		st.sendLine("/%s", verbEAuth)
		st.handle(Event{Kind: EvAuthError, Text: c.RemoteCall +
			" failed the challenge"})
		return
	}

	c.Authenticated = true
	st.sendLine("/%s Authenticated", verbOK)
	st.post(queue.StreamTraffic, "%s authenticated", c.RemoteCall)
	st.notify(NotifyAuthOK)
	st.enter(StateConnected)
}

// authOK completes the exchange on the initiating side. An implicit accept
// drops the pending request since the remote station already moved on.
func (st *stepper) authOK(implicit bool) {
	if st.s.State != StateAuthRcvA4Wait && st.s.State != StateAuthSendA3 {
		return
	}

	c := st.s.Conn
	c.Authenticated = true
	st.post(queue.StreamTraffic, "Authenticated with %s", c.RemoteCall)
	st.notify(NotifyAuthOK)
	st.enter(StateConnected)

	pending := c.pending
	c.pending = nil
	if implicit || pending == nil {
		return
	}

	log.Debugf("Repeating %v after authentication", pending.Kind)
	st.request(*pending)
}

func (st *stepper) authError(text string) {
	c := st.s.Conn
	if c == nil {
		return
	}

	c.Authenticated = false
	c.pending = nil
	st.post(queue.StreamTraffic, "Authentication with %s failed: %s",
		c.RemoteCall, text)
	st.notify(NotifyAuthFailed)

	if st.s.State.InSession() {
		st.enter(StateConnected)
	}
}
