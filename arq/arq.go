package arq

import (
	"time"

	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/store"
)

// MaxLineLen is the longest in-session line. Longer input without a line
// feed is flushed as free text.
const MaxLineLen = 512

const defaultMaxTransfer = 1 << 20

// Direction tells who placed the call.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}

	return "outbound"
}

// transfer is a file, listing or message moving in either direction.
type transfer struct {
	name  string
	size  int
	check uint16
	body  []byte

	// got counts body bytes received, including discarded ones.
	got int

	// id is the mailbox ID of an outbound message.
	id string

	// discard drops the body of a refused upload.
	discard bool
	reason  string
}

// Connection is the per-session record. It exists from a connect request or
// PENDING until the session ends.
type Connection struct {
	Direction  Direction
	RemoteCall string
	RemoteGrid string

	// Bandwidth is the one reported by CONNECTED.
	Bandwidth string

	// CachedBandwidth is the ARQBW setting before the call, restored when
	// the call fails or the session ends.
	CachedBandwidth string

	// Candidate is the bandwidth of the current call attempt and
	// StartBandwidth the one of the first attempt.
	Candidate      string
	StartBandwidth string

	// Downshift is the "current,next" list used for BandwidthAny calls.
	Downshift []string

	Repeats  int
	Attempts int

	Authenticated bool
	BytesIn       int
	BytesOut      int

	// rx holds a partial in-session line.
	rx []byte

	xfer *transfer

	nonceA string
	nonceB string

	// lastRequest is the latest user request sent to the remote side and
	// pending is the one to repeat after authentication.
	lastRequest *Event
	pending     *Event
}

func (c *Connection) clone() *Connection {
	if c == nil {
		return nil
	}

	cp := *c
	cp.rx = append([]byte(nil), c.rx...)
	cp.Downshift = append([]string(nil), c.Downshift...)
	if c.xfer != nil {
		x := *c.xfer
		x.body = append([]byte(nil), c.xfer.body...)
		cp.xfer = &x
	}
	if c.lastRequest != nil {
		ev := *c.lastRequest
		cp.lastRequest = &ev
	}
	if c.pending != nil {
		ev := *c.pending
		cp.pending = &ev
	}

	return &cp
}

// Session is the complete ARQ machine state.
type Session struct {
	State State

	// Deadline is when the current state times out. Zero means never.
	Deadline time.Time

	Conn *Connection
}

// Config is the static ARQ configuration.
type Config struct {
	Timeouts Timeouts

	// Bandwidths maps a TNC protocol major version to its downshift
	// list.
	Bandwidths map[int][]string

	// Passwords maps remote calls to shared authentication secrets.
	Passwords map[string]string

	ACL *arim.AccessList

	// MaxTransfer caps accepted uploads and messages.
	MaxTransfer int
}

// DefaultBandwidths returns the standard downshift lists.
func DefaultBandwidths() map[int][]string {
	return map[int][]string{
		1: {"2000MAX,1000MAX", "1000MAX,500MAX", "500MAX,200MAX",
			"200MAX,2000MAX"},
		2: {"200,2500", "500,200", "2500,500"},
	}
}

// FileStore is the read side of the shared file area.
type FileStore interface {
	ReadShared(name string, authed bool) ([]byte, error)
	ListShared(dir string, authed bool) (string, error)
}

// MessageStore is the read side of the mailbox.
type MessageStore interface {
	NextOutbound(to string) (store.Message, bool, error)
	ListOutbound(to string) (string, error)
}

// Env is everything Step may read besides the session.
type Env struct {
	Now    time.Time
	Config Config

	MyCall string

	// TncMajor is the protocol major version of the TNC and TncBandwidth
	// its current ARQBW setting.
	TncMajor     int
	TncBandwidth string

	Files    FileStore
	Messages MessageStore
	Query    query.Processor

	// Nonce returns a fresh challenge value.
	Nonce func() string
}

func (e *Env) maxTransfer() int {
	if e.Config.MaxTransfer > 0 {
		return e.Config.MaxTransfer
	}

	return defaultMaxTransfer
}
