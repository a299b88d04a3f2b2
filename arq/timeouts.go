package arq

import (
	"time"
)

const (
	defaultConnectTimeout    = 90 * time.Second
	defaultSendTimeout       = 120 * time.Second
	defaultReplyTimeout      = 90 * time.Second
	defaultAuthTimeout       = 60 * time.Second
	defaultDisconnectTimeout = 30 * time.Second
	defaultPendingTimeout    = 60 * time.Second
)

// Timeouts holds how long each kind of state may last without progress.
type Timeouts struct {
	// Connect bounds an outbound call attempt.
	Connect time.Duration

	// Pending bounds an inbound call between PENDING and CONNECTED.
	Pending time.Duration

	// Send bounds the hand-over of outbound bytes to the TNC.
	Send time.Duration

	// Reply bounds the wait for the remote side of a transfer.
	Reply time.Duration

	// Auth bounds each step of the authentication exchange.
	Auth time.Duration

	// Disconnect bounds a requested disconnect before the link is
	// aborted.
	Disconnect time.Duration
}

// TimeoutOption modifies Timeouts.
type TimeoutOption func(*Timeouts)

// WithConnectTimeout sets the outbound call timeout.
func WithConnectTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Connect = d
	}
}

// WithPendingTimeout sets the inbound call timeout.
func WithPendingTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Pending = d
	}
}

// WithSendTimeout sets the timeout for handing bytes to the TNC.
func WithSendTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Send = d
	}
}

// WithReplyTimeout sets the timeout for remote replies.
func WithReplyTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Reply = d
	}
}

// WithAuthTimeout sets the per-step authentication timeout.
func WithAuthTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Auth = d
	}
}

// WithDisconnectTimeout sets how long a disconnect may take.
func WithDisconnectTimeout(d time.Duration) TimeoutOption {
	return func(t *Timeouts) {
		t.Disconnect = d
	}
}

// NewTimeouts returns the default timeouts with opts applied.
func NewTimeouts(opts ...TimeoutOption) Timeouts {
	t := Timeouts{
		Connect:    defaultConnectTimeout,
		Pending:    defaultPendingTimeout,
		Send:       defaultSendTimeout,
		Reply:      defaultReplyTimeout,
		Auth:       defaultAuthTimeout,
		Disconnect: defaultDisconnectTimeout,
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}

// For returns the timeout bound to state s. Zero means s has no deadline.
func (t Timeouts) For(s State) time.Duration {
	switch {
	case s == StateOutConnectWait:
		return t.Connect
	case s == StateInConnectWait:
		return t.Pending
	case s == StateDisconnectWait:
		return t.Disconnect
	case s.isAuth():
		return t.Auth
	case s.sending():
		return t.Send
	case s.waiting(), s.receiving():
		return t.Reply
	default:
		return 0
	}
}
