package session

import (
	"github.com/arimnet/arimgo/metrics"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// Option customizes an Engine.
type Option func(e *Engine)

// WithClock replaces the wall clock used for all timeouts.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTicker replaces the periodic ticker. It must not have been started.
func WithTicker(t ticker.Ticker) Option {
	return func(e *Engine) {
		e.ticker = t
	}
}

// WithMetrics enables the prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNonce replaces the authentication challenge generator.
func WithNonce(fn func() string) Option {
	return func(e *Engine) {
		e.nonce = fn
	}
}

// WithBacklog sets how many FEC requests may wait for the channel.
func WithBacklog(n int) Option {
	return func(e *Engine) {
		e.backlogCap = n
	}
}
