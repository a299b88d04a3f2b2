package session

import (
	"context"
	"io"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/arq"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/store"
)

const (
	// TickInterval drives the periodic work of the engine.
	TickInterval = 200 * time.Millisecond

	defaultAckTimeout      = 30 * time.Second
	defaultResponseTimeout = 60 * time.Second
	defaultSendTimeout     = 120 * time.Second
	defaultFrameTimeout    = 30 * time.Second
	defaultPingTimeout     = 30 * time.Second
	defaultSendRetries     = 2
	defaultPingCount       = 2
	defaultBacklog         = 16
)

// Sink receives the lines of the UI/log streams.
type Sink interface {
	Post(l queue.Line)
}

// Mailbox is the message store the engine reads and writes.
type Mailbox interface {
	arq.MessageStore
	Append(msg store.Message) (string, error)
	MarkSent(id string) error
}

// FileArea is the file store the engine reads and writes.
type FileArea interface {
	arq.FileStore
	SaveDownload(name string, data []byte) (string, error)
}

// TNC is an attached modem. *ardop.Conn implements it.
type TNC interface {
	ardop.CommandSender
	io.Writer

	Initialize(info ardop.TncInfo) error
	Run(ctx context.Context, cmdSink, dataSink io.Writer) error
}

// FECConfig controls the connectionless ARIM traffic.
type FECConfig struct {
	// AckTimeout bounds the wait for the ACK or NAK of a message.
	AckTimeout time.Duration

	// ResponseTimeout bounds the wait for the response to a query.
	ResponseTimeout time.Duration

	// SendTimeout bounds the time from queueing a frame until the TNC
	// has finished transmitting it.
	SendTimeout time.Duration

	// SendRetries is the number of repeats after a NAK or a timeout.
	SendRetries int

	// FrameTimeout abandons a partially received frame that has seen no
	// bytes for this long.
	FrameTimeout time.Duration

	// PilotPing sends PingCount pings before a message, query or connect
	// and only goes ahead when one is answered within PingTimeout.
	PilotPing   bool
	PingCount   int
	PingTimeout time.Duration

	// BeaconInterval enables periodic beacons carrying BeaconText.
	BeaconInterval time.Duration
	BeaconText     string

	// MaxPayload caps outgoing payloads, zero means arim.MaxPayload.
	MaxPayload int

	ACL *arim.AccessList
}

// DefaultFECConfig returns the standard FEC settings.
func DefaultFECConfig() FECConfig {
	return FECConfig{
		AckTimeout:      defaultAckTimeout,
		ResponseTimeout: defaultResponseTimeout,
		SendTimeout:     defaultSendTimeout,
		SendRetries:     defaultSendRetries,
		FrameTimeout:    defaultFrameTimeout,
		PingCount:       defaultPingCount,
		PingTimeout:     defaultPingTimeout,
		MaxPayload:      arim.MaxPayload,
	}
}

// Config holds everything an Engine needs besides its TNC connection.
type Config struct {
	// Name identifies the TNC slot in log lines and metrics.
	Name string

	// Info holds the configured TNC settings sent on attach.
	Info ardop.TncInfo

	// NegotiateBW is the value sent with NEGOTIATEBW.
	NegotiateBW bool

	FEC FECConfig
	ARQ arq.Config

	// Settle is the scheduler pause after each block.
	Settle time.Duration

	Mailbox Mailbox
	Files   FileArea
	Query   query.Processor
	Sink    Sink

	// Rejected is called with each request turned away because the
	// channel is busy and the backlog is full.
	Rejected func(req Request)
}
