package ardop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// ConnConfig describes how to reach one TNC.
type ConnConfig struct {
	// Addr is the command port address. The data port is the next port
	// number on the same host.
	Addr string

	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DataAddr returns the data port address belonging to a command port
// address.
func DataAddr(cmdAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(cmdAddr)
	if err != nil {
		return "", err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid port in %q: %w", cmdAddr, err)
	}

	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}

// Conn is an attached TNC: the command socket and the data socket.
type Conn struct {
	cfg ConnConfig

	cmdConn  net.Conn
	dataConn net.Conn

	// cmdMu serializes command writes, dataMu data writes. Neither is
	// held across a read.
	cmdMu  sync.Mutex
	dataMu sync.Mutex

	quit      chan struct{}
	closeOnce sync.Once
}

// Dial connects both sockets, retrying with backoff until it succeeds or ctx
// is done.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	dataAddr, err := DataAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}

	backoff := NewBackoffWaiter(0, cfg.MinBackoff, cfg.MaxBackoff)
	for {
		conn, err := dialOnce(ctx, cfg, dataAddr)
		if err == nil {
			log.Infof("Attached to TNC at %s (data %s)", cfg.Addr,
				dataAddr)
			return conn, nil
		}

		log.Warnf("Unable to attach to TNC at %s: %v, retrying in %v",
			cfg.Addr, err, backoff.Current())

		if err := backoff.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func dialOnce(ctx context.Context, cfg ConnConfig,
	dataAddr string) (*Conn, error) {

	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	cmdConn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	dataConn, err := dialer.DialContext(ctx, "tcp", dataAddr)
	if err != nil {
		_ = cmdConn.Close()
		return nil, err
	}

	return NewConn(cfg, cmdConn, dataConn), nil
}

// NewConn wraps two already established sockets.
func NewConn(cfg ConnConfig, cmdConn, dataConn net.Conn) *Conn {
	return &Conn{
		cfg:      cfg,
		cmdConn:  cmdConn,
		dataConn: dataConn,
		quit:     make(chan struct{}),
	}
}

// SendCommand writes one CR terminated command line.
func (c *Conn) SendCommand(cmd string) error {
	select {
	case <-c.quit:
		return ErrNotAttached
	default:
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	log.Debugf(">> %s", cmd)

	if _, err := io.WriteString(c.cmdConn, cmd+"\r"); err != nil {
		return fmt.Errorf("command write: %w", err)
	}

	return nil
}

// InitCommands returns the command burst sent after attaching, built from
// the configured settings of the TNC slot.
func InitCommands(info TncInfo) []string {
	cmds := []string{
		CmdInitialize,
		CmdMyCall + " " + info.MyCall,
	}
	if info.GridSquare != "" {
		cmds = append(cmds, CmdGridSquare+" "+info.GridSquare)
	}

	cmds = append(cmds,
		CmdProtocolMode+" FEC",
		CmdListen+" "+BoolArg(info.Listen),
		CmdEnablePingAck+" "+BoolArg(info.PingAck),
		CmdFECMode+" "+info.FECMode,
		CmdFECRepeats+" "+strconv.Itoa(info.FECRepeats),
		CmdFECID+" "+BoolArg(info.FECID),
		CmdARQBW+" "+info.ARQBandwidth,
		CmdBusyDet+" "+strconv.Itoa(info.BusyDet),
		CmdLeader+" "+strconv.Itoa(info.Leader),
		CmdTrailer+" "+strconv.Itoa(info.Trailer),
		CmdSquelch+" "+strconv.Itoa(info.Squelch),
		CmdVersion,
	)

	return cmds
}

// Initialize sends the attach command burst.
func (c *Conn) Initialize(info TncInfo) error {
	for _, cmd := range InitCommands(info) {
		if err := c.SendCommand(cmd); err != nil {
			return err
		}
	}

	return nil
}

// Write sends raw bytes on the data socket. Callers frame the bytes with
// EncodeData.
func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.quit:
		return 0, ErrNotAttached
	default:
	}

	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	n, err := c.dataConn.Write(p)
	if err != nil {
		return n, fmt.Errorf("data write: %w", err)
	}

	return n, nil
}

// Run reads both sockets until ctx is done, a socket fails or the TNC closes
// a socket. Bytes from the command socket are written to cmdSink and bytes
// from the data socket to dataSink, each from its own goroutine.
func (c *Conn) Run(ctx context.Context, cmdSink, dataSink io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(ctx, "command", c.cmdConn, cmdSink)
	})
	g.Go(func() error {
		return c.readLoop(ctx, "data", c.dataConn, dataSink)
	})

	// Unblock both loops as soon as either one ends.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// readLoop reads with a short deadline so that cancellation is noticed within
// one PollInterval.
func (c *Conn) readLoop(ctx context.Context, name string, conn net.Conn,
	sink io.Writer) error {

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
			return fmt.Errorf("%s socket: %w", name, err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return werr
			}
		}

		switch {
		case err == nil:

		case isTimeout(err):

		case errors.Is(err, io.EOF):
			log.Warnf("TNC closed the %s socket", name)
			return ErrTNCClosed

		default:
			select {
			case <-c.quit:
				return nil
			default:
			}
			return fmt.Errorf("%s socket: %w", name, err)
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Close shuts both sockets. It is safe to call more than once.
func (c *Conn) Close() error {
	var returnErr error
	c.closeOnce.Do(func() {
		log.Debugf("Closing TNC connection %s", c.cfg.Addr)

		close(c.quit)

		if err := c.cmdConn.Close(); err != nil {
			returnErr = err
		}
		if err := c.dataConn.Close(); err != nil && returnErr == nil {
			returnErr = err
		}
	})

	return returnErr
}
