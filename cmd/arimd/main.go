package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/config"
	"github.com/arimnet/arimgo/metrics"
	"github.com/arimnet/arimgo/monitor"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func main() {
	err := run()
	if err == nil || errors.Is(err, errShowSubsystems) {
		return
	}

	// Flag errors have already been printed by the parser.
	var flagErr *flags.Error
	if errors.As(err, &flagErr) {
		if flagErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return err
	}

	// Hook interceptor for os signals.
	interceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	root := build.NewRotatingLogWriter()
	setupLoggers(root, func() {
		if interceptor.Listening() {
			interceptor.RequestShutdown()
		}
	})

	cfg, err := config.Load(opts.ConfigFile, opts.overrides)
	if err != nil {
		return err
	}

	if cfg.LogFile != "" {
		err := root.InitLogRotator(
			cfg.LogFile, maxLogFileSize, maxLogFiles,
		)
		if err != nil {
			return err
		}
		defer func() {
			if err := root.Close(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
	}

	levels := opts.DebugLevel
	if levels == "" {
		levels = cfg.LogLevel
	}
	if err := setDebugLevels(levels, root); err != nil {
		return err
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	log.Infof("arimd %s starting as %s with %d TNC(s)", version,
		cfg.MyCall, len(d.engines))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			log.Infof("Shutdown requested")
			cancel()

		case <-ctx.Done():
		}
	}()

	return d.run(ctx, os.Stdin, interceptor.RequestShutdown)
}

// daemon owns the stores, the monitor and one engine per TNC slot.
type daemon struct {
	cfg *config.Config

	mbox    *store.Mailbox
	streams *monitor.Streams
	server  *monitor.Server
	engines []*session.Engine

	outbox *outbox

	accessLog io.Closer
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	clk := clock.NewDefaultClock()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	mbox, err := store.OpenMailbox(cfg.Store.MailboxDir, clk)
	if err != nil {
		return nil, err
	}
	files := store.NewFiles(
		cfg.Store.SharedDir, cfg.Store.DownloadDir,
		cfg.Store.Protected,
	)

	processor := query.New(query.Config{
		Version:     "arimgo " + version,
		MyCall:      cfg.MyCall,
		Grid:        cfg.GridSquare,
		Files:       files,
		Messages:    mbox,
		Clock:       clk,
		MaxResponse: cfg.ARIM.MaxPayload,
	})

	d := &daemon{
		cfg:     cfg,
		mbox:    mbox,
		streams: monitor.NewStreams(cfg.Monitor.QueueSize, m),
	}

	// Outbox messages go out over the first TNC.
	d.outbox = newOutbox(mbox, func(ctx context.Context,
		req session.Request) error {

		return d.engines[0].Submit(ctx, req)
	})

	monCfg := monitor.Config{
		Listen:        cfg.Monitor.Listen,
		MetricsPath:   cfg.Metrics.Path,
		FlushInterval: cfg.Monitor.FlushInterval,
		Echo:          echo,
	}
	if cfg.Monitor.AccessLog != "" {
		f, err := os.OpenFile(
			cfg.Monitor.AccessLog,
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to open access log: %w",
				err)
		}
		monCfg.AccessLog = f
		d.accessLog = f
	}

	var registry *prometheus.Registry
	if m != nil {
		registry = m.Registry
	}
	d.server = monitor.NewServer(monCfg, d.streams, registry)

	for _, t := range cfg.TNCs {
		sc := cfg.SessionConfig(t)
		sc.Mailbox = mbox
		sc.Files = files
		sc.Query = processor
		sc.Sink = d.streams
		sc.Rejected = d.outbox.rejected

		d.engines = append(d.engines, session.New(
			sc, session.WithClock(clk), session.WithMetrics(m),
		))
	}

	return d, nil
}

// echo prints every line except debug output to the terminal.
func echo(l queue.Line) {
	if l.Stream == queue.StreamDebug {
		return
	}

	fmt.Printf("%s [%v] %s\n", l.Time.Format("15:04:05"), l.Stream,
		l.Text)
}

func (d *daemon) close() {
	for _, e := range d.engines {
		e.Stop()
	}

	if d.accessLog != nil {
		if err := d.accessLog.Close(); err != nil {
			log.Errorf("Unable to close access log: %v", err)
		}
	}
}

// run serves until ctx is done. Entering quit on the console calls shutdown.
func (d *daemon) run(ctx context.Context, stdin io.Reader,
	shutdown func()) error {

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.server.Run(ctx)
	})

	for i := range d.engines {
		e, t := d.engines[i], d.cfg.TNCs[i]
		g.Go(func() error {
			return attach(ctx, e, t.ConnConfig())
		})
	}

	g.Go(func() error {
		return d.outbox.run(ctx, ticker.New(outboxRescan))
	})

	// The console goroutine is not part of the group, a blocked stdin read
	// must not hold up shutdown.
	c := &console{
		engines:  make(map[string]*session.Engine, len(d.engines)),
		myCall:   d.cfg.MyCall,
		mbox:     d.mbox,
		readFile: os.ReadFile,
		out:      os.Stdout,
	}
	for _, e := range d.engines {
		c.engines[e.Name()] = e
		c.names = append(c.names, e.Name())
	}
	c.current = c.names[0]

	go func() {
		if c.run(ctx, stdin) {
			shutdown()
		}
	}()

	err := g.Wait()
	log.Infof("arimd shutting down")

	return err
}

// attach keeps the engine attached to its TNC, reconnecting whenever the
// connection is lost, until ctx is done.
func attach(ctx context.Context, e *session.Engine, cfg ardop.ConnConfig) error {
	for {
		conn, err := ardop.Dial(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = e.Run(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			log.Debugf("TNC %s close: %v", e.Name(), cerr)
		}

		if ctx.Err() != nil {
			return nil
		}
		log.Warnf("TNC %s connection lost: %v", e.Name(), err)
	}
}
