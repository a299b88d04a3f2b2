package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arimnet/arimgo/queue"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultFlushInterval is how often queued lines are sent out.
	DefaultFlushInterval = 250 * time.Millisecond

	// DefaultMetricsPath serves the prometheus registry.
	DefaultMetricsPath = "/metrics"

	// historyLen is the number of lines kept per history stream for
	// clients that connect later.
	historyLen = 64

	clientBacklog   = 256
	writeWait       = 10 * time.Second
	maxClientRead   = 512
	shutdownTimeout = 5 * time.Second
)

// historyStreams are replayed to new websocket clients.
var historyStreams = []queue.Stream{
	queue.StreamHeard, queue.StreamPing, queue.StreamConn, queue.StreamFile,
}

// Config holds the monitor server settings.
type Config struct {
	// Listen is the HTTP listen address. Empty disables the listener but
	// keeps the flush loop running.
	Listen string

	MetricsPath   string
	FlushInterval time.Duration

	// AccessLog receives one combined log format line per HTTP request.
	AccessLog io.Writer

	// Echo, if set, is called with every drained line.
	Echo func(l queue.Line)
}

// Line is the JSON form of a stream line sent to websocket clients.
type Line struct {
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server fans stream lines out to websocket clients and hosts the metrics
// endpoint.
type Server struct {
	cfg      Config
	streams  *Streams
	registry *prometheus.Registry
	ticker   ticker.Ticker

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	history map[queue.Stream][][]byte
}

// ServerOption customizes a Server.
type ServerOption func(s *Server)

// WithFlushTicker replaces the flush ticker. It must not have been started.
func WithFlushTicker(t ticker.Ticker) ServerOption {
	return func(s *Server) {
		s.ticker = t
	}
}

// NewServer creates a server draining streams. registry may be nil, in which
// case no metrics endpoint is served.
func NewServer(cfg Config, streams *Streams, registry *prometheus.Registry,
	opts ...ServerOption) *Server {

	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	s := &Server{
		cfg:      cfg,
		streams:  streams,
		registry: registry,
		clients:  make(map[*client]struct{}),
		history:  make(map[queue.Stream][][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ticker == nil {
		s.ticker = ticker.New(cfg.FlushInterval)
	}

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)

	if s.registry != nil {
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{Registry: s.registry},
		))
	}

	if s.cfg.AccessLog == nil {
		return mux
	}

	return handlers.CombinedLoggingHandler(s.cfg.AccessLog, mux)
}

// Run serves HTTP and flushes lines until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Listen != "" {
		lis, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("unable to listen on %s: %w",
				s.cfg.Listen, err)
		}
		log.Infof("Monitor listening on %v", lis.Addr())

		srv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: writeWait,
		}

		g.Go(func() error {
			err := srv.Serve(lis)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		s.ticker.Resume()
		defer s.ticker.Stop()

		for {
			select {
			case <-s.ticker.Ticks():
				s.Flush()

			case <-ctx.Done():
				s.Flush()
				s.closeClients()
				return nil
			}
		}
	})

	return g.Wait()
}

// Flush drains all streams and sends the lines to every client.
func (s *Server) Flush() {
	lines := s.streams.DrainAll()
	if len(lines) == 0 {
		return
	}

	if s.cfg.Echo != nil {
		for _, l := range lines {
			s.cfg.Echo(l)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range lines {
		msg, err := json.Marshal(Line{
			Stream: l.Stream.String(),
			Time:   l.Time,
			Text:   l.Text,
		})
		if err != nil {
			log.Errorf("Unable to encode line: %v", err)
			continue
		}

		s.remember(l.Stream, msg)

		for c := range s.clients {
			select {
			case c.send <- msg:
			default:
				log.Warnf("Websocket client %v too slow, "+
					"dropping", c.conn.RemoteAddr())
				s.removeLocked(c)
				_ = c.conn.Close()
			}
		}
	}
}

func (s *Server) remember(stream queue.Stream, msg []byte) {
	for _, h := range historyStreams {
		if h != stream {
			continue
		}

		hist := append(s.history[stream], msg)
		if len(hist) > historyLen {
			hist = hist[len(hist)-historyLen:]
		}
		s.history[stream] = hist

		return
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Websocket upgrade from %s failed: %v",
			r.RemoteAddr, err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBacklog),
	}

	s.mu.Lock()
	for _, stream := range historyStreams {
		for _, msg := range s.history[stream] {
			c.send <- msg
		}
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	log.Debugf("Websocket client %s connected", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards client messages until the connection fails.
func (s *Server) readLoop(c *client) {
	c.conn.SetReadLimit(maxClientRead)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	s.removeLocked(c)
	s.mu.Unlock()
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		if err != nil {
			log.Debugf("Websocket write to %v failed: %v",
				c.conn.RemoteAddr(), err)
			return
		}
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}

	delete(s.clients, c)
	close(c.send)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		s.removeLocked(c)
	}
}
