// Package config loads the YAML configuration file of the daemon.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/arq"
	"github.com/arimnet/arimgo/monitor"
	"github.com/arimnet/arimgo/session"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	MyCall     string `yaml:"mycall"`
	GridSquare string `yaml:"gridsquare"`

	// LogLevel is a level for all subsystems or a list of
	// SUBSYSTEM=level pairs.
	LogLevel string `yaml:"log_level"`

	// LogFile, when set, receives a rotated copy of the log.
	LogFile string `yaml:"log_file"`

	ARIM      ARIMConfig      `yaml:"arim"`
	ARQ       ARQConfig       `yaml:"arq"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	TNCs      []TNCConfig     `yaml:"tnc"`
	Store     StoreConfig     `yaml:"store"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ARIMConfig holds the connectionless frame settings.
type ARIMConfig struct {
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	SendRetries     int           `yaml:"send_retries"`
	FrameTimeout    time.Duration `yaml:"frame_timeout"`

	PilotPing        bool          `yaml:"pilot_ping"`
	PilotPingCount   int           `yaml:"pilot_ping_count"`
	PilotPingTimeout time.Duration `yaml:"pilot_ping_timeout"`

	BeaconInterval time.Duration `yaml:"beacon_interval"`
	BeaconText     string        `yaml:"beacon_text"`

	MaxPayload int `yaml:"max_payload"`

	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ARQConfig holds the connected mode settings.
type ARQConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	PendingTimeout    time.Duration `yaml:"pending_timeout"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	ReplyTimeout      time.Duration `yaml:"reply_timeout"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`

	// Repeats is the default ARQCALL repeat count.
	Repeats int `yaml:"repeats"`

	NegotiateBW bool `yaml:"negotiate_bw"`

	// Bandwidths maps an ARDOP major version to its "current,next"
	// downshift list.
	Bandwidths map[int][]string `yaml:"bandwidths"`

	Passwords   map[string]string `yaml:"passwords"`
	MaxTransfer int               `yaml:"max_transfer"`

	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// SchedulerConfig holds the transmission scheduler settings.
type SchedulerConfig struct {
	Settle time.Duration `yaml:"settle"`
}

// TNCConfig describes one TNC slot.
type TNCConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`

	FECMode      string `yaml:"fec_mode"`
	FECRepeats   int    `yaml:"fec_repeats"`
	FECID        bool   `yaml:"fec_id"`
	ARQBandwidth string `yaml:"arq_bandwidth"`

	Listen  bool `yaml:"listen"`
	PingAck bool `yaml:"ping_ack"`

	BusyDet int `yaml:"busy_det"`
	Leader  int `yaml:"leader"`
	Trailer int `yaml:"trailer"`
	Squelch int `yaml:"squelch"`
}

// StoreConfig locates the mailbox and the file areas.
type StoreConfig struct {
	MailboxDir  string `yaml:"mailbox_dir"`
	SharedDir   string `yaml:"shared_dir"`
	DownloadDir string `yaml:"download_dir"`

	// Protected lists shared directories that need authentication.
	Protected []string `yaml:"protected"`
}

// MonitorConfig holds the websocket monitor settings.
type MonitorConfig struct {
	Listen        string        `yaml:"listen"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AccessLog     string        `yaml:"access_log"`
	QueueSize     int           `yaml:"queue_size"`
}

// MetricsConfig holds the prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	fec := session.DefaultFECConfig()
	timeouts := arq.NewTimeouts()

	return &Config{
		LogLevel: "info",

		ARIM: ARIMConfig{
			AckTimeout:       fec.AckTimeout,
			ResponseTimeout:  fec.ResponseTimeout,
			SendTimeout:      fec.SendTimeout,
			SendRetries:      fec.SendRetries,
			FrameTimeout:     fec.FrameTimeout,
			PilotPingCount:   fec.PingCount,
			PilotPingTimeout: fec.PingTimeout,
			MaxPayload:       fec.MaxPayload,
		},

		ARQ: ARQConfig{
			ConnectTimeout:    timeouts.Connect,
			PendingTimeout:    timeouts.Pending,
			SendTimeout:       timeouts.Send,
			ReplyTimeout:      timeouts.Reply,
			AuthTimeout:       timeouts.Auth,
			DisconnectTimeout: timeouts.Disconnect,
			Repeats:           5,
			NegotiateBW:       true,
			Bandwidths:        arq.DefaultBandwidths(),
			Passwords:         map[string]string{},
		},

		Scheduler: SchedulerConfig{
			Settle: 200 * time.Millisecond,
		},

		Store: StoreConfig{
			MailboxDir:  "mail",
			SharedDir:   "files",
			DownloadDir: "download",
		},

		Monitor: MonitorConfig{
			Listen:        "localhost:8520",
			FlushInterval: monitor.DefaultFlushInterval,
		},

		Metrics: MetricsConfig{
			Enabled: true,
			Path:    monitor.DefaultMetricsPath,
		},
	}
}

// DefaultTNC returns the settings of a TNC slot left out of the file.
func DefaultTNC() TNCConfig {
	return TNCConfig{
		Name:         "tnc1",
		Address:      ardop.DefaultAddr,
		DialTimeout:  10 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   time.Minute,
		FECMode:      ardop.DefaultFECMode(1),
		FECRepeats:   0,
		FECID:        true,
		ARQBandwidth: ardop.DefaultARQBandwidth(1),
		Listen:       true,
		PingAck:      true,
		BusyDet:      5,
		Leader:       120,
		Trailer:      20,
		Squelch:      5,
	}
}

// Load reads the file at path over the defaults, applies overrides and
// validates the result.
func Load(path string, overrides ...func(c *Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse %s: %w", path,
				err)
		}
	}

	for _, o := range overrides {
		o(cfg)
	}

	cfg.fillTNCDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debugf("Loaded config from %q with %d TNC(s)", path,
		len(cfg.TNCs))

	return cfg, nil
}

// fillTNCDefaults adds the default slot when none is configured and fills
// the zero fields of each slot.
func (c *Config) fillTNCDefaults() {
	if len(c.TNCs) == 0 {
		c.TNCs = []TNCConfig{DefaultTNC()}
		return
	}

	def := DefaultTNC()
	for i := range c.TNCs {
		t := &c.TNCs[i]

		if t.Name == "" {
			t.Name = fmt.Sprintf("tnc%d", i+1)
		}
		if t.Address == "" {
			t.Address = def.Address
		}
		if t.DialTimeout == 0 {
			t.DialTimeout = def.DialTimeout
		}
		if t.MinBackoff == 0 {
			t.MinBackoff = def.MinBackoff
		}
		if t.MaxBackoff == 0 {
			t.MaxBackoff = def.MaxBackoff
		}
		if t.FECMode == "" {
			t.FECMode = def.FECMode
		}
		if t.ARQBandwidth == "" {
			t.ARQBandwidth = def.ARQBandwidth
		}
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for values no component could use.
func (c *Config) Validate() error {
	if _, err := arim.ParseCall(c.MyCall); err != nil {
		return invalid("mycall %q: %v", c.MyCall, err)
	}
	if c.GridSquare != "" {
		if _, err := arim.ParseGridSquare(c.GridSquare); err != nil {
			return invalid("gridsquare %q: %v", c.GridSquare, err)
		}
	}

	if err := c.validateARIM(); err != nil {
		return err
	}
	if err := c.validateARQ(); err != nil {
		return err
	}

	if c.Scheduler.Settle < 0 {
		return invalid("scheduler settle must not be negative")
	}

	names := make(map[string]bool)
	for _, t := range c.TNCs {
		if names[t.Name] {
			return invalid("duplicate tnc name %q", t.Name)
		}
		names[t.Name] = true

		if err := t.validate(); err != nil {
			return err
		}
	}

	if c.Store.MailboxDir == "" {
		return invalid("store mailbox_dir is empty")
	}

	return nil
}

func (c *Config) validateARIM() error {
	a := &c.ARIM

	durations := map[string]time.Duration{
		"ack_timeout":        a.AckTimeout,
		"response_timeout":   a.ResponseTimeout,
		"send_timeout":       a.SendTimeout,
		"frame_timeout":      a.FrameTimeout,
		"pilot_ping_timeout": a.PilotPingTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return invalid("arim %s must be positive", name)
		}
	}

	if a.SendRetries < 0 {
		return invalid("arim send_retries must not be negative")
	}
	if a.PilotPing && a.PilotPingCount <= 0 {
		return invalid("arim pilot_ping_count must be positive")
	}
	if a.BeaconInterval < 0 {
		return invalid("arim beacon_interval must not be negative")
	}
	if a.MaxPayload <= 0 || a.MaxPayload > arim.MaxPayload {
		return invalid("arim max_payload must be in 1..%d",
			arim.MaxPayload)
	}

	return nil
}

func (c *Config) validateARQ() error {
	a := &c.ARQ

	if a.Repeats <= 0 {
		return invalid("arq repeats must be positive")
	}
	if a.MaxTransfer < 0 {
		return invalid("arq max_transfer must not be negative")
	}

	for major, list := range a.Bandwidths {
		for _, pair := range list {
			cur, next, ok := strings.Cut(pair, ",")
			if !ok || !ardop.ValidARQBandwidth(major, cur) ||
				!ardop.ValidARQBandwidth(major, next) {

				return invalid("arq bandwidths[%d] entry %q",
					major, pair)
			}
		}
	}

	for call := range a.Passwords {
		if _, err := arim.ParseCall(call); err != nil {
			return invalid("arq password for %q: %v", call, err)
		}
	}

	return nil
}

func (t *TNCConfig) validate() error {
	if _, _, err := net.SplitHostPort(t.Address); err != nil {
		return invalid("tnc %s address %q: %v", t.Name, t.Address, err)
	}

	if !ardop.ValidFECMode(1, t.FECMode) &&
		!ardop.ValidFECMode(2, t.FECMode) {

		return invalid("tnc %s fec_mode %q", t.Name, t.FECMode)
	}
	if !ardop.ValidARQBandwidth(1, t.ARQBandwidth) &&
		!ardop.ValidARQBandwidth(2, t.ARQBandwidth) {

		return invalid("tnc %s arq_bandwidth %q", t.Name,
			t.ARQBandwidth)
	}

	if t.FECRepeats < 0 || t.FECRepeats > 5 {
		return invalid("tnc %s fec_repeats must be in 0..5", t.Name)
	}
	if t.MinBackoff > t.MaxBackoff {
		return invalid("tnc %s min_backoff exceeds max_backoff", t.Name)
	}

	return nil
}

// TncInfo returns the initial TNC settings of slot t.
func (c *Config) TncInfo(t TNCConfig) ardop.TncInfo {
	return ardop.TncInfo{
		Name:           t.Name,
		MyCall:         strings.ToUpper(c.MyCall),
		GridSquare:     c.GridSquare,
		ARQBandwidth:   t.ARQBandwidth,
		ARQBandwidthHz: ardop.BandwidthHz(t.ARQBandwidth),
		FECMode:        t.FECMode,
		FECRepeats:     t.FECRepeats,
		FECID:          t.FECID,
		Listen:         t.Listen,
		PingAck:        t.PingAck,
		BusyDet:        t.BusyDet,
		Leader:         t.Leader,
		Trailer:        t.Trailer,
		Squelch:        t.Squelch,
	}
}

// ConnConfig returns the attach settings of slot t.
func (t TNCConfig) ConnConfig() ardop.ConnConfig {
	return ardop.ConnConfig{
		Addr:        t.Address,
		DialTimeout: t.DialTimeout,
		MinBackoff:  t.MinBackoff,
		MaxBackoff:  t.MaxBackoff,
	}
}

// ARQConfig returns the static ARQ machine configuration.
func (c *Config) ARQConfig() arq.Config {
	a := c.ARQ

	passwords := make(map[string]string, len(a.Passwords))
	for call, pw := range a.Passwords {
		passwords[strings.ToUpper(call)] = pw
	}

	return arq.Config{
		Timeouts: arq.NewTimeouts(
			arq.WithConnectTimeout(a.ConnectTimeout),
			arq.WithPendingTimeout(a.PendingTimeout),
			arq.WithSendTimeout(a.SendTimeout),
			arq.WithReplyTimeout(a.ReplyTimeout),
			arq.WithAuthTimeout(a.AuthTimeout),
			arq.WithDisconnectTimeout(a.DisconnectTimeout),
		),
		Bandwidths:  a.Bandwidths,
		Passwords:   passwords,
		ACL:         accessList(a.Allow, a.Deny),
		MaxTransfer: a.MaxTransfer,
	}
}

// FECConfig returns the connectionless frame settings.
func (c *Config) FECConfig() session.FECConfig {
	a := c.ARIM

	return session.FECConfig{
		AckTimeout:      a.AckTimeout,
		ResponseTimeout: a.ResponseTimeout,
		SendTimeout:     a.SendTimeout,
		SendRetries:     a.SendRetries,
		FrameTimeout:    a.FrameTimeout,
		PilotPing:       a.PilotPing,
		PingCount:       a.PilotPingCount,
		PingTimeout:     a.PilotPingTimeout,
		BeaconInterval:  a.BeaconInterval,
		BeaconText:      a.BeaconText,
		MaxPayload:      a.MaxPayload,
		ACL:             accessList(a.Allow, a.Deny),
	}
}

// SessionConfig returns the engine configuration of slot t without its
// collaborators.
func (c *Config) SessionConfig(t TNCConfig) session.Config {
	return session.Config{
		Name:        t.Name,
		Info:        c.TncInfo(t),
		NegotiateBW: c.ARQ.NegotiateBW,
		FEC:         c.FECConfig(),
		ARQ:         c.ARQConfig(),
		Settle:      c.Scheduler.Settle,
	}
}

func accessList(allow, deny []string) *arim.AccessList {
	if len(allow) == 0 && len(deny) == 0 {
		return nil
	}

	return arim.NewAccessList(allow, deny)
}
