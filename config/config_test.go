package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arimnet/arimgo/arim"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mycall: k1abc
gridsquare: FN42
log_level: ARQS=debug,SESS=trace
log_file: /var/log/arimd/arimd.log

arim:
  ack_timeout: 45s
  send_retries: 3
  pilot_ping: true
  beacon_interval: 30m
  beacon_text: qrv
  deny: [N0CALL]

arq:
  connect_timeout: 2m
  repeats: 8
  negotiate_bw: false
  bandwidths:
    2: ["500,200", "200,500"]
  passwords:
    w1aw: secret
  allow: ["W1*"]

scheduler:
  settle: 500ms

tnc:
  - name: hf
    address: 10.0.0.5:8515
    fec_mode: 4FSK.500.100
    fec_repeats: 1
    arq_bandwidth: "500"
  - address: localhost:8525

monitor:
  listen: ":9000"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "arimd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", func(c *Config) {
		c.MyCall = "K1ABC"
	})
	require.NoError(t, err)

	require.Len(t, cfg.TNCs, 1)
	require.Equal(t, DefaultTNC(), cfg.TNCs[0])
	require.Equal(t, 5, cfg.ARQ.Repeats)
	require.Nil(t, cfg.FECConfig().ACL)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "k1abc", cfg.MyCall)
	require.Equal(t, "ARQS=debug,SESS=trace", cfg.LogLevel)
	require.Equal(t, "/var/log/arimd/arimd.log", cfg.LogFile)

	// Values from the file.
	require.Equal(t, 45*time.Second, cfg.ARIM.AckTimeout)
	require.Equal(t, 3, cfg.ARIM.SendRetries)
	require.Equal(t, 30*time.Minute, cfg.ARIM.BeaconInterval)
	require.Equal(t, 2*time.Minute, cfg.ARQ.ConnectTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Scheduler.Settle)
	require.Equal(t, []string{"500,200", "200,500"}, cfg.ARQ.Bandwidths[2])
	require.Equal(t, ":9000", cfg.Monitor.Listen)

	// Defaults for what the file leaves out.
	require.Equal(t, Default().ARIM.FrameTimeout, cfg.ARIM.FrameTimeout)
	require.Equal(t, Default().ARQ.AuthTimeout, cfg.ARQ.AuthTimeout)

	require.Len(t, cfg.TNCs, 2)
	require.Equal(t, "hf", cfg.TNCs[0].Name)
	require.Equal(t, "tnc2", cfg.TNCs[1].Name)
	require.Equal(t, DefaultTNC().FECMode, cfg.TNCs[1].FECMode)

	info := cfg.TncInfo(cfg.TNCs[0])
	require.Equal(t, "K1ABC", info.MyCall)
	require.Equal(t, 500, info.ARQBandwidthHz)
	require.Equal(t, 1, info.FECRepeats)

	sess := cfg.SessionConfig(cfg.TNCs[0])
	require.False(t, sess.NegotiateBW)
	require.True(t, sess.FEC.PilotPing)
	require.Equal(t, "qrv", sess.FEC.BeaconText)
	require.False(t, sess.FEC.ACL.Permit(arim.MustCall("N0CALL")))
	require.True(t, sess.FEC.ACL.Permit(arim.MustCall("W1AW")))

	require.Equal(t, "secret", sess.ARQ.Passwords["W1AW"])
	require.Equal(t, 2*time.Minute, sess.ARQ.Timeouts.Connect)
	require.True(t, sess.ARQ.ACL.Permit(arim.MustCall("W1XYZ")))
	require.False(t, sess.ARQ.ACL.Permit(arim.MustCall("K2ABC")))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{{
		name:   "missing call",
		mutate: func(c *Config) { c.MyCall = "" },
	}, {
		name:   "bad grid",
		mutate: func(c *Config) { c.GridSquare = "ZZ99" },
	}, {
		name:   "zero ack timeout",
		mutate: func(c *Config) { c.ARIM.AckTimeout = 0 },
	}, {
		name:   "negative retries",
		mutate: func(c *Config) { c.ARIM.SendRetries = -1 },
	}, {
		name:   "payload too large",
		mutate: func(c *Config) { c.ARIM.MaxPayload = arim.MaxPayload + 1 },
	}, {
		name: "bad downshift pair",
		mutate: func(c *Config) {
			c.ARQ.Bandwidths = map[int][]string{2: {"500MAX,200"}}
		},
	}, {
		name: "duplicate tnc",
		mutate: func(c *Config) {
			c.TNCs = []TNCConfig{DefaultTNC(), DefaultTNC()}
		},
	}, {
		name: "bad address",
		mutate: func(c *Config) {
			tnc := DefaultTNC()
			tnc.Address = "localhost"
			c.TNCs = []TNCConfig{tnc}
		},
	}, {
		name: "bad fec mode",
		mutate: func(c *Config) {
			tnc := DefaultTNC()
			tnc.FECMode = "4PSK.9000.100"
			c.TNCs = []TNCConfig{tnc}
		},
	}, {
		name: "bad bandwidth",
		mutate: func(c *Config) {
			tnc := DefaultTNC()
			tnc.ARQBandwidth = "750"
			c.TNCs = []TNCConfig{tnc}
		},
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load("", func(c *Config) {
				c.MyCall = "K1ABC"
				test.mutate(c)
			})
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}
