package main

import (
	"testing"

	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
	"github.com/stretchr/testify/require"
)

func TestDebugLevels(t *testing.T) {
	root := build.NewRotatingLogWriter()
	setupLoggers(root, func() {})

	require.ElementsMatch(t, root.SupportedSubsystems(), []string{
		"ARDP", "ARIM", "ARMD", "ARQS", "CNFG", "MNTR", "QERY",
		"QUEU", "SESS", "STOR", "TXSC",
	})

	loggers := root.SubLoggers()

	require.NoError(t, setDebugLevels("warn", root))
	for _, l := range loggers {
		require.Equal(t, btclog.LevelWarn, l.Level())
	}

	require.NoError(t, setDebugLevels("info,SESS=trace,STOR=error", root))
	require.Equal(t, btclog.LevelTrace, loggers[session.Subsystem].Level())
	require.Equal(t, btclog.LevelError, loggers[store.Subsystem].Level())
	require.Equal(t, btclog.LevelInfo, loggers[Subsystem].Level())

	require.Error(t, setDebugLevels("loud", root))
	require.Error(t, setDebugLevels("NOPE=debug", root))
	require.ErrorIs(t, setDebugLevels("show", root), errShowSubsystems)
}
