package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/arim"
	"github.com/arimnet/arimgo/arq"
	"github.com/arimnet/arimgo/config"
	"github.com/arimnet/arimgo/monitor"
	"github.com/arimnet/arimgo/query"
	"github.com/arimnet/arimgo/queue"
	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
	"github.com/arimnet/arimgo/txsched"
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
)

const Subsystem = "ARMD"

const (
	// maxLogFileSize is the size in MB at which the log file is rotated.
	maxLogFileSize = 10

	// maxLogFiles is the number of rotated log files kept.
	maxLogFiles = 3
)

var (
	log = build.NewSubLogger(Subsystem, nil)

	errShowSubsystems = errors.New("subsystems listed")
)

// subLoggers maps each subsystem tag to the function installing its logger.
var subLoggers = map[string]func(btclog.Logger){
	Subsystem:         func(l btclog.Logger) { log = l },
	ardop.Subsystem:   ardop.UseLogger,
	arim.Subsystem:    arim.UseLogger,
	arq.Subsystem:     arq.UseLogger,
	config.Subsystem:  config.UseLogger,
	monitor.Subsystem: monitor.UseLogger,
	query.Subsystem:   query.UseLogger,
	queue.Subsystem:   queue.UseLogger,
	session.Subsystem: session.UseLogger,
	store.Subsystem:   store.UseLogger,
	txsched.Subsystem: txsched.UseLogger,
}

// setupLoggers creates a sub-logger for every subsystem on root, registers it
// and installs it in its package. A critical log line calls shutdown.
func setupLoggers(root *build.RotatingLogWriter, shutdown func()) {
	genLogger := func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}

	for tag, use := range subLoggers {
		logger := build.NewSubLogger(tag, genLogger)
		root.RegisterSubLogger(tag, logger)
		use(logger)
	}
}

// setDebugLevels applies a --debuglevel value to the loggers of root. The
// value "show" lists the subsystems instead.
func setDebugLevels(levels string, root *build.RotatingLogWriter) error {
	if levels == "show" {
		fmt.Println("Supported subsystems:",
			strings.Join(root.SupportedSubsystems(), ", "))

		return errShowSubsystems
	}

	return build.ParseAndSetDebugLevels(levels, root)
}
