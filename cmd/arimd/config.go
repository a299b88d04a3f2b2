package main

import (
	"github.com/arimnet/arimgo/config"
)

type options struct {
	ConfigFile string `long:"config" short:"c" description:"Path to the YAML configuration file"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TNC        string `long:"tnc" description:"Command port address of the first TNC, overriding the configuration file"`
	MyCall     string `long:"mycall" description:"Station call sign, overriding the configuration file"`
	Monitor    string `long:"monitor" description:"Listen address of the websocket monitor and metrics endpoint"`
}

// overrides applies the command line settings over the file.
func (o *options) overrides(c *config.Config) {
	if o.MyCall != "" {
		c.MyCall = o.MyCall
	}

	if o.TNC != "" {
		if len(c.TNCs) == 0 {
			c.TNCs = []config.TNCConfig{config.DefaultTNC()}
		}
		c.TNCs[0].Address = o.TNC
	}

	if o.Monitor != "" {
		c.Monitor.Listen = o.Monitor
	}
}
