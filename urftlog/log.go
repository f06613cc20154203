// Package urftlog sets up urft's structured logger: one charmbracelet/log
// base logger per process, with a WithPrefix child logger scoped to each
// component that logs.
package urftlog

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/arqfile/urft/urftcfg"
)

// New builds the base logger for a process, level-gated by cfg.Logging.Debug.
func New(cfg *urftcfg.Config) *log.Logger {
	level := log.InfoLevel
	if cfg.Logging.Debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}

// Component returns a child logger scoped to one part of the pipeline, e.g.
// "arq", "reassembly", "handshake", "eof".
func Component(base *log.Logger, name string) *log.Logger {
	return base.WithPrefix(name)
}
