// Package logging configures the process-wide structured logger. It is the
// only package allowed a process-global: every other component receives a
// log.Logger handle scoped to its own name, never reaches for log.Root()
// directly.
package logging

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	// Level is one of: crit, error, warn, info, debug, trace.
	Level string
	// FilePath, if set, rotates JSON log lines through lumberjack in
	// addition to the stdout handler.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the root handler. Call once at process start.
func Init(opts Options) error {
	lvl, err := log.LvlFromString(opts.Level)
	if err != nil {
		lvl = log.LvlInfo
	}

	var handlers []log.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handlers = append(handlers, log.StreamHandler(colorable.NewColorableStdout(), log.TerminalFormat(true)))
	} else {
		handlers = append(handlers, log.StreamHandler(os.Stdout, log.LogfmtFormat()))
	}

	if opts.FilePath != "" {
		var w io.Writer = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		handlers = append(handlers, log.StreamHandler(w, log.JSONFormat()))
	}

	var root log.Handler
	if len(handlers) == 1 {
		root = handlers[0]
	} else {
		root = log.MultiHandler(handlers...)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, root))
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New returns a named child logger, e.g. logging.New("scheduler").
func New(component string) log.Logger {
	return log.New("component", component)
}
