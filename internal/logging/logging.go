// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Component-tagged structured loggers over zerolog. Loggers resolve the
// process base logger at call time so a process can install its writer and
// level after packages are initialised.

package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	base.Store(&l)
}

// Setup replaces the process base logger.
func Setup(w io.Writer, level zerolog.Level) {
	l := zerolog.New(w).With().Timestamp().Logger().Level(level)
	base.Store(&l)
}

// Console returns a human-readable writer for terminals.
func Console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
}

// Logger is a lazily bound, component-tagged logger.
type Logger struct {
	component string
}

// For returns the logger of a named component.
func For(component string) Logger {
	return Logger{component: component}
}

// Enabled reports whether level is enabled.
func (l Logger) Enabled(level zerolog.Level) bool {
	return base.Load().GetLevel() <= level
}

// log writes msg with args as alternating key/value pairs.
func (l Logger) log(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	ev = ev.Str("component", l.component)
	if len(args) > 0 {
		ev = ev.Fields(args)
	}
	ev.Msg(msg)
}

func (l Logger) Debug(msg string, args ...any) { l.log(base.Load().Debug(), msg, args) }
func (l Logger) Info(msg string, args ...any)  { l.log(base.Load().Info(), msg, args) }
func (l Logger) Warn(msg string, args ...any)  { l.log(base.Load().Warn(), msg, args) }
func (l Logger) Error(msg string, args ...any) { l.log(base.Load().Error(), msg, args) }
