// Package logging wraps logrus into the five-level logger of spec §7
// (verbose, log, info, warn, fatal), matching the teacher's
// `log "github.com/sirupsen/logrus"` usage (see aggregator.go's
// log.Warnf call).
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dysectapi/dysectapi/dyerr"
)

// Logger is the process-wide five-level logger. Unlike the source
// library, Fatal never calls os.Exit: the core is a library, so Fatal
// only returns a non-OK code for the caller (a cmd/ binary) to act on.
type Logger struct {
	l       *log.Logger
	Verbose bool
}

// New builds a Logger writing to stderr in text format, matching the
// teacher's default logrus setup.
func New(verbose bool) *Logger {
	l := log.New()
	l.Out = os.Stderr
	l.Formatter = &log.TextFormatter{FullTimestamp: true}
	if verbose {
		l.Level = log.DebugLevel
	} else {
		l.Level = log.InfoLevel
	}
	return &Logger{l: l, Verbose: verbose}
}

func (lg *Logger) Verbosef(format string, args ...interface{}) {
	if lg.Verbose {
		lg.l.Debugf(format, args...)
	}
}

func (lg *Logger) Logf(format string, args ...interface{})  { lg.l.Infof(format, args...) }
func (lg *Logger) Infof(format string, args ...interface{}) { lg.l.Infof(format, args...) }

// Warnf logs at warn level and returns false, matching the source's
// Err::warn(false, ...) idiom of "log and return the failure value".
func (lg *Logger) Warnf(format string, args ...interface{}) bool {
	lg.l.Warnf(format, args...)
	return false
}

// Fatalf logs at error level and returns a Fatal *dyerr.Error instead
// of terminating the process.
func (lg *Logger) Fatalf(format string, args ...interface{}) *dyerr.Error {
	lg.l.Errorf(format, args...)
	return dyerr.New(dyerr.Fatal, format, args...)
}
