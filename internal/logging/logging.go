// Package logging provides the narrow diagnostic sink every other
// package depends on, grounded on
// infrastructure/logging/log_logger.go: a one-method interface wrapping
// the standard library logger so call sites never import "log" directly.
package logging

import "log"

// Logger is the interface every engine/channel component logs through.
type Logger interface {
	Printf(format string, v ...any)
}

// StdLogger is the default Logger, backed by the standard library's
// package-level logger.
type StdLogger struct{}

// New returns the default StdLogger.
func New() Logger {
	return StdLogger{}
}

func (StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
