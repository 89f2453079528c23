// Package progress reports user-facing connection status (connecting,
// authenticating, connected, reconnecting, disconnected) separately
// from the diagnostic logging in internal/logging, the way an
// interactive CLI client distinguishes "what to tell the user" from
// "what to put in the log".
package progress

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
)

// Sink receives user-facing status lines.
type Sink interface {
	Report(format string, v ...any)
}

// StderrSink writes status lines to the given writer (stderr by
// default), one per call.
type StderrSink struct {
	Out io.Writer
}

// NewStderrSink returns a Sink writing to os.Stderr.
func NewStderrSink() *StderrSink {
	return &StderrSink{Out: os.Stderr}
}

func (s *StderrSink) Report(format string, v ...any) {
	fmt.Fprintf(s.Out, format+"\n", v...)
}

// SyslogSink mirrors status lines to the system log, for running as a
// background service where nothing reads stderr.
type SyslogSink struct {
	w *syslog.Writer
}

// NewSyslogSink dials the local syslog daemon under the given tag.
func NewSyslogSink(tag string) (*SyslogSink, error) {
	w, err := syslog.New(syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("progress: connecting to syslog: %w", err)
	}
	return &SyslogSink{w: w}, nil
}

func (s *SyslogSink) Report(format string, v ...any) {
	_ = s.w.Info(fmt.Sprintf(format, v...))
}

// Multi fans a report out to several sinks, e.g. stderr for an
// interactive session plus syslog when running detached.
type Multi []Sink

func (m Multi) Report(format string, v ...any) {
	for _, s := range m {
		s.Report(format, v...)
	}
}
