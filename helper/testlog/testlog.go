// Package testlog creates hclog loggers backed by testing.T to ease logging
// in tests.
package testlog

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	prefix string
	t      LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s%s", w.prefix, p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a Logger.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t: t}
}

// HCLogger returns a new test hclog logger. Output goes to the test's log
// unless PIXELD_TEST_STDOUT is set.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	level := hclog.Trace
	envLogLevel := os.Getenv("PIXELD_TEST_LOG_LEVEL")
	if envLogLevel != "" {
		level = hclog.LevelFromString(envLogLevel)
	}
	opts := &hclog.LoggerOptions{
		Level:           level,
		Output:          NewWriter(t),
		IncludeLocation: true,
	}
	if os.Getenv("PIXELD_TEST_STDOUT") != "" {
		opts.Output = os.Stdout
	}
	return hclog.NewInterceptLogger(opts)
}
