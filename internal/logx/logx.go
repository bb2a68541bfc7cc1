// Package logx formats termc's stderr diagnostics.
//
// The wire format is fixed by the host program's external contract:
// "(termc) LEVEL: message [errno=NNN description]". Three levels exist —
// UNEXPECTED ERROR, ERROR, WARNING — and I/O failures additionally carry
// the errno and its system description. Internal tracing that isn't part
// of that contract rides the same logger at levels below the three above;
// today only the child reap is traced (PTY setup and viewer
// accept/detach emit no trace lines).
package logx

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// FieldErrno is the logrus field key under which WithErrno stores the
// errno rendered by the wire formatter.
const (
	FieldErrno = "errno"
)

// wireFormatter renders "(termc) LEVEL: message[ errno=NNN description]".
type wireFormatter struct {
	colorize bool
}

func (f *wireFormatter) Format(e *logrus.Entry) ([]byte, error) {
	label, colorFn := levelLabel(e.Level, f.colorize)
	msg := fmt.Sprintf("(termc) %s: %s", colorFn(label), e.Message)
	if errnoVal, ok := e.Data[FieldErrno]; ok {
		errno, _ := errnoVal.(syscall.Errno)
		msg = fmt.Sprintf("%s errno=%03d %s", msg, int(errno), errno.Error())
	}
	return append([]byte(msg), '\n'), nil
}

func levelLabel(level logrus.Level, colorize bool) (string, func(string) string) {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		label := "UNEXPECTED ERROR"
		if level == logrus.ErrorLevel {
			label = "ERROR"
		}
		if colorize {
			return label, color.New(color.FgRed, color.Bold).SprintFunc()
		}
		return label, identity
	case logrus.WarnLevel:
		if colorize {
			return "WARNING", color.New(color.FgYellow).SprintFunc()
		}
		return "WARNING", identity
	default:
		return "DEBUG", identity
	}
}

func identity(s string) string { return s }

// New builds a logger that writes wire-format diagnostics to stderr at
// or above level, colorized when stderr is a terminal.
func New(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&wireFormatter{colorize: isatty.IsTerminal(os.Stderr.Fd())})
	return l
}

// Discard returns a logger that drops everything, for tests and library
// callers that don't want termc's diagnostics.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithErrno attaches an errno/description pair to a log entry, used for
// every I/O failure reported per the host program's stderr contract.
func WithErrno(l *logrus.Logger, err error) *logrus.Entry {
	var errno syscall.Errno
	if eno, ok := unwrapErrno(err); ok {
		errno = eno
	}
	return l.WithField(FieldErrno, errno)
}

func unwrapErrno(err error) (syscall.Errno, bool) {
	type causer interface{ Unwrap() error }
	for err != nil {
		if eno, ok := err.(syscall.Errno); ok {
			return eno, true
		}
		c, ok := err.(causer)
		if !ok {
			return 0, false
		}
		err = c.Unwrap()
	}
	return 0, false
}

// ParseLevel maps the config/env log-level strings to logrus levels,
// defaulting to WarnLevel on an empty string (silent by default outside
// the fixed wire-protocol levels).
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.WarnLevel, nil
	}
	switch s {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
