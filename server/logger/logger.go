package logger

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// Logger interface is used to allow tests to inject custom loggers.
type Logger interface {
	Fatalf(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Debug(...interface{})
	Warn(...interface{})
	Info(...interface{})
	Fatal(...interface{})
	Writer() io.Writer
	SetWriter(io.Writer)
	Silent(bool)
	Prefix(string)
}

type logger struct {
	*log.Logger
	formatter *prefixFormatter
	restore   io.Writer
	silent    bool
}

// NewLogger returns a new Logger instance backed by Logrus.
func NewLogger(level uint32) Logger {
	l := log.New()
	l.SetLevel(log.Level(level))
	formatter := &prefixFormatter{
		TextFormatter: &log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
	l.Formatter = formatter
	return &logger{Logger: l, formatter: formatter}
}

// NewSilentLogger returns a Logger that discards everything. Components fall
// back to it when they are not given a Logger.
func NewSilentLogger() Logger {
	l := NewLogger(uint32(log.InfoLevel))
	l.Silent(true)
	return l
}

func (l *logger) Writer() io.Writer {
	return l.Out
}

func (l *logger) SetWriter(writer io.Writer) {
	l.Out = writer
}

// Silent discards all output while enabled. Disabling it restores the writer
// that was active when it was enabled.
func (l *logger) Silent(enable bool) {
	if enable == l.silent {
		return
	}
	l.silent = enable
	if enable {
		l.restore = l.Out
		l.Out = io.Discard
		return
	}
	l.Out = l.restore
}

// Prefix sets a string prepended to every message. An empty string clears
// it.
func (l *logger) Prefix(prefix string) {
	l.formatter.prefix = prefix
}

type prefixFormatter struct {
	*log.TextFormatter
	prefix string
}

func (f *prefixFormatter) Format(entry *log.Entry) ([]byte, error) {
	if f.prefix != "" {
		entry.Message = f.prefix + entry.Message
	}
	return f.TextFormatter.Format(entry)
}
