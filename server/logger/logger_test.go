package logger

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Ensure NewLogger returns a usable logger.
func TestNewLogger(t *testing.T) {
	l := NewLogger(uint32(log.DebugLevel))
	require.NotNil(t, l)

	// These should not panic.
	l.Debug("test debug")
	l.Info("test info")
	l.Warn("test warn")
	l.Debugf("test %s", "debugf")
	l.Infof("test %s", "infof")
	l.Warnf("test %s", "warnf")
	l.Errorf("test %s", "errorf")
}

// Ensure the prefix is applied to messages and can be cleared.
func TestLoggerPrefix(t *testing.T) {
	l := NewLogger(uint32(log.DebugLevel))
	var buf bytes.Buffer
	l.SetWriter(&buf)

	l.Prefix("[op-1] ")
	l.Info("message")
	require.Contains(t, buf.String(), "[op-1] message")

	l.Prefix("")
	buf.Reset()
	l.Info("no prefix")
	require.NotContains(t, buf.String(), "[op-1]")
}

// Ensure Silent suppresses output and restores the previous writer.
func TestLoggerSilent(t *testing.T) {
	l := NewLogger(uint32(log.DebugLevel))
	var buf bytes.Buffer
	l.SetWriter(&buf)

	l.Silent(true)
	l.Info("should not appear")
	require.Zero(t, buf.Len())

	l.Silent(false)
	l.Info("should appear")
	require.Contains(t, buf.String(), "should appear")
}

// Ensure levels below the configured one are dropped.
func TestLoggerLevel(t *testing.T) {
	l := NewLogger(uint32(log.WarnLevel))
	var buf bytes.Buffer
	l.SetWriter(&buf)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	require.Zero(t, buf.Len())

	l.Warnf("warn %d", 3)
	require.Contains(t, buf.String(), "warn 3")
}

// Ensure the silent logger writes nothing.
func TestNewSilentLogger(t *testing.T) {
	l := NewSilentLogger()
	l.Errorf("dropped")
	require.NotNil(t, l.Writer())
}

var _ Logger = (*logger)(nil)
