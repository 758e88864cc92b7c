package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLoggerAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf, Component: "engine"})

	logger.WithSession("s1", "R1::process").Info("cycle started")

	line := buf.String()
	assert.Contains(t, line, `"component":"engine"`)
	assert.Contains(t, line, `"session_id":"s1"`)
	assert.Contains(t, line, `"correlation_id":"R1::process"`)
	assert.Contains(t, line, "cycle started")
}

func TestContextLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestContextLoggerFormatsArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf})
	logger.Info("tool=%s attempts=%d", "inventory:check", 3)
	assert.Contains(t, buf.String(), "tool=inventory:check attempts=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("debug"))
	assert.Equal(t, LogLevelInfo, ParseLevel("info"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warn"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("unknown"))
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestBroadcasterFansOutToSubscribers(t *testing.T) {
	b := NewBroadcaster(NoOpLogger{})
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Info("processing session=%s", "s1")

	select {
	case rec := <-ch:
		assert.Equal(t, "INFO", rec.Level)
		assert.True(t, strings.Contains(rec.Message, "session=s1"))
		assert.False(t, rec.Timestamp.IsZero())
	default:
		t.Fatal("expected a broadcast record")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(NoOpLogger{})
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // double-cancel is safe

	_, open := <-ch
	require.False(t, open)

	// Emitting after unsubscribe must not panic.
	b.Error("late message")
}

func TestBroadcasterDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroadcaster(NoOpLogger{})
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		b.Debug("burst")
	}
	// The buffer bounds delivery; the broadcaster itself never blocked.
	assert.LessOrEqual(t, len(ch), 64)
}
