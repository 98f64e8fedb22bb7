package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "lamper.jsonl"), "run-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoggerWritesDeviceEvents(t *testing.T) {
	l := newTestLogger(t)

	l.RunStarted("spectrum")
	l.DeviceLost("10.0.0.9", errors.New("no reply"))
	l.DeviceRecovered("10.0.0.9", 1500*time.Millisecond)
	l.RunStopped(nil)

	events, more, err := ReadLast(l.Path(), 10, 0, "")
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 4)

	assert.Equal(t, RunStopped, events[0].Type)
	assert.Equal(t, DeviceRecovered, events[1].Type)
	assert.Equal(t, int64(1500), events[1].Details.OutageMs)
	assert.Equal(t, "no reply", events[2].Details.Error)
	assert.Equal(t, "spectrum", events[3].Message)
	for _, e := range events {
		assert.Equal(t, "run-1", e.RunID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestReadLastPaginatesAndFilters(t *testing.T) {
	l := newTestLogger(t)
	for range 3 {
		l.DeviceLost("10.0.0.9", nil)
		l.DeviceRecovered("10.0.0.9", time.Second)
	}

	events, more, err := ReadLast(l.Path(), 2, 0, DeviceLost)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.True(t, more)

	events, more, err = ReadLast(l.Path(), 2, 2, DeviceLost)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.False(t, more)
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"type\":\"run_started\"}\nnot json\n"), 0o600))

	events, _, err := ReadLast(path, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, RunStarted, events[0].Type)
}

func TestReadLastMissingFile(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "none.jsonl"), 10, 0, "")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, more)
}
