// Package eventlog records run and device events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Run event types.
const (
	RunStarted EventType = "run_started"
	RunStopped EventType = "run_stopped"
)

// Device event types.
const (
	DeviceLost      EventType = "device_lost"
	DeviceRecovered EventType = "device_recovered"
)

// Event is a single log entry.
type Event struct {
	Timestamp time.Time     `json:"ts"`
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	Message   string        `json:"msg,omitempty"`
	Details   *DeviceDetail `json:"details,omitempty"`
}

// DeviceDetail holds device-specific event details.
type DeviceDetail struct {
	Address  string `json:"address,omitempty"`
	Error    string `json:"error,omitempty"`
	OutageMs int64  `json:"outage_ms,omitempty"`
}

// Logger appends events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	runID string

	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger opens (or creates) the log file at filePath for run runID.
func NewLogger(filePath, runID string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		runID:    runID,
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes event, stamping the time and run ID when unset.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}
	return l.encoder.Encode(event)
}

func (l *Logger) logOrWarn(event *Event) {
	if err := l.Log(event); err != nil {
		slog.Warn("failed to write event log", "type", event.Type, "error", err)
	}
}

// RunStarted records the start of a run.
func (l *Logger) RunStarted(message string) {
	l.logOrWarn(&Event{Type: RunStarted, Message: message})
}

// RunStopped records the end of a run. err may be nil.
func (l *Logger) RunStopped(err error) {
	e := &Event{Type: RunStopped}
	if err != nil {
		e.Message = err.Error()
	}
	l.logOrWarn(e)
}

// DeviceLost records a failed health check.
func (l *Logger) DeviceLost(addr string, err error) {
	d := &DeviceDetail{Address: addr}
	if err != nil {
		d.Error = err.Error()
	}
	l.logOrWarn(&Event{Type: DeviceLost, Details: d})
}

// DeviceRecovered records a reconnect after an outage.
func (l *Logger) DeviceRecovered(addr string, outage time.Duration) {
	l.logOrWarn(&Event{
		Type:    DeviceRecovered,
		Details: &DeviceDetail{Address: addr, OutageMs: outage.Milliseconds()},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// MaxReadLimit caps the number of events returned by ReadLast.
const MaxReadLimit = 500

// ReadLast returns up to n events, newest first, after skipping offset
// matching events. An empty filter matches every type. The boolean reports
// whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter EventType) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if filter != "" && event.Type != filter {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}
