// Package server streams pipeline status and analysed frames to WebSocket clients.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

const (
	// DefaultStatusInterval is how often the full status is pushed.
	DefaultStatusInterval = 3000 * time.Millisecond
	// DefaultUpdateInterval is how often the latest analysed frame is pushed.
	DefaultUpdateInterval = 100 * time.Millisecond
)

// WSCommand is a message sent by a client. Only "status" is understood;
// it requests an immediate status push.
type WSCommand struct {
	Type string `json:"type"`
}

// Feed serves the live WebSocket feed.
type Feed struct {
	status func() types.WSStatusResponse
	latest func() (types.Update, bool)

	StatusInterval time.Duration
	UpdateInterval time.Duration
}

// NewFeed returns a Feed that pushes status from status and frames from latest.
func NewFeed(status func() types.WSStatusResponse, latest func() (types.Update, bool)) *Feed {
	return &Feed{
		status:         status,
		latest:         latest,
		StatusInterval: DefaultStatusInterval,
		UpdateInterval: DefaultUpdateInterval,
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusRequest := make(chan struct{}, 1)

	go runWriter(conn, send)
	go runReader(conn, done, statusRequest)

	f.runEventLoop(send, done, statusRequest)
}

// runWriter writes messages from send to conn and closes conn on the first
// write error or when send closes.
func runWriter(conn WebSocketConn, send <-chan any) {
	closeConn := func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			// Closing fails the reader, which stops the event loop.
			closeConn()
			for range send {
			}
			return
		}
	}
	closeConn()
}

// runReader handles client commands until the connection fails.
func runReader(conn WebSocketConn, done chan<- struct{}, statusRequest chan<- struct{}) {
	defer close(done)
	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Type != "status" {
			slog.Debug("ignoring WebSocket command", "type", cmd.Type)
			continue
		}
		select {
		case statusRequest <- struct{}{}:
		default:
		}
	}
}

func (f *Feed) runEventLoop(send chan any, done, statusRequest <-chan struct{}) {
	defer close(send)

	updateTicker := time.NewTicker(f.UpdateInterval)
	statusTicker := time.NewTicker(f.StatusInterval)
	defer updateTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	var lastSent time.Time
	if !trySend(f.status()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusRequest:
			if !trySend(f.status()) {
				return
			}
		case <-statusTicker.C:
			if !trySend(f.status()) {
				return
			}
		case <-updateTicker.C:
			u, ok := f.latest()
			if !ok || u.Captured.Equal(lastSent) {
				continue
			}
			lastSent = u.Captured
			if !trySend(UpdateResponse(u)) {
				return
			}
		}
	}
}

// UpdateResponse converts an analysed frame to its wire form.
func UpdateResponse(u types.Update) types.WSUpdateResponse {
	return types.WSUpdateResponse{
		Type:        "update",
		FrequencyHz: u.Spectrum.FrequencyHz,
		Magnitude:   u.Spectrum.Magnitude,
		Brightness:  u.Brightness,
		Color:       u.Color,
		Hex:         u.Color.Hex(),
		Levels:      u.Levels,
	}
}
