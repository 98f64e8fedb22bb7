package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

func dial(t *testing.T, f *Feed) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestFeedSendsStatusThenUpdates(t *testing.T) {
	captured := time.Now()
	f := NewFeed(
		func() types.WSStatusResponse {
			return types.WSStatusResponse{Type: "status", Status: types.PipelineStatus{RunID: "run-1"}}
		},
		func() (types.Update, bool) {
			return types.Update{
				Spectrum:   types.SpectrumSample{FrequencyHz: 440},
				Brightness: 80,
				Color:      types.RGB{R: 0, G: 255, B: 0},
				Captured:   captured,
			}, true
		},
	)
	f.UpdateInterval = 10 * time.Millisecond
	f.StatusInterval = time.Hour
	conn := dial(t, f)

	first := readType(t, conn)
	assert.Equal(t, "status", first["type"])
	assert.Equal(t, "run-1", first["status"].(map[string]any)["run_id"])

	update := readType(t, conn)
	assert.Equal(t, "update", update["type"])
	assert.InDelta(t, 440.0, update["frequency_hz"], 1e-9)
	assert.Equal(t, "#00FF00", update["hex"])
}

func TestFeedAnswersStatusCommand(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(
		func() types.WSStatusResponse {
			calls.Add(1)
			return types.WSStatusResponse{Type: "status"}
		},
		func() (types.Update, bool) { return types.Update{}, false },
	)
	f.StatusInterval = time.Hour
	conn := dial(t, f)

	assert.Equal(t, "status", readType(t, conn)["type"])
	require.NoError(t, conn.WriteJSON(WSCommand{Type: "status"}))
	assert.Equal(t, "status", readType(t, conn)["type"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://192.168.1.10", true},
		{"http://lamper.local:8080", true},
		{"https://evil.example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://lamper.local:8080/ws", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), tt.origin)
	}
}
