package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

	var res result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec.Code, res
}

func TestHealthzAlwaysOK(t *testing.T) {
	failing := Checker{Name: "x", Check: func(context.Context) error { return errors.New("down") }}
	code, res := serve(t, New(failing), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", res.Status)
}

func TestReadyzReportsEachCheck(t *testing.T) {
	status := types.PipelineStatus{
		State:  types.StateRunning,
		Device: types.DeviceStatus{State: "discovering"},
	}
	get := func() types.PipelineStatus { return status }
	h := New(PipelineRunning(get), DeviceConnected(get))

	code, res := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", res.Status)
	assert.Equal(t, "ok", res.Checks["pipeline"])
	assert.Equal(t, "fail: device is discovering", res.Checks["device"])

	status.Device.State = "connected"
	code, res = serve(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", res.Status)
}

func TestReadyzPipelineStopped(t *testing.T) {
	get := func() types.PipelineStatus { return types.PipelineStatus{State: types.StateReconnecting} }
	code, res := serve(t, New(PipelineRunning(get)), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail: pipeline is reconnecting", res.Checks["pipeline"])
}
