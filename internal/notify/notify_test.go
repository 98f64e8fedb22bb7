package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/config"
)

// hookRecorder collects webhook payloads posted to an httptest server.
type hookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	status   int
}

func newHookServer(t *testing.T, status int) (*httptest.Server, *hookRecorder) {
	t.Helper()
	rec := &hookRecorder{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			rec.mu.Lock()
			rec.payloads = append(rec.payloads, p)
			rec.mu.Unlock()
		}
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func (r *hookRecorder) payload(t *testing.T, i int) WebhookPayload {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Greater(t, len(r.payloads), i)
	return r.payloads[i]
}

func (r *hookRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		out = append(out, p.Event)
	}
	return out
}

func TestDeviceLostWebhookPayload(t *testing.T) {
	srv, rec := newHookServer(t, http.StatusNoContent)

	err := SendDeviceLostWebhook(srv.URL, &Alert{
		Name: "Studio", RunID: "run-1", Address: "192.168.1.20", Error: "timeout",
	})
	require.NoError(t, err)

	require.Len(t, rec.events(), 1)
	p := rec.payload(t, 0)
	assert.Equal(t, EventDeviceLost, p.Event)
	assert.Equal(t, "Studio", p.Name)
	assert.Equal(t, "run-1", p.RunID)
	assert.Equal(t, "192.168.1.20", p.Address)
	assert.Equal(t, "timeout", p.Error)
	assert.Zero(t, p.OutageMs)
	_, err = time.Parse(time.RFC3339, p.Timestamp)
	assert.NoError(t, err)
}

func TestDeviceRecoveredWebhookCarriesOutage(t *testing.T) {
	srv, rec := newHookServer(t, http.StatusOK)

	require.NoError(t, SendDeviceRecoveredWebhook(srv.URL, &Alert{Name: "Studio", Outage: 1500 * time.Millisecond}))
	p := rec.payload(t, 0)
	assert.Equal(t, EventDeviceRecovered, p.Event)
	assert.Equal(t, int64(1500), p.OutageMs)
}

func TestWebhookErrors(t *testing.T) {
	srv, _ := newHookServer(t, http.StatusBadGateway)

	err := SendTestWebhook(srv.URL, "Studio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	assert.Error(t, SendTestWebhook("", "Studio"))
	assert.NoError(t, SendDeviceLostWebhook("", &Alert{}), "unconfigured webhook is skipped")
}

func newTestGraphClient(srv *httptest.Server) *GraphClient {
	return &GraphClient{
		fromAddress: "lamp@example.com",
		baseURL:     srv.URL,
		httpClient:  srv.Client(),
	}
}

func TestGraphSendMail(t *testing.T) {
	type received struct {
		path string
		req  graphMailRequest
	}
	ch := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rcv received
		rcv.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&rcv.req)
		ch <- rcv
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestGraphClient(srv)
	err := c.SendMail(context.Background(), []string{" a@example.com ", "", "b@example.com"}, "subject", "body")
	require.NoError(t, err)

	rcv := <-ch
	got := rcv.req
	assert.Equal(t, "/users/lamp@example.com/sendMail", rcv.path)
	assert.Equal(t, "subject", got.Message.Subject)
	assert.Equal(t, "Text", got.Message.Body.ContentType)
	require.Len(t, got.Message.ToRecipients, 2)
	assert.Equal(t, "a@example.com", got.Message.ToRecipients[0].EmailAddress.Address)
}

func TestGraphRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newTestGraphClient(srv).SendMail(context.Background(), []string{"a@example.com"}, "s", "b"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGraphClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestGraphClient(srv).SendMail(context.Background(), []string{"a@example.com"}, "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGraphRetryStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := newTestGraphClient(srv).SendMail(ctx, []string{"a@example.com"}, "s", "b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestValidateAuthStatuses(t *testing.T) {
	for status, ok := range map[int]bool{
		http.StatusOK:           true,
		http.StatusForbidden:    true,
		http.StatusNotFound:     false,
		http.StatusUnauthorized: false,
	} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			err := newTestGraphClient(srv).ValidateAuth(context.Background())
			if ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := &GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "lamp@example.com",
		Recipients:   "a@example.com",
	}
	require.NoError(t, ValidateConfig(cfg))
	assert.True(t, IsConfigured(cfg))

	bad := *cfg
	bad.TenantID = "not-a-guid"
	assert.Error(t, ValidateConfig(&bad))

	bad = *cfg
	bad.Recipients = ""
	assert.Error(t, ValidateConfig(&bad))
	assert.False(t, IsConfigured(&bad))
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ParseRecipients(" a@example.com,, b@example.com ,"))
	assert.Empty(t, ParseRecipients(""))
}

// fakeZabbix accepts one trapper connection and replies with info.
func fakeZabbix(t *testing.T, info string) (port int, got <-chan zabbixRequest) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ch := make(chan zabbixRequest, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		header := make([]byte, zabbixHeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint64(header[5:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		var req zabbixRequest
		_ = json.Unmarshal(body, &req)
		ch <- req

		reply, _ := json.Marshal(zabbixResponse{Response: "success", Info: info})
		out := make([]byte, zabbixHeaderSize)
		copy(out, zabbixMagic[:])
		binary.LittleEndian.PutUint64(out[5:], uint64(len(reply)))
		_, _ = conn.Write(append(out, reply...))
	}()

	return ln.Addr().(*net.TCPAddr).Port, ch
}

func TestZabbixDeviceLost(t *testing.T) {
	port, got := fakeZabbix(t, "processed: 1; failed: 0; total: 1")
	z := ZabbixConfig{Server: "127.0.0.1", Port: port, Host: "studio-lamp", Key: "lamper.event"}

	require.NoError(t, SendDeviceLostZabbix(z, &Alert{Address: "192.168.1.20", RunID: "run-1"}))

	req := <-got
	assert.Equal(t, "sender data", req.Request)
	require.Len(t, req.Data, 1)
	assert.Equal(t, "studio-lamp", req.Data[0].Host)
	assert.Equal(t, "lamper.event", req.Data[0].Key)
	assert.Equal(t, "event=DEVICE_LOST address=192.168.1.20 run=run-1", req.Data[0].Value)
}

func TestZabbixRejectsUnprocessedItems(t *testing.T) {
	port, _ := fakeZabbix(t, "processed: 0; failed: 0; total: 1")
	z := ZabbixConfig{Server: "127.0.0.1", Port: port, Host: "h", Key: "k"}

	err := SendTestZabbix(z)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processed no items")

	assert.Error(t, SendTestZabbix(ZabbixConfig{}))
}

func newNotifierConfig(t *testing.T, webhookURL string) *config.Config {
	t.Helper()
	cfg := config.New("")
	require.NoError(t, cfg.Load())
	cfg.System.Name = "Studio"
	cfg.Notifications.Webhook.URL = webhookURL
	return cfg
}

func TestDeviceNotifierNotifiesOncePerOutage(t *testing.T) {
	srv, rec := newHookServer(t, http.StatusOK)
	n := NewDeviceNotifier(newNotifierConfig(t, srv.URL), "run-7")

	n.DeviceLost("10.0.0.9", errors.New("no reply"))
	n.DeviceLost("10.0.0.9", errors.New("no reply"))
	n.Wait()
	assert.Equal(t, []string{EventDeviceLost}, rec.events())

	n.DeviceRecovered("10.0.0.9", 2*time.Second)
	n.Wait()
	assert.Equal(t, []string{EventDeviceLost, EventDeviceRecovered}, rec.events())

	// A new outage notifies again.
	n.DeviceLost("10.0.0.9", nil)
	n.Wait()
	assert.Len(t, rec.events(), 3)
	assert.Equal(t, "run-7", rec.payload(t, 2).RunID)
}

func TestDeviceNotifierRecoveryWithoutLossIsSilent(t *testing.T) {
	srv, rec := newHookServer(t, http.StatusOK)
	n := NewDeviceNotifier(newNotifierConfig(t, srv.URL), "run-7")

	n.DeviceRecovered("10.0.0.9", time.Second)
	n.Wait()
	assert.Empty(t, rec.events())
}

func TestDeviceNotifierSendTest(t *testing.T) {
	srv, rec := newHookServer(t, http.StatusOK)
	n := NewDeviceNotifier(newNotifierConfig(t, srv.URL), "run-7")

	require.NoError(t, n.SendTest(context.Background()))
	assert.Equal(t, []string{EventTest}, rec.events())

	empty := NewDeviceNotifier(newNotifierConfig(t, ""), "run-7")
	assert.Error(t, empty.SendTest(context.Background()))
}

func TestAlertEmails(t *testing.T) {
	subject, body := deviceLostEmail(&Alert{Name: "Studio", Address: "10.0.0.9", Error: "timeout"})
	assert.Equal(t, "[ALERT] Light Unreachable - Studio", subject)
	assert.Contains(t, body, "10.0.0.9")
	assert.Contains(t, body, "timeout")

	subject, _ = deviceRecoveredEmail(&Alert{Name: "Studio", Outage: time.Minute})
	assert.Equal(t, "[OK] Light Reachable - Studio", subject)
}

func TestZabbixFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeZabbixFrame(&buf, []byte(`{"response":"success"}`)))
	assert.Equal(t, zabbixMagic[:], buf.Bytes()[:5])

	body, err := readZabbixFrame(&buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"success"}`, string(body))
}

func TestReadZabbixFrameRejectsBadHeaders(t *testing.T) {
	_, err := readZabbixFrame(bytes.NewReader(make([]byte, zabbixHeaderSize)))
	assert.Error(t, err, "missing magic")

	empty := append(zabbixMagic[:], make([]byte, 8)...)
	_, err = readZabbixFrame(bytes.NewReader(empty))
	assert.Error(t, err, "zero length")

	huge := append(zabbixMagic[:], 0, 0, 0, 1, 0, 0, 0, 0)
	_, err = readZabbixFrame(bytes.NewReader(huge))
	assert.Error(t, err, "oversized")
}

func TestCheckZabbixReply(t *testing.T) {
	assert.NoError(t, checkZabbixReply([]byte(`{"response":"success","info":"processed: 1; failed: 0; total: 1"}`)))
	assert.Error(t, checkZabbixReply([]byte(`{"response":"failed","info":"bad"}`)))
	assert.Error(t, checkZabbixReply([]byte(`not json`)))
}
