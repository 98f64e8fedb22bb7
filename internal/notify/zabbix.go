package notify

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

const (
	zabbixTimeout = 5 * time.Second

	// zabbixHeaderSize is the magic plus a little endian uint64 length.
	zabbixHeaderSize = 13
	maxReplySize     = 64 * 1024
)

var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// zabbixRequest is a trapper "sender data" request.
type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// writeZabbixFrame writes body behind a protocol header in a single write.
func writeZabbixFrame(w io.Writer, body []byte) error {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(body))
	copy(frame, zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[len(zabbixMagic):], uint64(len(body)))
	_, err := w.Write(append(frame, body...))
	return err
}

// readZabbixFrame reads one framed reply of at most maxReplySize bytes.
func readZabbixFrame(r io.Reader) ([]byte, error) {
	var header [zabbixHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, util.WrapError("read zabbix reply header", err)
	}
	if !bytes.HasPrefix(header[:], zabbixMagic[:]) {
		return nil, fmt.Errorf("invalid zabbix reply header")
	}

	size := binary.LittleEndian.Uint64(header[len(zabbixMagic):])
	switch {
	case size == 0:
		return nil, fmt.Errorf("empty zabbix reply")
	case size > maxReplySize:
		return nil, fmt.Errorf("zabbix reply too large: %d bytes (max %d)", size, maxReplySize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, util.WrapError("read zabbix reply body", err)
	}
	return body, nil
}

// checkZabbixReply maps a trapper reply to an error. Zabbix answers
// "success" even when the host or key is unknown, so the info counters are
// inspected as well.
func checkZabbixReply(raw []byte) error {
	var resp zabbixResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}
	return nil
}

// sendZabbixValue delivers one item value to the trapper. An incomplete
// config is a no-op.
func sendZabbixValue(z ZabbixConfig, value string) error {
	if !util.IsConfigured(z.Server, z.Host, z.Key) {
		return nil
	}

	body, err := json.Marshal(zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: z.Host, Key: z.Key, Value: value}},
	})
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(z.Server, strconv.Itoa(z.Port)), zabbixTimeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}
	if err := writeZabbixFrame(conn, body); err != nil {
		return util.WrapError("write zabbix payload", err)
	}
	reply, err := readZabbixFrame(conn)
	if err != nil {
		return err
	}
	return checkZabbixReply(reply)
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig = types.ZabbixConfig

// SendDeviceLostZabbix reports an unreachable light to Zabbix.
func SendDeviceLostZabbix(z ZabbixConfig, a *Alert) error {
	return sendZabbixValue(z, fmt.Sprintf("event=DEVICE_LOST address=%s run=%s", a.Address, a.RunID))
}

// SendDeviceRecoveredZabbix reports a recovered light to Zabbix.
func SendDeviceRecoveredZabbix(z ZabbixConfig, a *Alert) error {
	return sendZabbixValue(z, fmt.Sprintf("event=DEVICE_RECOVERED address=%s outage_ms=%d run=%s",
		a.Address, a.Outage.Milliseconds(), a.RunID))
}

// SendTestZabbix sends a test value to verify the trapper settings.
func SendTestZabbix(z ZabbixConfig) error {
	if !z.IsConfigured() {
		return fmt.Errorf("zabbix not configured")
	}
	return sendZabbixValue(z, "event=TEST source=zwfm-lamper")
}
