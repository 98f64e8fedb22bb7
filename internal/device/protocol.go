package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Protocol constants of the LAN control API.
const (
	// ReplyBufferSize is the size of the receive buffer for replies.
	ReplyBufferSize = 256
	// DefaultListenAddr is the local address replies are sent to.
	DefaultListenAddr = "0.0.0.0:4002"
	// DefaultMulticastAddr is the group that answers scan requests.
	DefaultMulticastAddr = "239.255.255.250:4001"
	// DefaultControlPort is the unicast port for commands.
	DefaultControlPort = 4003
	// MaxBrightness is the highest brightness the device accepts.
	MaxBrightness = 100
)

// Command names on the wire.
const (
	cmdScan       = "scan"
	cmdTurn       = "turn"
	cmdBrightness = "brightness"
	cmdColor      = "colorwc"
	cmdStatus     = "devStatus"
)

var errMissingIP = errors.New("reply has no ip field")

type envelope struct {
	Msg message `json:"msg"`
}

type message struct {
	Cmd  string `json:"cmd,omitempty"`
	Data any    `json:"data"`
}

type scanRequest struct {
	AccountTopic string `json:"account_topic"`
}

type valueData struct {
	Value int `json:"value"`
}

type rgbData struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type colorData struct {
	Color            rgbData `json:"color"`
	ColorTemInKelvin int     `json:"colorTemInKelvin,omitempty"`
}

type reply struct {
	Msg struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
	} `json:"msg"`
}

type scanReply struct {
	IP     string `json:"ip"`
	Device string `json:"device"`
	SKU    string `json:"sku"`
}

type statusReply struct {
	OnOff            int     `json:"onOff"`
	Brightness       flexInt `json:"brightness"`
	Color            rgbData `json:"color"`
	ColorTemInKelvin int     `json:"colorTemInKelvin"`
}

// flexInt decodes a JSON number or a string holding an integer.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if s, err := strconv.Unquote(string(b)); err == nil {
		b = []byte(s)
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return fmt.Errorf("brightness %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// TrimPadding strips the zero bytes that pad a fixed-size receive buffer.
func TrimPadding(buf []byte) []byte {
	return bytes.TrimRight(buf, "\x00")
}

// EncodeScan returns the multicast discovery request.
func EncodeScan() []byte {
	return mustEncode(cmdScan, scanRequest{AccountTopic: "reserve"})
}

// EncodeStatusQuery returns the devStatus request.
func EncodeStatusQuery() []byte {
	return mustEncode(cmdStatus, struct{}{})
}

// EncodeCommand returns the request for cmd. Brightness above
// MaxBrightness is rejected.
func EncodeCommand(cmd types.LightCommand) ([]byte, error) {
	switch cmd.Kind {
	case types.CommandPower:
		v := 0
		if cmd.On {
			v = 1
		}
		return mustEncode(cmdTurn, valueData{Value: v}), nil
	case types.CommandBrightness:
		if cmd.Brightness > MaxBrightness {
			return nil, newError(KindValidation, "encode brightness",
				fmt.Errorf("brightness %d exceeds %d", cmd.Brightness, MaxBrightness))
		}
		return mustEncode(cmdBrightness, valueData{Value: int(cmd.Brightness)}), nil
	case types.CommandColor:
		return encodeColor(cmd.Color, 0), nil
	default:
		return nil, newError(KindValidation, "encode command", fmt.Errorf("unknown command kind %v", cmd.Kind))
	}
}

func encodeColor(c types.RGB, kelvin int) []byte {
	return mustEncode(cmdColor, colorData{
		Color:            rgbData{R: c.R, G: c.G, B: c.B},
		ColorTemInKelvin: kelvin,
	})
}

func mustEncode(cmd string, data any) []byte {
	b, err := json.Marshal(envelope{Msg: message{Cmd: cmd, Data: data}})
	if err != nil {
		// All payloads are fixed structs of plain fields.
		panic(fmt.Sprintf("device: encode %s: %v", cmd, err))
	}
	return b
}

func decodeReply(buf []byte) (reply, error) {
	var r reply
	if err := json.Unmarshal(TrimPadding(buf), &r); err != nil {
		return r, fmt.Errorf("malformed reply: %w", err)
	}
	return r, nil
}

// ParseDiscoveryReply extracts the IPv4 address from a scan reply.
func ParseDiscoveryReply(buf []byte) (netip.Addr, error) {
	r, err := decodeReply(buf)
	if err != nil {
		return netip.Addr{}, newError(KindDiscovery, "parse scan reply", err)
	}

	var data scanReply
	if len(r.Msg.Data) > 0 {
		if err := json.Unmarshal(r.Msg.Data, &data); err != nil {
			return netip.Addr{}, newError(KindDiscovery, "parse scan reply", err)
		}
	}
	if data.IP == "" {
		return netip.Addr{}, newError(KindDiscovery, "parse scan reply", errMissingIP)
	}

	addr, err := netip.ParseAddr(data.IP)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, newError(KindDiscovery, "parse scan reply", fmt.Errorf("invalid ip %q", data.IP))
	}
	return addr, nil
}

// ParseStatusReply decodes a devStatus reply.
func ParseStatusReply(buf []byte) (types.DeviceState, error) {
	r, err := decodeReply(buf)
	if err != nil {
		return types.DeviceState{}, err
	}
	return parseStatusData(r.Msg.Data)
}

func parseStatusData(raw json.RawMessage) (types.DeviceState, error) {
	var data statusReply
	if err := json.Unmarshal(raw, &data); err != nil {
		return types.DeviceState{}, fmt.Errorf("malformed status: %w", err)
	}
	if data.Brightness < 0 || data.Brightness > MaxBrightness {
		return types.DeviceState{}, fmt.Errorf("status brightness %d out of range", data.Brightness)
	}

	return types.DeviceState{
		Power:                  data.OnOff == 1,
		Brightness:             uint8(data.Brightness),
		Color:                  types.RGB{R: data.Color.R, G: data.Color.G, B: data.Color.B},
		ColorTemperatureKelvin: data.ColorTemInKelvin,
	}, nil
}
