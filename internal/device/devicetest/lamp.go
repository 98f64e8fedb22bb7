package devicetest

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Lamp answers scan and status requests like a real light and applies
// control commands to its state.
type Lamp struct {
	ip net.IP

	mu       sync.Mutex
	state    types.DeviceState
	online   bool
	pad      bool
	commands []string
	queries  int
}

// NewLamp returns an online lamp at ip with the given state.
func NewLamp(ip string, state types.DeviceState) *Lamp {
	return &Lamp{ip: net.ParseIP(ip).To4(), state: state, online: true}
}

// Conn returns a fake transport answered by the lamp.
func (l *Lamp) Conn() *Conn {
	return NewConn(l.Respond)
}

// SetOnline controls whether the lamp answers requests.
func (l *Lamp) SetOnline(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = online
}

// PadReplies makes replies carry the zero padding of a 256-byte buffer.
func (l *Lamp) PadReplies() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pad = true
}

// State returns the lamp's current state.
func (l *Lamp) State() types.DeviceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Commands returns the names of received control commands in order.
func (l *Lamp) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.commands...)
}

// StatusQueries returns how many devStatus requests the lamp has seen.
func (l *Lamp) StatusQueries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries
}

type request struct {
	Msg struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
	} `json:"msg"`
}

type commandData struct {
	Value int `json:"value"`
	Color struct {
		R uint8 `json:"r"`
		G uint8 `json:"g"`
		B uint8 `json:"b"`
	} `json:"color"`
	ColorTemInKelvin int `json:"colorTemInKelvin"`
}

// Respond implements Responder.
func (l *Lamp) Respond(payload []byte, _ net.Addr) []Reply {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil
	}
	var data commandData
	_ = json.Unmarshal(req.Msg.Data, &data)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.online {
		return nil
	}

	switch req.Msg.Cmd {
	case "scan":
		body := map[string]any{"msg": map[string]any{
			"cmd":  "scan",
			"data": map[string]any{"ip": l.ip.String(), "device": "AA:BB:CC:DD:EE:FF:00:11", "sku": "H6076"},
		}}
		return []Reply{l.reply(body, 4001)}
	case "devStatus":
		l.queries++
		onOff := 0
		if l.state.Power {
			onOff = 1
		}
		body := map[string]any{"msg": map[string]any{
			"cmd": "devStatus",
			"data": map[string]any{
				"onOff":            onOff,
				"brightness":       strconv.Itoa(int(l.state.Brightness)),
				"color":            map[string]uint8{"r": l.state.Color.R, "g": l.state.Color.G, "b": l.state.Color.B},
				"colorTemInKelvin": l.state.ColorTemperatureKelvin,
			},
		}}
		return []Reply{l.reply(body, 4003)}
	case "turn":
		l.state.Power = data.Value == 1
	case "brightness":
		l.state.Brightness = uint8(data.Value) //nolint:gosec // test fixture
	case "colorwc":
		l.state.Color = types.RGB{R: data.Color.R, G: data.Color.G, B: data.Color.B}
		l.state.ColorTemperatureKelvin = data.ColorTemInKelvin
	default:
		return nil
	}
	l.commands = append(l.commands, req.Msg.Cmd)
	return nil
}

func (l *Lamp) reply(body any, port int) Reply {
	b, _ := json.Marshal(body)
	if l.pad && len(b) < 256 {
		b = append(b, make([]byte, 256-len(b))...)
	}
	return Reply{Payload: b, From: &net.UDPAddr{IP: l.ip, Port: port}}
}
