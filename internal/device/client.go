// Package device implements the LAN protocol of UDP-controlled smart lights:
// multicast discovery, control commands, status polling and state restore.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Default read timeouts.
const (
	DefaultDiscoveryTimeout = 5 * time.Second
	DefaultStatusTimeout    = 2 * time.Second
)

// readSlice bounds a single blocking read so context cancellation is
// noticed while waiting for a reply.
const readSlice = 100 * time.Millisecond

var errNoReply = errors.New("no reply before deadline")

// State is the connection state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateDiscovering  State = "discovering"
	StateConnected    State = "connected"
)

// Config configures a Client.
type Config struct {
	// ListenAddr is the local UDP address replies arrive on.
	ListenAddr string
	// MulticastAddr is the discovery group.
	MulticastAddr string
	// ControlPort is the device's unicast command port.
	ControlPort int
	// Address is a fixed device IPv4 address. Discovery is skipped when set.
	Address string
	// DiscoveryTimeout bounds the wait for a scan reply.
	DiscoveryTimeout time.Duration
	// StatusTimeout bounds the wait for a status reply.
	StatusTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MulticastAddr == "" {
		c.MulticastAddr = DefaultMulticastAddr
	}
	if c.ControlPort == 0 {
		c.ControlPort = DefaultControlPort
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	return c
}

// Client talks to a single light over UDP.
//
// Concurrency: sock serializes all socket use, so a status query never reads
// another request's reply. mu guards the cached fields and is never held
// across network I/O, so accessors do not wait for a discovery.
type Client struct {
	cfg   Config
	conn  net.PacketConn
	group net.Addr

	sock sync.Mutex
	buf  [ReplyBufferSize]byte

	mu        sync.RWMutex
	state     State
	device    *net.UDPAddr
	initial   *types.DeviceState
	lastCheck time.Time
}

// Listen opens the local UDP socket with a multicast TTL of one and returns
// a disconnected client.
func Listen(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	conn, err := net.ListenPacket("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, newError(KindTransport, "listen on "+cfg.ListenAddr, err)
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(1); err != nil {
		_ = conn.Close()
		return nil, newError(KindTransport, "set multicast ttl", err)
	}
	return NewClient(conn, cfg)
}

// NewClient returns a client that uses conn for all traffic.
func NewClient(conn net.PacketConn, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	group, err := net.ResolveUDPAddr("udp4", cfg.MulticastAddr)
	if err != nil {
		return nil, newError(KindTransport, "resolve "+cfg.MulticastAddr, err)
	}

	return &Client{
		cfg:   cfg,
		conn:  conn,
		group: group,
		state: StateDisconnected,
	}, nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Addr returns the device's unicast address, or "" before discovery.
func (c *Client) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.device == nil {
		return ""
	}
	return c.device.IP.String()
}

// InitialState returns the snapshot taken on first connect.
func (c *Client) InitialState() (types.DeviceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.initial == nil {
		return types.DeviceState{}, false
	}
	return *c.initial, true
}

// LastHealthCheck returns the time of the last successful status query.
func (c *Client) LastHealthCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCheck
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Client) target() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// markAlive records a successful status exchange.
func (c *Client) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnected
	c.lastCheck = time.Now()
}

// Discover sends a scan to the multicast group and returns the address of
// the first device to answer.
func (c *Client) Discover(ctx context.Context) (netip.Addr, error) {
	c.sock.Lock()
	defer c.sock.Unlock()
	return c.discover(ctx)
}

func (c *Client) discover(ctx context.Context) (netip.Addr, error) {
	c.setState(StateDiscovering)

	addr, err := c.scan(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return netip.Addr{}, err
	}

	c.mu.Lock()
	c.device = &net.UDPAddr{IP: addr.AsSlice(), Port: c.cfg.ControlPort}
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("device discovered", "address", addr.String())
	return addr, nil
}

func (c *Client) scan(ctx context.Context) (netip.Addr, error) {
	if _, err := c.conn.WriteTo(EncodeScan(), c.group); err != nil {
		return netip.Addr{}, newError(KindDiscovery, "send scan", err)
	}

	deadline := c.deadline(ctx, c.cfg.DiscoveryTimeout)
	for {
		n, _, err := c.readDatagram(ctx, deadline)
		if err != nil {
			return netip.Addr{}, newError(KindDiscovery, "await scan reply", err)
		}

		r, err := decodeReply(c.buf[:n])
		if err == nil && r.Msg.Cmd != "" && r.Msg.Cmd != cmdScan {
			slog.Debug("ignoring reply during discovery", "cmd", r.Msg.Cmd)
			continue
		}
		return ParseDiscoveryReply(c.buf[:n])
	}
}

// Connect locates the device and takes a state snapshot. The first
// snapshot is kept for Restore; later connects only refresh the address.
func (c *Client) Connect(ctx context.Context) error {
	c.sock.Lock()
	defer c.sock.Unlock()

	if c.cfg.Address != "" {
		addr, err := netip.ParseAddr(c.cfg.Address)
		if err != nil || !addr.Is4() {
			return newError(KindDiscovery, "parse device address", fmt.Errorf("invalid ipv4 %q", c.cfg.Address))
		}
		c.mu.Lock()
		c.device = &net.UDPAddr{IP: addr.AsSlice(), Port: c.cfg.ControlPort}
		c.mu.Unlock()
	} else if _, err := c.discover(ctx); err != nil {
		return err
	}

	state, err := c.query(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return reclassify(KindDiscovery, "query initial state", err)
	}
	c.markAlive()

	c.mu.Lock()
	first := c.initial == nil
	if first {
		c.initial = &state
	}
	addr := c.device.IP.String()
	c.mu.Unlock()

	if !first {
		slog.Info("device reconnected", "address", addr)
		return nil
	}
	slog.Info("device connected",
		"address", addr,
		"power", state.Power,
		"brightness", state.Brightness,
		"color", state.Color.Hex(),
		"color_temperature_k", state.ColorTemperatureKelvin)
	return nil
}

// QueryState asks the device for its current state.
func (c *Client) QueryState(ctx context.Context) (types.DeviceState, error) {
	c.sock.Lock()
	defer c.sock.Unlock()

	state, err := c.query(ctx)
	if err != nil {
		return types.DeviceState{}, err
	}
	c.markAlive()
	return state, nil
}

// query sends devStatus and waits for the answer. The caller holds sock.
func (c *Client) query(ctx context.Context) (types.DeviceState, error) {
	dev := c.target()
	if dev == nil {
		return types.DeviceState{}, newError(KindNotConnected, "query state", nil)
	}

	if _, err := c.conn.WriteTo(EncodeStatusQuery(), dev); err != nil {
		return types.DeviceState{}, newError(KindTransport, "send status query", err)
	}

	deadline := c.deadline(ctx, c.cfg.StatusTimeout)
	for {
		n, from, err := c.readDatagram(ctx, deadline)
		if err != nil {
			return types.DeviceState{}, newError(KindTransport, "await status reply", err)
		}
		if !fromHost(from, dev.IP) {
			slog.Debug("ignoring datagram from other host", "from", from)
			continue
		}

		r, err := decodeReply(c.buf[:n])
		if err != nil {
			return types.DeviceState{}, newError(KindTransport, "parse status reply", err)
		}
		if r.Msg.Cmd != "" && r.Msg.Cmd != cmdStatus {
			continue
		}

		state, err := parseStatusData(r.Msg.Data)
		if err != nil {
			return types.DeviceState{}, newError(KindTransport, "parse status reply", err)
		}
		return state, nil
	}
}

// HealthCheck queries the device state. A failure moves the client to
// StateDisconnected; the caller decides whether to reconnect.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.sock.Lock()
	defer c.sock.Unlock()

	if _, err := c.query(ctx); err != nil {
		c.setState(StateDisconnected)
		return reclassify(KindHealthCheck, "health check", err)
	}
	c.markAlive()
	return nil
}

// Send writes one control command without waiting for a reply. Invalid
// commands are rejected before any network write.
func (c *Client) Send(cmd types.LightCommand) error {
	payload, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.sock.Lock()
	defer c.sock.Unlock()

	dev := c.target()
	if dev == nil {
		return newError(KindNotConnected, "send "+cmd.Kind.String(), nil)
	}
	if _, err := c.conn.WriteTo(payload, dev); err != nil {
		return newError(KindTransport, "send "+cmd.Kind.String(), err)
	}
	return nil
}

// Restore re-applies the snapshot taken on first connect. Failures are
// logged and otherwise ignored.
func (c *Client) Restore(ctx context.Context) {
	c.sock.Lock()
	defer c.sock.Unlock()

	dev := c.target()
	initial, ok := c.InitialState()
	if !ok || dev == nil {
		slog.Warn("no device state to restore")
		return
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}

	power := 0
	if initial.Power {
		power = 1
	}

	// Power goes last so a light that was off stays off.
	steps := []struct {
		name    string
		payload []byte
	}{
		{cmdBrightness, mustEncode(cmdBrightness, valueData{Value: int(initial.Brightness)})},
		{cmdColor, encodeColor(initial.Color, initial.ColorTemperatureKelvin)},
		{cmdTurn, mustEncode(cmdTurn, valueData{Value: power})},
	}

	failed := 0
	for _, step := range steps {
		if _, err := c.conn.WriteTo(step.payload, dev); err != nil {
			failed++
			slog.Error("failed to restore device state", "command", step.name, "error", err)
		}
	}

	if failed == 0 {
		slog.Info("device state restored",
			"address", dev.IP.String(),
			"power", initial.Power,
			"brightness", initial.Brightness,
			"color", initial.Color.Hex())
	}
}

// Close closes the socket, which also ends a pending read.
func (c *Client) Close() error {
	c.setState(StateDisconnected)
	return c.conn.Close()
}

func (c *Client) deadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// readDatagram reads one datagram into c.buf, waking up every readSlice to
// check ctx.
func (c *Client) readDatagram(ctx context.Context, deadline time.Time) (int, net.Addr, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		slice := time.Now().Add(readSlice)
		if slice.After(deadline) {
			slice = deadline
		}
		if err := c.conn.SetReadDeadline(slice); err != nil {
			return 0, nil, err
		}

		clear(c.buf[:])
		n, from, err := c.conn.ReadFrom(c.buf[:])
		if err == nil {
			return n, from, nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if !time.Now().Before(deadline) {
				return 0, nil, errNoReply
			}
			continue
		}
		return 0, nil, err
	}
}

func fromHost(from net.Addr, ip net.IP) bool {
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}
	return udp.IP.Equal(ip)
}
