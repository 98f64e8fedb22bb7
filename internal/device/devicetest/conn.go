// Package devicetest provides an in-memory UDP transport and a scripted
// light for tests.
package devicetest

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// Datagram is one packet written to the fake transport.
type Datagram struct {
	Payload []byte
	To      net.Addr
}

// Reply is a packet delivered to the reader of the fake transport.
type Reply struct {
	Payload []byte
	From    net.Addr
}

// Responder produces the replies for a written packet.
type Responder func(payload []byte, to net.Addr) []Reply

// Conn is an in-memory net.PacketConn. Writes are recorded and passed to
// the responder; its replies are queued for ReadFrom.
type Conn struct {
	respond Responder
	inbox   chan Reply
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writes   []Datagram
	deadline time.Time

	// WriteErr, when set, fails every write.
	WriteErr error
}

// NewConn returns a connection answered by respond, which may be nil.
func NewConn(respond Responder) *Conn {
	return &Conn{
		respond: respond,
		inbox:   make(chan Reply, 64),
		closed:  make(chan struct{}),
	}
}

// ReadFrom returns the next queued reply, or os.ErrDeadlineExceeded.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-c.inbox:
		return copy(p, r.Payload), r.From, nil
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo records the packet and queues the responder's replies.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.mu.Lock()
	err := c.WriteErr
	if err == nil {
		c.writes = append(c.writes, Datagram{Payload: append([]byte(nil), p...), To: addr})
	}
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if c.respond != nil {
		for _, r := range c.respond(p, addr) {
			c.Deliver(r.Payload, r.From)
		}
	}
	return len(p), nil
}

// Deliver queues an unsolicited packet.
func (c *Conn) Deliver(payload []byte, from net.Addr) {
	select {
	case c.inbox <- Reply{Payload: payload, From: from}:
	default:
		panic(errors.New("devicetest: inbox full"))
	}
}

// Writes returns a copy of all recorded packets.
func (c *Conn) Writes() []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Datagram(nil), c.writes...)
}

// SetWriteErr makes later writes fail with err.
func (c *Conn) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteErr = err
}

// Close unblocks readers and fails later operations.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// LocalAddr returns the conventional listen address.
func (c *Conn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 4002}
}

// SetDeadline sets the read deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

// SetReadDeadline sets the deadline for ReadFrom.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

// SetWriteDeadline is accepted and ignored.
func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}
