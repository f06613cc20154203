// Package transport implements the datagram socket abstraction the
// protocol core treats as an external collaborator: bind, send-to, and
// receive-from, where every receive takes an explicit per-call deadline. There is no
// blocking send at this layer (Write/WriteToUDP return immediately), and
// any kernel-level backpressure surfaces as an error.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTimeout is returned by Receive/ReceiveFrom when no datagram arrives
// before the deadline. It is returned as-is in place of the underlying
// net.Error, so callers can compare against it directly.
var ErrTimeout = errors.New("transport: receive timeout")

// Socket is a connected datagram pipe to a single fixed peer, used by the
// sender (which only ever talks to one address).
type Socket interface {
	Send(payload []byte) error
	Receive(deadline time.Duration) (payload []byte, err error)
	LocalAddr() net.Addr
	Close() error
}

// PeerSocket is an unconnected datagram endpoint that reports the sender's
// address with every datagram it receives, used by the receiver (which
// replies to whoever sent the datagram it is handling).
type PeerSocket interface {
	SendTo(payload []byte, addr *net.UDPAddr) error
	ReceiveFrom(deadline time.Duration) (payload []byte, addr *net.UDPAddr, err error)
	LocalAddr() net.Addr
	Close() error
}

// Conn is a Socket backed by a connected *net.UDPConn.
type Conn struct {
	udp     *net.UDPConn
	bufSize int
}

// Dial connects to host:port for exclusive use by a sender. bufSize should
// be at least wire.MaxDatagramSize so oversized reads are truncated rather
// than misread, per the wire codec's framing contract.
func Dial(host string, port int, bufSize int) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %s:%d: %w", host, port, err)
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s:%d: %w", host, port, err)
	}
	return &Conn{udp: udp, bufSize: bufSize}, nil
}

func (c *Conn) Send(payload []byte) error {
	_, err := c.udp.Write(payload)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (c *Conn) Receive(deadline time.Duration) ([]byte, error) {
	if err := c.udp.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	buf := make([]byte, c.bufSize)
	n, err := c.udp.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	return buf[:n], nil
}

func (c *Conn) LocalAddr() net.Addr { return c.udp.LocalAddr() }
func (c *Conn) Close() error        { return c.udp.Close() }

// PeerConn is a PeerSocket backed by a bound, unconnected *net.UDPConn.
type PeerConn struct {
	udp     *net.UDPConn
	bufSize int
}

// Listen binds host:port for exclusive use by a receiver.
func Listen(host string, port int, bufSize int) (*PeerConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %s:%d: %w", host, port, err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: binding %s:%d: %w", host, port, err)
	}
	return &PeerConn{udp: udp, bufSize: bufSize}, nil
}

func (c *PeerConn) SendTo(payload []byte, addr *net.UDPAddr) error {
	_, err := c.udp.WriteToUDP(payload, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}

func (c *PeerConn) ReceiveFrom(deadline time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := c.udp.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	buf := make([]byte, c.bufSize)
	n, addr, err := c.udp.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, ErrTimeout
		}
		return nil, nil, fmt.Errorf("transport: receive: %w", err)
	}
	return buf[:n], addr, nil
}

func (c *PeerConn) LocalAddr() net.Addr { return c.udp.LocalAddr() }
func (c *PeerConn) Close() error        { return c.udp.Close() }

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
