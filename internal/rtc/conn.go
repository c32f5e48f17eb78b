package rtc

import (
	"net"
	"sync"
	"time"
)

const packetQueueSize = 256

type packet struct {
	addr net.Addr
	data []byte
}

// packetConn is the socket pion sees. Writes queue up for the session loop to
// transmit, and datagrams the loop receives are delivered to reads.
type packetConn struct {
	mu    sync.RWMutex
	local *net.UDPAddr

	inbound  chan packet
	outbound chan packet
	done     chan struct{}
	once     sync.Once
}

func newPacketConn() *packetConn {
	return &packetConn{
		inbound:  make(chan packet, packetQueueSize),
		outbound: make(chan packet, packetQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *packetConn) setLocalAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	c.local = addr
	c.mu.Unlock()
}

func (c *packetConn) hasLocalAddr() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local != nil
}

// deliver hands a received datagram to the reader side.
func (c *packetConn) deliver(addr net.Addr, data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.inbound <- packet{addr: addr, data: data}:
		return nil
	case <-c.done:
		return net.ErrClosed
	}
}

// next returns a queued outbound datagram, if any.
func (c *packetConn) next() (packet, bool) {
	select {
	case p := <-c.outbound:
		return p, true
	default:
		return packet{}, false
	}
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.inbound:
		return copy(p, pkt.data), pkt.addr, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *packetConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case c.outbound <- packet{addr: addr, data: data}:
		return len(p), nil
	case <-c.done:
		return 0, net.ErrClosed
	}
}

func (c *packetConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *packetConn) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return &net.UDPAddr{}
	}
	return c.local
}

func (c *packetConn) SetDeadline(time.Time) error      { return nil }
func (c *packetConn) SetReadDeadline(time.Time) error  { return nil }
func (c *packetConn) SetWriteDeadline(time.Time) error { return nil }
