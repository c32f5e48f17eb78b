package netaddr

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

// DefaultSTUNTimeout bounds a binding request.
const DefaultSTUNTimeout = 2 * time.Second

// ErrNoMappedAddress is returned when a binding response carries no address.
var ErrNoMappedAddress = errors.New("netaddr: binding response without mapped address")

// QueryExternalAddress sends a STUN binding request to server through conn and
// returns the server-reflexive address. The read deadline of conn is cleared on return.
func QueryExternalAddress(conn net.PacketConn, server string, timeout time.Duration) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("resolve stun server %s: %w", server, err)
	}
	if timeout <= 0 {
		timeout = DefaultSTUNTimeout
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("build binding request: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	if _, err := conn.WriteTo(req.Raw, raddr); err != nil {
		return nil, fmt.Errorf("send binding request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, fmt.Errorf("read binding response: %w", err)
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddress(res)
	}
}

func mappedAddress(res *stun.Message) (*net.UDPAddr, error) {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
	}
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	}
	return nil, ErrNoMappedAddress
}
