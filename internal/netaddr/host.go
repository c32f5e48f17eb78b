// Package netaddr picks the addresses a recording session advertises.
package netaddr

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoHostAddress is returned when no interface has a usable IPv4 address.
var ErrNoHostAddress = errors.New("netaddr: no usable host address")

// SelectHostAddress returns the first IPv4 interface address that is not
// loopback, link-local or broadcast and not listed in excluded.
func SelectHostAddress(excluded []string) (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	return selectFrom(addrs, excluded)
}

func selectFrom(addrs []net.Addr, excluded []string) (net.IP, error) {
	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[e] = struct{}{}
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || !usable(ip4) {
			continue
		}
		if _, ok := skip[ip4.String()]; ok {
			continue
		}
		return ip4, nil
	}
	return nil, ErrNoHostAddress
}

func usable(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsUnspecified() &&
		!ip.Equal(net.IPv4bcast)
}

// ResolveHostAddress parses override when set and otherwise discovers the host address.
func ResolveHostAddress(override string, excluded []string) (net.IP, error) {
	if override == "" {
		return SelectHostAddress(excluded)
	}
	ip := net.ParseIP(override).To4()
	if ip == nil {
		return nil, fmt.Errorf("netaddr: invalid IPv4 host address %q", override)
	}
	return ip, nil
}
