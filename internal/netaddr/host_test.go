package netaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipnet(s string) *net.IPNet {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestSelectFrom(t *testing.T) {
	addrs := []net.Addr{
		ipnet("127.0.0.1/8"),
		ipnet("::1/128"),
		ipnet("169.254.3.4/16"),
		ipnet("192.168.64.1/24"),
		ipnet("fe80::1/64"),
		ipnet("10.1.2.3/24"),
		ipnet("10.9.9.9/24"),
	}

	ip, err := selectFrom(addrs, []string{"192.168.64.1"})
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip.String())

	ip, err = selectFrom(addrs, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.64.1", ip.String())
}

func TestSelectFromNoCandidate(t *testing.T) {
	_, err := selectFrom([]net.Addr{ipnet("127.0.0.1/8"), ipnet("::1/128")}, nil)
	assert.ErrorIs(t, err, ErrNoHostAddress)
}

func TestResolveHostAddressOverride(t *testing.T) {
	ip, err := ResolveHostAddress("203.0.113.7", nil)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip.String())

	_, err = ResolveHostAddress("not-an-ip", nil)
	assert.Error(t, err)
}
