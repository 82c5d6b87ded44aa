// Package transport handles datagram socket setup and endpoint naming for
// both protocol roles.
package transport

import (
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ResolveEndpoint parses a peer endpoint given either as host:port or as a
// UDP multiaddr such as /ip4/10.0.0.7/udp/9000
func ResolveEndpoint(s string) (*net.UDPAddr, error) {
	if strings.HasPrefix(s, "/") {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid multiaddr %q: %w", s, err)
		}
		netAddr, err := manet.ToNetAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("unresolvable multiaddr %q: %w", s, err)
		}
		udpAddr, ok := netAddr.(*net.UDPAddr)
		if !ok {
			return nil, fmt.Errorf("multiaddr %q is not a UDP endpoint", s)
		}
		return udpAddr, nil
	}

	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return addr, nil
}

// Listen binds a local UDP endpoint. Port 0 requests an ephemeral port.
func Listen(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	return conn, nil
}
