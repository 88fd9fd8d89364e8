package shared

import (
	"fmt"
	"net"
	"time"
)

// routeAddr is never contacted: dialing UDP only selects a route and local endpoint.
const routeAddr = "8.8.8.8:80"

var dialUDP = func(addr string) (net.Conn, error) {
	return net.DialTimeout("udp4", addr, time.Second)
}

// LocalIPv4 returns the IPv4 address of the interface used for outbound traffic.
//
// Falls back to 127.0.0.1 when no route is available.
func LocalIPv4() string {
	conn, err := dialUDP(routeAddr)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil || addr.IP.IsUnspecified() {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// ListenInRange binds the first free TCP port in [start, end] on host.
func ListenInRange(host string, start, end int) (net.Listener, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("%w: port range %d-%d", ErrInvalidConfig, start, end)
	}

	var lastErr error
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp4", net.JoinHostPort(host, fmt.Sprint(port)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w %d-%d on %s: %v", ErrBindFailed, start, end, host, lastErr)
}
