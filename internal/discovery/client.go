package discovery

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server is a discovered broker endpoint.
type Server struct {
	Address string
	Port    uint16
}

// sweepCap bounds the unicast fallback so a misconfigured /8 mask does not
// turn the probe into a flood.
const sweepCap = 1 << 16

var errNotFound = errors.New("discovery: no broker responded")

// Discover locates a broker: broadcast probe first, unicast subnet sweep
// as fallback. Each stage gets the full timeout.
func Discover(discoveryPort uint16, timeout time.Duration) (Server, error) {
	log := logrus.WithField("component", "discovery")

	srv, err := probeBroadcast(discoveryPort, timeout)
	if err == nil {
		return srv, nil
	}
	log.WithError(err).Debug("broadcast probe failed, falling back to unicast sweep")

	return probeUnicastSweep(discoveryPort, timeout)
}

func parseResponse(data []byte, from *net.UDPAddr) (Server, bool) {
	s := string(data)
	if !strings.HasPrefix(s, responsePrefix) {
		return Server{}, false
	}
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return Server{}, false
	}
	port, err := strconv.ParseUint(s[slash+1:], 10, 16)
	if err != nil {
		return Server{}, false
	}
	return Server{Address: from.IP.String(), Port: uint16(port)}, true
}

func awaitResponse(conn *net.UDPConn, deadline time.Time) (Server, error) {
	buf := make([]byte, 1024)
	for {
		conn.SetReadDeadline(deadline)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			return Server{}, errNotFound
		}
		if srv, ok := parseResponse(buf[:n], remote); ok {
			return srv, nil
		}
	}
}

func probeBroadcast(discoveryPort uint16, timeout time.Duration) (Server, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Server{}, errors.Wrap(err, "bind probe socket")
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: int(discoveryPort)}
	if _, err := conn.WriteToUDP([]byte(probePhrase), dst); err != nil {
		return Server{}, errors.Wrap(err, "send broadcast probe")
	}

	return awaitResponse(conn, time.Now().Add(timeout))
}

func probeUnicastSweep(discoveryPort uint16, timeout time.Duration) (Server, error) {
	localIP, mask, err := localIPv4()
	if err != nil {
		return Server{}, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Server{}, errors.Wrap(err, "bind probe socket")
	}
	defer conn.Close()

	r := rangeOf(localIP, mask)
	local := ipToU32(localIP)
	probe := []byte(probePhrase)
	sent := 0
	for addr := r.firstHost; addr <= r.lastHost && sent < sweepCap; addr++ {
		if addr == local {
			continue
		}
		conn.WriteToUDP(probe, &net.UDPAddr{IP: u32ToIP(addr), Port: int(discoveryPort)})
		sent++
	}
	if sent == 0 {
		return Server{}, errNotFound
	}

	return awaitResponse(conn, time.Now().Add(timeout))
}
