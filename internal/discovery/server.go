package discovery

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Responder answers discovery probes with the broker's TCP port.
type Responder struct {
	conn      *net.UDPConn
	response  []byte
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewResponder binds the discovery UDP port. tcpPort is the advertised
// broker port.
func NewResponder(discoveryPort, tcpPort uint16) (*Responder, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(discoveryPort)})
	if err != nil {
		return nil, err
	}
	return &Responder{
		conn:     conn,
		response: []byte(fmt.Sprintf("%s/%d", responsePrefix, tcpPort)),
		log:      logrus.WithField("component", "discovery"),
	}, nil
}

// Serve answers probes until Close. Malformed datagrams are ignored.
func (r *Responder) Serve() {
	buf := make([]byte, 1024)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				r.log.WithError(err).Warn("read failed")
			}
			return
		}
		if string(buf[:n]) != probePhrase {
			continue
		}
		if _, err := r.conn.WriteToUDP(r.response, remote); err != nil {
			r.log.WithError(err).Debug("reply failed")
		}
	}
}

// Close stops the responder.
func (r *Responder) Close() {
	r.closeOnce.Do(func() {
		r.conn.Close()
	})
}
