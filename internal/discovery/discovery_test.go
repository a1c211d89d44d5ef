package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestResponderAnswersProbe(t *testing.T) {
	// Bind the responder on an ephemeral port and probe it by unicast.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	responder := &Responder{
		conn:     conn,
		response: []byte("pingpong_server_v1/60010"),
		log:      logrus.WithField("component", "discovery"),
	}
	go responder.Serve()
	t.Cleanup(responder.Close)

	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("probe socket: %v", err)
	}
	defer probe.Close()

	if _, err := probe.WriteToUDP([]byte(probePhrase), conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("send probe: %v", err)
	}

	srv, err := awaitResponse(probe, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("no response: %v", err)
	}
	if srv.Port != 60010 {
		t.Fatalf("port = %d, want 60010", srv.Port)
	}
	if srv.Address != "127.0.0.1" {
		t.Fatalf("address = %q", srv.Address)
	}
}

func TestResponderIgnoresGarbage(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	responder := &Responder{
		conn:     conn,
		response: []byte("pingpong_server_v1/60010"),
		log:      logrus.WithField("component", "discovery"),
	}
	go responder.Serve()
	t.Cleanup(responder.Close)

	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("probe socket: %v", err)
	}
	defer probe.Close()

	probe.WriteToUDP([]byte("definitely_not_the_phrase"), conn.LocalAddr().(*net.UDPAddr))

	if _, err := awaitResponse(probe, time.Now().Add(300*time.Millisecond)); err == nil {
		t.Fatal("responder answered a garbage probe")
	}
}

func TestParseResponse(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 0, 42)}

	tests := []struct {
		payload  string
		wantOK   bool
		wantPort uint16
	}{
		{"pingpong_server_v1/60010", true, 60010},
		{"pingpong_server_v1/1", true, 1},
		{"pingpong_server_v1", false, 0},
		{"pingpong_server_v1/notaport", false, 0},
		{"pingpong_server_v1/70000", false, 0},
		{"something_else/60010", false, 0},
		{"", false, 0},
	}
	for _, tc := range tests {
		srv, ok := parseResponse([]byte(tc.payload), from)
		if ok != tc.wantOK {
			t.Errorf("parseResponse(%q) ok = %v, want %v", tc.payload, ok, tc.wantOK)
			continue
		}
		if ok && srv.Port != tc.wantPort {
			t.Errorf("parseResponse(%q) port = %d, want %d", tc.payload, srv.Port, tc.wantPort)
		}
	}
}

func TestRangeOf(t *testing.T) {
	tests := []struct {
		ip, mask             string
		network, first, last string
		hostless             bool
	}{
		{"192.168.0.108", "255.255.255.0", "192.168.0.0", "192.168.0.1", "192.168.0.254", false},
		{"10.1.2.3", "255.255.0.0", "10.1.0.0", "10.1.0.1", "10.1.255.254", false},
		{"192.168.0.1", "255.255.255.254", "192.168.0.0", "", "", true},
	}
	for _, tc := range tests {
		ip := net.ParseIP(tc.ip).To4()
		mask := net.IPMask(net.ParseIP(tc.mask).To4())
		r := rangeOf(ip, mask)

		if got := u32ToIP(r.network).String(); got != tc.network {
			t.Errorf("%s/%s network = %s, want %s", tc.ip, tc.mask, got, tc.network)
		}
		if tc.hostless {
			if r.firstHost <= r.lastHost {
				t.Errorf("%s/%s should have no usable hosts", tc.ip, tc.mask)
			}
			continue
		}
		if got := u32ToIP(r.firstHost).String(); got != tc.first {
			t.Errorf("%s/%s first host = %s, want %s", tc.ip, tc.mask, got, tc.first)
		}
		if got := u32ToIP(r.lastHost).String(); got != tc.last {
			t.Errorf("%s/%s last host = %s, want %s", tc.ip, tc.mask, got, tc.last)
		}
	}
}
