package discovery

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// subnetRange describes the usable host span of an IPv4 subnet.
type subnetRange struct {
	network   uint32
	broadcast uint32
	firstHost uint32
	lastHost  uint32
}

func ipToU32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func u32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// localIPv4 picks the first non-loopback IPv4 address of an up interface,
// together with its netmask.
func localIPv4() (net.IP, net.IPMask, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, errors.Wrap(err, "list interfaces")
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}
			return ip, ipnet.Mask, nil
		}
	}
	return nil, nil, errors.New("no usable IPv4 interface")
}

// rangeOf computes network/broadcast/host bounds for ip under mask. A /31
// or /32 has no usable hosts; the caller gets firstHost > lastHost and
// skips the sweep.
func rangeOf(ip net.IP, mask net.IPMask) subnetRange {
	addr := ipToU32(ip)
	m := binary.BigEndian.Uint32(mask)
	network := addr & m
	broadcast := network | ^m
	r := subnetRange{network: network, broadcast: broadcast}
	if broadcast-network >= 2 {
		r.firstHost = network + 1
		r.lastHost = broadcast - 1
	} else {
		r.firstHost = 1
		r.lastHost = 0
	}
	return r
}
