package gateway

import (
	"net"
	"strconv"
)

// LocalIPv4 returns the first IPv4 address of an interface that is up,
// running and not loopback, or 127.0.0.1 when there is none.
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// AdvertisedHost picks the address browsers should use to reach us: the
// explicit advertise address, else a concrete bind address, else the
// first LAN address.
func AdvertisedHost(advertise, bind string) string {
	if advertise != "" {
		return advertise
	}
	if bind != "" && bind != "0.0.0.0" && bind != "::" {
		return bind
	}
	return LocalIPv4()
}

// WebSocketURL formats ws://host:port.
func WebSocketURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}
