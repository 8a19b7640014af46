// Package net finds localboard servers on the LAN and the address to share
// with them.
package net

import (
	"net"
)

// OutgoingIP finds the preferred local IPv4 address to put in share links.
// It never fails; loopback is the last resort.
func OutgoingIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		// No route out: pick an interface address instead.
		return firstIPv4(net.Interfaces)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func firstIPv4(interfaces func() ([]net.Interface, error)) string {
	ifaces, _ := interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				return ipnet.IP.To4().String()
			}
		}
	}
	return "127.0.0.1"
}
