// Package discover lists host network addresses an operator can paste into the
// dispatcher's positional "<host>@<metric>" interface arguments. It never affects the
// dispatcher's own runtime behavior; it only helps an operator build a command line.
package discover

import (
	"fmt"
	"net"
	"strings"

	gonet "github.com/shirou/gopsutil/net"
)

// Candidate is one discovered address, already in the "<host>@<metric>" shape the CLI's
// positional arguments expect, with a placeholder metric of 1.
type Candidate struct {
	Interface string
	Address   string
	Arg       string
}

// List enumerates every IPv4/IPv6 address on the host's network interfaces that is neither
// loopback nor link-local unicast.
func List() ([]Candidate, error) {
	stats, err := gonet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var out []Candidate
	for _, iface := range stats {
		for _, a := range iface.Addrs {
			host := stripMask(a.Addr)
			ip := net.ParseIP(host)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, Candidate{
				Interface: iface.Name,
				Address:   host,
				Arg:       formatArg(ip, host),
			})
		}
	}
	return out, nil
}

// stripMask drops a trailing "/NN" CIDR suffix, which gopsutil includes in InterfaceAddr.
func stripMask(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func formatArg(ip net.IP, host string) string {
	if ip.To4() == nil {
		return fmt.Sprintf("[%s]@1", host)
	}
	return fmt.Sprintf("%s@1", host)
}
