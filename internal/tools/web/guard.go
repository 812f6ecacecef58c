package web

import (
	"fmt"
	"net"
	"strings"
)

// guardHost resolves the host and refuses requests that would land on
// private, loopback, or link-local addresses.
func guardHost(host string) error {
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			return fmt.Errorf("invalid IP %q for host %q", raw, host)
		}
		if privateIP(ip) {
			return fmt.Errorf("request blocked: host %q resolves to private IP %s", host, raw)
		}
	}
	return nil
}

var privateCIDRs = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16"} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

func privateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	// fc00::/7 unique local IPv6.
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil && v6[0]&0xfe == 0xfc {
		return true
	}
	return false
}

func domainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowed {
		if strings.ToLower(d) == host {
			return true
		}
	}
	return false
}
