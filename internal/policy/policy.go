package policy

import (
	"net"
	"net/url"
	"strings"
)

// IsPrivateHost reports whether host is "localhost", a loopback literal, or an
// IPv4 address in one of the RFC1918 ranges.
//
// Names other than localhost are never resolved; a DNS name that happens to
// point at a private address is treated as public.
func IsPrivateHost(host string) bool {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return IsPrivateIP(ip)
}

// IsPrivateIP reports whether ip is loopback (127.0.0.0/8, ::1) or falls in
// 10.0.0.0/8, 172.16.0.0/12 or 192.168.0.0/16.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ipInNets(ip4, privateIPv4CIDRs)
	}
	return ipInNets(ip, privateIPv6CIDRs)
}

// SkipTLSVerify reports whether certificate validation toward u may be
// disabled. Only https URLs with a private host qualify.
func SkipTLSVerify(u *url.URL) bool {
	if u == nil || !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	return IsPrivateHost(u.Hostname())
}

func ipInNets(ip net.IP, nets []*net.IPNet) bool {
	ip4 := ip.To4()
	var ip16 net.IP
	for _, n := range nets {
		if n == nil {
			continue
		}
		if n.IP.To4() != nil {
			if ip4 == nil {
				continue
			}
			if n.Contains(ip4) {
				return true
			}
			continue
		}
		if ip16 == nil {
			ip16 = ip.To16()
		}
		if ip16 == nil {
			continue
		}
		if n.Contains(ip16) {
			return true
		}
	}
	return false
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

var privateIPv4CIDRs = []*net.IPNet{
	// loopback
	mustCIDR("127.0.0.0/8"),
	// RFC1918 private
	mustCIDR("10.0.0.0/8"),
	mustCIDR("172.16.0.0/12"),
	mustCIDR("192.168.0.0/16"),
}

var privateIPv6CIDRs = []*net.IPNet{
	mustCIDR("::1/128"),
}
