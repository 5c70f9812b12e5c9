// Package netutil provides the IP-address validity and distinct-subnet
// accounting helpers the routing table and lookup engine need.
package netutil

import (
	"net"
	"strings"
)

// CheckRelayIP reports whether an IP address relayed by sender (e.g. inside
// a findnode reply) is valid: routable on its own, and not a privilege
// escalation relative to the sender's own address (a non-loopback sender
// may not vouch for a loopback address, etc).
func CheckRelayIP(sender, addr net.IP) error {
	if len(addr) == 0 {
		return errInvalid("address is empty")
	}
	if addr.IsMulticast() {
		return errInvalid("multicast address")
	}
	if addr.IsUnspecified() {
		return errInvalid("unspecified address")
	}
	if addr.IsLoopback() && !sender.IsLoopback() {
		return errInvalid("loopback address from non-loopback sender")
	}
	if isSiteLocal(addr) && !isSiteLocal(sender) {
		return errInvalid("site-local address from non-site-local sender")
	}
	return nil
}

func isSiteLocal(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

type invalidAddrError string

func (e invalidAddrError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidAddrError(msg) }

// DistinctNetSet tracks how many addresses from each of several distinct
// subnets are registered, enforcing both a per-subnet and a total limit.
// Used by the routing table to bound how many entries may share an IP
// block (Section 4.4's IP-limits).
type DistinctNetSet struct {
	SubnetMaskV4 int // e.g. 24 for a /24
	SubnetMaskV6 int // e.g. 64 for a /64
	LimitPerSub  int // max entries sharing one subnet, 0 = unlimited
	LimitTotal   int // max distinct subnets tracked, 0 = unlimited

	members map[string]int
	keys    []string // insertion order, for eviction-independent accounting
}

func (s *DistinctNetSet) init() {
	if s.members == nil {
		s.members = make(map[string]int)
	}
}

func (s *DistinctNetSet) key(ip net.IP) string {
	if ip4 := ip.To4(); ip4 != nil {
		mask := net.CIDRMask(s.SubnetMaskV4, 32)
		return ip4.Mask(mask).String()
	}
	mask := net.CIDRMask(s.SubnetMaskV6, 128)
	return ip.Mask(mask).String()
}

// Add registers ip's subnet, returning false if doing so would exceed the
// per-subnet or total limits.
func (s *DistinctNetSet) Add(ip net.IP) bool {
	s.init()
	k := s.key(ip)
	count := s.members[k]
	if s.LimitPerSub > 0 && count >= s.LimitPerSub {
		return false
	}
	if count == 0 && s.LimitTotal > 0 && len(s.members) >= s.LimitTotal {
		return false
	}
	if count == 0 {
		s.keys = append(s.keys, k)
	}
	s.members[k] = count + 1
	return true
}

// Remove un-registers ip's subnet membership.
func (s *DistinctNetSet) Remove(ip net.IP) {
	s.init()
	k := s.key(ip)
	if c, ok := s.members[k]; ok {
		if c <= 1 {
			delete(s.members, k)
		} else {
			s.members[k] = c - 1
		}
	}
}

// Len returns the total number of entries tracked across all subnets.
func (s *DistinctNetSet) Len() int {
	n := 0
	for _, c := range s.members {
		n += c
	}
	return n
}

// Netlist is a list of IP networks used to restrict which addresses the
// protocol will consider contacting or relaying (Config.NetRestrict).
type Netlist []net.IPNet

// ParseNetlist parses a comma-separated list of CIDR masks into a Netlist.
// An empty string yields a nil Netlist, which Contains treats as unrestricted.
func ParseNetlist(s string) (*Netlist, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	n := make(Netlist, 0)
	for _, x := range strings.Split(s, ",") {
		x = strings.TrimSpace(x)
		_, cidr, err := net.ParseCIDR(x)
		if err != nil {
			return nil, err
		}
		n = append(n, *cidr)
	}
	return &n, nil
}

// Contains reports whether the given IP is contained in the list, or
// whether the list is nil, in which case every address is allowed.
func (n *Netlist) Contains(ip net.IP) bool {
	if n == nil {
		return true
	}
	for _, net := range *n {
		if net.Contains(ip) {
			return true
		}
	}
	return false
}
