// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"fmt"
	"net/netip"
)

var (
	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}

	// rfc2544Net specifies the IPv4 block as defined by RFC2544
	// (198.18.0.0/15).
	rfc2544Net = netip.MustParsePrefix("198.18.0.0/15")

	// rfc3849Net specifies the IPv6 documentation address block as defined
	// by RFC3849 (2001:DB8::/32).
	rfc3849Net = netip.MustParsePrefix("2001:db8::/32")

	// rfc3927Net specifies the IPv4 auto configuration address block as
	// defined by RFC3927 (169.254.0.0/16).
	rfc3927Net = netip.MustParsePrefix("169.254.0.0/16")

	// rfc3964Net specifies the IPv6 to IPv4 encapsulation address block as
	// defined by RFC3964 (2002::/16).
	rfc3964Net = netip.MustParsePrefix("2002::/16")

	// rfc4193Net specifies the IPv6 unique local address block as defined
	// by RFC4193 (FC00::/7).
	rfc4193Net = netip.MustParsePrefix("fc00::/7")

	// rfc4380Net specifies the IPv6 teredo tunneling over UDP address block
	// as defined by RFC4380 (2001::/32).
	rfc4380Net = netip.MustParsePrefix("2001::/32")

	// rfc4843Net specifies the IPv6 ORCHID address block as defined by
	// RFC4843 (2001:10::/28).
	rfc4843Net = netip.MustParsePrefix("2001:10::/28")

	// rfc4862Net specifies the IPv6 stateless address autoconfiguration
	// address block as defined by RFC4862 (FE80::/64).
	rfc4862Net = netip.MustParsePrefix("fe80::/64")

	// rfc5737Net specifies the IPv4 documentation address blocks as defined
	// by RFC5737 (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24).
	rfc5737Net = []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}

	// rfc6052Net specifies the IPv6 well-known prefix address block as
	// defined by RFC6052 (64:FF9B::/96).
	rfc6052Net = netip.MustParsePrefix("64:ff9b::/96")

	// rfc6598Net specifies the IPv4 block as defined by RFC6598 (100.64.0.0/10).
	rfc6598Net = netip.MustParsePrefix("100.64.0.0/10")

	// zero4Net defines the IPv4 address block for address staring with 0
	// (0.0.0.0/8).
	zero4Net = netip.MustParsePrefix("0.0.0.0/8")

	// heNet defines the Hurricane Electric IPv6 address block.
	heNet = netip.MustParsePrefix("2001:470::/32")
)

// inAny returns whether or not the address is contained in any of the passed
// prefixes.
func inAny(addr netip.Addr, nets []netip.Prefix) bool {
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// isLocal returns whether or not the given address is a local address.
func isLocal(addr netip.Addr) bool {
	return addr.IsLoopback() || zero4Net.Contains(addr)
}

// isValid returns whether or not the passed address is valid.  The address is
// considered invalid when it is the zero value, unspecified, or the IPv4
// broadcast address.
func isValid(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified() &&
		addr != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// IsRoutable returns whether or not the passed address is routable over the
// public internet.  This is true as long as the address is valid and is not in
// any reserved, private, or multicast range.  IPv4-mapped IPv6 addresses are
// judged by their IPv4 form.
func IsRoutable(addr netip.Addr) bool {
	addr = addr.Unmap()
	return isValid(addr) && !(inAny(addr, rfc1918Nets) ||
		rfc2544Net.Contains(addr) || rfc3927Net.Contains(addr) ||
		rfc4862Net.Contains(addr) || rfc3849Net.Contains(addr) ||
		rfc4843Net.Contains(addr) || inAny(addr, rfc5737Net) ||
		rfc6598Net.Contains(addr) || rfc4193Net.Contains(addr) ||
		addr.IsMulticast() || isLocal(addr))
}

// IsRoutableEndpoint returns whether or not the endpoint has a routable address
// and a usable (non-zero) port.
func IsRoutableEndpoint(ep netip.AddrPort) bool {
	return ep.Port() != 0 && IsRoutable(ep.Addr())
}

// GroupKey returns a string representing the network group an address is part
// of.  This is the /16 for IPv4, the /32 (/36 for he.net) for IPv6, the string
// "local" for a local address, and the string "unroutable" for an unroutable
// address.  Tunnelled IPv6 forms that embed an IPv4 address are grouped by the
// embedded address.
func GroupKey(addr netip.Addr) string {
	addr = addr.Unmap()
	if isLocal(addr) {
		return "local"
	}
	if !IsRoutable(addr) {
		return "unroutable"
	}
	if addr.Is4() {
		return mask(addr, 16)
	}

	b := addr.As16()
	switch {
	case rfc6052Net.Contains(addr):
		// Last four bytes are the embedded IPv4 address.
		return mask(netip.AddrFrom4([4]byte(b[12:16])), 16)

	case rfc3964Net.Contains(addr):
		return mask(netip.AddrFrom4([4]byte(b[2:6])), 16)

	case rfc4380Net.Contains(addr):
		// Teredo tunnels have the last 4 bytes as the v4 address XOR 0xff.
		var v4 [4]byte
		for i, octet := range b[12:16] {
			v4[i] = octet ^ 0xff
		}
		return mask(netip.AddrFrom4(v4), 16)
	}

	// Everything else is a native IPv6 address grouped by its /32, except
	// for the Hurricane Electric range which uses /36.
	bits := 32
	if heNet.Contains(addr) {
		bits = 36
	}
	return mask(addr, bits)
}

// mask returns the string form of the prefix of the given length containing
// the address.
func mask(addr netip.Addr, bits int) string {
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return fmt.Sprintf("invalid:%v", addr)
	}
	return prefix.Addr().String()
}
