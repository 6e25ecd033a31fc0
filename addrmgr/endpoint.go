// Copyright (c) 2021-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Canonical returns the canonical form of the endpoint used as the table key.
// IPv4-mapped IPv6 addresses are converted to plain IPv4 and any IPv6 zone is
// dropped so the same host always maps to the same entry.
func Canonical(ep netip.AddrPort) netip.AddrPort {
	addr := ep.Addr().Unmap().WithZone("")
	return netip.AddrPortFrom(addr, ep.Port())
}

// Key returns a string that can be used to uniquely represent the endpoint.  It
// is in the form ip:port for IPv4 addresses and [ip]:port for IPv6 addresses.
func Key(ep netip.AddrPort) string {
	return Canonical(ep).String()
}

// ParseEndpoint parses a string in the form "host:port" into a canonical
// endpoint.  The host must be a literal IPv4 or IPv6 address since name
// resolution is left to the caller.
func ParseEndpoint(s string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		str := fmt.Sprintf("malformed endpoint %q: %v", s, err)
		return netip.AddrPort{}, makeError(ErrInvalidEndpoint, str)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		str := fmt.Sprintf("malformed port in endpoint %q: %v", s, err)
		return netip.AddrPort{}, makeError(ErrInvalidEndpoint, str)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		str := fmt.Sprintf("malformed address in endpoint %q: %v", s, err)
		return netip.AddrPort{}, makeError(ErrInvalidEndpoint, str)
	}
	return Canonical(netip.AddrPortFrom(addr, uint16(port))), nil
}

// EndpointFromNetAddr converts a net.Addr as reported by a connection into a
// canonical endpoint.  It returns false when the address is not an IP based
// address.
func EndpointFromNetAddr(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Canonical(a.AddrPort()), true
	case *net.UDPAddr:
		return Canonical(a.AddrPort()), true
	}
	if addr == nil {
		return netip.AddrPort{}, false
	}
	ep, err := ParseEndpoint(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return ep, true
}
