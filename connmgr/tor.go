// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"context"
	"io"
	"net"
	"net/netip"
)

const (
	torGeneralError      = 0x01
	torNotAllowed        = 0x02
	torNetUnreachable    = 0x03
	torHostUnreachable   = 0x04
	torConnectionRefused = 0x05
	torTTLExpired        = 0x06
	torCmdNotSupported   = 0x07
	torAddrNotSupported  = 0x08

	torATypeIPv4       = 1
	torATypeDomainName = 3
	torATypeIPv6       = 4

	torCmdResolve = 240

	socksVersion = 0x05
)

var torStatusErrors = map[byte]error{
	torGeneralError:      makeError(ErrTorGeneralError, "tor general error"),
	torNotAllowed:        makeError(ErrTorNotAllowed, "tor not allowed"),
	torNetUnreachable:    makeError(ErrTorNetUnreachable, "tor network is unreachable"),
	torHostUnreachable:   makeError(ErrTorHostUnreachable, "tor host is unreachable"),
	torConnectionRefused: makeError(ErrTorConnectionRefused, "tor connection refused"),
	torTTLExpired:        makeError(ErrTorTTLExpired, "tor TTL expired"),
	torCmdNotSupported:   makeError(ErrTorCmdNotSupported, "tor command not supported"),
	torAddrNotSupported:  makeError(ErrTorAddrNotSupported, "tor address type not supported"),
}

// TorLookupIP uses Tor to resolve DNS via the passed SOCKS proxy.  The
// context bounds the whole exchange with the proxy.
func TorLookupIP(ctx context.Context, host, proxy string) ([]netip.Addr, error) {
	if len(host) > 255 {
		return nil, makeError(ErrTorInvalidProxyResponse,
			"host name too long to resolve")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", proxy)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Greeting offering no authentication.
	if _, err := conn.Write([]byte{socksVersion, 0x01, 0x00}); err != nil {
		return nil, err
	}
	var greeting [2]byte
	if _, err := io.ReadFull(conn, greeting[:]); err != nil {
		return nil, err
	}
	if greeting[0] != socksVersion {
		return nil, makeError(ErrTorInvalidProxyResponse,
			"invalid SOCKS proxy version")
	}
	if greeting[1] != 0x00 {
		return nil, makeError(ErrTorUnrecognizedAuthMethod,
			"invalid proxy authentication method")
	}

	req := make([]byte, 0, 7+len(host))
	req = append(req, socksVersion, torCmdResolve, 0, torATypeDomainName,
		byte(len(host)))
	req = append(req, host...)
	req = append(req, 0, 0) // Port 0
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != socksVersion {
		return nil, makeError(ErrTorInvalidProxyResponse,
			"invalid SOCKS proxy version")
	}
	if hdr[1] != 0 {
		err, ok := torStatusErrors[hdr[1]]
		if !ok {
			err = makeError(ErrTorInvalidProxyResponse,
				"unknown SOCKS proxy status")
		}
		return nil, err
	}

	var addrLen int
	switch hdr[3] {
	case torATypeIPv4:
		addrLen = 4
	case torATypeIPv6:
		addrLen = 16
	default:
		return nil, makeError(ErrTorInvalidAddressResponse,
			"unknown address type")
	}

	// The address is followed by the unused port.
	reply := make([]byte, addrLen+2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, makeError(ErrTorInvalidAddressResponse,
			"truncated address: "+err.Error())
	}
	addr, _ := netip.AddrFromSlice(reply[:addrLen])
	return []netip.Addr{addr.Unmap()}, nil
}
