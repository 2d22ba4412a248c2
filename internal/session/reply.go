//go:build linux

package session

import (
	"encoding/binary"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

// buildReply encodes a SOCKS5 reply: VER REP RSV ATYP BND.ADDR BND.PORT (RFC 1928 §6).
// When bound is the zero HostAddress, it encodes ATYP=1, BND.ADDR=0.0.0.0, BND.PORT=0 —
// the reply sent whenever no outbound local address exists.
func buildReply(rep byte, bound address.SocketAddress) []byte {
	host := bound.Host
	if host.IsZero() {
		host = address.ZeroV4
	}

	var atyp byte
	var addrBytes []byte
	switch host.Family() {
	case address.FamilyInet6:
		atyp = atypIPv6
		v6, _ := host.V6()
		addrBytes = v6[:]
	default:
		atyp = atypIPv4
		v4, _ := host.V4()
		addrBytes = v4[:]
	}

	out := make([]byte, 0, 4+len(addrBytes)+2)
	out = append(out, socksVersion, rep, 0x00, atyp)
	out = append(out, addrBytes...)
	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], bound.Port)
	return append(out, portBytes[:]...)
}

// failureReply is buildReply with no bound address, for a session that fails before an
// outbound socket (or its local address) exists.
func failureReply(rep byte) []byte {
	return buildReply(rep, address.SocketAddress{})
}
