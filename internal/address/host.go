// Package address implements the value types for SOCKS5 host and socket addresses:
// HostAddress (IPv4/IPv6 tagged union) and SocketAddress (host + port), along with their
// textual parsers and formatters. Parse failures are reported through the dispatcher's
// own Kind-based errors instead of fmt.Errorf, so callers never need a type switch to
// recognize a malformed address.
package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
)

// Family identifies the address family of a HostAddress.
type Family uint8

const (
	// FamilyInet is IPv4.
	FamilyInet Family = 1
	// FamilyInet6 is IPv6.
	FamilyInet6 Family = 2
)

// FamilyMask returns the single bit used by the balancer's acquire(family_mask) contract:
// bit 0 = INET, bit 1 = INET6.
func (f Family) FamilyMask() uint8 {
	switch f {
	case FamilyInet:
		return 1 << 0
	case FamilyInet6:
		return 1 << 1
	default:
		return 0
	}
}

func (f Family) String() string {
	switch f {
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	default:
		return "unknown"
	}
}

// HostAddress is a tagged union of IPv4 (4 octets) and IPv6 (16 octets, network byte
// order). The tag and the populated variant always agree; the zero value is invalid and
// never produced by a parser.
type HostAddress struct {
	family Family
	v4     [4]byte
	v6     [16]byte
}

// Family reports the address family of h.
func (h HostAddress) Family() Family { return h.family }

// IsZero reports whether h is the unset zero value.
func (h HostAddress) IsZero() bool { return h.family == 0 }

// V4 returns h's IPv4 octets and true if h.Family() == FamilyInet.
func (h HostAddress) V4() ([4]byte, bool) {
	return h.v4, h.family == FamilyInet
}

// V6 returns h's IPv6 octets and true if h.Family() == FamilyInet6.
func (h HostAddress) V6() ([16]byte, bool) {
	return h.v6, h.family == FamilyInet6
}

// HostFromV4 builds a HostAddress from four IPv4 octets.
func HostFromV4(b [4]byte) HostAddress {
	return HostAddress{family: FamilyInet, v4: b}
}

// HostFromV6 builds a HostAddress from sixteen IPv6 octets in network byte order.
func HostFromV6(b [16]byte) HostAddress {
	return HostAddress{family: FamilyInet6, v6: b}
}

// ZeroV4 is the 0.0.0.0 host used in a failure reply when no outbound local address is
// available.
var ZeroV4 = HostFromV4([4]byte{0, 0, 0, 0})

// ParseError is the single error variant for malformed textual addresses: it carries the
// offending string so the caller decides whether to abort or report.
type ParseError struct {
	Input string
	Why   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Why)
}

func parseErr(input, why string) error {
	return dispatcherr.New(dispatcherr.KindInvalidAddress, "parse", &ParseError{Input: input, Why: why})
}

// HostFromString parses s as either a dotted-quad IPv4 address or a bracketed `[h:h:...:h]`
// IPv6 address, skipping leading whitespace. Any deviation from those two grammars is a
// ParseError wrapped in a dispatcherr.Error of KindInvalidAddress.
func HostFromString(s string) (HostAddress, error) {
	s = strings.TrimLeft(s, " \t")

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return HostAddress{}, parseErr(s, "missing closing ]")
		}
		if end != len(s)-1 {
			return HostAddress{}, parseErr(s, "trailing characters after ]")
		}
		return parseIPv6(s[1:end], s)
	}

	return parseIPv4(s, s)
}

func parseIPv4(s, original string) (HostAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return HostAddress{}, parseErr(original, "expected d.d.d.d")
	}

	var out [4]byte
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return HostAddress{}, parseErr(original, "empty or too-long octet")
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return HostAddress{}, parseErr(original, "non-digit in octet")
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return HostAddress{}, parseErr(original, "octet out of range")
		}
		out[i] = byte(n)
	}

	return HostFromV4(out), nil
}

// parseIPv6 parses the content between brackets, supporting "::" zero-run compression.
func parseIPv6(s, original string) (HostAddress, error) {
	if s == "" {
		return HostAddress{}, parseErr(original, "empty ipv6 literal")
	}

	doubleColon := strings.Index(s, "::")
	var headGroups, tailGroups []string

	if doubleColon >= 0 {
		if strings.Index(s[doubleColon+2:], "::") >= 0 {
			return HostAddress{}, parseErr(original, "multiple :: compressions")
		}
		head := s[:doubleColon]
		tail := s[doubleColon+2:]
		if head != "" {
			headGroups = strings.Split(head, ":")
		}
		if tail != "" {
			tailGroups = strings.Split(tail, ":")
		}
		if len(headGroups)+len(tailGroups) > 7 {
			return HostAddress{}, parseErr(original, "too many groups with ::")
		}
	} else {
		headGroups = strings.Split(s, ":")
		if len(headGroups) != 8 {
			return HostAddress{}, parseErr(original, "expected 8 groups without ::")
		}
	}

	var groups [8]uint16
	fill := func(dst []uint16, src []string) error {
		for i, g := range src {
			if g == "" || len(g) > 4 {
				return parseErr(original, "empty or too-long hex group")
			}
			n, err := strconv.ParseUint(g, 16, 16)
			if err != nil {
				return parseErr(original, "non-hex group")
			}
			dst[i] = uint16(n)
		}
		return nil
	}

	if doubleColon >= 0 {
		if err := fill(groups[:len(headGroups)], headGroups); err != nil {
			return HostAddress{}, err
		}
		if err := fill(groups[8-len(tailGroups):], tailGroups); err != nil {
			return HostAddress{}, err
		}
	} else {
		if err := fill(groups[:], headGroups); err != nil {
			return HostAddress{}, err
		}
	}

	var out [16]byte
	for i, g := range groups {
		out[i*2] = byte(g >> 8)
		out[i*2+1] = byte(g)
	}

	return HostFromV6(out), nil
}

// HostToString formats h back to canonical text: IPv4 dotted-quad; IPv6 bracketed,
// lowercase hex, no leading zeros per group, with "::" replacing the longest run of
// all-zero groups (length >= 2, ties broken by earliest position).
func HostToString(h HostAddress) string {
	switch h.family {
	case FamilyInet:
		return fmt.Sprintf("%d.%d.%d.%d", h.v4[0], h.v4[1], h.v4[2], h.v4[3])
	case FamilyInet6:
		return formatIPv6(h.v6)
	default:
		return ""
	}
}

func formatIPv6(b [16]byte) string {
	var groups [8]uint16
	for i := range groups {
		groups[i] = uint16(b[i*2])<<8 | uint16(b[i*2+1])
	}

	start, length := longestZeroRun(groups)

	var sb strings.Builder
	sb.WriteByte('[')
	if start >= 0 {
		for i := 0; i < start; i++ {
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(strconv.FormatUint(uint64(groups[i]), 16))
		}
		sb.WriteString("::")
		for i := start + length; i < 8; i++ {
			if i > start+length {
				sb.WriteByte(':')
			}
			sb.WriteString(strconv.FormatUint(uint64(groups[i]), 16))
		}
	} else {
		for i, g := range groups {
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(strconv.FormatUint(uint64(g), 16))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// longestZeroRun finds the longest run of all-zero groups, earliest start on ties. A run
// of length < 2 is not worth compressing (matches the canonical RFC 5952 form).
func longestZeroRun(groups [8]uint16) (start, length int) {
	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0

	for i, g := range groups {
		if g == 0 {
			if curStart < 0 {
				curStart = i
			}
			curLen++
			if curLen > bestLen {
				bestLen = curLen
				bestStart = curStart
			}
		} else {
			curStart, curLen = -1, 0
		}
	}

	if bestLen < 2 {
		return -1, 0
	}
	return bestStart, bestLen
}
