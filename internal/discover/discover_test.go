package discover

import (
	"net"
	"strings"
	"testing"
)

func TestList_ExcludesLoopbackAndLinkLocal(t *testing.T) {
	candidates, err := List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, c := range candidates {
		if strings.HasPrefix(c.Address, "127.") || c.Address == "::1" {
			t.Errorf("candidate %+v should have been filtered as loopback", c)
		}
		if strings.HasPrefix(c.Address, "169.254.") || strings.HasPrefix(c.Address, "fe80:") {
			t.Errorf("candidate %+v should have been filtered as link-local", c)
		}
	}
}

func TestFormatArg_BracketsIPv6(t *testing.T) {
	host := "2001:db8::1"
	arg := formatArg(net.ParseIP(host), host)
	if !strings.HasPrefix(arg, "[2001:db8::1]@") {
		t.Errorf("Arg = %q, want bracketed IPv6 host", arg)
	}
}

func TestFormatArg_PlainIPv4(t *testing.T) {
	host := "10.0.0.5"
	arg := formatArg(net.ParseIP(host), host)
	if arg != "10.0.0.5@1" {
		t.Errorf("Arg = %q, want %q", arg, "10.0.0.5@1")
	}
}
