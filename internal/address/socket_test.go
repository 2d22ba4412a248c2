package address

import "testing"

func TestSocketFromString_RoundTrip(t *testing.T) {
	tests := []string{
		"127.0.0.1:80",
		"[::1]:11080",
		"[2001:db8::1]:443",
		"0.0.0.0:1",
		"[::]:65535",
	}
	for _, s := range tests {
		sa, err := SocketFromString(s, false)
		if err != nil {
			t.Fatalf("SocketFromString(%q) failed: %v", s, err)
		}
		if got := SocketToString(sa); got != s {
			t.Errorf("round-trip %q -> %q", s, got)
		}
	}
}

func TestSocketFromString_ZeroPort(t *testing.T) {
	if _, err := SocketFromString("127.0.0.1:0", false); err == nil {
		t.Error("port 0 should be rejected for listen targets")
	}
	sa, err := SocketFromString("127.0.0.1:0", true)
	if err != nil {
		t.Fatalf("port 0 should be accepted for source binds: %v", err)
	}
	if sa.Port != 0 {
		t.Errorf("Port = %d, want 0", sa.Port)
	}
}

func TestSocketFromString_Invalid(t *testing.T) {
	cases := []string{"127.0.0.1", "127.0.0.1:", "127.0.0.1:70000", "127.0.0.1:abc", "[::1]"}
	for _, c := range cases {
		if _, err := SocketFromString(c, false); err == nil {
			t.Errorf("SocketFromString(%q) should have failed", c)
		}
	}
}

func TestParseInterfaceArg(t *testing.T) {
	host, metric, err := ParseInterfaceArg("127.0.0.1@3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if HostToString(host) != "127.0.0.1" || metric != 3 {
		t.Errorf("got host=%s metric=%d", HostToString(host), metric)
	}

	host6, metric6, err := ParseInterfaceArg("[::1]@1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if HostToString(host6) != "[::1]" || metric6 != 1 {
		t.Errorf("got host=%s metric=%d", HostToString(host6), metric6)
	}

	if _, _, err := ParseInterfaceArg("127.0.0.1@0"); err == nil {
		t.Error("metric 0 should be rejected")
	}
	if _, _, err := ParseInterfaceArg("127.0.0.1"); err == nil {
		t.Error("missing @metric should be rejected")
	}
}
