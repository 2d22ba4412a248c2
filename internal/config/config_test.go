package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

func TestBuild_DefaultsBindWhenUnset(t *testing.T) {
	cfg, err := Build(nil, []string{"10.0.0.1@1"}, 0, "info", false, "", "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cfg.Binds) != 2 {
		t.Fatalf("expected two default binds (v4 and v6 loopback), got %d", len(cfg.Binds))
	}
	v4, v6 := false, false
	for _, b := range cfg.Binds {
		switch address.SocketToString(b) {
		case "127.0.0.1:1080":
			v4 = true
		case "[::1]:1080":
			v6 = true
		}
	}
	if !v4 || !v6 {
		t.Fatalf("default binds = %v, want both 127.0.0.1:1080 and [::1]:1080", cfg.Binds)
	}
}

func TestBuild_NoInterfacesIsFatal(t *testing.T) {
	_, err := Build([]string{"127.0.0.1:1080"}, nil, 0, "info", false, "", "")
	if err == nil {
		t.Fatal("expected an error for zero interface arguments")
	}
	if !strings.Contains(err.Error(), "No addresses to dispatch.") {
		t.Errorf("error = %q, want it to contain the fatal message", err.Error())
	}
}

func TestBuild_RejectsMalformedBind(t *testing.T) {
	_, err := Build([]string{"not-an-address"}, []string{"10.0.0.1@1"}, 0, "info", false, "", "")
	if err == nil {
		t.Fatal("expected an error for a malformed --bind value")
	}
}

func TestBuild_RejectsMalformedInterfaceArg(t *testing.T) {
	_, err := Build(nil, []string{"10.0.0.1-no-metric"}, 0, "info", false, "", "")
	if err == nil {
		t.Fatal("expected an error for a malformed interface argument")
	}
}

func TestBuild_RejectsUnknownPrintConfigFormat(t *testing.T) {
	_, err := Build(nil, []string{"10.0.0.1@1"}, 0, "info", false, "", "toml")
	if err == nil {
		t.Fatal("expected an error for an unsupported --print-config format")
	}
}

func TestRender_YAMLContainsInterfaces(t *testing.T) {
	cfg, err := Build([]string{"127.0.0.1:1080"}, []string{"10.0.0.1@3"}, 5*time.Second, "debug", false, "", "yaml")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out, err := cfg.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "10.0.0.1") || !strings.Contains(out, "metric: 3") {
		t.Errorf("rendered config missing expected fields:\n%s", out)
	}
}

func TestRender_EmptyWhenPrintConfigUnset(t *testing.T) {
	cfg, err := Build(nil, []string{"10.0.0.1@1"}, 0, "info", false, "", "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out, err := cfg.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "" {
		t.Errorf("Render() = %q, want empty string when PrintConfig is unset", out)
	}
}
