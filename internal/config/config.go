// Package config parses the dispatcher's command-line configuration: bind addresses,
// outgoing interfaces, and the ambient operational flags (log level, metrics listener,
// relay idle timeout).
package config

import (
	"fmt"
	"time"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

// InterfaceSpec is one parsed "<host>@<metric>" positional argument.
type InterfaceSpec struct {
	Host   address.HostAddress
	Metric uint32
}

// Config is the fully parsed, validated configuration a dispatcher process runs with.
type Config struct {
	Binds      []address.SocketAddress
	Interfaces []InterfaceSpec

	RelayIdle   time.Duration
	LogLevel    string
	LogJSON     bool
	MetricsAddr string // empty disables the metrics listener
	PrintConfig string // "", "yaml", or "json"
}

// defaultBindAddrs are used when no --bind flag is given: both loopback families, matching
// a typical SOCKS5 proxy's conventional local port.
var defaultBindAddrs = []string{"127.0.0.1:1080", "[::1]:1080"}

// Build validates raw flag values into a Config. It never touches the network or the
// filesystem; all of that is deferred to the caller.
func Build(binds []string, ifaceArgs []string, relayIdle time.Duration, logLevel string, logJSON bool, metricsAddr, printConfig string) (Config, error) {
	if len(binds) == 0 {
		binds = defaultBindAddrs
	}

	cfg := Config{
		RelayIdle:   relayIdle,
		LogLevel:    logLevel,
		LogJSON:     logJSON,
		MetricsAddr: metricsAddr,
		PrintConfig: printConfig,
	}

	for _, b := range binds {
		sa, err := address.SocketFromString(b, false)
		if err != nil {
			return Config{}, fmt.Errorf("--bind=%q: %w", b, err)
		}
		cfg.Binds = append(cfg.Binds, sa)
	}

	if len(ifaceArgs) == 0 {
		return Config{}, fmt.Errorf("No addresses to dispatch.")
	}
	for _, a := range ifaceArgs {
		host, metric, err := address.ParseInterfaceArg(a)
		if err != nil {
			return Config{}, fmt.Errorf("interface argument %q: %w", a, err)
		}
		cfg.Interfaces = append(cfg.Interfaces, InterfaceSpec{Host: host, Metric: metric})
	}

	switch printConfig {
	case "", "yaml", "json":
	default:
		return Config{}, fmt.Errorf("--print-config: unsupported format %q (want yaml or json)", printConfig)
	}

	return cfg, nil
}
