package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

// summary is the presentation shape for --print-config: plain strings, independent of the
// internal value types, so the rendered document stays stable even if HostAddress's
// internal layout changes.
type summary struct {
	Binds      []string       `yaml:"binds" json:"binds"`
	Interfaces []ifaceSummary `yaml:"interfaces" json:"interfaces"`
	RelayIdle  string         `yaml:"relay_idle" json:"relay_idle"`
	LogLevel   string         `yaml:"log_level" json:"log_level"`
	LogJSON    bool           `yaml:"log_json" json:"log_json"`
	Metrics    string         `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

type ifaceSummary struct {
	Address string `yaml:"address" json:"address"`
	Family  string `yaml:"family" json:"family"`
	Metric  uint32 `yaml:"metric" json:"metric"`
}

func (c Config) toSummary() summary {
	s := summary{
		RelayIdle: c.RelayIdle.String(),
		LogLevel:  c.LogLevel,
		LogJSON:   c.LogJSON,
		Metrics:   c.MetricsAddr,
	}
	for _, b := range c.Binds {
		s.Binds = append(s.Binds, address.SocketToString(b))
	}
	for _, i := range c.Interfaces {
		s.Interfaces = append(s.Interfaces, ifaceSummary{
			Address: address.HostToString(i.Host),
			Family:  i.Host.Family().String(),
			Metric:  i.Metric,
		})
	}
	return s
}

// Render formats c per c.PrintConfig ("yaml" or "json"). Render is a no-op (empty string,
// nil error) when PrintConfig is unset.
func (c Config) Render() (string, error) {
	switch c.PrintConfig {
	case "yaml":
		b, err := yaml.Marshal(c.toSummary())
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "json":
		b, err := json.MarshalIndent(c.toSummary(), "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", nil
	}
}
